package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metric-alerts/internal/anomaly"
	"metric-alerts/internal/metrics"
	"metric-alerts/internal/series"
	"metric-alerts/internal/source"
)

var current = time.Date(2024, 1, 8, 9, 45, 0, 0, time.UTC)

type fakeSource struct {
	tables  map[string]series.Table
	err     error
	windows []source.Window
	locked  bool
	unlocks int
}

func (f *fakeSource) Fetch(_ context.Context, q source.Query, w source.Window) (series.Table, error) {
	f.windows = append(f.windows, w)
	if f.err != nil {
		return nil, f.err
	}
	return f.tables[q.Name], nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if f.locked {
		return nil, false, nil
	}
	return func() { f.unlocks++ }, true, nil
}

type dispatched struct {
	dest     string
	decision anomaly.Decision
	chart    []byte
}

type fakeDispatcher struct {
	calls []dispatched
	fail  map[string]error
}

func (f *fakeDispatcher) DispatchTo(_ context.Context, dest string, d anomaly.Decision, chart []byte) error {
	f.calls = append(f.calls, dispatched{dest: dest, decision: d, chart: chart})
	return f.fail[d.Metric]
}

type fakeRenderer struct {
	err error
}

func (f fakeRenderer) Render(_ *series.Series, metric string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png:" + metric), nil
}

// point builds one row for both tables at ts.
func point(ts time.Time, views, likes, messages float64) (series.Observation, series.Observation) {
	return series.Observation{TS: ts, Values: map[string]float64{"views": views, "likes": likes}},
		series.Observation{TS: ts, Values: map[string]float64{"messages": messages}}
}

// fixture: views doubles against both baselines, likes is flat, messages
// only breaches the day-ago baseline.
func fixture() map[string]series.Table {
	feed := series.Table{}
	msgs := series.Table{}
	for _, row := range []struct {
		ts                     time.Time
		views, likes, messages float64
	}{
		{current, 200, 50, 300},
		{current.Add(-24 * time.Hour), 100, 50, 100},
		{current.Add(-7 * 24 * time.Hour), 100, 50, 290},
	} {
		f, m := point(row.ts, row.views, row.likes, row.messages)
		feed = append(feed, f)
		msgs = append(msgs, m)
	}
	return map[string]series.Table{"feed": feed, "messages": msgs}
}

func newRunner(src *fakeSource, disp Dispatcher, metricNames ...string) *Runner {
	if len(metricNames) == 0 {
		metricNames = []string{"views", "likes", "messages"}
	}
	return New(src,
		anomaly.NewDetector(anomaly.Options{Threshold: anomaly.DefaultThreshold}),
		fakeRenderer{},
		disp,
		nil,
		Options{
			Queries:    []source.Query{{Name: "feed"}, {Name: "messages"}},
			Metrics:    metricNames,
			Grid:       15 * time.Minute,
			DayOffset:  24 * time.Hour,
			WeekOffset: 7 * 24 * time.Hour,
			Location:   time.UTC,
			LockKey:    42,
		},
		zerolog.Nop(),
	)
}

func TestRunOnceAlertsOnlyOnDoubleBreach(t *testing.T) {
	src := &fakeSource{tables: fixture()}
	disp := &fakeDispatcher{}
	r := newRunner(src, disp)

	report, err := r.RunOnce(context.Background(), current.Add(20*time.Minute), RunOptions{Chat: "override"})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.AlertsSent)
	require.Len(t, report.Outcomes, 3)
	assert.True(t, report.Outcomes[0].Decision.IsAnomalous)
	assert.False(t, report.Outcomes[1].Decision.IsAnomalous)
	assert.False(t, report.Outcomes[2].Decision.IsAnomalous)

	require.Len(t, disp.calls, 1)
	assert.Equal(t, "views", disp.calls[0].decision.Metric)
	assert.Equal(t, "override", disp.calls[0].dest)
	assert.Equal(t, []byte("png:views"), disp.calls[0].chart)

	require.Len(t, src.windows, 2)
	assert.Equal(t, current, src.windows[0].Current)
}

func TestRunOnceDryRun(t *testing.T) {
	disp := &fakeDispatcher{}
	r := newRunner(&fakeSource{tables: fixture()}, disp)

	report, err := r.RunOnce(context.Background(), current.Add(15*time.Minute), RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, report.AlertsSent)
	assert.True(t, report.Outcomes[0].Decision.IsAnomalous)
	assert.Empty(t, disp.calls)
}

func TestRunOnceDryRunSkipsMetricsPush(t *testing.T) {
	var pushes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	src := &fakeSource{tables: fixture()}
	r := newRunner(src, &fakeDispatcher{})
	r.pusher = metrics.NewPusher(srv.URL, "job", zerolog.Nop())
	asOf := current.Add(15 * time.Minute)

	_, err := r.RunOnce(context.Background(), asOf, RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.Zero(t, pushes.Load())

	src.err = errors.New("connection refused")
	_, err = r.RunOnce(context.Background(), asOf, RunOptions{DryRun: true})
	require.ErrorIs(t, err, ErrFetch)
	assert.Zero(t, pushes.Load())

	src.err = nil
	_, err = r.RunOnce(context.Background(), asOf, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), pushes.Load())
}

func TestRunOnceFetchFailureAbortsBeforeDetection(t *testing.T) {
	boom := errors.New("connection refused")
	disp := &fakeDispatcher{}
	r := newRunner(&fakeSource{err: boom}, disp)

	report, err := r.RunOnce(context.Background(), current.Add(15*time.Minute), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fetch feed")
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, disp.calls)
}

func TestRunOnceIsolatesMetricFailures(t *testing.T) {
	tables := fixture()
	// drop the week-ago messages row so only that metric lacks a baseline
	tables["messages"] = tables["messages"][:2]
	tables["messages"] = append(tables["messages"], series.Observation{
		TS:     current.Add(-7 * 24 * time.Hour),
		Values: map[string]float64{},
	})

	disp := &fakeDispatcher{}
	r := newRunner(&fakeSource{tables: tables}, disp, "messages", "views")

	report, err := r.RunOnce(context.Background(), current.Add(15*time.Minute), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, anomaly.ErrMissingBaseline)
	assert.NotErrorIs(t, err, ErrFetch)

	require.Len(t, report.Outcomes, 2)
	assert.Error(t, report.Outcomes[0].Err)
	assert.Equal(t, "messages", report.Outcomes[0].Decision.Metric)
	assert.NoError(t, report.Outcomes[1].Err)

	require.Len(t, disp.calls, 1, "views is still dispatched after messages failed")
	assert.Equal(t, "views", disp.calls[0].decision.Metric)
}

func TestRunOnceDispatchFailureIsCollected(t *testing.T) {
	sendErr := errors.New("telegram down")
	disp := &fakeDispatcher{fail: map[string]error{"views": sendErr}}
	r := newRunner(&fakeSource{tables: fixture()}, disp)

	report, err := r.RunOnce(context.Background(), current.Add(15*time.Minute), RunOptions{})
	assert.ErrorIs(t, err, sendErr)
	assert.Zero(t, report.AlertsSent)
	assert.False(t, report.Outcomes[0].Alerted)
}

func TestRunOnceRenderFailureStillSendsText(t *testing.T) {
	renderErr := errors.New("no font")
	disp := &fakeDispatcher{}
	r := newRunner(&fakeSource{tables: fixture()}, disp)
	r.renderer = fakeRenderer{err: renderErr}

	report, err := r.RunOnce(context.Background(), current.Add(15*time.Minute), RunOptions{})
	assert.ErrorIs(t, err, renderErr)
	require.Len(t, disp.calls, 1)
	assert.Nil(t, disp.calls[0].chart)
	assert.True(t, report.Outcomes[0].Alerted)
}

func TestRunOnceWithoutDispatcher(t *testing.T) {
	r := New(&fakeSource{tables: fixture()},
		anomaly.NewDetector(anomaly.Options{Threshold: anomaly.DefaultThreshold}),
		nil, nil, nil,
		Options{
			Queries: []source.Query{{Name: "feed"}, {Name: "messages"}},
			Metrics: []string{"views"},
			Grid:    15 * time.Minute,
		},
		zerolog.Nop(),
	)

	report, err := r.RunOnce(context.Background(), current.Add(15*time.Minute), RunOptions{})
	require.NoError(t, err)
	assert.True(t, report.Outcomes[0].Decision.IsAnomalous)
	assert.Zero(t, report.AlertsSent)
}

func TestLoadRequiresQueries(t *testing.T) {
	r := newRunner(&fakeSource{tables: fixture()}, nil)
	r.opts.Queries = nil
	_, _, err := r.Load(context.Background(), current)
	assert.Error(t, err)
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	src := &fakeSource{tables: fixture(), locked: true}
	disp := &fakeDispatcher{}
	r := newRunner(src, disp)

	require.NoError(t, r.Tick(context.Background(), current.Add(15*time.Minute)))
	assert.Empty(t, src.windows)
	assert.Empty(t, disp.calls)
}

func TestTickReleasesLock(t *testing.T) {
	src := &fakeSource{tables: fixture()}
	r := newRunner(src, &fakeDispatcher{})

	require.NoError(t, r.Tick(context.Background(), current.Add(15*time.Minute)))
	assert.Equal(t, 1, src.unlocks)
	assert.Len(t, src.windows, 2)
}

func TestTickReturnsOnlyFetchErrors(t *testing.T) {
	src := &fakeSource{err: errors.New("timeout")}
	r := newRunner(src, &fakeDispatcher{})
	assert.ErrorIs(t, r.Tick(context.Background(), current), ErrFetch)

	disp := &fakeDispatcher{fail: map[string]error{"views": errors.New("down")}}
	r = newRunner(&fakeSource{tables: fixture()}, disp)
	assert.NoError(t, r.Tick(context.Background(), current.Add(15*time.Minute)))
}
