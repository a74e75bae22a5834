package app

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"metric-alerts/internal/config"
)

var testAsOf = time.Date(2024, 1, 8, 10, 5, 0, 0, time.UTC)

// seedDB writes a database where feed DAU doubles against both baselines
// while likes and messages stay flat.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
CREATE TABLE feed_actions (user_id INTEGER, action TEXT, time TEXT);
CREATE TABLE message_actions (user_id INTEGER, receiver_id INTEGER, time TEXT);`)
	require.NoError(t, err)

	insertFeed := func(day string, users int) {
		for u := 1; u <= users; u++ {
			_, err := db.Exec(`INSERT INTO feed_actions VALUES (?, 'view', ?)`, u, day+" 09:50:00")
			require.NoError(t, err)
		}
		_, err := db.Exec(`INSERT INTO feed_actions VALUES (1, 'like', ?)`, day+" 09:51:00")
		require.NoError(t, err)
	}
	insertFeed("2024-01-08", 4)
	insertFeed("2024-01-07", 2)
	insertFeed("2024-01-01", 2)

	for _, day := range []string{"2024-01-08", "2024-01-07", "2024-01-01"} {
		_, err := db.Exec(`INSERT INTO message_actions VALUES
			(1, 2, ?), (1, 3, ?), (2, 1, ?)`, day+" 09:46:00", day+" 09:47:00", day+" 09:48:00")
		require.NoError(t, err)
	}
	return path
}

func testConfig(dsn string) *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "metric-alerts", Timezone: "UTC"},
		Source: config.SourceConfig{
			Driver:       "sqlite",
			DSN:          dsn,
			QueryTimeout: 5 * time.Second,
		},
		Detector: config.DetectorConfig{
			Threshold:    0.25,
			Metrics:      []string{"dau_feed", "likes", "messages"},
			GridInterval: 15 * time.Minute,
			DayOffset:    24 * time.Hour,
			WeekOffset:   7 * 24 * time.Hour,
		},
		Scheduler: config.SchedulerConfig{Interval: 15 * time.Minute},
		Chart:     config.ChartConfig{Width: 800, Height: 500},
	}
}

type telegramRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *telegramRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.paths = append(r.paths, req.URL.Path)
		r.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func TestCheckPrintsDecisions(t *testing.T) {
	a := NewApp(testConfig(seedDB(t)), zerolog.Nop())

	var out bytes.Buffer
	asOf := testAsOf
	require.NoError(t, a.Check(context.Background(), &asOf, &out))

	text := out.String()
	assert.Contains(t, text, "METRIC")
	assert.Contains(t, text, "2024-01-08 09:45")

	lines := strings.Split(text, "\n")
	var dau, likes string
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "dau_feed"):
			dau = line
		case strings.HasPrefix(line, "likes"):
			likes = line
		}
	}
	assert.Contains(t, dau, "4.00")
	assert.Contains(t, dau, "50.00%")
	assert.Contains(t, dau, "YES")
	assert.Contains(t, likes, "no")
}

func TestRunSendsAlertForAnomalousMetric(t *testing.T) {
	rec := &telegramRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	cfg := testConfig(seedDB(t))
	cfg.Alerting = config.AlertingConfig{
		Enabled:      true,
		DashboardURL: "https://dash.example",
		Telegram: config.TelegramConfig{
			BotToken: "token",
			ChatID:   "default-chat",
			APIBase:  srv.URL,
			Timeout:  time.Second,
		},
	}

	a := NewApp(cfg, zerolog.Nop())
	asOf := testAsOf
	require.NoError(t, a.Run(context.Background(), RunOptions{AsOf: &asOf}))

	assert.Equal(t, []string{"/bottoken/sendMessage", "/bottoken/sendPhoto"}, rec.paths)
}

func TestRunDryRunSendsNothing(t *testing.T) {
	rec := &telegramRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	cfg := testConfig(seedDB(t))
	cfg.Alerting.Enabled = true
	cfg.Alerting.Telegram = config.TelegramConfig{BotToken: "token", ChatID: "chat", APIBase: srv.URL}

	asOf := testAsOf
	require.NoError(t, NewApp(cfg, zerolog.Nop()).Run(context.Background(), RunOptions{AsOf: &asOf, DryRun: true}))
	assert.Empty(t, rec.paths)
}

func TestRunFailsOnEmptyWindow(t *testing.T) {
	a := NewApp(testConfig(seedDB(t)), zerolog.Nop())
	asOf := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	err := a.Run(context.Background(), RunOptions{AsOf: &asOf})
	assert.Error(t, err)
}

func TestChartWritesPNG(t *testing.T) {
	a := NewApp(testConfig(seedDB(t)), zerolog.Nop())
	out := filepath.Join(t.TempDir(), "charts", "dau_feed.png")

	asOf := testAsOf
	require.NoError(t, a.Chart(context.Background(), ChartOptions{AsOf: &asOf, Metric: "dau_feed", PNGPath: out}, &bytes.Buffer{}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestChartASCII(t *testing.T) {
	a := NewApp(testConfig(seedDB(t)), zerolog.Nop())

	var buf bytes.Buffer
	asOf := testAsOf
	require.NoError(t, a.Chart(context.Background(), ChartOptions{AsOf: &asOf, Metric: "dau_feed", ASCII: true}, &buf))
	assert.Contains(t, buf.String(), "2024-01-08")
}

func TestChartRequiresTarget(t *testing.T) {
	a := NewApp(testConfig(seedDB(t)), zerolog.Nop())
	assert.Error(t, a.Chart(context.Background(), ChartOptions{Metric: "views"}, &bytes.Buffer{}))
	assert.Error(t, a.Chart(context.Background(), ChartOptions{PNGPath: "x.png"}, &bytes.Buffer{}))
}

func TestSimulateAlert(t *testing.T) {
	rec := &telegramRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	cfg := testConfig("")
	cfg.Alerting.Enabled = true
	cfg.Alerting.Telegram = config.TelegramConfig{BotToken: "token", ChatID: "chat", APIBase: srv.URL}
	a := NewApp(cfg, zerolog.Nop())

	require.NoError(t, a.SimulateAlert(context.Background(), SimulateOptions{Metric: "views", Current: 100, DayAgo: 100, WeekAgo: 100}))
	assert.Empty(t, rec.paths)

	require.NoError(t, a.SimulateAlert(context.Background(), SimulateOptions{Metric: "views", Current: 200, DayAgo: 100, WeekAgo: 100}))
	assert.Equal(t, []string{"/bottoken/sendMessage", "/bottoken/sendPhoto"}, rec.paths)
}

func TestSimulateAlertRequiresAlerting(t *testing.T) {
	a := NewApp(testConfig(""), zerolog.Nop())
	assert.Error(t, a.SimulateAlert(context.Background(), SimulateOptions{Metric: "views", Current: 2, DayAgo: 1, WeekAgo: 1}))
}
