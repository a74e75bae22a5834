package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"metric-alerts/internal/app"
)

var (
	simulateMetric  string
	simulateCurrent float64
	simulateDayAgo  float64
	simulateWeekAgo float64
	simulateChat    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用给定数值模拟一次指标异常并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateMetric == "" {
			return errors.New("--metric 必须指定")
		}
		if simulateCurrent < 0 || simulateDayAgo < 0 || simulateWeekAgo < 0 {
			return errors.New("--current、--day-ago 与 --week-ago 不能为负数")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Metric:  simulateMetric,
			Current: simulateCurrent,
			DayAgo:  simulateDayAgo,
			WeekAgo: simulateWeekAgo,
			Chat:    simulateChat,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateMetric, "metric", "views", "指标名称")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "当前桶的数值")
	simulateCmd.Flags().Float64Var(&simulateDayAgo, "day-ago", 0, "一天前同一时段的数值")
	simulateCmd.Flags().Float64Var(&simulateWeekAgo, "week-ago", 0, "一周前同一时段的数值")
	simulateCmd.Flags().StringVar(&simulateChat, "chat", "", "覆盖默认的告警目标")
}
