package cli

import (
	"github.com/spf13/cobra"

	"groupe-e-consumption/internal/consumption"
)

var (
	simulateResolution string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-failure",
	Short: "模拟一次刷新失败并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := consumption.ParseResolution(simulateResolution)
		if err != nil {
			return err
		}
		return getApp().SimulateFailure(cmd.Context(), res)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateResolution, "resolution", string(consumption.Daily), "Resolution to report as failed")
}
