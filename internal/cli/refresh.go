package cli

import (
	"github.com/spf13/cobra"

	"groupe-e-consumption/internal/app"
)

var (
	refreshResolutions []string
	refreshForce       bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh consumption once and print the readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolutions, err := parseResolutions(refreshResolutions)
		if err != nil {
			return err
		}

		return getApp().Refresh(cmd.Context(), app.RefreshOptions{
			Resolutions: resolutions,
			Force:       refreshForce,
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Log in and print the premise and partner identifiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Verify(cmd.Context())
	},
}

func init() {
	refreshCmd.Flags().StringSliceVar(&refreshResolutions, "resolution", []string{"all"}, "Resolutions to refresh (daily, monthly, quarter-hourly or all)")
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "Refresh even when the cached reading is still current")
}
