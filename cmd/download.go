package cmd

import (
	"github.com/spf13/cobra"

	"github.com/manut/conan/internal/app"
	"github.com/manut/conan/internal/logger"
)

//nolint:gochecknoglobals,lll // Cobra command requires a global definition for proper command-line parsing and execution.
var downloadCmd = &cobra.Command{
	Use:   "download [flags] {url}",
	Short: "Download a file from a remote repository.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		service, err := app.NewService(ctx, appConfig)
		if err != nil {
			logger.Fatalf(ctx, "Failed to initialize: %v", err)
		}

		outputPath, _ := cmd.Flags().GetString("output")

		if err = service.Download(ctx, args[0], outputPath, verifyFromFlags(cmd.Flags())); err != nil {
			logger.Fatalf(ctx, "Download failed: %v", err)
		}
	},
}

//nolint:gochecknoinits // Cobra requires the init function to set up flags before the command is executed.
func init() {
	downloadCmd.Flags().StringP(
		"output",
		"o",
		"",
		"path to save the downloaded file (defaults to the URL's file name in the output directory).")

	rootCmd.AddCommand(downloadCmd)
}
