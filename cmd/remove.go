package cmd

import (
	"github.com/spf13/cobra"

	"github.com/manut/conan/internal/app"
	"github.com/manut/conan/internal/logger"
)

//nolint:gochecknoglobals,lll // Cobra command requires a global definition for proper command-line parsing and execution.
var removeCmd = &cobra.Command{
	Use:   "remove [flags] {url}",
	Short: "Remove a file from a remote repository.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		service, err := app.NewService(ctx, appConfig)
		if err != nil {
			logger.Fatalf(ctx, "Failed to initialize: %v", err)
		}

		if err = service.Remove(ctx, args[0], verifyFromFlags(cmd.Flags())); err != nil {
			logger.Fatalf(ctx, "Remove failed: %v", err)
		}
	},
}

//nolint:gochecknoinits // Cobra requires the init function to register the command.
func init() {
	rootCmd.AddCommand(removeCmd)
}
