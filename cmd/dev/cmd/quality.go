package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

func TestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run unit tests (bus simulation, no hardware needed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Test()
			if err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func LintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Run linting",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := test.Lint()
			if err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func IntegrationTestCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "integration-test",
		Short: "Run tests against wired sensors",
		Long: "Runs the unit tests plus acquisition.TestHardware, which measures on every channel " +
			"of the given configuration (built-in pins when empty). The sensors must be connected.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				abs, err := filepath.Abs(configPath)
				if err != nil {
					return fmt.Errorf("invalid config path: %w", err)
				}
				// go test runs each package in its own directory
				err = os.Setenv("SOFTI2C_CONFIG", abs)
				if err != nil {
					return fmt.Errorf("could not pass config path: %w", err)
				}
			}
			slog.Info("running hardware tests", "config", configPath)
			err := test.Integ()
			if err != nil {
				return fmt.Errorf("failed to run integration testing: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "channel configuration of the wired sensors")
	return cmd
}
