package main

import (
	"github.com/spf13/cobra"

	"github.com/smsbra/otp-api/internal/config"
	"github.com/smsbra/otp-api/internal/pkg/logger"
)

var logLevel string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "otpctl",
		Short:         "Operator tool for the OTP rental API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: logLevel, Environment: "cli"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug|info|warn|error")

	rootCmd.AddCommand(newTokenCmd(config.Load))
	rootCmd.AddCommand(newReconcileCmd(config.Load))

	return rootCmd
}
