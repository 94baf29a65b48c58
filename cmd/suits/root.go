package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"suits/internal/config"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	output   string
	logLevel string
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "suits",
		Short:         "Suits posts short texts and blobs to a ledger registry and runs two-party chats",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newPrinter(cmd, opts); err != nil {
				return err
			}
			warning, err := configureLoggerForCLI(cmd.ErrOrStderr(), opts.logLevel, cfg.LogLevel, commandLogAttrs(cmd, cfg)...)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json or yaml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newPostCmd(cfg, opts),
		newFeedCmd(cfg, opts),
		newUploadCmd(cfg, opts),
		newBlobCmd(cfg, opts),
		newChatCmd(cfg, opts),
		newConfigCmd(cfg, opts),
	)

	return cmd
}
