package main

import (
	"strings"

	"github.com/spf13/cobra"

	"suits/internal/config"
)

func newPostCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	var media []string

	cmd := &cobra.Command{
		Use:   "post <text>",
		Short: "Publish a short text to the registry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd, global)
			if err != nil {
				return err
			}
			return withEnv(cfg, func(rt *commandEnv) error {
				poster, err := rt.poster()
				if err != nil {
					return err
				}
				res, err := poster.Post(cmd.Context(), strings.Join(args, " "), media)
				if err != nil {
					return err
				}
				return out.result(res, func() error {
					return out.plain("%s\n", res.ID)
				})
			})
		},
	}

	cmd.Flags().StringArrayVar(&media, "media", nil, "media URL to attach (repeatable)")
	return cmd
}
