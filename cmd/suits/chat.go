package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"suits/internal/config"
	"suits/internal/models"
)

func newChatCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open channels and exchange messages",
	}

	cmd.AddCommand(
		newChatOpenCmd(cfg, global),
		newChatSendCmd(cfg, global),
		newChatReadCmd(cfg, global),
		newChatListCmd(cfg, global),
		newChatMarkReadCmd(cfg, global),
		newChatWatchCmd(cfg, global),
	)
	return cmd
}

func newChatOpenCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <receiver>",
		Short: "Open a channel with another account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd, global)
			if err != nil {
				return err
			}
			return withEnv(cfg, func(rt *commandEnv) error {
				if _, err := rt.account(); err != nil {
					return err
				}
				id, err := rt.messaging().CreateChannel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return out.result(map[string]string{"channel_id": id}, func() error {
					return out.plain("%s\n", id)
				})
			})
		},
	}
}

func newChatSendCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <channel> <text>",
		Short: "Send a message to a channel",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cfg, func(rt *commandEnv) error {
				if _, err := rt.account(); err != nil {
					return err
				}
				return rt.messaging().SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
			})
		},
	}
}

func newChatReadCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <channel>",
		Short: "Print the messages of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd, global)
			if err != nil {
				return err
			}
			return withEnv(cfg, func(rt *commandEnv) error {
				msgs, err := rt.messaging().ReadMessages(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return out.result(msgs, func() error { return out.messageList(msgs) })
			})
		},
	}
}

func newChatListCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List channels started by an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newPrinter(cmd, global)
			if err != nil {
				return err
			}
			return withEnv(cfg, func(rt *commandEnv) error {
				owner, err := listAccount(rt, account)
				if err != nil {
					return err
				}
				channels, err := rt.messaging().ListChannels(cmd.Context(), owner)
				if err != nil {
					return err
				}
				return out.result(channels, func() error { return out.channelList(channels) })
			})
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "account to list (default: configured account)")
	return cmd
}

func newChatMarkReadCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-read <channel> <index>",
		Short: "Mark one message as read",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid message index %q", args[1])
			}
			return withEnv(cfg, func(rt *commandEnv) error {
				if _, err := rt.account(); err != nil {
					return err
				}
				return rt.messaging().MarkAsRead(cmd.Context(), args[0], index)
			})
		},
	}
}

func listAccount(rt *commandEnv, flagAccount string) (string, error) {
	if strings.TrimSpace(flagAccount) == "" {
		account, err := rt.account()
		return string(account), err
	}
	return models.NormalizeAddress(flagAccount)
}
