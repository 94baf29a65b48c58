package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"suits/internal/config"
	"suits/internal/models"
	"suits/internal/watch"
)

type chatWatchOptions struct {
	metricsAddr string
	interactive bool
	duration    time.Duration
}

func newChatWatchCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	opts := &chatWatchOptions{}
	cmd := &cobra.Command{
		Use:   "watch [channel]",
		Short: "Follow a channel's messages, or the channel list when no channel is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID := ""
			if len(args) == 1 {
				channelID = args[0]
			}
			return runChatWatch(cmd, cfg, global, opts, channelID)
		},
	}

	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (default metrics_addr)")
	cmd.Flags().BoolVar(&opts.interactive, "interactive", false, "send each stdin line to the watched channel")
	cmd.Flags().DurationVar(&opts.duration, "for", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func runChatWatch(cmd *cobra.Command, cfg *config.Config, global *globalOptions, opts *chatWatchOptions, channelID string) error {
	out, err := newPrinter(cmd, global)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	return withEnv(cfg, func(rt *commandEnv) error {
		addr := opts.metricsAddr
		if addr == "" {
			addr = cfg.MetricsAddr
		}
		if addr != "" {
			go func() {
				if err := serveHTTP(ctx, addr, fasthttpadaptor.NewFastHTTPHandler(rt.metrics.Handler()), rt); err != nil {
					rt.logger.Warn("metrics server stopped", "err", err)
				}
			}()
		}

		svc := rt.messaging()
		if channelID == "" {
			account, err := rt.account()
			if err != nil {
				return err
			}
			var (
				last    []models.ChannelSummary
				printed bool
			)
			p, stopPoller := svc.WatchChannels(string(account), cfg.Poll.ChannelsInterval.Std(),
				watch.OnUpdate(func(s watch.Snapshot[[]models.ChannelSummary]) {
					if !s.Valid || (printed && reflect.DeepEqual(last, s.Value)) {
						return
					}
					last, printed = s.Value, true
					_ = out.result(s.Value, func() error { return out.channelList(s.Value) })
				}))
			defer stopPoller()
			p.Start(ctx)
			<-ctx.Done()
			return nil
		}

		next := 0
		p, stopPoller := svc.WatchMessages(channelID, cfg.Poll.MessagesInterval.Std(),
			watch.OnUpdate(func(s watch.Snapshot[[]models.Message]) {
				if !s.Valid || len(s.Value) <= next {
					return
				}
				fresh := s.Value[next:]
				next = len(s.Value)
				_ = out.result(fresh, func() error { return out.messageList(fresh) })
			}))
		defer stopPoller()
		p.Start(ctx)

		if opts.interactive {
			if _, err := rt.account(); err != nil {
				return err
			}
			var sending sync.WaitGroup
			sending.Add(1)
			go func() {
				defer sending.Done()
				sendLines(ctx, rt, channelID, cmd.InOrStdin())
			}()
			// The env closes the ledger on return; no send may outlive it.
			defer sending.Wait()
		}
		<-ctx.Done()
		return nil
	})
}

// sendLines sends every non-empty line of in to the channel until in is
// exhausted or ctx ends. The send invalidates the channel, so the watching
// poller refreshes right away. A scan blocked on in is abandoned on return.
func sendLines(ctx context.Context, rt *commandEnv, channelID string, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	svc := rt.messaging()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			if err := svc.SendMessage(ctx, channelID, line); err != nil {
				rt.logger.Warn("send failed", "channel", channelID, "err", err)
			}
		}
	}
}
