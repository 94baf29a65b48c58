package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"suits/internal/config"
	"suits/internal/models"
	"suits/internal/registry"
	"suits/internal/watch"
)

type feedOptions struct {
	limit    int
	offset   int
	watch    bool
	duration time.Duration
}

func newFeedCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	opts := &feedOptions{}

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the newest posts in the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				opts.limit = cfg.Feed.PageSize
			}
			if opts.watch {
				return runFeedWatch(cmd, cfg, global, opts)
			}
			return runFeed(cmd, cfg, global, opts)
		},
	}

	cmd.Flags().IntVar(&opts.limit, "limit", 0, "number of posts to show (default feed.page_size)")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "number of newest posts to skip")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "keep polling and print new posts as they appear")
	cmd.Flags().DurationVar(&opts.duration, "for", 0, "with --watch, stop after this long (default: until interrupted)")
	return cmd
}

func runFeed(cmd *cobra.Command, cfg *config.Config, global *globalOptions, opts *feedOptions) error {
	out, err := newPrinter(cmd, global)
	if err != nil {
		return err
	}
	return withEnv(cfg, func(rt *commandEnv) error {
		reader, err := rt.reader()
		if err != nil {
			return err
		}
		page, err := reader.FetchPage(cmd.Context(), opts.limit, opts.offset)
		if err != nil {
			return err
		}
		return out.result(page, func() error {
			if err := out.contentList(page.Items); err != nil {
				return err
			}
			if page.Omitted > 0 {
				return out.plain("(%d posts could not be loaded)\n", page.Omitted)
			}
			return nil
		})
	})
}

// runFeedWatch prints the newest page once, then only posts not seen before.
// Posts made through this process refresh the poller immediately.
func runFeedWatch(cmd *cobra.Command, cfg *config.Config, global *globalOptions, opts *feedOptions) error {
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
		reader, err := rt.reader()
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		p, stopPoller := reader.WatchFeed(opts.limit, cfg.Poll.FeedInterval.Std(),
			watch.OnUpdate(func(s watch.Snapshot[registry.Page]) {
				if !s.Valid {
					return
				}
				fresh := unseenPosts(s.Value.Items, seen)
				if len(fresh) == 0 {
					return
				}
				_ = out.result(fresh, func() error { return out.contentList(fresh) })
			}))
		defer stopPoller()
		p.Start(ctx)
		<-ctx.Done()
		return nil
	})
}

// unseenPosts returns the items not yet in seen, keeping their order, and
// marks them seen.
func unseenPosts(items []models.ContentObject, seen map[string]bool) []models.ContentObject {
	var fresh []models.ContentObject
	for _, item := range items {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		fresh = append(fresh, item)
	}
	return fresh
}
