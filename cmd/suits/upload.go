package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"suits/internal/config"
	"suits/internal/publish"
	"suits/internal/registry"
)

type uploadCmdOptions struct {
	epochs  uint64
	caption string
	post    bool
	retries int
}

type uploadResult struct {
	publish.Result
	Post *registry.PostResult `json:"post,omitempty"`
}

func newUploadCmd(cfg *config.Config, global *globalOptions) *cobra.Command {
	opts := &uploadCmdOptions{}
	cmd := &cobra.Command{
		Use:   "upload <file|->",
		Short: "Publish a file to the blob network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, cfg, global, opts, args[0])
		},
	}

	cmd.Flags().Uint64Var(&opts.epochs, "epochs", 0, "storage epochs (default blob.epochs)")
	cmd.Flags().StringVar(&opts.caption, "caption", "", "post the blob to the feed with this caption")
	cmd.Flags().BoolVar(&opts.post, "post", false, "post the blob URL to the feed")
	cmd.Flags().IntVar(&opts.retries, "upload-retries", 2, "extra attempts for retryable steps")
	return cmd
}

func runUpload(cmd *cobra.Command, cfg *config.Config, global *globalOptions, opts *uploadCmdOptions, path string) error {
	out, err := newPrinter(cmd, global)
	if err != nil {
		return err
	}

	var src io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	return withEnv(cfg, func(rt *commandEnv) error {
		up, err := rt.uploader(opts.epochs)
		if err != nil {
			return err
		}
		data, err := up.Read(src)
		if err != nil {
			return err
		}
		res, err := runSession(cmd.Context(), up.NewSession(), data, opts.retries)
		if err != nil {
			return err
		}

		result := uploadResult{Result: res}
		if opts.post || opts.caption != "" {
			poster, err := rt.poster()
			if err != nil {
				return err
			}
			content, media := res.URL, []string(nil)
			if opts.caption != "" {
				content, media = opts.caption, []string{res.URL}
			}
			posted, err := poster.Post(cmd.Context(), content, media)
			if err != nil {
				return fmt.Errorf("blob %s published but post failed: %w", res.BlobID, err)
			}
			result.Post = &posted
		}

		return out.result(result, func() error {
			if err := out.plain("%s\n", res.URL); err != nil {
				return err
			}
			if result.Post != nil {
				return out.plain("posted %s (%s)\n", result.Post.ID, formatSize(res.Size))
			}
			return nil
		})
	})
}

// runSession drives s to completion, repeating retryable steps up to
// retries more times.
func runSession(ctx context.Context, s *publish.Session, data []byte, retries int) (publish.Result, error) {
	res, err := s.Run(ctx, data)
	for attempt := 0; err != nil && attempt < retries && publish.IsRetryable(err); attempt++ {
		if ctx.Err() != nil {
			return publish.Result{}, errors.Join(err, ctx.Err())
		}
		res, err = s.Run(ctx, data)
	}
	return res, err
}
