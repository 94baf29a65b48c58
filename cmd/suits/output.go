package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"suits/internal/format"
	"suits/internal/models"
)

// printer writes command results either as text or through a structured
// formatter chosen by --output.
type printer struct {
	w         io.Writer
	formatter format.Formatter
}

func newPrinter(cmd *cobra.Command, opts *globalOptions) (*printer, error) {
	f, err := format.New(opts.output)
	if err != nil {
		return nil, err
	}
	return &printer{w: cmd.OutOrStdout(), formatter: f}, nil
}

// structured reports whether output goes through a formatter.
func (p *printer) structured() bool {
	return p.formatter != nil
}

// result writes payload with the structured formatter, or calls text.
func (p *printer) result(payload any, text func() error) error {
	if p.formatter != nil {
		return p.formatter.Write(p.w, payload)
	}
	return text()
}

func (p *printer) plain(format string, args ...any) error {
	_, err := fmt.Fprintf(p.w, format, args...)
	return err
}

func (p *printer) contentList(items []models.ContentObject) error {
	for _, item := range items {
		if err := p.plain("%s\n", formatContentLine(item)); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) channelList(items []models.ChannelSummary) error {
	for _, ch := range items {
		last := "-"
		if ch.LastMessage != nil {
			last = fmt.Sprintf("%s: %s", models.ShortAddress(ch.LastMessage.Sender), ch.LastMessage.Text)
		}
		if err := p.plain("%s  %s  %d messages  %s\n", ch.ID, ch.Name, ch.MessagesCount, last); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) messageList(items []models.Message) error {
	for _, m := range items {
		if err := p.plain("%s\n", formatMessageLine(m)); err != nil {
			return err
		}
	}
	return nil
}

func formatContentLine(item models.ContentObject) string {
	body := item.Body.Text
	if item.Body.Kind == models.BodyBlob {
		body = "[blob] " + item.Body.BlobURL
	}
	body = strings.ReplaceAll(body, "\n", " ")
	line := fmt.Sprintf("%s  %s  %s  %s", item.ID, models.ShortAddress(item.Author), formatTime(item.CreatedAt), body)
	if len(item.MediaRefs) > 0 {
		line += fmt.Sprintf("  (+%d media)", len(item.MediaRefs))
	}
	return line
}

func formatMessageLine(m models.Message) string {
	flags := ""
	if m.IsRead {
		flags += " read"
	}
	if !m.Verified {
		flags += " unverified"
	}
	if m.Undecodable {
		flags += " undecodable"
	}
	return fmt.Sprintf("#%d %s %s%s: %s", m.Index, formatTime(m.SentAt), models.ShortAddress(m.Sender), flags, m.Text)
}

func formatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
