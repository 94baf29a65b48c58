package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"suits/internal/config"
	"suits/internal/metrics"
	"suits/internal/models"
	"suits/internal/registry"
)

const (
	alice = "0xa11ce"
	bob   = "0xb0b"
)

// testConfig returns a localnet config rooted in a temp dir, acting as account.
func testConfig(t *testing.T, root, account string) *config.Config {
	t.Helper()
	t.Setenv(logLevelEnvKey, "error")
	cfg := config.Default()
	cfg.Account = account
	cfg.LocalnetDB = filepath.Join(root, "localnet.db")
	cfg.BlobRoot = filepath.Join(root, "blobs")
	cfg.BlobSystemID = cfg.PackageID
	return &cfg
}

func run(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	return runWithInput(t, cfg, nil, args...)
}

func runWithInput(t *testing.T, cfg *config.Config, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(cfg)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, cfg *config.Config, args ...string) string {
	t.Helper()
	out, err := run(t, cfg, args...)
	if err != nil {
		t.Fatalf("suits %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func decodeJSON[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return v
}

func TestPostAndFeed(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), alice)

	for _, text := range []string{"first", "second", "third"} {
		if id := strings.TrimSpace(mustRun(t, cfg, "post", text)); id == "" {
			t.Fatalf("post %q printed no id", text)
		}
	}

	page := decodeJSON[registry.Page](t, mustRun(t, cfg, "feed", "-o", "json"))
	if len(page.Items) != 3 || page.Total != 3 {
		t.Fatalf("expected 3 items, got %+v", page)
	}
	if page.Items[0].Body.Text != "third" || page.Items[2].Body.Text != "first" {
		t.Fatalf("feed must be newest first: %+v", page.Items)
	}
	if page.Items[0].Author != alice {
		t.Fatalf("unexpected author %q", page.Items[0].Author)
	}

	page = decodeJSON[registry.Page](t, mustRun(t, cfg, "feed", "--limit", "1", "--offset", "1", "-o", "json"))
	if len(page.Items) != 1 || page.Items[0].Body.Text != "second" {
		t.Fatalf("unexpected windowed page %+v", page.Items)
	}

	text := mustRun(t, cfg, "feed")
	if lines := strings.Split(strings.TrimSpace(text), "\n"); len(lines) != 3 || !strings.HasSuffix(lines[0], "third") {
		t.Fatalf("unexpected text feed:\n%s", text)
	}
}

func TestFeedWatchPrintsEachPostOnce(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root, alice)
	cfg.Poll.FeedInterval = config.Duration(20 * time.Millisecond)
	mustRun(t, cfg, "post", "first")
	mustRun(t, cfg, "post", "second")

	out := mustRun(t, cfg, "feed", "--watch", "--for", "300ms")
	if strings.Count(out, "first") != 1 || strings.Count(out, "second") != 1 {
		t.Fatalf("expected each post printed once, got:\n%s", out)
	}
	if strings.Index(out, "second") > strings.Index(out, "first") {
		t.Fatalf("expected newest first, got:\n%s", out)
	}
}

func TestUnseenPostsKeepsOrder(t *testing.T) {
	seen := map[string]bool{"b": true}
	items := []models.ContentObject{{ID: "c"}, {ID: "b"}, {ID: "a"}}
	fresh := unseenPosts(items, seen)
	if len(fresh) != 2 || fresh[0].ID != "c" || fresh[1].ID != "a" {
		t.Fatalf("unexpected fresh posts %#v", fresh)
	}
	if again := unseenPosts(items, seen); len(again) != 0 {
		t.Fatalf("expected nothing new on a repeat, got %#v", again)
	}
}

func TestPostValidation(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), alice)

	_, err := run(t, cfg, "post", strings.Repeat("x", models.MaxPostChars+1))
	if !errors.Is(err, models.ErrContentTooLong) {
		t.Fatalf("expected ErrContentTooLong, got %v", err)
	}

	cfg.Account = ""
	_, err = run(t, cfg, "post", "hello")
	if !errors.Is(err, errAccountRequired) {
		t.Fatalf("expected errAccountRequired, got %v", err)
	}
}

func TestUploadWithCaptionAndBlobGet(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root, alice)
	payload := []byte("a picture, more or less")
	src := filepath.Join(root, "pic.bin")
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	res := decodeJSON[uploadResult](t, mustRun(t, cfg, "upload", src, "--caption", "look", "-o", "json"))
	if res.BlobID == "" || res.URL != cfg.GatewayURL+"/"+res.BlobID {
		t.Fatalf("unexpected upload result %+v", res)
	}
	if res.Epochs != config.DefaultBlobEpochs || res.Size != int64(len(payload)) {
		t.Fatalf("unexpected policy in result %+v", res)
	}
	if res.Post == nil || res.Post.ID == "" {
		t.Fatalf("expected the caption to be posted, got %+v", res.Post)
	}

	page := decodeJSON[registry.Page](t, mustRun(t, cfg, "feed", "-o", "json"))
	if len(page.Items) != 1 || page.Items[0].Body.Text != "look" || len(page.Items[0].MediaRefs) != 1 || page.Items[0].MediaRefs[0] != res.URL {
		t.Fatalf("unexpected feed after upload %+v", page.Items)
	}

	if got := mustRun(t, cfg, "blob", "get", res.URL); got != string(payload) {
		t.Fatalf("blob get by url returned %q", got)
	}
	dst := filepath.Join(root, "copy.bin")
	mustRun(t, cfg, "blob", "get", res.BlobID, "--out", dst)
	got, err := os.ReadFile(dst)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("blob get --out wrote %q, err=%v", got, err)
	}
}

func TestUploadFromStdinPostsURL(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), alice)

	out, err := runWithInput(t, cfg, strings.NewReader("stdin bytes"), "upload", "-", "--post", "--epochs", "9", "-o", "json")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	res := decodeJSON[uploadResult](t, out)
	if res.Epochs != 9 {
		t.Fatalf("expected 9 epochs, got %d", res.Epochs)
	}

	page := decodeJSON[registry.Page](t, mustRun(t, cfg, "feed", "-o", "json"))
	if len(page.Items) != 1 || page.Items[0].Body.Kind != models.BodyBlob || page.Items[0].Body.BlobURL != res.URL {
		t.Fatalf("expected a blob body, got %+v", page.Items)
	}
}

func TestUploadRejectsOversizedInput(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), alice)
	cfg.Blob.MaxBytes = 4

	_, err := runWithInput(t, cfg, strings.NewReader("too big"), "upload", "-")
	if err == nil || !strings.Contains(err.Error(), "size limit") {
		t.Fatalf("expected size limit error, got %v", err)
	}
}

func TestChatRoundTrip(t *testing.T) {
	root := t.TempDir()
	asAlice := testConfig(t, root, alice)
	asBob := testConfig(t, root, bob)

	channel := strings.TrimSpace(mustRun(t, asAlice, "chat", "open", bob))
	if channel == "" {
		t.Fatal("chat open printed no channel id")
	}
	mustRun(t, asAlice, "chat", "send", channel, "hi", "bob")
	mustRun(t, asBob, "chat", "send", channel, "héllo 👋")
	mustRun(t, asBob, "chat", "mark-read", channel, "0")

	msgs := decodeJSON[[]models.Message](t, mustRun(t, asAlice, "chat", "read", channel, "-o", "json"))
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "hi bob" || msgs[1].Text != "héllo 👋" {
		t.Fatalf("unexpected texts %q, %q", msgs[0].Text, msgs[1].Text)
	}
	if !msgs[0].IsRead || msgs[1].IsRead || !msgs[0].Verified || !msgs[1].Verified {
		t.Fatalf("unexpected flags %+v", msgs)
	}

	list := decodeJSON[[]models.ChannelSummary](t, mustRun(t, asAlice, "chat", "list", "-o", "json"))
	if len(list) != 1 || list[0].ID != channel || list[0].MessagesCount != 2 || list[0].Counterparty != bob {
		t.Fatalf("unexpected channel list %+v", list)
	}

	if _, err := run(t, asBob, "chat", "mark-read", channel, "7"); err == nil {
		t.Fatal("expected out of range index to be rejected")
	}
	if _, err := run(t, asBob, "chat", "mark-read", channel, "x"); err == nil {
		t.Fatal("expected non-numeric index to be rejected")
	}
}

func TestChatWatchPrintsMessages(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root, alice)
	channel := strings.TrimSpace(mustRun(t, cfg, "chat", "open", bob))
	mustRun(t, cfg, "chat", "send", channel, "ping")

	out := mustRun(t, cfg, "chat", "watch", channel, "--for", "300ms")
	if !strings.Contains(out, ": ping") || strings.Count(out, "ping") != 1 {
		t.Fatalf("expected the message printed once, got:\n%s", out)
	}
}

func TestChatWatchInteractiveSends(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root, alice)
	cfg.Poll.MessagesInterval = config.Duration(time.Hour)
	channel := strings.TrimSpace(mustRun(t, cfg, "chat", "open", bob))

	out, err := runWithInput(t, cfg, strings.NewReader("one\n\ntwo\n"), "chat", "watch", channel, "--interactive", "--for", "500ms")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(out, ": one") || !strings.Contains(out, ": two") {
		t.Fatalf("expected sends to show up through invalidation, got:\n%s", out)
	}
}

func TestChatWatchInteractiveReturnsWithOpenStdin(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t, root, alice)
	channel := strings.TrimSpace(mustRun(t, cfg, "chat", "open", bob))

	stdin, writer := io.Pipe()
	defer writer.Close()
	done := make(chan error, 1)
	go func() {
		_, err := runWithInput(t, cfg, stdin, "chat", "watch", channel, "--interactive", "--for", "200ms")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not return while stdin stayed open")
	}

	// A line arriving after the watch ended must not be sent.
	go func() { _, _ = writer.Write([]byte("late\n")) }()
	time.Sleep(50 * time.Millisecond)
	out := mustRun(t, cfg, "chat", "read", channel)
	if strings.Contains(out, "late") {
		t.Fatalf("line sent after watch returned:\n%s", out)
	}
}

func TestConfigListAndGet(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), alice)

	values := decodeJSON[map[string]string](t, mustRun(t, cfg, "config", "list", "-o", "json"))
	if values["account"] != alice || values["blob.epochs"] != "5" {
		t.Fatalf("unexpected config list %v", values)
	}
	if got := strings.TrimSpace(mustRun(t, cfg, "config", "get", "feed.page_size")); got != "20" {
		t.Fatalf("expected 20, got %q", got)
	}
	if _, err := run(t, cfg, "config", "get", "nope"); err == nil {
		t.Fatal("expected unknown key error")
	}

	yamlOut := mustRun(t, cfg, "config", "list", "-o", "yaml")
	if !strings.Contains(yamlOut, "network: localnet") {
		t.Fatalf("unexpected yaml:\n%s", yamlOut)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), alice)
	if _, err := run(t, cfg, "feed", "-o", "xml"); err == nil {
		t.Fatal("expected unknown output format error")
	}
}

func TestGatewayMuxRoutesMetrics(t *testing.T) {
	m := metrics.New()
	blobs := func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusTeapot) }
	handler := gatewayMux(blobs, m)

	serve := func(path string) *fasthttp.RequestCtx {
		var req fasthttp.Request
		req.SetRequestURI(path)
		var ctx fasthttp.RequestCtx
		ctx.Init(&req, nil, nil)
		handler(&ctx)
		return &ctx
	}

	ctx := serve("/metrics")
	if ctx.Response.StatusCode() != fasthttp.StatusOK || !strings.Contains(string(ctx.Response.Body()), "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", ctx.Response.StatusCode())
	}
	if ctx := serve("/bafyabc"); ctx.Response.StatusCode() != fasthttp.StatusTeapot {
		t.Fatalf("expected blob handler, got %d", ctx.Response.StatusCode())
	}
}

func TestRequestLoggingPassesThrough(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := withRequestLogging(func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("boom")
	}, logger)

	for _, path := range []string{"/healthz", "/bafyabc"} {
		var req fasthttp.Request
		req.SetRequestURI(path)
		var ctx fasthttp.RequestCtx
		ctx.Init(&req, nil, nil)
		handler(&ctx)
		if ctx.Response.StatusCode() != fasthttp.StatusInternalServerError {
			t.Fatalf("%s: status not passed through", path)
		}
	}

	out := logs.String()
	if strings.Count(out, "request complete") != 1 {
		t.Fatalf("expected one logged request, got:\n%s", out)
	}
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "path=/bafyabc") || !strings.Contains(out, "status=500") {
		t.Fatalf("unexpected log line:\n%s", out)
	}
}
