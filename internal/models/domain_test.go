package models

import (
	"errors"
	"strings"
	"testing"
)

func TestValidatePostContent(t *testing.T) {
	got, err := ValidatePostContent("  hello  ")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected trimmed content, got %q", got)
	}

	if _, err := ValidatePostContent("   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}

	if _, err := ValidatePostContent(strings.Repeat("é", MaxPostChars)); err != nil {
		t.Fatalf("expected %d multibyte characters to fit: %v", MaxPostChars, err)
	}
	if _, err := ValidatePostContent(strings.Repeat("a", MaxPostChars+1)); !errors.Is(err, ErrContentTooLong) {
		t.Fatalf("expected ErrContentTooLong, got %v", err)
	}
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress(" 0xABCdef01 ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "0xabcdef01" {
		t.Fatalf("unexpected address %q", got)
	}
	for _, raw := range []string{"", "0x", "abcdef", "0xzz"} {
		if _, err := NormalizeAddress(raw); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected invalid address for %q, got %v", raw, err)
		}
	}
}

func TestShortAddress(t *testing.T) {
	if got := ShortAddress("0x1234567890abcdef"); got != "0x1234...cdef" {
		t.Fatalf("unexpected short address %q", got)
	}
	if got := ShortAddress("0x12"); got != "0x12" {
		t.Fatalf("short input should be unchanged, got %q", got)
	}
}

func TestParseBody(t *testing.T) {
	gateway := "https://gw.example/blob/"
	body := ParseBody("https://gw.example/blob/bafkreiabc", gateway)
	if body.Kind != BodyBlob || body.BlobURL != "https://gw.example/blob/bafkreiabc" {
		t.Fatalf("expected blob body, got %#v", body)
	}

	body = ParseBody("look at https://gw.example/blob/bafkreiabc", gateway)
	if body.Kind != BodyInline {
		t.Fatalf("expected inline body for prose, got %#v", body)
	}

	body = ParseBody("https://gw.example/blob/x", "")
	if body.Kind != BodyInline {
		t.Fatalf("expected inline body without gateway, got %#v", body)
	}
}

func TestNormalizeMediaURLs(t *testing.T) {
	got, err := NormalizeMediaURLs([]string{" https://a/b ", "", "http://c"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got) != 2 || got[0] != "https://a/b" {
		t.Fatalf("unexpected media urls: %#v", got)
	}
	if _, err := NormalizeMediaURLs([]string{"ftp://x"}); !errors.Is(err, ErrInvalidMediaURL) {
		t.Fatalf("expected ErrInvalidMediaURL, got %v", err)
	}
}

func TestChannelCounterparty(t *testing.T) {
	ch := Channel{Sender: "0xa", Receiver: "0xb"}
	if ch.Counterparty("0xa") != "0xb" || ch.Counterparty("0xb") != "0xa" {
		t.Fatalf("unexpected counterparty resolution")
	}
}
