package messaging

import (
	"errors"
	"testing"
	"testing/quick"
	"unicode/utf8"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "héllo wörld", "日本語", "emoji 🚀 ok", "tab\tnew\nline"} {
		got, err := Decode(Encode(s))
		if err != nil {
			t.Fatalf("decode %q: %v", s, err)
		}
		if got != s {
			t.Fatalf("round trip mismatch: %q != %q", got, s)
		}
	}

	roundTrip := func(s string) bool {
		if !utf8.ValidString(s) {
			return true
		}
		got, err := Decode(Encode(s))
		return err == nil && got == s
	}
	if err := quick.Check(roundTrip, nil); err != nil {
		t.Fatalf("round trip property: %v", err)
	}
}

func TestEncodeUsesCodePoints(t *testing.T) {
	codes := Encode("hé🚀")
	want := []uint64{104, 233, 128640}
	if len(codes) != len(want) {
		t.Fatalf("expected %d codes, got %v", len(want), codes)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("code %d: want %d, got %d", i, want[i], codes[i])
		}
	}
	hash := Hash(codes)
	if hash[0] != 104*31 {
		t.Fatalf("unexpected hash %v", hash)
	}
	if !Verify(codes, hash) {
		t.Fatalf("hash should verify")
	}
	hash[1]++
	if Verify(codes, hash) || Verify(codes, hash[:2]) {
		t.Fatalf("tampered hash should not verify")
	}
}

func TestDecodeRejectsInvalidCodePoints(t *testing.T) {
	for _, codes := range [][]uint64{{0xD800}, {utf8.MaxRune + 1}, {1 << 40}} {
		if _, err := Decode(codes); !errors.Is(err, ErrInvalidCodePoint) {
			t.Fatalf("expected ErrInvalidCodePoint for %v, got %v", codes, err)
		}
	}
}

func TestDecodeLossyReplacesInvalidCodePoints(t *testing.T) {
	text, ok := DecodeLossy([]uint64{104, 0xD83D, 105, 1 << 40})
	if ok {
		t.Fatal("expected replacement to be reported")
	}
	if text != "h\uFFFDi\uFFFD" {
		t.Fatalf("unexpected text %q", text)
	}
	if text, ok := DecodeLossy(Encode("héllo 👋")); !ok || text != "héllo 👋" {
		t.Fatalf("valid payload changed: %q ok=%v", text, ok)
	}
}
