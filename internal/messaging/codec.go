package messaging

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// HashMultiplier is the per-code-point factor of the content hash.
const HashMultiplier = 31

var ErrInvalidCodePoint = errors.New("invalid code point")

// Encode maps every character of s to its code point. It is a reversible
// encoding, not encryption.
func Encode(s string) []uint64 {
	out := make([]uint64, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, uint64(r))
	}
	return out
}

// Decode is the inverse of Encode.
func Decode(codes []uint64) (string, error) {
	buf := make([]byte, 0, len(codes))
	for i, c := range codes {
		if c > utf8.MaxRune || !utf8.ValidRune(rune(c)) {
			return "", fmt.Errorf("%w at %d: %d", ErrInvalidCodePoint, i, c)
		}
		buf = utf8.AppendRune(buf, rune(c))
	}
	return string(buf), nil
}

// DecodeLossy decodes codes, rendering every invalid code point as
// utf8.RuneError. ok is false when at least one was replaced.
func DecodeLossy(codes []uint64) (text string, ok bool) {
	buf := make([]byte, 0, len(codes))
	ok = true
	for _, c := range codes {
		r := utf8.RuneError
		if c <= utf8.MaxRune && utf8.ValidRune(rune(c)) {
			r = rune(c)
		} else {
			ok = false
		}
		buf = utf8.AppendRune(buf, r)
	}
	return string(buf), ok
}

// Hash computes the weak integrity tag stored next to an encoded payload.
func Hash(codes []uint64) []uint64 {
	out := make([]uint64, len(codes))
	for i, c := range codes {
		out[i] = c * HashMultiplier
	}
	return out
}

// Verify reports whether hash matches codes.
func Verify(codes, hash []uint64) bool {
	if len(codes) != len(hash) {
		return false
	}
	for i, c := range codes {
		if c*HashMultiplier != hash[i] {
			return false
		}
	}
	return true
}
