package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Program module and function names of the deployed suits package.
const (
	ModuleSuits     = "suits"
	ModuleMessaging = "messaging"

	FnCreateSuit   = "create_suit"
	FnStartChannel = "start_chart"
	FnSendMessage  = "send_message"
	FnMarkAsRead   = "mark_as_read"

	TypeSuit         = "Suit"
	TypeSuitRegistry = "SuitRegistry"
	TypeChat         = "Chat"
)

// Blob system module names.
const (
	ModuleBlobSystem = "system"
	ModuleBlob       = "blob"

	FnRegisterBlob = "register_blob"
	FnCertifyBlob  = "certify_blob"

	TypeBlob = "Blob"
)

const (
	// MaxPostChars bounds the inline text of a post.
	MaxPostChars = 280

	// ChannelMembers is fixed: channels are two-party.
	ChannelMembers = 2

	DefaultClockID = "0x6"
)

var (
	ErrEmptyContent    = errors.New("content is required")
	ErrContentTooLong  = fmt.Errorf("content exceeds %d characters", MaxPostChars)
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidMediaURL = errors.New("invalid media url")
)

// ValidatePostContent trims content and enforces the post length limit.
func ValidatePostContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxPostChars {
		return "", ErrContentTooLong
	}
	return content, nil
}

// NormalizeAddress lower-cases a 0x-prefixed hex address.
func NormalizeAddress(raw string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(value, "0x") || len(value) < 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	for _, r := range value[2:] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
	}
	return value, nil
}

// ShortAddress renders an address as its first 6 and last 4 characters.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// NormalizeMediaURLs trims and validates media references, dropping blanks.
func NormalizeMediaURLs(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMediaURL, u)
		}
		out = append(out, u)
	}
	return out, nil
}
