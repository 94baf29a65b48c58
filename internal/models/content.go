package models

import (
	"strings"
	"time"
)

// BodyKind describes how a post body is carried.
type BodyKind string

const (
	BodyInline BodyKind = "inline"
	BodyBlob   BodyKind = "blob"
)

// Body is either inline text or a reference to a published blob.
type Body struct {
	Kind    BodyKind `json:"kind" yaml:"kind"`
	Text    string   `json:"text,omitempty" yaml:"text,omitempty"`
	BlobURL string   `json:"blob_url,omitempty" yaml:"blob_url,omitempty"`
}

// ParseBody classifies content. Content that is exactly a URL under the
// gateway prefix is a blob reference.
func ParseBody(content, gatewayPrefix string) Body {
	prefix := strings.TrimRight(strings.TrimSpace(gatewayPrefix), "/")
	trimmed := strings.TrimSpace(content)
	if prefix != "" && strings.HasPrefix(trimmed, prefix+"/") && !strings.ContainsAny(trimmed, " \n\t") {
		return Body{Kind: BodyBlob, BlobURL: trimmed}
	}
	return Body{Kind: BodyInline, Text: content}
}

// ContentObject is a published post as read back from the ledger.
type ContentObject struct {
	ID        string    `json:"id" yaml:"id"`
	Author    string    `json:"author" yaml:"author"`
	Body      Body      `json:"body" yaml:"body"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	MediaRefs []string  `json:"media_refs,omitempty" yaml:"media_refs,omitempty"`
}

// TimeFromMillis converts a ledger clock value to UTC time.
func TimeFromMillis(ms uint64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}
