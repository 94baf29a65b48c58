package format

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	ID    string   `json:"id"`
	Count int      `json:"messages_count"`
	Tags  []string `json:"tags,omitempty"`
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		want    Formatter
		wantErr bool
	}{
		{name: "", want: nil},
		{name: "text", want: nil},
		{name: "JSON", want: JSONFormatter{}},
		{name: "yaml", want: YAMLFormatter{}},
		{name: "yml", want: YAMLFormatter{}},
		{name: "xml", wantErr: true},
	}
	for _, tc := range tests {
		got, err := New(tc.name)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %#v, got %#v", tc.name, tc.want, got)
		}
	}
}

func TestYAMLUsesJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	if err := (YAMLFormatter{}).Write(&buf, sample{ID: "0x1", Count: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "id: 0x1") || !strings.Contains(out, "messages_count: 2") {
		t.Fatalf("unexpected yaml:\n%s", out)
	}
	if strings.Contains(out, "tags") {
		t.Fatalf("omitempty field leaked:\n%s", out)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONFormatter{}).Write(&buf, []sample{{ID: "a", Count: 1}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != `[{"id":"a","messages_count":1}]` {
		t.Fatalf("unexpected json %s", got)
	}
}
