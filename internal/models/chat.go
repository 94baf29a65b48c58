package models

import "time"

// Message is one decoded element of a channel's message log.
type Message struct {
	Index            int       `json:"index" yaml:"index"`
	Sender           string    `json:"sender" yaml:"sender"`
	EncryptedPayload []uint64  `json:"encrypted_payload" yaml:"encrypted_payload"`
	ContentHash      []uint64  `json:"content_hash" yaml:"content_hash"`
	SentTimestamp    uint64    `json:"sent_timestamp" yaml:"sent_timestamp"`
	SentAt           time.Time `json:"sent_at" yaml:"sent_at"`
	IsRead           bool      `json:"is_read" yaml:"is_read"`
	Text             string    `json:"text" yaml:"text"`
	Verified         bool      `json:"verified" yaml:"verified"`
	// Undecodable marks a payload holding code points that are not valid
	// characters. Text carries U+FFFD in their place.
	Undecodable      bool      `json:"undecodable,omitempty" yaml:"undecodable,omitempty"`
}

// Channel is a two-party conversation with its full message log.
type Channel struct {
	ID       string    `json:"id" yaml:"id"`
	Sender   string    `json:"sender" yaml:"sender"`
	Receiver string    `json:"receiver" yaml:"receiver"`
	Messages []Message `json:"messages" yaml:"messages"`
}

// Counterparty returns the participant that is not account.
func (c Channel) Counterparty(account string) string {
	if c.Sender == account {
		return c.Receiver
	}
	return c.Sender
}

// LastMessage summarizes the newest message of a channel.
type LastMessage struct {
	Text      string `json:"text" yaml:"text"`
	Sender    string `json:"sender" yaml:"sender"`
	Timestamp uint64 `json:"timestamp" yaml:"timestamp"`
}

// ChannelSummary is the listing view of a channel.
type ChannelSummary struct {
	ID            string       `json:"id" yaml:"id"`
	Name          string       `json:"name" yaml:"name"`
	Counterparty  string       `json:"counterparty" yaml:"counterparty"`
	Members       int          `json:"members" yaml:"members"`
	MessagesCount int          `json:"messages_count" yaml:"messages_count"`
	LastMessage   *LastMessage `json:"last_message" yaml:"last_message"`
	Creator       string       `json:"creator" yaml:"creator"`
}
