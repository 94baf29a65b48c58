package models

import "suits/internal/ledger"

// Ledger field layouts of the deployed programs, as rendered by full nodes.

type RegistryFields struct {
	SuitIDs []string `json:"suit_ids" cbor:"suit_ids"`
}

type SuitFields struct {
	Author    string     `json:"author" cbor:"author"`
	Content   string     `json:"content" cbor:"content"`
	MediaURLs []string   `json:"media_urls" cbor:"media_urls"`
	CreatedAt ledger.U64 `json:"created_at" cbor:"created_at"`
}

type MessageFields struct {
	Sender           string       `json:"sender" cbor:"sender"`
	EncryptedMessage []ledger.U64 `json:"encrypted_message" cbor:"encrypted_message"`
	ContentHash      []ledger.U64 `json:"content_hash" cbor:"content_hash"`
	SentTimestamp    ledger.U64   `json:"sent_timestamp" cbor:"sent_timestamp"`
	IsRead           bool         `json:"is_read" cbor:"is_read"`
}

type ChatFields struct {
	Sender   string          `json:"sender" cbor:"sender"`
	Receiver string          `json:"receiver" cbor:"receiver"`
	Messages []MessageFields `json:"messages" cbor:"messages"`
}

type BlobFields struct {
	BlobID        string     `json:"blob_id" cbor:"blob_id"`
	Size          ledger.U64 `json:"size" cbor:"size"`
	StorageEpochs ledger.U64 `json:"storage_epochs" cbor:"storage_epochs"`
	Deletable     bool       `json:"deletable" cbor:"deletable"`
	Certified     bool       `json:"certified" cbor:"certified"`
	RegisteredAt  ledger.U64 `json:"registered_at" cbor:"registered_at"`
}
