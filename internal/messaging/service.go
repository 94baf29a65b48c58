// Package messaging implements two-party chat channels stored as ledger
// objects, with encoded message payloads and read tracking.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"suits/internal/ledger"
	"suits/internal/metrics"
	"suits/internal/models"
	"suits/internal/watch"
)

// Options configures a Service.
type Options struct {
	PackageID string
	ClockID   ledger.ObjectID
	// Account is the caller; it signs every mutation.
	Account ledger.Address
	// DedupeChannels makes CreateChannel return an existing channel the
	// caller started with the same receiver instead of opening a new one.
	DedupeChannels bool
	Hub            *watch.Hub
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Service operates on the caller's channels.
type Service struct {
	ledger ledger.Client
	opts   Options
	log    *slog.Logger
}

// NewService creates a Service.
func NewService(lc ledger.Client, opts Options) *Service {
	if opts.ClockID == "" {
		opts.ClockID = models.DefaultClockID
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: lc, opts: opts, log: logger.With("component", "messaging")}
}

func (s *Service) target(fn string) string {
	return ledger.Target(s.opts.PackageID, models.ModuleMessaging, fn)
}

func (s *Service) chatType() string {
	return ledger.StructType(s.opts.PackageID, models.ModuleMessaging, models.TypeChat)
}

func (s *Service) execute(ctx context.Context, op, channelID string, call ledger.Operation) (ledger.Receipt, error) {
	receipt, err := ledger.Execute(ctx, s.ledger, call)
	s.opts.Metrics.ChannelOp(op, err)
	if err != nil {
		return receipt, &OpError{Op: op, ChannelID: channelID, Err: err}
	}
	return receipt, nil
}

// CreateChannel opens a channel from the caller to receiver and returns its
// id once finalized.
func (s *Service) CreateChannel(ctx context.Context, receiver string) (string, error) {
	addr, err := models.NormalizeAddress(receiver)
	if err != nil {
		return "", err
	}
	if addr == string(s.opts.Account) {
		return "", ErrSelfChannel
	}

	if s.opts.DedupeChannels {
		existing, err := s.findChannel(ctx, addr)
		if err != nil {
			return "", err
		}
		if existing != "" {
			s.log.Debug("reusing channel", "channel", existing, "receiver", addr)
			return existing, nil
		}
	}

	receipt, err := s.execute(ctx, "create", "", ledger.Operation{
		Sender: s.opts.Account,
		Target: s.target(models.FnStartChannel),
		Args:   []ledger.Arg{ledger.PureArg(ledger.Address(addr)), ledger.ObjectArg(s.opts.ClockID)},
	})
	if err != nil {
		return "", err
	}
	if len(receipt.Created) == 0 {
		return "", &OpError{Op: "create", Err: fmt.Errorf("transaction %s created no channel", receipt.Digest)}
	}
	id := string(receipt.Created[0])
	s.opts.Hub.InvalidateKind(watch.KindChannels)
	s.log.Info("channel created", "channel", id, "receiver", addr)
	return id, nil
}

func (s *Service) findChannel(ctx context.Context, receiver string) (string, error) {
	owned, err := s.ledger.ListOwned(ctx, ledger.OwnedFilter{Owner: s.opts.Account, StructType: s.chatType()})
	if err != nil {
		return "", err
	}
	for _, snap := range owned {
		var chat models.ChatFields
		if err := snap.DecodeFields(&chat); err != nil {
			continue
		}
		if chat.Receiver == receiver {
			return string(snap.ID), nil
		}
	}
	return "", nil
}

// SendMessage appends plaintext to the channel.
func (s *Service) SendMessage(ctx context.Context, channelID, plaintext string) error {
	if strings.TrimSpace(plaintext) == "" {
		return ErrEmptyMessage
	}
	codes := Encode(plaintext)
	_, err := s.execute(ctx, "send", channelID, ledger.Operation{
		Sender: s.opts.Account,
		Target: s.target(models.FnSendMessage),
		Args: []ledger.Arg{
			ledger.ObjectArg(ledger.ObjectID(channelID)),
			ledger.PureArg(codes),
			ledger.PureArg(Hash(codes)),
			ledger.ObjectArg(s.opts.ClockID),
		},
	})
	if err != nil {
		return err
	}
	s.opts.Hub.Invalidate(watch.Key{Kind: watch.KindMessages, ID: channelID})
	s.opts.Hub.InvalidateKind(watch.KindChannels)
	return nil
}

// MarkAsRead flags the message at index as read. The index is validated by
// the ledger, not locally.
func (s *Service) MarkAsRead(ctx context.Context, channelID string, index int) error {
	if index < 0 {
		return ErrInvalidIndex
	}
	_, err := s.execute(ctx, "mark-read", channelID, ledger.Operation{
		Sender: s.opts.Account,
		Target: s.target(models.FnMarkAsRead),
		Args: []ledger.Arg{
			ledger.ObjectArg(ledger.ObjectID(channelID)),
			ledger.PureArg(uint64(index)),
			ledger.ObjectArg(s.opts.ClockID),
		},
	})
	if err != nil {
		return err
	}
	s.opts.Hub.Invalidate(watch.Key{Kind: watch.KindMessages, ID: channelID})
	return nil
}

// GetChannel reads and decodes one channel.
func (s *Service) GetChannel(ctx context.Context, channelID string) (models.Channel, error) {
	snap, err := s.ledger.ReadObject(ctx, ledger.ObjectID(channelID))
	if err != nil {
		return models.Channel{}, err
	}
	return decodeChannel(snap)
}

// ReadMessages returns the channel's messages decoded, in log order.
func (s *Service) ReadMessages(ctx context.Context, channelID string) ([]models.Message, error) {
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return ch.Messages, nil
}

// ListChannels summarizes the channels owned by account.
func (s *Service) ListChannels(ctx context.Context, account string) ([]models.ChannelSummary, error) {
	owned, err := s.ledger.ListOwned(ctx, ledger.OwnedFilter{Owner: ledger.Address(account), StructType: s.chatType()})
	if err != nil {
		return nil, err
	}
	out := make([]models.ChannelSummary, 0, len(owned))
	for _, snap := range owned {
		ch, err := decodeChannel(snap)
		if err != nil {
			s.log.Warn("skipping undecodable channel", "channel", snap.ID, "err", err)
			continue
		}
		out = append(out, summarize(ch, account))
	}
	return out, nil
}

func summarize(ch models.Channel, account string) models.ChannelSummary {
	other := ch.Counterparty(account)
	sum := models.ChannelSummary{
		ID:            ch.ID,
		Name:          models.ShortAddress(other),
		Counterparty:  other,
		Members:       models.ChannelMembers,
		MessagesCount: len(ch.Messages),
		Creator:       ch.Sender,
	}
	if n := len(ch.Messages); n > 0 {
		last := ch.Messages[n-1]
		sum.LastMessage = &models.LastMessage{Text: last.Text, Sender: last.Sender, Timestamp: last.SentTimestamp}
	}
	return sum
}

func decodeChannel(snap ledger.ObjectSnapshot) (models.Channel, error) {
	var fields models.ChatFields
	if err := snap.DecodeFields(&fields); err != nil {
		return models.Channel{}, err
	}
	ch := models.Channel{
		ID:       string(snap.ID),
		Sender:   fields.Sender,
		Receiver: fields.Receiver,
		Messages: make([]models.Message, 0, len(fields.Messages)),
	}
	for i, m := range fields.Messages {
		codes := ledger.U64s(m.EncryptedMessage)
		hash := ledger.U64s(m.ContentHash)
		text, decoded := DecodeLossy(codes)
		ch.Messages = append(ch.Messages, models.Message{
			Index:            i,
			Sender:           m.Sender,
			EncryptedPayload: codes,
			ContentHash:      hash,
			SentTimestamp:    uint64(m.SentTimestamp),
			SentAt:           models.TimeFromMillis(uint64(m.SentTimestamp)),
			IsRead:           m.IsRead,
			Text:             text,
			Verified:         Verify(codes, hash),
			Undecodable:      !decoded,
		})
	}
	return ch, nil
}

// WatchChannels returns a stopped poller over the account's channel list,
// subscribed to channel invalidations. stop halts the poller and removes
// the subscription.
func (s *Service) WatchChannels(account string, interval time.Duration, opts ...watch.PollerOption[[]models.ChannelSummary]) (p *watch.Poller[[]models.ChannelSummary], stop func()) {
	p = watch.NewPoller(watch.KindChannels, interval, func(ctx context.Context) ([]models.ChannelSummary, error) {
		return s.ListChannels(ctx, account)
	}, append([]watch.PollerOption[[]models.ChannelSummary]{watch.WithMetrics[[]models.ChannelSummary](s.opts.Metrics), watch.WithLogger[[]models.ChannelSummary](s.log)}, opts...)...)
	unsub := s.opts.Hub.Subscribe(watch.Key{Kind: watch.KindChannels, ID: account}, p)
	return p, func() {
		unsub()
		p.Stop()
	}
}

// WatchMessages returns a stopped poller over one channel's messages,
// subscribed to that channel's invalidations.
func (s *Service) WatchMessages(channelID string, interval time.Duration, opts ...watch.PollerOption[[]models.Message]) (p *watch.Poller[[]models.Message], stop func()) {
	p = watch.NewPoller(watch.KindMessages, interval, func(ctx context.Context) ([]models.Message, error) {
		return s.ReadMessages(ctx, channelID)
	}, append([]watch.PollerOption[[]models.Message]{watch.WithMetrics[[]models.Message](s.opts.Metrics), watch.WithLogger[[]models.Message](s.log)}, opts...)...)
	unsub := s.opts.Hub.Subscribe(watch.Key{Kind: watch.KindMessages, ID: channelID}, p)
	return p, func() {
		unsub()
		p.Stop()
	}
}
