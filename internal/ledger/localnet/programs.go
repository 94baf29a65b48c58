package localnet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"suits/internal/ledger"
	"suits/internal/models"
)

// execution carries the state of one transaction being applied.
type execution struct {
	l       *Ledger
	ctx     context.Context
	tx      *sql.Tx
	digest  ledger.Digest
	sender  ledger.Address
	nowMs   uint64
	created []ledger.ObjectID
}

func (ex *execution) createdOrEmpty() []ledger.ObjectID {
	if ex.created == nil {
		return []ledger.ObjectID{}
	}
	return ex.created
}

func (l *Ledger) execute(ex *execution, op ledger.Operation) error {
	if strings.TrimSpace(string(op.Sender)) == "" {
		return errors.New("sender is required")
	}
	pkg, sys := l.opts.PackageID, l.opts.BlobSystemID
	switch op.Target {
	case ledger.Target(pkg, models.ModuleSuits, models.FnCreateSuit):
		return ex.createSuit(op.Args)
	case ledger.Target(pkg, models.ModuleMessaging, models.FnStartChannel):
		return ex.startChannel(op.Args)
	case ledger.Target(pkg, models.ModuleMessaging, models.FnSendMessage):
		return ex.sendMessage(op.Args)
	case ledger.Target(pkg, models.ModuleMessaging, models.FnMarkAsRead):
		return ex.markAsRead(op.Args)
	case ledger.Target(sys, models.ModuleBlobSystem, models.FnRegisterBlob):
		return ex.registerBlob(op.Args)
	case ledger.Target(sys, models.ModuleBlobSystem, models.FnCertifyBlob):
		return ex.certifyBlob(op.Args)
	default:
		return fmt.Errorf("unknown target %q", op.Target)
	}
}

func (ex *execution) createSuit(args []ledger.Arg) error {
	if err := expectArgs(args, 4); err != nil {
		return err
	}
	registryID, err := objectArg(args, 0)
	if err != nil {
		return err
	}
	if registryID != ex.l.RegistryID() {
		return fmt.Errorf("object %s is not the registry", registryID)
	}
	content, err := stringArg(args, 1)
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return errors.New("content is empty")
	}
	if utf8.RuneCountInString(content) > models.MaxPostChars {
		return fmt.Errorf("content exceeds %d characters", models.MaxPostChars)
	}
	media, err := stringsArg(args, 2)
	if err != nil {
		return err
	}
	if err := ex.checkClock(args, 3); err != nil {
		return err
	}

	var registry models.RegistryFields
	if err := ex.load(registryID, &registry); err != nil {
		return err
	}
	id := ex.newObjectID()
	suit := models.SuitFields{
		Author:    string(ex.sender),
		Content:   content,
		MediaURLs: media,
		CreatedAt: ledger.U64(ex.nowMs),
	}
	if err := ex.insert(id, ledger.StructType(ex.l.opts.PackageID, models.ModuleSuits, models.TypeSuit), ex.sender, suit); err != nil {
		return err
	}
	registry.SuitIDs = append(registry.SuitIDs, string(id))
	return ex.update(registryID, registry)
}

func (ex *execution) startChannel(args []ledger.Arg) error {
	if err := expectArgs(args, 2); err != nil {
		return err
	}
	receiver, err := addressArg(args, 0)
	if err != nil {
		return err
	}
	if _, err := models.NormalizeAddress(string(receiver)); err != nil {
		return err
	}
	if receiver == ex.sender {
		return errors.New("cannot start a chat with yourself")
	}
	if err := ex.checkClock(args, 1); err != nil {
		return err
	}
	chat := models.ChatFields{Sender: string(ex.sender), Receiver: string(receiver), Messages: []models.MessageFields{}}
	return ex.insert(ex.newObjectID(), ledger.StructType(ex.l.opts.PackageID, models.ModuleMessaging, models.TypeChat), ex.sender, chat)
}

func (ex *execution) sendMessage(args []ledger.Arg) error {
	if err := expectArgs(args, 4); err != nil {
		return err
	}
	chatID, err := objectArg(args, 0)
	if err != nil {
		return err
	}
	enc, err := u64sArg(args, 1)
	if err != nil {
		return err
	}
	hash, err := u64sArg(args, 2)
	if err != nil {
		return err
	}
	if len(enc) != len(hash) {
		return errors.New("content hash length does not match message length")
	}
	if err := ex.checkClock(args, 3); err != nil {
		return err
	}

	var chat models.ChatFields
	if err := ex.load(chatID, &chat); err != nil {
		return err
	}
	if err := ex.checkParticipant(chat); err != nil {
		return err
	}
	chat.Messages = append(chat.Messages, models.MessageFields{
		Sender:           string(ex.sender),
		EncryptedMessage: ledger.FromUint64s(enc),
		ContentHash:      ledger.FromUint64s(hash),
		SentTimestamp:    ledger.U64(ex.nowMs),
	})
	return ex.update(chatID, chat)
}

func (ex *execution) markAsRead(args []ledger.Arg) error {
	if err := expectArgs(args, 3); err != nil {
		return err
	}
	chatID, err := objectArg(args, 0)
	if err != nil {
		return err
	}
	index, err := u64Arg(args, 1)
	if err != nil {
		return err
	}
	if err := ex.checkClock(args, 2); err != nil {
		return err
	}

	var chat models.ChatFields
	if err := ex.load(chatID, &chat); err != nil {
		return err
	}
	if err := ex.checkParticipant(chat); err != nil {
		return err
	}
	if index >= uint64(len(chat.Messages)) {
		return fmt.Errorf("message index %d out of range (%d messages)", index, len(chat.Messages))
	}
	chat.Messages[index].IsRead = true
	return ex.update(chatID, chat)
}

func (ex *execution) registerBlob(args []ledger.Arg) error {
	if err := expectArgs(args, 5); err != nil {
		return err
	}
	blobID, err := stringArg(args, 0)
	if err != nil {
		return err
	}
	if strings.TrimSpace(blobID) == "" {
		return errors.New("blob id is required")
	}
	size, err := u64Arg(args, 1)
	if err != nil {
		return err
	}
	epochs, err := u64Arg(args, 2)
	if err != nil {
		return err
	}
	if epochs == 0 {
		return errors.New("storage epochs must be positive")
	}
	deletable, err := boolArg(args, 3)
	if err != nil {
		return err
	}
	owner, err := addressArg(args, 4)
	if err != nil {
		return err
	}
	blob := models.BlobFields{
		BlobID:        blobID,
		Size:          ledger.U64(size),
		StorageEpochs: ledger.U64(epochs),
		Deletable:     deletable,
		RegisteredAt:  ledger.U64(ex.nowMs),
	}
	return ex.insert(ex.newObjectID(), ledger.StructType(ex.l.opts.BlobSystemID, models.ModuleBlob, models.TypeBlob), owner, blob)
}

func (ex *execution) certifyBlob(args []ledger.Arg) error {
	if err := expectArgs(args, 1); err != nil {
		return err
	}
	id, err := objectArg(args, 0)
	if err != nil {
		return err
	}
	var blob models.BlobFields
	if err := ex.load(id, &blob); err != nil {
		return err
	}
	blob.Certified = true
	return ex.update(id, blob)
}

func (ex *execution) checkParticipant(chat models.ChatFields) error {
	if string(ex.sender) != chat.Sender && string(ex.sender) != chat.Receiver {
		return fmt.Errorf("%s is not a participant of this chat", ex.sender)
	}
	return nil
}

func (ex *execution) checkClock(args []ledger.Arg, i int) error {
	id, err := objectArg(args, i)
	if err != nil {
		return err
	}
	if string(id) != ex.l.opts.ClockID {
		return fmt.Errorf("argument %d is not the clock object", i)
	}
	return nil
}

func (ex *execution) newObjectID() ledger.ObjectID {
	id := objectID(ex.digest, len(ex.created))
	ex.created = append(ex.created, id)
	return id
}

func (ex *execution) load(id ledger.ObjectID, v any) error {
	var contents []byte
	err := ex.tx.QueryRowContext(ex.ctx, "SELECT contents FROM objects WHERE id = ?", string(id)).Scan(&contents)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ledger.ErrObjectNotFound, id)
	}
	if err != nil {
		return err
	}
	return ex.l.dec.Unmarshal(contents, v)
}

func (ex *execution) insert(id ledger.ObjectID, typ string, owner ledger.Address, v any) error {
	contents, err := encMode.Marshal(v)
	if err != nil {
		return err
	}
	_, err = ex.tx.ExecContext(ex.ctx,
		"INSERT INTO objects (id, type, owner, version, contents, created_tx) VALUES (?, ?, ?, 1, ?, ?)",
		string(id), typ, string(owner), contents, string(ex.digest),
	)
	return err
}

func (ex *execution) update(id ledger.ObjectID, v any) error {
	contents, err := encMode.Marshal(v)
	if err != nil {
		return err
	}
	_, err = ex.tx.ExecContext(ex.ctx, "UPDATE objects SET contents = ?, version = version + 1 WHERE id = ?", contents, string(id))
	return err
}

func expectArgs(args []ledger.Arg, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

func objectArg(args []ledger.Arg, i int) (ledger.ObjectID, error) {
	if args[i].Object == "" {
		return "", fmt.Errorf("argument %d must be an object", i)
	}
	return args[i].Object, nil
}

func stringArg(args []ledger.Arg, i int) (string, error) {
	v, ok := args[i].Value.(string)
	if !ok {
		return "", fmt.Errorf("argument %d must be a string", i)
	}
	return v, nil
}

func stringsArg(args []ledger.Arg, i int) ([]string, error) {
	switch v := args[i].Value.(type) {
	case []string:
		return v, nil
	case nil:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("argument %d must be a string list", i)
	}
}

func addressArg(args []ledger.Arg, i int) (ledger.Address, error) {
	switch v := args[i].Value.(type) {
	case ledger.Address:
		return v, nil
	case string:
		return ledger.Address(v), nil
	default:
		return "", fmt.Errorf("argument %d must be an address", i)
	}
}

func u64Arg(args []ledger.Arg, i int) (uint64, error) {
	v, ok := args[i].Value.(uint64)
	if !ok {
		return 0, fmt.Errorf("argument %d must be a u64", i)
	}
	return v, nil
}

func u64sArg(args []ledger.Arg, i int) ([]uint64, error) {
	v, ok := args[i].Value.([]uint64)
	if !ok {
		return nil, fmt.Errorf("argument %d must be a u64 vector", i)
	}
	return v, nil
}

func boolArg(args []ledger.Arg, i int) (bool, error) {
	v, ok := args[i].Value.(bool)
	if !ok {
		return false, fmt.Errorf("argument %d must be a bool", i)
	}
	return v, nil
}
