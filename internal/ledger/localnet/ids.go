package localnet

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"suits/internal/ledger"
)

var encMode cbor.EncMode

func init() {
	opts := cbor.EncOptions{
		// Deterministic map ordering keeps digests stable.
		Sort: cbor.SortCoreDeterministic,
	}
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("localnet: cbor enc mode: %v", err))
	}
	encMode = em
}

// txDigest hashes the CBOR encoding of op together with its sequence number.
func txDigest(op ledger.Operation, seq int64) (ledger.Digest, error) {
	payload, err := encMode.Marshal(op)
	if err != nil {
		return "", fmt.Errorf("encode operation: %w", err)
	}
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], uint64(seq))
	sum := blake2b.Sum256(append(payload, seqBytes[:]...))
	return ledger.Digest(hex.EncodeToString(sum[:])), nil
}

// objectID derives the id of the n-th object created by a transaction.
func objectID(digest ledger.Digest, n int) ledger.ObjectID {
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s:%d", digest, n)))
	return ledger.ObjectID("0x" + hex.EncodeToString(sum[:]))
}

// GenesisRegistryID is the id of the registry created for packageID.
func GenesisRegistryID(packageID string) ledger.ObjectID {
	sum := blake2b.Sum256([]byte("suits-registry:" + packageID))
	return ledger.ObjectID("0x" + hex.EncodeToString(sum[:]))
}
