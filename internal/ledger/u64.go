package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// U64 is a 64-bit ledger integer. Full nodes render u64 values as JSON
// strings; numbers are accepted as well.
type U64 uint64

func (u U64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

func (u *U64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid u64 %q: %w", string(data), err)
	}
	*u = U64(v)
	return nil
}

// U64s converts a slice of U64 to plain uint64 values.
func U64s(in []U64) []uint64 {
	out := make([]uint64, len(in))
	for i, v := range in {
		out[i] = uint64(v)
	}
	return out
}

// FromUint64s converts plain values to U64.
func FromUint64s(in []uint64) []U64 {
	out := make([]U64, len(in))
	for i, v := range in {
		out[i] = U64(v)
	}
	return out
}
