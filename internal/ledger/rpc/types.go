package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"suits/internal/ledger"
)

var objectOptions = map[string]bool{
	"showType":    true,
	"showOwner":   true,
	"showContent": true,
}

type objectResponse struct {
	Data  *objectData `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type ownedPage struct {
	Data        []objectResponse `json:"data"`
	NextCursor  *string          `json:"nextCursor"`
	HasNextPage bool             `json:"hasNextPage"`
}

type objectData struct {
	ObjectID string          `json:"objectId"`
	Version  string          `json:"version"`
	Type     string          `json:"type"`
	Owner    json.RawMessage `json:"owner"`
	Content  *struct {
		DataType string          `json:"dataType"`
		Type     string          `json:"type"`
		Fields   json.RawMessage `json:"fields"`
	} `json:"content"`
}

func (d *objectData) snapshot() (ledger.ObjectSnapshot, error) {
	snap := ledger.ObjectSnapshot{ID: ledger.ObjectID(d.ObjectID), Type: d.Type, Owner: parseOwner(d.Owner)}
	if d.Version != "" {
		v, err := strconv.ParseUint(d.Version, 10, 64)
		if err != nil {
			return snap, fmt.Errorf("object %s: invalid version %q", d.ObjectID, d.Version)
		}
		snap.Version = v
	}
	if d.Content != nil {
		if snap.Type == "" {
			snap.Type = d.Content.Type
		}
		fields, err := flattenFields(d.Content.Fields)
		if err != nil {
			return snap, fmt.Errorf("object %s: %w", d.ObjectID, err)
		}
		snap.Fields = fields
	}
	return snap, nil
}

// parseOwner understands {"AddressOwner": "0x.."} and {"ObjectOwner": "0x.."};
// shared and immutable objects have no single owner.
func parseOwner(raw json.RawMessage) ledger.Address {
	var owner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &owner); err != nil {
		return ""
	}
	for _, key := range []string{"AddressOwner", "ObjectOwner"} {
		if v, ok := owner[key]; ok {
			var addr string
			if json.Unmarshal(v, &addr) == nil {
				return ledger.Address(addr)
			}
		}
	}
	return ""
}

// flattenFields replaces nested {"type": ..., "fields": {...}} structs with
// their fields so that program layouts decode directly.
func flattenFields(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(flatten(v))
}

func flatten(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if fields, ok := t["fields"].(map[string]any); ok && len(t) <= 2 {
			if _, typed := t["type"]; typed || len(t) == 1 {
				return flatten(fields)
			}
		}
		for k, child := range t {
			t[k] = flatten(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = flatten(child)
		}
		return t
	default:
		return v
	}
}

type txBlock struct {
	Digest      string `json:"digest"`
	TimestampMs string `json:"timestampMs"`
	Effects     *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
		Created []struct {
			Reference struct {
				ObjectID string `json:"objectId"`
			} `json:"reference"`
		} `json:"created"`
	} `json:"effects"`
}

func (b txBlock) receipt(digest ledger.Digest) ledger.Receipt {
	r := ledger.Receipt{Digest: digest, Status: ledger.StatusFailed, Created: []ledger.ObjectID{}}
	if ts, err := strconv.ParseUint(b.TimestampMs, 10, 64); err == nil {
		r.TimestampMs = ts
	}
	if b.Effects == nil {
		r.Error = "transaction has no effects"
		return r
	}
	if b.Effects.Status.Status == "success" {
		r.Status = ledger.StatusFinalized
	} else {
		r.Error = b.Effects.Status.Error
	}
	for _, c := range b.Effects.Created {
		r.Created = append(r.Created, ledger.ObjectID(c.Reference.ObjectID))
	}
	return r
}
