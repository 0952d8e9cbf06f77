// Package changeset implements the wire format for opor's CRDT changeset
// sync: a JSON array of 8-tuples with arbitrary-precision integer columns
// encoded as "BIGINT::<decimal>" strings so they survive a JSON round trip
// without truncation to float64.
package changeset

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/relaycoder/opor/oporerr"
	"github.com/samsarahq/go/oops"
)

const bigintPrefix = "BIGINT::"

// Tuple is one CRDT change: a single column's value for a single row at a
// single logical clock position. ColVersion, DbVersion, and SiteID are
// arbitrary-precision because the engine is free to derive them from
// monotonic counters or hashed site identifiers that outgrow an int64.
type Tuple struct {
	Table      string
	PK         interface{}
	ColVersion *big.Int
	DbVersion  *big.Int
	SiteID     *big.Int
	CL         int64
	Seq        int64
	Value      interface{}
}

// MarshalJSON encodes a Tuple as the 8-element array the wire format
// specifies, not a JSON object.
func (t Tuple) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{
		t.Table,
		t.PK,
		encodeBigint(t.ColVersion),
		encodeBigint(t.DbVersion),
		encodeBigint(t.SiteID),
		t.CL,
		t.Seq,
		t.Value,
	})
}

// UnmarshalJSON decodes a Tuple from its 8-element array form, rejecting
// any array whose length is not exactly 8.
func (t *Tuple) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return oops.Wrapf(err, "decode changeset tuple")
	}
	if len(raw) != 8 {
		return fmt.Errorf("changeset tuple must have exactly 8 elements, got %d", len(raw))
	}

	if err := json.Unmarshal(raw[0], &t.Table); err != nil {
		return oops.Wrapf(err, "decode tuple.table")
	}
	if err := json.Unmarshal(raw[1], &t.PK); err != nil {
		return oops.Wrapf(err, "decode tuple.pk")
	}
	colVersion, err := decodeBigint(raw[2])
	if err != nil {
		return oops.Wrapf(err, "decode tuple.colVersion")
	}
	t.ColVersion = colVersion
	dbVersion, err := decodeBigint(raw[3])
	if err != nil {
		return oops.Wrapf(err, "decode tuple.dbVersion")
	}
	t.DbVersion = dbVersion
	siteID, err := decodeBigint(raw[4])
	if err != nil {
		return oops.Wrapf(err, "decode tuple.siteId")
	}
	t.SiteID = siteID
	if err := json.Unmarshal(raw[5], &t.CL); err != nil {
		return oops.Wrapf(err, "decode tuple.cl")
	}
	if err := json.Unmarshal(raw[6], &t.Seq); err != nil {
		return oops.Wrapf(err, "decode tuple.seq")
	}
	if err := json.Unmarshal(raw[7], &t.Value); err != nil {
		return oops.Wrapf(err, "decode tuple.value")
	}
	return nil
}

func encodeBigint(i *big.Int) string {
	if i == nil {
		return bigintPrefix + "0"
	}
	return bigintPrefix + i.String()
}

func decodeBigint(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("expected a BIGINT::<decimal> string: %w", err)
	}
	dec := strings.TrimPrefix(s, bigintPrefix)
	if dec == s {
		return nil, fmt.Errorf("expected value to be prefixed with %q, got %q", bigintPrefix, s)
	}
	n, ok := new(big.Int).SetString(dec, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal integer %q", dec)
	}
	return n, nil
}

// Encode serializes a changeset to its wire form: a JSON array of 8-tuples,
// or the literal "[]" for an empty changeset.
func Encode(tuples []Tuple) (string, error) {
	if len(tuples) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(tuples)
	if err != nil {
		return "", oops.Wrapf(err, "encode changeset")
	}
	return string(data), nil
}

// Decode parses a changeset's wire form, validating that it is a JSON array
// of 8-tuples. A malformed payload is reported with the exact message
// opor's InvalidChangeset contract specifies.
func Decode(s string) ([]Tuple, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, invalidChangesetErr()
	}

	tuples := make([]Tuple, 0, len(raw))
	for _, r := range raw {
		var arr []json.RawMessage
		if err := json.Unmarshal(r, &arr); err != nil || len(arr) != 8 {
			return nil, invalidChangesetErr()
		}
		var t Tuple
		if err := t.UnmarshalJSON(r); err != nil {
			return nil, invalidChangesetErr()
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}

func invalidChangesetErr() error {
	return oporerr.NewInvalidChangeset("Invalid changeset format. Expected a JSON array of change tuples.")
}
