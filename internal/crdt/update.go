package crdt

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf8"
)

// OpKind distinguishes inserts from deletes.
type OpKind string

const (
	OpInsert OpKind = "ins"
	OpDelete OpKind = "del"
)

// OpID is unique per operation: a replica site and its local counter.
type OpID struct {
	Site    string `json:"site"`
	Counter uint64 `json:"ctr"`
}

func (a OpID) compare(b OpID) int {
	if c := cmp.Compare(a.Site, b.Site); c != 0 {
		return c
	}
	return cmp.Compare(a.Counter, b.Counter)
}

func (a OpID) String() string {
	return fmt.Sprintf("%s:%d", a.Site, a.Counter)
}

// Op is one atomic CRDT operation. An insert places a single character at
// Pos; a delete tombstones the insert named by Target.
type Op struct {
	ID     OpID     `json:"id"`
	Kind   OpKind   `json:"kind"`
	Pos    Position `json:"pos,omitempty"`
	Value  string   `json:"value,omitempty"`
	Target *OpID    `json:"target,omitempty"`
}

func (o Op) validate() error {
	if o.ID.Site == "" || o.ID.Counter == 0 {
		return fmt.Errorf("op id %s: site and counter are required", o.ID)
	}
	switch o.Kind {
	case OpInsert:
		if !o.Pos.valid() {
			return fmt.Errorf("op %s: invalid position", o.ID)
		}
		if utf8.RuneCountInString(o.Value) != 1 || !utf8.ValidString(o.Value) {
			return fmt.Errorf("op %s: insert value must be exactly one character", o.ID)
		}
		if o.Target != nil {
			return fmt.Errorf("op %s: insert must not carry a target", o.ID)
		}
	case OpDelete:
		if o.Target == nil || o.Target.Site == "" || o.Target.Counter == 0 {
			return fmt.Errorf("op %s: delete requires a target", o.ID)
		}
		if len(o.Pos) != 0 || o.Value != "" {
			return fmt.Errorf("op %s: delete must not carry a position or value", o.ID)
		}
	default:
		return fmt.Errorf("op %s: unknown kind %q", o.ID, o.Kind)
	}
	return nil
}

func (o Op) equal(b Op) bool {
	if o.ID != b.ID || o.Kind != b.Kind || o.Value != b.Value || o.Pos.Compare(b.Pos) != 0 {
		return false
	}
	if (o.Target == nil) != (b.Target == nil) {
		return false
	}
	return o.Target == nil || *o.Target == *b.Target
}

// Update is a set of operations. The zero value is an empty update.
type Update struct {
	Ops []Op `json:"ops"`
}

// Len returns the number of operations.
func (u Update) Len() int { return len(u.Ops) }

// Empty reports whether the update carries no operations.
func (u Update) Empty() bool { return len(u.Ops) == 0 }

// normalized returns the ops sorted by id with exact duplicates removed.
func (u Update) normalized() Update {
	ops := slices.Clone(u.Ops)
	slices.SortFunc(ops, func(a, b Op) int { return a.ID.compare(b.ID) })
	ops = slices.CompactFunc(ops, func(a, b Op) bool { return a.equal(b) })
	return Update{Ops: ops}
}

// Encode serialises an update canonically: operations sorted by id, so
// equal op sets encode to identical bytes.
func Encode(u Update) ([]byte, error) {
	n := u.normalized()
	if n.Ops == nil {
		n.Ops = []Op{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(n); err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses and validates an encoded update. Two different operations
// sharing an id are rejected.
func Decode(data []byte) (Update, error) {
	var u Update
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	for _, op := range u.Ops {
		if err := op.validate(); err != nil {
			return Update{}, err
		}
	}
	n := u.normalized()
	for i := 1; i < len(n.Ops); i++ {
		if n.Ops[i].ID == n.Ops[i-1].ID {
			return Update{}, fmt.Errorf("op %s appears twice with different content", n.Ops[i].ID)
		}
	}
	return n, nil
}

// Merge unions encoded updates into one canonical encoding.
func Merge(updates ...[]byte) ([]byte, error) {
	d := New("")
	for _, data := range updates {
		u, err := Decode(data)
		if err != nil {
			return nil, err
		}
		if _, err := d.Apply(u); err != nil {
			return nil, err
		}
	}
	return Encode(d.State())
}
