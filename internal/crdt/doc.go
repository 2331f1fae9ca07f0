// Package crdt implements the replicated text type behind collaborative
// rooms: a Logoot-style sequence whose state is a set of operations.
//
// Merging is set union, so applying updates in any order, any number of
// times, yields the same state. State and Encode are canonical, which makes
// snapshot bytes independent of arrival order.
package crdt

import (
	"fmt"
	"slices"
	"strings"
)

// StateVector maps a site to the highest op counter seen from it.
//
// A state vector summarises a replica exactly only while every site's
// operations are known without gaps. Replicas that accept remote updates
// must enforce that with Contiguous, or Diff will miss operations that
// arrive below a site's high-water mark.
type StateVector map[string]uint64

type atom struct {
	id    OpID
	pos   Position
	value string
}

func (a atom) compare(b atom) int {
	if c := a.pos.Compare(b.pos); c != 0 {
		return c
	}
	return a.id.compare(b.id)
}

// Doc is one replica. It is not safe for concurrent use; rooms own their
// document from a single goroutine.
type Doc struct {
	site    string
	counter uint64

	ops       map[OpID]Op
	atoms     []atom // sorted by (pos, id)
	tombstone map[OpID]bool
	sv        StateVector
}

// New creates an empty replica that allocates operations for site.
func New(site string) *Doc {
	return &Doc{
		site:      site,
		ops:       make(map[OpID]Op),
		tombstone: make(map[OpID]bool),
		sv:        make(StateVector),
	}
}

// Check reports an error if u conflicts with operations already known.
func (d *Doc) Check(u Update) error {
	seen := make(map[OpID]Op, len(u.Ops))
	for _, op := range u.Ops {
		if err := op.validate(); err != nil {
			return err
		}
		known, ok := d.ops[op.ID]
		if !ok {
			known, ok = seen[op.ID]
		}
		if ok && !known.equal(op) {
			return fmt.Errorf("op %s conflicts with a known operation", op.ID)
		}
		seen[op.ID] = op
	}
	return nil
}

// Missing returns the subset of u not yet applied, in canonical order.
func (d *Doc) Missing(u Update) Update {
	out := Update{}
	for _, op := range u.normalized().Ops {
		if _, ok := d.ops[op.ID]; !ok {
			out.Ops = append(out.Ops, op)
		}
	}
	return out
}

// Contiguous reports an error unless, for every site, the operations of u
// not yet known continue the replica's state vector without a gap.
func (d *Doc) Contiguous(u Update) error {
	next := make(map[string][]uint64)
	for _, op := range u.Ops {
		if _, ok := d.ops[op.ID]; ok {
			continue
		}
		next[op.ID.Site] = append(next[op.ID.Site], op.ID.Counter)
	}
	for site, counters := range next {
		slices.Sort(counters)
		counters = slices.Compact(counters)
		want := d.sv[site] + 1
		for _, c := range counters {
			if c != want {
				return fmt.Errorf("op %s leaves a gap: next expected counter for site %q is %d", OpID{Site: site, Counter: c}, site, want)
			}
			want++
		}
	}
	return nil
}

// Apply merges u and returns how many operations were new.
func (d *Doc) Apply(u Update) (int, error) {
	if err := d.Check(u); err != nil {
		return 0, err
	}
	n := 0
	for _, op := range u.normalized().Ops {
		if _, ok := d.ops[op.ID]; ok {
			continue
		}
		d.integrate(op)
		n++
	}
	return n, nil
}

func (d *Doc) integrate(op Op) {
	d.ops[op.ID] = op
	if op.ID.Counter > d.sv[op.ID.Site] {
		d.sv[op.ID.Site] = op.ID.Counter
	}
	if op.ID.Site == d.site && op.ID.Counter > d.counter {
		d.counter = op.ID.Counter
	}
	switch op.Kind {
	case OpInsert:
		a := atom{id: op.ID, pos: op.Pos, value: op.Value}
		i, _ := slices.BinarySearchFunc(d.atoms, a, atom.compare)
		d.atoms = slices.Insert(d.atoms, i, a)
	case OpDelete:
		d.tombstone[*op.Target] = true
	}
}

// Text returns the visible document content.
func (d *Doc) Text() string {
	var b strings.Builder
	for _, a := range d.atoms {
		if !d.tombstone[a.id] {
			b.WriteString(a.value)
		}
	}
	return b.String()
}

// Len returns the number of visible characters.
func (d *Doc) Len() int {
	n := 0
	for _, a := range d.atoms {
		if !d.tombstone[a.id] {
			n++
		}
	}
	return n
}

// visible returns the atom indexes of visible characters.
func (d *Doc) visible() []int {
	idx := make([]int, 0, len(d.atoms))
	for i, a := range d.atoms {
		if !d.tombstone[a.id] {
			idx = append(idx, i)
		}
	}
	return idx
}

// Insert inserts text before the visible character at index and returns
// the local update to broadcast.
func (d *Doc) Insert(index int, text string) (Update, error) {
	vis := d.visible()
	if index < 0 || index > len(vis) {
		return Update{}, fmt.Errorf("insert index %d out of range [0,%d]", index, len(vis))
	}

	// Neighbours are taken over all atoms, tombstones included, so new
	// positions never land between a tombstone and its visible neighbour.
	var left, right Position
	start := 0
	if index > 0 {
		start = vis[index-1] + 1
		left = d.atoms[vis[index-1]].pos
	}
	if start < len(d.atoms) {
		right = d.atoms[start].pos
	}

	u := Update{}
	for _, r := range text {
		pos := Between(left, right, d.site)
		d.counter++
		op := Op{ID: OpID{Site: d.site, Counter: d.counter}, Kind: OpInsert, Pos: pos, Value: string(r)}
		d.integrate(op)
		u.Ops = append(u.Ops, op)
		left = pos
	}
	return u, nil
}

// Delete removes length visible characters starting at index.
func (d *Doc) Delete(index, length int) (Update, error) {
	vis := d.visible()
	if index < 0 || length < 0 || index+length > len(vis) {
		return Update{}, fmt.Errorf("delete range [%d,%d) out of range [0,%d]", index, index+length, len(vis))
	}
	targets := make([]OpID, 0, length)
	for _, i := range vis[index : index+length] {
		targets = append(targets, d.atoms[i].id)
	}

	u := Update{}
	for _, t := range targets {
		d.counter++
		target := t
		op := Op{ID: OpID{Site: d.site, Counter: d.counter}, Kind: OpDelete, Target: &target}
		d.integrate(op)
		u.Ops = append(u.Ops, op)
	}
	return u, nil
}

// StateVector returns a copy of the replica's state vector.
func (d *Doc) StateVector() StateVector {
	out := make(StateVector, len(d.sv))
	for k, v := range d.sv {
		out[k] = v
	}
	return out
}

// Diff returns the operations a replica with state vector sv is missing.
func (d *Doc) Diff(sv StateVector) Update {
	u := Update{}
	for id, op := range d.ops {
		if id.Counter > sv[id.Site] {
			u.Ops = append(u.Ops, op)
		}
	}
	return u.normalized()
}

// State returns every operation known to the replica.
func (d *Doc) State() Update {
	return d.Diff(nil)
}

// Ops returns the number of operations held, tombstones included.
func (d *Doc) Ops() int {
	return len(d.ops)
}
