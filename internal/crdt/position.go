package crdt

import "strings"

// Base is the exclusive upper bound of a position digit.
const Base = 1 << 16

// boundary caps how far past the lower neighbour a new digit is placed, so
// that sequential typing stays at depth one for a long time.
const boundary = 32

// Ident is one level of a position identifier.
type Ident struct {
	Digit uint32 `json:"d"`
	Site  string `json:"s"`
}

func (a Ident) compare(b Ident) int {
	switch {
	case a.Digit < b.Digit:
		return -1
	case a.Digit > b.Digit:
		return 1
	}
	return strings.Compare(a.Site, b.Site)
}

// Position is a dense identifier. Positions are ordered lexicographically
// by ident; a proper prefix sorts first.
type Position []Ident

// Compare returns -1, 0 or 1.
func (p Position) Compare(q Position) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		if c := p[i].compare(q[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(q):
		return -1
	case len(p) > len(q):
		return 1
	}
	return 0
}

// Between allocates a position strictly between p and q for site. A nil p
// means the beginning of the document and a nil q the end. p must sort
// before q.
func Between(p, q Position, site string) Position {
	var (
		out        Position
		lowerTight = true
		upperTight = q != nil
	)
	for i := 0; ; i++ {
		if lowerTight && i >= len(p) {
			lowerTight = false
		}
		lo := uint32(0)
		if lowerTight {
			lo = p[i].Digit
		}
		hi := uint32(Base)
		if upperTight && i < len(q) {
			hi = q[i].Digit
		}

		if hi-lo > 1 {
			step := min((hi-lo)/2, boundary)
			return append(out, Ident{Digit: lo + max(step, 1), Site: site})
		}

		// No room at this level: copy a bound and descend.
		var id Ident
		switch {
		case lowerTight:
			id = p[i]
		case upperTight && hi == 0:
			id = q[i]
		default:
			id = Ident{Digit: lo, Site: site}
		}
		if upperTight && (i >= len(q) || id != q[i]) {
			upperTight = false
		}
		out = append(out, id)
	}
}

func (p Position) valid() bool {
	if len(p) == 0 {
		return false
	}
	for _, id := range p {
		if id.Digit >= Base || id.Site == "" {
			return false
		}
	}
	return p[len(p)-1].Digit > 0
}
