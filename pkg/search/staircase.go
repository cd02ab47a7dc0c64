// Package search generates extremal staircases generation by generation.
//
// A staircase of generation g is r[0..g]: non-increasing, dropping by at
// most one per column, and ending in zero. Each generation is derived from
// the previous one by lifting every staircase (always kept) and extending
// it with a zero column (kept unless superseded).
package search

import (
	"fmt"
	"strings"
)

// Staircase holds the column heights r[0..g].
type Staircase []uint8

// Generation returns g, the index of the last column.
func (r Staircase) Generation() int { return len(r) - 1 }

// Encode renders the staircase as its drop pattern: one character per
// column after the first, "0" when the height repeats and "1" when it drops.
func (r Staircase) Encode() string {
	var b strings.Builder

	b.Grow(len(r))

	for i := 1; i < len(r); i++ {
		if r[i] == r[i-1] {
			b.WriteByte('0')
		} else {
			b.WriteByte('1')
		}
	}

	return b.String()
}

// Lift raises every column by one and appends a zero column.
func (r Staircase) Lift() Staircase {
	out := make(Staircase, len(r)+1)
	for i, v := range r {
		out[i] = v + 1
	}

	return out
}

// Extend appends a zero column.
func (r Staircase) Extend() Staircase {
	out := make(Staircase, len(r)+1)
	copy(out, r)

	return out
}

// fraction is x[0]/x[1] kept as an integer pair.
type fraction [2]int

// greater reports x > y.
func (x fraction) greater(y fraction) bool {
	return x[0]*y[1] > y[0]*x[1]
}

// deletable reports whether the top cell of column i can be removed.
func (r Staircase) deletable(i int) bool {
	return (i == 0 || r[i-1] == r[i]) && r[i] > r[i+1]
}

// addable reports whether a cell can be added on top of column i.
func (r Staircase) addable(i int) bool {
	return (i == 0 || r[i-1] > r[i]) && r[i+1] == r[i]
}

func (r Staircase) mustEndInZero(test string) int {
	g := r.Generation()
	if g < 0 || r[g] != 0 {
		panic(fmt.Sprintf("search: %s: staircase %v does not end in zero", test, r))
	}

	return g
}

// supersededPNP runs the P-N-P test with the P point at column i3, which is
// either g (a cell added at the bottom) or g-1 (the staircase ends 1,0,0).
func (r Staircase) supersededPNP(i3 int) bool {
	g := r.mustEndInZero("pnp")
	if g <= 3 {
		return false
	}

	var j3 int

	switch i3 {
	case g:
		j3 = 0
	case g - 1:
		j3 = 1

		if r[g-1] != 0 {
			panic(fmt.Sprintf("search: pnp: column %d of %v is not zero", g-1, r))
		}
	default:
		panic(fmt.Sprintf("search: pnp: column %d out of range for generation %d", i3, g))
	}

	var (
		minSlope fraction
		seenN    bool
	)

	for i := i3 - 1; i >= 0; i-- {
		h := int(r[i])

		if r.deletable(i) {
			p := fraction{i3 - i, h - j3}
			if !seenN || minSlope.greater(p) {
				minSlope = p
				seenN = true
			}
		}

		if seenN && r.addable(i) {
			p := fraction{i3 - i, h + 1 - j3}
			if !minSlope.greater(p) {
				return true
			}
		}
	}

	return false
}

// supersededNPN runs the N-P-N test with the bottom cell of the last column
// as the final N point.
func (r Staircase) supersededNPN() bool {
	g := r.mustEndInZero("npn")
	if g <= 3 {
		return false
	}

	var (
		maxSlope fraction
		seenP    bool
	)

	for i := g - 2; i >= 0; i-- {
		h := int(r[i])

		if r.addable(i) {
			p := fraction{g - i, h + 1}
			if !seenP || p.greater(maxSlope) {
				maxSlope = p
				seenP = true
			}
		}

		if seenP && r.deletable(i) {
			p := fraction{g - i, h}
			if !p.greater(maxSlope) {
				return true
			}
		}
	}

	return false
}

// Expand derives the next generation's survivors from rect and reports
// whether rect itself stays extremal in the next generation.
func Expand(rect Staircase) (next []Staircase, final bool) {
	g := rect.Generation() + 1
	ext := rect.Extend()

	next = append(next, rect.Lift())

	if !ext.supersededNPN() && !ext.supersededPNP(g-1) {
		next = append(next, ext)
	}

	return next, !ext.supersededPNP(g)
}
