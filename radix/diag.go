package radix

import (
	"fmt"
	"io"

	"github.com/forestrie/go-famradix/fam"
)

// Diagnostics are read-only recursive walks for debugging. They take no
// serialization against mutators and observe any snapshot consistent with
// CAS-level atomicity; keep them off performance paths.

// ListFunc receives one callback per valid value: the key bytes (valid only
// for the duration of the call) and the value handle.
type ListFunc func(key []byte, value fam.Gptr)

// ListStats summarizes a List walk.
type ListStats struct {
	Depth  int
	Nodes  uint64
	Values uint64
}

// List walks the whole tree in key order, invoking f once per valid value.
func (t *Tree) List(f ListFunc) ListStats {
	var s ListStats
	t.recursiveList(t.root, f, 0, &s)
	return s
}

func (t *Tree) recursiveList(g fam.Gptr, f ListFunc, level int, s *ListStats) {
	if g == 0 {
		return
	}
	n := t.node(g)
	fam.Invalidate(n.b)

	if tq := fam.Load128(n.valueCell()); tq.IsValid() {
		s.Values++
		f(n.key()[:n.prefixSize()], tq.Ptr)
	}
	s.Nodes++
	s.Depth = max(s.Depth, level)

	for i := range fanout {
		child := fam.Gptr(fam.Load64(n.childWord(i)))
		t.recursiveList(child, f, level+1, s)
	}
}

// LevelStats counts the nodes and valid values at one depth.
type LevelStats struct {
	Nodes  uint64
	Values uint64
}

// StructureStats accumulates per-level shape counts.
type StructureStats struct {
	Depth  int
	Nodes  uint64
	Values uint64
	Levels []LevelStats
}

// Structure walks the whole tree and reports its shape.
func (t *Tree) Structure() StructureStats {
	var s StructureStats
	t.recursiveStructure(t.root, 0, &s)
	return s
}

func (t *Tree) recursiveStructure(g fam.Gptr, level int, s *StructureStats) {
	if g == 0 {
		return
	}
	n := t.node(g)
	fam.Invalidate(n.b)

	for len(s.Levels) <= level {
		s.Levels = append(s.Levels, LevelStats{})
	}
	s.Levels[level].Nodes++
	if tq := fam.Load128(n.valueCell()); tq.IsValid() {
		s.Levels[level].Values++
		s.Values++
	}
	s.Nodes++
	s.Depth = max(s.Depth, level)

	for i := range fanout {
		child := fam.Gptr(fam.Load64(n.childWord(i)))
		t.recursiveStructure(child, level+1, s)
	}
}

// Report writes the stats in a line-per-fact form.
func (s StructureStats) Report(w io.Writer) {
	fmt.Fprintf(w, "Depth %d\n", s.Depth)
	fmt.Fprintf(w, "Values %d\n", s.Values)
	fmt.Fprintf(w, "Nodes %d\n", s.Nodes)
	for l, lv := range s.Levels {
		fmt.Fprintf(w, "Level %d\n", l)
		fmt.Fprintf(w, "\tNodes %d\n", lv.Nodes)
		fmt.Fprintf(w, "\tValues %d\n", lv.Values)
	}
}
