package book

import (
	"iter"

	"github.com/google/btree"
)

const levelTreeDegree = 32

// LevelSet is one side of the book: price -> aggregate, iterated best price first.
// A price is present only while its total size is positive.
type LevelSet struct {
	side Side
	tree *btree.BTreeG[*Level]
}

// NewLevelSet builds a set ordered for side: descending for buy, ascending otherwise.
func NewLevelSet(side Side) *LevelSet {
	less := func(a, b *Level) bool { return a.Price < b.Price }
	if side == SideBuy {
		less = func(a, b *Level) bool { return a.Price > b.Price }
	}
	return &LevelSet{side: side, tree: btree.NewG(levelTreeDegree, less)}
}

func (s *LevelSet) Side() Side { return s.side }

func (s *LevelSet) Len() int { return s.tree.Len() }

func (s *LevelSet) Has(price int64) bool {
	return s.tree.Has(&Level{Price: price})
}

// Get returns a copy of the level at price.
func (s *LevelSet) Get(price int64) (Level, bool) {
	lvl, ok := s.tree.Get(&Level{Price: price})
	if !ok {
		return Level{}, false
	}
	return *lvl, true
}

// ApplyDelta adjusts the level at price, creating it if needed. The level is
// dropped as soon as its size is no longer positive, whatever the count says.
func (s *LevelSet) ApplyDelta(price, size int64, count int32) {
	probe := &Level{Price: price}
	lvl, ok := s.tree.Get(probe)
	if !ok {
		if size <= 0 {
			return
		}
		s.tree.ReplaceOrInsert(&Level{Price: price, Size: size, Count: count})
		return
	}
	lvl.Size += size
	lvl.Count += count
	if lvl.Size <= 0 {
		s.tree.Delete(probe)
	}
}

// Top yields up to n levels best first. The sequence can be ranged more than once.
func (s *LevelSet) Top(n int) iter.Seq[Level] {
	return func(yield func(Level) bool) {
		if n <= 0 {
			return
		}
		i := 0
		s.tree.Ascend(func(lvl *Level) bool {
			if !yield(*lvl) {
				return false
			}
			i++
			return i < n
		})
	}
}

// AppendTop appends up to n levels best first to dst.
func (s *LevelSet) AppendTop(dst []Level, n int) []Level {
	for lvl := range s.Top(n) {
		dst = append(dst, lvl)
	}
	return dst
}
