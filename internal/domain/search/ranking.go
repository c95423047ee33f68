package search

import (
	"cmp"
	"container/heap"
	"slices"
)

// ComparePartialHits orders hits by sorting value in the given direction, then by
// (split id, segment ord, doc id) ascending whatever the direction. Hits missing the
// sort value rank after all others. It returns a negative number when a ranks before b.
func ComparePartialHits(a, b PartialHit, order SortOrder) int {
	if a.MissingSortValue != b.MissingSortValue {
		if a.MissingSortValue {
			return 1
		}
		return -1
	}
	if a.SortingFieldValue != b.SortingFieldValue {
		c := cmp.Compare(a.SortingFieldValue, b.SortingFieldValue)
		if order == SortAsc {
			return c
		}
		return -c
	}
	if c := cmp.Compare(a.SplitID, b.SplitID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.SegmentOrd, b.SegmentOrd); c != 0 {
		return c
	}
	return cmp.Compare(a.DocID, b.DocID)
}

// SortPartialHits sorts hits in place.
func SortPartialHits(hits []PartialHit, order SortOrder) {
	slices.SortFunc(hits, func(a, b PartialHit) int {
		return ComparePartialHits(a, b, order)
	})
}

// TopK sorts hits and keeps the first k. k <= 0 keeps nothing.
func TopK(hits []PartialHit, order SortOrder, k int) []PartialHit {
	if k <= 0 {
		return []PartialHit{}
	}
	SortPartialHits(hits, order)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// MergePartialHits merges lists that are each already sorted and returns the first k hits
// of the combined order. The inputs are not modified.
func MergePartialHits(lists [][]PartialHit, order SortOrder, k int) []PartialHit {
	if k <= 0 {
		return []PartialHit{}
	}

	nonEmpty := make([][]PartialHit, 0, len(lists))
	total := 0
	for _, l := range lists {
		if len(l) > 0 {
			nonEmpty = append(nonEmpty, l)
			total += len(l)
		}
	}
	switch len(nonEmpty) {
	case 0:
		return []PartialHit{}
	case 1:
		// Already ordered: only truncate.
		n := min(k, len(nonEmpty[0]))
		return slices.Clone(nonEmpty[0][:n])
	}

	h := &cursorHeap{order: order}
	for i, l := range nonEmpty {
		h.items = append(h.items, cursor{list: i, hit: l[0]})
	}
	heap.Init(h)

	out := make([]PartialHit, 0, min(k, total))
	for h.Len() > 0 && len(out) < k {
		top := h.items[0]
		out = append(out, top.hit)
		next := top.pos + 1
		if next < len(nonEmpty[top.list]) {
			h.items[0] = cursor{list: top.list, pos: next, hit: nonEmpty[top.list][next]}
			heap.Fix(h, 0)
		} else {
			heap.Pop(h)
		}
	}
	return out
}

type cursor struct {
	list int
	pos  int
	hit  PartialHit
}

type cursorHeap struct {
	items []cursor
	order SortOrder
}

func (h *cursorHeap) Len() int { return len(h.items) }

func (h *cursorHeap) Less(i, j int) bool {
	return ComparePartialHits(h.items[i].hit, h.items[j].hit, h.order) < 0
}

func (h *cursorHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *cursorHeap) Push(x any) { h.items = append(h.items, x.(cursor)) }

func (h *cursorHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// Page drops the first offset hits of an ordered list and keeps at most limit.
func Page(hits []PartialHit, offset, limit uint64) []PartialHit {
	if offset >= uint64(len(hits)) {
		return []PartialHit{}
	}
	end := min(offset+limit, uint64(len(hits)))
	return hits[offset:end]
}
