package leaf

import "github.com/kailas-cloud/splitsearch/internal/domain/search"

// topK keeps the best k partial hits of one split. Candidates are buffered and cut
// back to k whenever the buffer doubles, which keeps memory at O(k).
type topK struct {
	splitID string
	order   search.SortOrder
	k       int
	hits    []search.PartialHit
}

func newTopK(splitID string, order search.SortOrder, k int) *topK {
	return &topK{splitID: splitID, order: order, k: k}
}

func (t *topK) add(seg, doc uint32, value uint64, missing bool) {
	if t.k <= 0 {
		return
	}
	if missing {
		value = 0
	}
	t.hits = append(t.hits, search.PartialHit{
		SortingFieldValue: value,
		MissingSortValue:  missing,
		SplitID:           t.splitID,
		SegmentOrd:        seg,
		DocID:             doc,
	})
	if len(t.hits) >= 2*t.k {
		t.hits = search.TopK(t.hits, t.order, t.k)
	}
}

func (t *topK) result() []search.PartialHit {
	return search.TopK(t.hits, t.order, t.k)
}
