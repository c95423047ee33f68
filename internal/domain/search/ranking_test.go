package search

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/kailas-cloud/splitsearch/internal/domain"
)

func hit(value uint64, split string, seg, doc uint32) PartialHit {
	return PartialHit{SortingFieldValue: value, SplitID: split, SegmentOrd: seg, DocID: doc}
}

func TestComparePartialHits_PrimaryKey(t *testing.T) {
	a, b := hit(10, "b", 0, 0), hit(5, "a", 0, 0)
	if ComparePartialHits(a, b, SortDesc) >= 0 {
		t.Error("DESC: higher value must rank first")
	}
	if ComparePartialHits(a, b, SortAsc) <= 0 {
		t.Error("ASC: lower value must rank first")
	}
}

func TestComparePartialHits_TieBreakIgnoresOrder(t *testing.T) {
	cases := []struct {
		name  string
		first PartialHit
		then  PartialHit
	}{
		{"split id", hit(7, "a", 9, 9), hit(7, "b", 0, 0)},
		{"segment ord", hit(7, "a", 1, 9), hit(7, "a", 2, 0)},
		{"doc id", hit(7, "a", 1, 3), hit(7, "a", 1, 4)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, order := range []SortOrder{SortAsc, SortDesc} {
				if ComparePartialHits(tc.first, tc.then, order) >= 0 {
					t.Errorf("%s: %v must rank before %v", order, tc.first, tc.then)
				}
				if ComparePartialHits(tc.then, tc.first, order) <= 0 {
					t.Errorf("%s: comparison not antisymmetric", order)
				}
			}
		})
	}
	if ComparePartialHits(hit(1, "a", 1, 1), hit(1, "a", 1, 1), SortDesc) != 0 {
		t.Error("identical hits must compare equal")
	}
}

func TestComparePartialHits_MissingValueRanksLast(t *testing.T) {
	missing := PartialHit{MissingSortValue: true, SplitID: "a"}
	for _, tc := range []struct {
		order SortOrder
		value uint64
	}{
		{SortDesc, 0},
		{SortAsc, math.MaxUint64},
	} {
		present := hit(tc.value, "b", 0, 0)
		if ComparePartialHits(present, missing, tc.order) >= 0 {
			t.Errorf("%s: %v must rank before a missing value", tc.order, present)
		}
		if ComparePartialHits(missing, present, tc.order) <= 0 {
			t.Errorf("%s: comparison not antisymmetric", tc.order)
		}
	}
	other := PartialHit{MissingSortValue: true, SplitID: "b"}
	if ComparePartialHits(missing, other, SortDesc) >= 0 {
		t.Error("missing values must fall back to the address tie-break")
	}
}

func randomHits(r *rand.Rand, split string, n int) []PartialHit {
	hits := make([]PartialHit, n)
	for i := range hits {
		// Small value domain forces plenty of ties.
		hits[i] = hit(r.Uint64N(5), split, r.Uint32N(3), uint32(i))
	}
	return hits
}

func TestMergePartialHits_MatchesGlobalSort(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, order := range []SortOrder{SortAsc, SortDesc} {
		for iter := 0; iter < 200; iter++ {
			k := 1 + r.IntN(12)
			lists := make([][]PartialHit, 1+r.IntN(4))
			var all []PartialHit
			for i := range lists {
				l := randomHits(r, string(rune('a'+i)), r.IntN(15))
				all = append(all, l...)
				lists[i] = TopK(l, order, k)
			}

			got := MergePartialHits(lists, order, k)
			want := TopK(slices.Clone(all), order, k)
			if !slices.Equal(got, want) {
				t.Fatalf("%s k=%d: merge = %v, global sort = %v", order, k, got, want)
			}
		}
	}
}

func TestMergePartialHits_Associative(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	const k = 6
	for iter := 0; iter < 100; iter++ {
		a := TopK(randomHits(r, "a", 10), SortDesc, k)
		b := TopK(randomHits(r, "b", 10), SortDesc, k)
		c := TopK(randomHits(r, "c", 10), SortDesc, k)

		left := MergePartialHits([][]PartialHit{MergePartialHits([][]PartialHit{a, b}, SortDesc, k), c}, SortDesc, k)
		right := MergePartialHits([][]PartialHit{a, MergePartialHits([][]PartialHit{b, c}, SortDesc, k)}, SortDesc, k)
		flat := MergePartialHits([][]PartialHit{a, b, c}, SortDesc, k)
		if !slices.Equal(left, right) || !slices.Equal(left, flat) {
			t.Fatalf("merge not associative:\n(ab)c=%v\na(bc)=%v\nabc=%v", left, right, flat)
		}
	}
}

func TestMergePartialHits_EdgeCases(t *testing.T) {
	if got := MergePartialHits(nil, SortDesc, 5); len(got) != 0 {
		t.Errorf("nil lists: got %v", got)
	}
	single := []PartialHit{hit(3, "a", 0, 0), hit(2, "a", 0, 1), hit(1, "a", 0, 2)}
	got := MergePartialHits([][]PartialHit{nil, single, {}}, SortDesc, 2)
	if !slices.Equal(got, single[:2]) {
		t.Errorf("single list: got %v", got)
	}
	got[0].DocID = 99
	if single[0].DocID == 99 {
		t.Error("merge must not alias its input")
	}
	if got := MergePartialHits([][]PartialHit{single}, SortDesc, 0); len(got) != 0 {
		t.Errorf("k=0: got %v", got)
	}
}

func TestPagination(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	universe := randomHits(r, "x", 40)
	global := TopK(slices.Clone(universe), SortAsc, len(universe))

	const h = 7
	for offset := uint64(0); offset < 45; offset += 5 {
		candidates := MergePartialHits([][]PartialHit{
			TopK(slices.Clone(universe[:20]), SortAsc, int(offset)+h),
			TopK(slices.Clone(universe[20:]), SortAsc, int(offset)+h),
		}, SortAsc, int(offset)+h)
		page := Page(candidates, offset, h)

		end := min(int(offset)+h, len(global))
		var want []PartialHit
		if int(offset) < len(global) {
			want = global[offset:end]
		}
		if len(page) != len(want) || (len(want) > 0 && !slices.Equal(page, want)) {
			t.Fatalf("offset=%d: page=%v, want %v", offset, page, want)
		}
	}
}

func TestScenario_ThreeSplitsOneFailed(t *testing.T) {
	leafA := TopK([]PartialHit{hit(5, "A", 0, 1), hit(10, "A", 0, 0)}, SortDesc, 2)
	leafB := TopK([]PartialHit{hit(8, "B", 0, 0)}, SortDesc, 2)
	if leafA[0].SortingFieldValue != 10 || leafA[1].SortingFieldValue != 5 {
		t.Fatalf("leaf A = %v", leafA)
	}

	root := MergePartialHits([][]PartialHit{leafA, leafB}, SortDesc, 2)
	want := []PartialHit{hit(10, "A", 0, 0), hit(8, "B", 0, 0)}
	if !slices.Equal(root, want) {
		t.Errorf("root merge = %v, want %v", root, want)
	}
}

func TestSortOrder_JSON(t *testing.T) {
	var req SearchRequest
	if err := json.Unmarshal([]byte(`{"index_id":"i","sort_order":"ASC"}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.EffectiveSortOrder() != SortAsc {
		t.Errorf("order = %q", req.EffectiveSortOrder())
	}
	if err := json.Unmarshal([]byte(`{"sort_order":"sideways"}`), &req); err == nil {
		t.Error("expected error for unknown order")
	}

	var absent SearchRequest
	if err := json.Unmarshal([]byte(`{"index_id":"i"}`), &absent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if absent.SortByField != nil || absent.SortOrder != nil {
		t.Error("absent optionals must stay nil")
	}
	if absent.EffectiveSortOrder() != SortDesc {
		t.Error("default order must be DESC")
	}
	out, _ := json.Marshal(absent)
	var raw map[string]any
	_ = json.Unmarshal(out, &raw)
	for _, key := range []string{"sort_by_field", "sort_order", "start_timestamp", "aggregation_request"} {
		if _, ok := raw[key]; ok {
			t.Errorf("absent %s serialized as %v", key, raw[key])
		}
	}
}

func TestSearchRequest_Validate(t *testing.T) {
	start, end := int64(10), int64(5)
	empty := ""
	cases := []struct {
		name string
		req  SearchRequest
		ok   bool
	}{
		{"valid", SearchRequest{IndexID: "logs", MaxHits: 10}, true},
		{"missing index", SearchRequest{MaxHits: 10}, false},
		{"page too deep", SearchRequest{IndexID: "logs", StartOffset: MaxPageEnd, MaxHits: 1}, false},
		{"page ends at limit", SearchRequest{IndexID: "logs", StartOffset: MaxPageEnd - 1, MaxHits: 1}, true},
		{"max hits wraps around", SearchRequest{IndexID: "logs", StartOffset: 3, MaxHits: math.MaxUint64 - 1}, false},
		{"offset wraps around", SearchRequest{IndexID: "logs", StartOffset: math.MaxUint64, MaxHits: 1}, false},
		{"inverted range", SearchRequest{IndexID: "logs", StartTimestamp: &start, EndTimestamp: &end}, false},
		{"empty sort field", SearchRequest{IndexID: "logs", SortByField: &empty}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, domain.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestStreamAndTermsRequest_Validate(t *testing.T) {
	s := SearchStreamRequest{IndexID: "logs", FastField: "ts", OutputFormat: OutputCSV}
	if err := s.Validate(); err != nil {
		t.Fatalf("valid stream request: %v", err)
	}
	s.OutputFormat = "parquet"
	if !errors.Is(s.Validate(), domain.ErrInvalidRequest) {
		t.Error("expected ErrInvalidRequest for unknown format")
	}

	a, b := "m", "c"
	lt := ListTermsRequest{IndexID: "logs", Field: "host", StartKey: &a, EndKey: &b}
	if !errors.Is(lt.Validate(), domain.ErrInvalidRequest) {
		t.Error("expected ErrInvalidRequest for inverted key range")
	}
}
