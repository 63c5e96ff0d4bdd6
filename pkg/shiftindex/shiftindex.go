// Package shiftindex implements a Fenwick (binary indexed) tree over
// integer position deltas. It is used to rebase a single operation against a
// batch of prior operations in O(n log n) instead of folding a pairwise
// transform n times, for the non-overlapping fast path documented in
// spec.md §4.5 / §9.
package shiftindex

// ShiftIndex is a prefix-sum structure: update(i, d) adds d at index i;
// query(i) returns the sum of all deltas at indices <= i.
type ShiftIndex struct {
	tree []int64
	size int
}

// New allocates a ShiftIndex over indices [0, size).
func New(size int) *ShiftIndex {
	if size < 0 {
		size = 0
	}
	return &ShiftIndex{tree: make([]int64, size+1), size: size}
}

// Update adds d at index i. 0 <= i < size is required.
func (s *ShiftIndex) Update(i int, d int64) {
	if i < 0 || i >= s.size {
		return
	}
	for j := i + 1; j <= s.size; j += j & (-j) {
		s.tree[j] += d
	}
}

// Query returns the prefix sum over [0, i]. Returns 0 for i < 0 and clamps
// i >= size to size-1.
func (s *ShiftIndex) Query(i int) int64 {
	if i < 0 {
		return 0
	}
	if i >= s.size {
		i = s.size - 1
	}
	var sum int64
	for j := i + 1; j > 0; j -= j & (-j) {
		sum += s.tree[j]
	}
	return sum
}

// AddInsert records the position shift caused by inserting length code
// points at pos.
func (s *ShiftIndex) AddInsert(pos int, length int) {
	s.Update(pos, int64(length))
}

// AddDelete records the position shift caused by deleting length code
// points starting at pos.
func (s *ShiftIndex) AddDelete(pos int, length int) {
	s.Update(pos, -int64(length))
}
