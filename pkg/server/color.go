package server

import "hash/fnv"

// palette is a small fixed set of readable colors assigned deterministically
// per client id, per spec.md §4.4 "assign a deterministic color".
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
	"#bcf60c", "#fabebe", "#008080", "#e6beff",
}

// assignColor picks a color for clientID by hashing it into the palette, so
// the same id always gets the same color within a run and different ids
// spread across the palette.
func assignColor(clientID string) string {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return palette[h.Sum32()%uint32(len(palette))]
}
