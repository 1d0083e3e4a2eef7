package domain

import "fmt"

// Chunk splits items into consecutive groups of at most size elements; only
// the final group may be shorter. The groups share backing memory with items.
// size must be positive; a zero or negative size is a programming error and
// panics.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		panic(fmt.Sprintf("domain.Chunk: non-positive size %d", size))
	}
	var groups [][]T
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		groups = append(groups, items[i:end])
	}
	return groups
}
