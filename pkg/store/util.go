package store

import "github.com/OFFIS-RIT/indaga/backend/internal/util"

// ChunkRange calls fn over consecutive [start, end) windows of at most
// size elements and stops at the first error.
func ChunkRange(total, size int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if size <= 0 {
		size = total
	}
	for start := 0; start < total; start += size {
		if err := fn(start, min(start+size, total)); err != nil {
			return err
		}
	}
	return nil
}

// DedupeFolded drops names that fold to nothing or to a key already seen.
// The first surface form of each name is kept.
func DedupeFolded(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		key := util.Fold(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}
