package store

import (
	"errors"
	"reflect"
	"testing"
)

func TestChunkRange(t *testing.T) {
	tests := []struct {
		total, size int
		want        [][2]int
	}{
		{7, 3, [][2]int{{0, 3}, {3, 6}, {6, 7}}},
		{4, 0, [][2]int{{0, 4}}},
		{0, 5, nil},
	}
	for _, tc := range tests {
		var got [][2]int
		if err := ChunkRange(tc.total, tc.size, func(start, end int) error {
			got = append(got, [2]int{start, end})
			return nil
		}); err != nil {
			t.Fatalf("ChunkRange(%d, %d): %v", tc.total, tc.size, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ChunkRange(%d, %d) = %v, want %v", tc.total, tc.size, got, tc.want)
		}
	}

	stop := errors.New("insert failed")
	calls := 0
	err := ChunkRange(1200, 500, func(start, end int) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected stop after first batch, got %v after %d calls", err, calls)
	}
}

func TestDedupeFolded(t *testing.T) {
	got := DedupeFolded([]string{
		"Bogotá", "  ", "BOGOTA", "Distrito Capital", "bogotá d.c.", "distrito capital",
	})
	want := []string{"Bogotá", "Distrito Capital", "bogotá d.c."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if DedupeFolded(nil) != nil {
		t.Fatal("nil in, nil out")
	}
}
