package storage

import (
	"reflect"
	"testing"
)

func TestRunKey(t *testing.T) {
	if got := RunKey("20260101T000000Z-abc", "/var/log/indaga/extract-20260101T000000Z-abc.log"); got != "extract-runs/20260101T000000Z-abc/extract-20260101T000000Z-abc.log" {
		t.Fatalf("RunKey = %q", got)
	}
}

func TestRunIDs(t *testing.T) {
	keys := []string{
		"extract-runs/20260102T000000Z-b/checkpoint.json",
		"extract-runs/20260101T000000Z-a/checkpoint.json",
		"extract-runs/20260101T000000Z-a/extract.log",
		"extract-runs/stray",
		"other/20260103T000000Z-c/x",
	}
	want := []string{"20260101T000000Z-a", "20260102T000000Z-b"}
	if got := runIDs(keys); !reflect.DeepEqual(got, want) {
		t.Fatalf("runIDs = %v, want %v", got, want)
	}
}
