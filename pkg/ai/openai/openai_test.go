package openai

import (
	"errors"
	"testing"

	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"
)

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		dim  int
		want int
	}{
		{"truncate", []float64{1, 2, 3, 4}, 2, 2},
		{"pad", []float64{1, 2}, 4, 4},
		{"keep", []float64{1, 2, 3}, 0, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := fitDimensions(tc.in, tc.dim)
			if len(got) != tc.want {
				t.Fatalf("len = %d, want %d", len(got), tc.want)
			}
			if got[0] != 1 {
				t.Fatalf("first value lost: %v", got)
			}
		})
	}
	if v := fitDimensions([]float64{1, 2}, 4); v[3] != 0 {
		t.Fatalf("padding must be zero, got %v", v)
	}
}

func TestBuildMessagesOrder(t *testing.T) {
	msgs := buildMessages([]string{"sys"}, []ai.ChatMessage{
		{Role: "user", Message: "hola"},
		{Role: "assistant", Message: "respuesta"},
		{Role: "unknown", Message: "ignored"},
	})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].OfSystem == nil || msgs[1].OfUser == nil || msgs[2].OfAssistant == nil {
		t.Fatalf("unexpected message roles: %+v", msgs)
	}
}

func TestWrapErrorPassesThroughPlainErrors(t *testing.T) {
	err := errors.New("boom")
	if got := wrapError(err); got != err {
		t.Fatalf("expected same error, got %v", got)
	}
	if wrapError(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}
