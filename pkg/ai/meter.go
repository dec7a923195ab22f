package ai

import (
	"math"
	"sync"
)

// Meter accumulates token usage for a client. The zero value is ready to
// use; clients embed it to satisfy MetricsReporter.
type Meter struct {
	mu sync.Mutex
	m  ModelMetrics
}

// RecordChat adds the usage of one chat completion.
func (mt *Meter) RecordChat(u ModelMetrics) {
	mt.add(u, true)
}

// RecordEmbedding adds the usage of one embedding request.
func (mt *Meter) RecordEmbedding(u ModelMetrics) {
	mt.add(u, false)
}

func (mt *Meter) add(u ModelMetrics, chat bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if chat {
		mt.m.ChatCalls++
	} else {
		mt.m.EmbeddingCalls++
	}
	mt.m.InputTokens += u.InputTokens
	mt.m.OutputTokens += u.OutputTokens
	mt.m.TotalTokens += u.TotalTokens
	mt.m.DurationMs += u.DurationMs
	if mt.m.DurationMs > 0 {
		tps := float64(mt.m.TotalTokens) * 1000 / float64(mt.m.DurationMs)
		mt.m.TokenPerSecond = float32(math.Round(tps*100) / 100)
	}
}

func (mt *Meter) ResetMetrics() {
	mt.mu.Lock()
	mt.m = ModelMetrics{}
	mt.mu.Unlock()
}

func (mt *Meter) GetMetrics() ModelMetrics {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.m
}
