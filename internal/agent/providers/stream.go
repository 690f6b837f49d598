package providers

import (
	"context"
	"sort"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/pkg/models"
)

// sendChunk delivers a chunk unless the context is done. Producer
// goroutines must not block on a chunk channel whose consumer has stopped
// ranging; every send goes through here so cancelation always unparks them.
func sendChunk(ctx context.Context, chunks chan<- *agent.CompletionChunk, chunk *agent.CompletionChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// orderedToolCalls returns the accumulated tool calls sorted by stream
// index, dropping entries that never received an ID and name. The index
// order is the order the model issued the calls in, which downstream
// results must line up with positionally.
func orderedToolCalls(byIndex map[int]*models.ToolCall) []*models.ToolCall {
	indexes := make([]int, 0, len(byIndex))
	for i, tc := range byIndex {
		if tc.ID != "" && tc.Name != "" {
			indexes = append(indexes, i)
		}
	}
	sort.Ints(indexes)

	out := make([]*models.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, byIndex[i])
	}
	return out
}
