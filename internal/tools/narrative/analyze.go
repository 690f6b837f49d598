package narrative

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/narrative"
)

// AnalyzePassageTool computes surface statistics for a prose passage.
type AnalyzePassageTool struct{}

// NewAnalyzePassageTool creates an analyze_passage tool.
func NewAnalyzePassageTool() *AnalyzePassageTool {
	return &AnalyzePassageTool{}
}

func (t *AnalyzePassageTool) Name() string { return "analyze_passage" }

func (t *AnalyzePassageTool) Description() string {
	return "Compute word count, sentence count, and estimated reading time for a prose passage."
}

func (t *AnalyzePassageTool) Category() agent.Category { return agent.CategoryAnalyze }

type analyzePassageParams struct {
	Text string `json:"text" jsonschema_description:"Passage to analyze."`
}

func (t *AnalyzePassageTool) Schema() json.RawMessage {
	return schemaFor(&analyzePassageParams{})
}

func (t *AnalyzePassageTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input analyzePassageParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	words := strings.Fields(input.Text)
	sentences := countSentences(input.Text)

	// 230 words per minute is a common silent-reading average.
	readingMinutes := float64(len(words)) / 230.0

	return marshalResult(map[string]any{
		"word_count":      len(words),
		"sentence_count":  sentences,
		"reading_minutes": fmt.Sprintf("%.1f", readingMinutes),
	})
}

func countSentences(text string) int {
	count := 0
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			count++
		}
	}
	return count
}

// CheckConsistencyTool scans a world's records for common bookkeeping
// problems: duplicate names within a kind, records without summaries, and
// relationships pointing at deleted records.
type CheckConsistencyTool struct {
	store narrative.RecordStore
}

// NewCheckConsistencyTool creates a check_consistency tool over the given store.
func NewCheckConsistencyTool(store narrative.RecordStore) *CheckConsistencyTool {
	return &CheckConsistencyTool{store: store}
}

func (t *CheckConsistencyTool) Name() string { return "check_consistency" }

func (t *CheckConsistencyTool) Description() string {
	return "Scan a world's records for duplicate names, missing summaries, and dangling relationships."
}

func (t *CheckConsistencyTool) Category() agent.Category { return agent.CategoryAnalyze }

type checkConsistencyParams struct {
	WorldID string `json:"world_id" jsonschema_description:"World to scan."`
}

func (t *CheckConsistencyTool) Schema() json.RawMessage {
	return schemaFor(&checkConsistencyParams{})
}

func (t *CheckConsistencyTool) Execute(ctx context.Context, params json.RawMessage) (string, error) {
	var input checkConsistencyParams
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	entities, err := t.store.List(ctx, input.WorldID, "")
	if err != nil {
		return "", err
	}

	var findings []string

	seen := make(map[string]string)
	known := make(map[string]bool, len(entities))
	for _, e := range entities {
		known[e.ID] = true

		key := string(e.Kind) + "/" + strings.ToLower(e.Name)
		if firstID, dup := seen[key]; dup {
			findings = append(findings, fmt.Sprintf("duplicate %s name %q (ids %s, %s)", e.Kind, e.Name, firstID, e.ID))
		} else {
			seen[key] = e.ID
		}

		if strings.TrimSpace(e.Summary) == "" {
			findings = append(findings, fmt.Sprintf("%s %q (%s) has no summary", e.Kind, e.Name, e.ID))
		}
	}

	for _, e := range entities {
		rels, err := t.store.Related(ctx, e.ID, 1)
		if err != nil {
			continue
		}
		for _, rel := range rels {
			if !known[rel.FromID] || !known[rel.ToID] {
				findings = append(findings, fmt.Sprintf("relationship %s -> %s (%s) references a missing record", rel.FromID, rel.ToID, rel.Type))
			}
		}
	}

	return marshalResult(map[string]any{
		"records_checked": len(entities),
		"findings":        findings,
	})
}
