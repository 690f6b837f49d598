package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lorekeep/lorekeep/internal/narrative"
	"github.com/lorekeep/lorekeep/pkg/models"
)

const defaultSystemPrompt = `You are a writing assistant embedded in a narrative worldbuilding tool.
You help authors develop their worlds: characters, locations, story beats, and the
relationships between them. Use the available tools to look up and modify records
rather than inventing facts about the author's world. Keep answers grounded in what
the records actually say.`

// PersonaStore holds assistant personas keyed by id.
// Personas can be loaded from a directory of YAML files.
type PersonaStore struct {
	mu       sync.RWMutex
	personas map[string]*models.AgentPersona
}

// NewPersonaStore creates an empty persona store.
func NewPersonaStore() *PersonaStore {
	return &PersonaStore{personas: map[string]*models.AgentPersona{}}
}

// LoadDir reads every .yaml/.yml file in dir as a persona definition.
// Files that fail to parse are skipped and reported in the returned error list.
func (p *PersonaStore) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read persona dir: %w", err)
	}

	var errs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		var persona models.AgentPersona
		if err := yaml.Unmarshal(data, &persona); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		if persona.ID == "" {
			persona.ID = strings.TrimSuffix(entry.Name(), ext)
		}
		p.Register(&persona)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to load personas: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Register adds or replaces a persona.
func (p *PersonaStore) Register(persona *models.AgentPersona) {
	if persona == nil || persona.ID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.personas[persona.ID] = persona
}

// Get returns a persona by id.
func (p *PersonaStore) Get(id string) (*models.AgentPersona, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	persona, ok := p.personas[id]
	return persona, ok
}

// PromptBuilder assembles system prompts from a persona and the records the
// author is currently working on.
type PromptBuilder struct {
	personas *PersonaStore
	records  narrative.RecordStore
}

// NewPromptBuilder creates a prompt builder.
func NewPromptBuilder(personas *PersonaStore, records narrative.RecordStore) *PromptBuilder {
	return &PromptBuilder{personas: personas, records: records}
}

// Build returns the system prompt for a conversation. The compose context
// names the records the author has open; their summaries are inlined so the
// model starts grounded without a lookup round trip.
func (b *PromptBuilder) Build(ctx context.Context, conv *models.Conversation, cc models.ComposeContext) string {
	var sb strings.Builder

	var persona *models.AgentPersona
	if b.personas != nil && conv.PersonaID != "" {
		if p, ok := b.personas.Get(conv.PersonaID); ok {
			persona = p
		}
	}

	prompt := defaultSystemPrompt
	if persona != nil && persona.SystemPrompt != "" {
		prompt = persona.SystemPrompt
	}
	sb.WriteString(prompt)

	if persona != nil {
		writeTraits(&sb, persona.Traits)
	}

	switch conv.Mode {
	case models.ModePlan:
		sb.WriteString("\n\nYou are in plan mode. Do not apply changes; when a change is needed, call the write tool anyway and a proposal will be recorded for the author to review.")
	case models.ModeAsk:
		sb.WriteString("\n\nChanges to records require the author's approval. Prefer a single focused change per request.")
	case models.ModeAuto:
		sb.WriteString("\n\nChanges you make are applied immediately. Be conservative and only change what the author asked for.")
	}

	if b.records != nil && !cc.IsZero() {
		sb.WriteString("\n\nThe author currently has these records open:")
		for _, id := range []string{cc.StoryID, cc.BeatID, cc.CharacterID, cc.LocationID} {
			if id == "" {
				continue
			}
			entity, err := b.records.Get(ctx, id)
			if err != nil {
				continue
			}
			sb.WriteString(fmt.Sprintf("\n- %s %q (id: %s)", entity.Kind, entity.Name, entity.ID))
			if entity.Summary != "" {
				sb.WriteString(": " + entity.Summary)
			}
		}
	}
	if cc.WorldID != "" {
		sb.WriteString(fmt.Sprintf("\n\nAll lookups and changes are scoped to world %s.", cc.WorldID))
	}

	return sb.String()
}

// writeTraits renders a persona's trait bag as prompt guidance.
func writeTraits(sb *strings.Builder, traits models.PersonaTraits) {
	lines := make([]string, 0, 5)
	if traits.Personality != "" {
		lines = append(lines, "Personality: "+traits.Personality)
	}
	if len(traits.Expertise) > 0 {
		lines = append(lines, "Expertise: "+strings.Join(traits.Expertise, ", "))
	}
	if traits.CommunicationStyle != "" {
		lines = append(lines, "Communication style: "+traits.CommunicationStyle)
	}
	if traits.Strictness != "" {
		lines = append(lines, "Strictness: "+traits.Strictness)
	}
	if len(traits.FocusAreas) > 0 {
		lines = append(lines, "Focus areas: "+strings.Join(traits.FocusAreas, ", "))
	}
	if len(lines) == 0 {
		return
	}
	sb.WriteString("\n\nYour persona:")
	for _, line := range lines {
		sb.WriteString("\n- " + line)
	}
}
