package models

// PersonaTraits is the trait bag rendered into a persona's system prompt.
type PersonaTraits struct {
	Personality        string   `json:"personality,omitempty" yaml:"personality,omitempty"`
	Expertise          []string `json:"expertise,omitempty" yaml:"expertise,omitempty"`
	CommunicationStyle string   `json:"communication_style,omitempty" yaml:"communication_style,omitempty"`
	Strictness         string   `json:"strictness,omitempty" yaml:"strictness,omitempty"`
	FocusAreas         []string `json:"focus_areas,omitempty" yaml:"focus_areas,omitempty"`
}

// GenerationDefaults are sampling parameters applied when a conversation does
// not override them.
type GenerationDefaults struct {
	Temperature      float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens        int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TopP             float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	FrequencyPenalty float32 `json:"frequency_penalty,omitempty" yaml:"frequency_penalty,omitempty"`
	PresencePenalty  float32 `json:"presence_penalty,omitempty" yaml:"presence_penalty,omitempty"`
}

// AgentPersona is read-only configuration that shapes the assistant's voice
// and generation parameters, optionally scoped to a single world. Personas
// are managed by the surrounding product; the assistant only consults them.
type AgentPersona struct {
	ID           string             `json:"id" yaml:"id"`
	WorldID      string             `json:"world_id,omitempty" yaml:"world_id,omitempty"`
	Name         string             `json:"name" yaml:"name"`
	SystemPrompt string             `json:"system_prompt" yaml:"system_prompt"`
	Traits       PersonaTraits      `json:"traits,omitempty" yaml:"traits,omitempty"`
	Defaults     GenerationDefaults `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}
