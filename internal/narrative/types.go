// Package narrative exposes the domain-data collaborator: typed records for
// worlds, stories, beats, characters, locations, and events, reachable only
// through record read/write operations. The authoring screens that manage
// these records live outside this subsystem.
package narrative

import "time"

// EntityKind names a record type in the narrative data model.
type EntityKind string

const (
	KindWorld     EntityKind = "world"
	KindStory     EntityKind = "story"
	KindBeat      EntityKind = "beat"
	KindCharacter EntityKind = "character"
	KindLocation  EntityKind = "location"
	KindEvent     EntityKind = "event"
)

// Entity is a single narrative record. Properties hold kind-specific fields
// (a character's age, a location's climate) without schema coupling here.
type Entity struct {
	ID         string         `json:"id"`
	WorldID    string         `json:"world_id"`
	Kind       EntityKind     `json:"kind"`
	Name       string         `json:"name"`
	Summary    string         `json:"summary,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Relationship links two entities ("Rook" -> "the Undercity", type "lives_in").
type Relationship struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Type   string `json:"type"`
}

// SearchResult is a scored match from full-record search.
type SearchResult struct {
	Entity  *Entity `json:"entity"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}
