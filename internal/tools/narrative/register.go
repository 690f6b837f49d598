package narrative

import (
	"github.com/lorekeep/lorekeep/internal/agent"
	"github.com/lorekeep/lorekeep/internal/narrative"
)

// creatableKinds are the record kinds the assistant may create. Worlds are
// created through the product's own screens, not by the assistant.
var creatableKinds = []narrative.EntityKind{
	narrative.KindStory,
	narrative.KindBeat,
	narrative.KindCharacter,
	narrative.KindLocation,
	narrative.KindEvent,
}

// RegisterAll registers the full narrative tool set on the registry.
func RegisterAll(registry *agent.Registry, store narrative.RecordStore) {
	registry.Register(NewGetRecordTool(store))
	registry.Register(NewListRecordsTool(store))
	registry.Register(NewSearchRecordsTool(store))

	for _, kind := range creatableKinds {
		registry.Register(NewCreateRecordTool(store, kind))
	}
	registry.Register(NewUpdateRecordTool(store))
	registry.Register(NewDeleteRecordTool(store))

	registry.Register(NewLinkRecordsTool(store))
	registry.Register(NewRelatedRecordsTool(store))

	registry.Register(NewOpenRecordTool(store))

	registry.Register(NewAnalyzePassageTool())
	registry.Register(NewCheckConsistencyTool(store))
}
