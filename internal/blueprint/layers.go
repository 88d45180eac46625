package blueprint

import (
	"sort"
	"strings"
)

// Layer is one of the three sort-order layers Build orders invariants by.
type Layer int

const (
	LayerAction Layer = iota
	LayerJob
	LayerProtocol
)

var actionPrefixes = map[string]bool{"COORD": true, "STATE": true, "QUAL": true}
var jobPrefixes = map[string]bool{"JOB": true, "GOAL": true}

// layerOf buckets an invariant by its ID prefix: {COORD,STATE,QUAL} -> action,
// {JOB,GOAL} -> job, everything else -> protocol.
func layerOf(id string) Layer {
	prefix := idPrefix(id)
	switch {
	case actionPrefixes[prefix]:
		return LayerAction
	case jobPrefixes[prefix]:
		return LayerJob
	default:
		return LayerProtocol
	}
}

func idPrefix(id string) string {
	if idx := strings.IndexByte(id, '-'); idx >= 0 {
		return id[:idx]
	}
	return id
}

// sortByLayer stable-sorts invariants by layer in order action -> job ->
// protocol, preserving relative order within a layer.
func sortByLayer(invariants []Invariant) {
	sort.SliceStable(invariants, func(i, j int) bool {
		return layerOf(invariants[i].ID) < layerOf(invariants[j].ID)
	})
}

// PromptLayer is one of buildPrompt's three semantic sections.
type PromptLayer string

const (
	PromptImmediate PromptLayer = "IMMEDIATE" // COORD/QUAL/RECOV
	PromptMission   PromptLayer = "MISSION"   // JOB/GOAL/OUT/STRAT
	PromptProtocol  PromptLayer = "PROTOCOL"  // everything else
)

var immediatePrefixes = map[string]bool{"COORD": true, "QUAL": true, "RECOV": true}
var missionPrefixes = map[string]bool{"JOB": true, "GOAL": true, "OUT": true, "STRAT": true}

// promptLayerOf buckets an invariant into buildPrompt's rendering layer,
// which groups prefixes differently from layerOf's sort-order layer (STATE
// sorts as action but renders under PROTOCOL; RECOV sorts as protocol but
// renders under IMMEDIATE).
func promptLayerOf(id string) PromptLayer {
	prefix := idPrefix(id)
	switch {
	case immediatePrefixes[prefix]:
		return PromptImmediate
	case missionPrefixes[prefix]:
		return PromptMission
	default:
		return PromptProtocol
	}
}

// isMissionInvariant reports whether id belongs to the "mission" set
// (JOB-/GOAL-/OUT-/STRAT-) that COORD-UNMEASURED inspects.
func isMissionInvariant(id string) bool {
	return missionPrefixes[idPrefix(id)]
}
