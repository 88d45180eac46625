package ipfspayload

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// legacyMessagePaths are checked in order against the raw blueprint
// document for a back-compat message when the caller supplies none
// directly: older job definitions carried the agent's instruction text at
// the document root or under a legacy "prompt" key before
// additionalContext.message became canonical.
var legacyMessagePaths = []string{
	"additionalContext.message",
	"message",
	"prompt",
}

// extractLegacyMessage returns the first non-empty value found at
// legacyMessagePaths in blueprint, or "" if none match.
func extractLegacyMessage(blueprint json.RawMessage) string {
	if len(blueprint) == 0 {
		return ""
	}
	raw := string(blueprint)
	if !gjson.Valid(raw) {
		return ""
	}
	for _, path := range legacyMessagePaths {
		if v := gjson.Get(raw, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
