package lifecycle

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/jinn-network/jinn-worker/internal/blueprint"
	"github.com/jinn-network/jinn-worker/internal/ipfspayload"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// RequestMetadata is everything step 4 of the Request Lifecycle Engine
// (fetch IPFS metadata) extracts from a request's ipfsHash document before
// the prompt and job payload can be built.
type RequestMetadata struct {
	BlueprintRaw       json.RawMessage
	Message            string
	JobName            string
	JobDefinitionID    string
	Model              string
	EnabledTools       []string
	Tools              []ipfspayload.ToolAnnotation
	AllowedModels      []string
	Dependencies       []string
	OutputSpec         json.RawMessage
	InputSpec          json.RawMessage
	ExecutionPolicy    json.RawMessage
	IsCodingJob        bool
	IsVerificationTask bool
	WorkstreamID       string
	VentureID          string
	TemplateID         string
	GoalInvariants     []blueprint.Invariant
}

// blueprintPaths are checked, in order, for a nested blueprint
// sub-document; an empty match leaves BlueprintRaw as the whole document,
// which is the common case where the job metadata document IS the
// blueprint.
var blueprintPaths = []string{"blueprint", "additionalContext.blueprint"}

// extractRequestMetadata parses raw IPFS job metadata with the same
// gjson-based back-compat tolerance as ipfspayload/legacy.go's message
// extraction: the blueprint may live at the document root, nested under
// "blueprint", or (legacy) the message text alone may live under
// "additionalContext.message" or a bare "prompt" key.
func extractRequestMetadata(raw []byte) (RequestMetadata, error) {
	if !gjson.ValidBytes(raw) {
		return RequestMetadata{}, svcerrors.InvalidPayload("ipfs request metadata is not valid JSON")
	}
	root := gjson.ParseBytes(raw)

	meta := RequestMetadata{
		BlueprintRaw:       raw,
		JobName:            firstNonEmptyResult(root.Get("jobName"), root.Get("name")),
		JobDefinitionID:    root.Get("jobDefinitionId").String(),
		Model:              root.Get("model").String(),
		WorkstreamID:       root.Get("workstreamId").String(),
		VentureID:          root.Get("ventureId").String(),
		TemplateID:         root.Get("templateId").String(),
		IsCodingJob:        root.Get("isCodingJob").Bool(),
		IsVerificationTask: root.Get("isVerificationTask").Bool(),
	}

	for _, path := range blueprintPaths {
		if v := root.Get(path); v.Exists() {
			meta.BlueprintRaw = []byte(v.Raw)
			break
		}
	}

	for _, v := range root.Get("enabledTools").Array() {
		meta.EnabledTools = append(meta.EnabledTools, v.String())
	}
	for _, v := range root.Get("allowedModels").Array() {
		meta.AllowedModels = append(meta.AllowedModels, v.String())
	}
	for _, v := range root.Get("dependencies").Array() {
		meta.Dependencies = append(meta.Dependencies, v.String())
	}
	for _, v := range root.Get("tools").Array() {
		meta.Tools = append(meta.Tools, ipfspayload.ToolAnnotation{
			Name:        v.Get("name").String(),
			Description: v.Get("description").String(),
			Schema:      rawOrNil(v.Get("schema")),
		})
	}
	for _, v := range root.Get("invariants").Array() {
		meta.GoalInvariants = append(meta.GoalInvariants, parseInvariant(v))
	}

	meta.OutputSpec = rawOrNil(root.Get("outputSpec"))
	meta.InputSpec = rawOrNil(root.Get("inputSpec"))
	meta.ExecutionPolicy = rawOrNil(root.Get("executionPolicy"))

	meta.Message = firstNonEmptyResult(
		root.Get("additionalContext.message"),
		root.Get("message"),
		root.Get("prompt"),
	)

	return meta, nil
}

func rawOrNil(v gjson.Result) json.RawMessage {
	if !v.Exists() {
		return nil
	}
	return json.RawMessage(v.Raw)
}

func firstNonEmptyResult(results ...gjson.Result) string {
	for _, r := range results {
		if r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

func parseInvariant(v gjson.Result) blueprint.Invariant {
	inv := blueprint.Invariant{
		ID:         v.Get("id").String(),
		Kind:       blueprint.InvariantKind(v.Get("kind").String()),
		Condition:  v.Get("condition").String(),
		Assessment: v.Get("assessment").String(),
		Metric:     v.Get("metric").String(),
	}
	for _, ex := range v.Get("examples").Array() {
		inv.Examples = append(inv.Examples, ex.String())
	}
	if min := v.Get("min"); min.Exists() {
		f := min.Float()
		inv.Min = &f
	}
	if max := v.Get("max"); max.Exists() {
		f := max.Float()
		inv.Max = &f
	}
	return inv
}

// outputSpecFieldNames reads the declared property names off an outputSpec
// document (a JSON-Schema-shaped `{"properties": {...}}` object).
func outputSpecFieldNames(spec json.RawMessage) []string {
	if len(spec) == 0 || !gjson.ValidBytes(spec) {
		return nil
	}
	props := gjson.GetBytes(spec, "properties")
	if !props.Exists() {
		return nil
	}
	var names []string
	props.ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	return names
}

// promoteOutputSpecFields implements spec §4.10 step 7's "fields matching
// outputSpec are promoted to a top-level result object": narrows out.Result
// down to only the keys outputSpec declares, when any match.
func promoteOutputSpecFields(out *AgentOutput, outputSpec json.RawMessage) {
	names := outputSpecFieldNames(outputSpec)
	if len(names) == 0 || out.Result == nil {
		return
	}
	promoted := make(map[string]interface{}, len(names))
	for _, name := range names {
		if v, ok := out.Result[name]; ok {
			promoted[name] = v
		}
	}
	if len(promoted) > 0 {
		out.Result = promoted
	}
}
