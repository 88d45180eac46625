package lifecycle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractRequestMetadata_RootLevelBlueprint(t *testing.T) {
	raw := []byte(`{
		"jobName": "build-the-thing",
		"jobDefinitionId": "jd-1",
		"model": "gemini-2.5-pro",
		"workstreamId": "ws-1",
		"ventureId": "v-1",
		"templateId": "t-1",
		"isCodingJob": true,
		"enabledTools": ["shell", "editor"],
		"allowedModels": ["gemini-2.5-pro"],
		"dependencies": ["dep-a"],
		"tools": [{"name": "shell", "description": "run a command"}],
		"invariants": [{"id": "I-1", "kind": "assertion", "condition": "tests pass"}],
		"outputSpec": {"properties": {"summary": {"type": "string"}}},
		"message": "do the thing"
	}`)

	meta, err := extractRequestMetadata(raw)
	require.NoError(t, err)
	require.Equal(t, "build-the-thing", meta.JobName)
	require.Equal(t, "jd-1", meta.JobDefinitionID)
	require.Equal(t, "gemini-2.5-pro", meta.Model)
	require.True(t, meta.IsCodingJob)
	require.Equal(t, []string{"shell", "editor"}, meta.EnabledTools)
	require.Equal(t, []string{"gemini-2.5-pro"}, meta.AllowedModels)
	require.Equal(t, []string{"dep-a"}, meta.Dependencies)
	require.Len(t, meta.Tools, 1)
	require.Equal(t, "shell", meta.Tools[0].Name)
	require.Len(t, meta.GoalInvariants, 1)
	require.Equal(t, "I-1", meta.GoalInvariants[0].ID)
	require.Equal(t, "do the thing", meta.Message)
	require.JSONEq(t, string(raw), string(meta.BlueprintRaw))
}

func TestExtractRequestMetadata_NestedBlueprint(t *testing.T) {
	raw := []byte(`{
		"jobDefinitionId": "jd-2",
		"blueprint": {"goal": "inner blueprint"}
	}`)

	meta, err := extractRequestMetadata(raw)
	require.NoError(t, err)
	require.JSONEq(t, `{"goal": "inner blueprint"}`, string(meta.BlueprintRaw))
}

func TestExtractRequestMetadata_LegacyMessageLocations(t *testing.T) {
	cases := []string{
		`{"additionalContext": {"message": "legacy nested message"}}`,
		`{"message": "legacy flat message"}`,
		`{"prompt": "legacy prompt"}`,
	}
	expected := []string{"legacy nested message", "legacy flat message", "legacy prompt"}

	for i, raw := range cases {
		meta, err := extractRequestMetadata([]byte(raw))
		require.NoError(t, err)
		require.Equal(t, expected[i], meta.Message)
	}
}

func TestExtractRequestMetadata_RejectsMalformedJSON(t *testing.T) {
	_, err := extractRequestMetadata([]byte(`not json`))
	require.Error(t, err)
}

func TestOutputSpecFieldNames_ReadsPropertyKeys(t *testing.T) {
	spec := json.RawMessage(`{"properties": {"summary": {"type": "string"}, "score": {"type": "number"}}}`)
	names := outputSpecFieldNames(spec)
	require.ElementsMatch(t, []string{"summary", "score"}, names)
}

func TestOutputSpecFieldNames_EmptyOrInvalid(t *testing.T) {
	require.Nil(t, outputSpecFieldNames(nil))
	require.Nil(t, outputSpecFieldNames(json.RawMessage(`not json`)))
	require.Nil(t, outputSpecFieldNames(json.RawMessage(`{"no_properties": true}`)))
}

func TestPromoteOutputSpecFields_NarrowsToDeclaredKeys(t *testing.T) {
	out := AgentOutput{
		Result: map[string]interface{}{
			"summary": "all good",
			"score":   0.9,
			"extra":   "should be dropped",
		},
	}
	promoteOutputSpecFields(&out, json.RawMessage(`{"properties": {"summary": {}, "score": {}}}`))

	require.Equal(t, map[string]interface{}{"summary": "all good", "score": 0.9}, out.Result)
}

func TestPromoteOutputSpecFields_NoSpecLeavesResultUntouched(t *testing.T) {
	out := AgentOutput{Result: map[string]interface{}{"anything": true}}
	promoteOutputSpecFields(&out, nil)
	require.Equal(t, map[string]interface{}{"anything": true}, out.Result)
}
