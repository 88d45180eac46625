package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash_KeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1, "c": map[string]interface{}{"y": 2, "x": 1}}
	b := map[string]interface{}{"c": map[string]interface{}{"x": 1, "y": 2}, "a": 1, "b": 2}

	hashA, err := Hash(a)
	require.NoError(t, err)
	hashB, err := Hash(b)
	require.NoError(t, err)
	require.Equal(t, hashA, hashB)
}

func TestHash_DifferentValuesDiffer(t *testing.T) {
	hashA, err := Hash(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	hashB, err := Hash(map[string]interface{}{"a": 2})
	require.NoError(t, err)
	require.NotEqual(t, hashA, hashB)
}

func TestMarshal_ArrayOrderPreserved(t *testing.T) {
	out, err := Marshal(map[string]interface{}{"list": []interface{}{3, 1, 2}})
	require.NoError(t, err)
	require.JSONEq(t, `{"list":[3,1,2]}`, string(out))
}
