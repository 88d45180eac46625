package blueprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconstructDirectoryCID_ValidSHA256Multihash(t *testing.T) {
	// 0x12 = sha256 multihash code, 0x20 = 32-byte digest length, then the digest.
	raw := "0x" + "1220" + strings.Repeat("ab", 32)

	cidStr, err := reconstructDirectoryCID(raw)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(cidStr, "b"))
}

func TestReconstructDirectoryCID_RejectsInvalidHex(t *testing.T) {
	_, err := reconstructDirectoryCID("0xnothex")
	require.Error(t, err)
}

func TestReconstructDirectoryCID_RejectsMalformedMultihash(t *testing.T) {
	_, err := reconstructDirectoryCID("0x1220ab") // digest too short for declared length
	require.Error(t, err)
}

func TestReconstructDirectoryCID_DeterministicForSameInput(t *testing.T) {
	raw := "0x" + "1220" + strings.Repeat("cd", 32)
	first, err := reconstructDirectoryCID(raw)
	require.NoError(t, err)
	second, err := reconstructDirectoryCID(raw)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
