package blueprint

import (
	"encoding/hex"
	"strings"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// reconstructDirectoryCID reprefixes a raw sha256 multihash (the
// `0x1220...`-style value the marketplace stores) as a CIDv1 dag-pb
// directory CID, base32-encoded with the standard leading "b" — the
// delivered-artifact directory layout this worker and the delivering
// agent both assume.
func reconstructDirectoryCID(rawMultihashHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(rawMultihashHex, "0x"))
	if err != nil {
		return "", err
	}
	hash, err := mh.Cast(raw)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.DagProtobuf, hash).String(), nil
}
