// Package canon provides canonical CBOR encoding for records persisted by
// the local store, adapted from the teacher's deterministic wire-encoding
// helper (pkg/codec/cborcanon in the upstream project this was ported from).
// Deterministic key order keeps the on-disk bytes stable across re-writes of
// an unchanged SyncStatus, which matters because bbolt's bucket stores raw
// bytes with no schema of its own.
package canon

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// mode is a CBOR encoding mode with canonical (deterministic) settings.
var mode cbor.EncMode

func init() {
	var err error
	mode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("canon: failed to build canonical CBOR mode: %v", err))
	}
}

// Marshal encodes v into canonical CBOR.
func Marshal(v interface{}) ([]byte, error) {
	return mode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Fields present in data but absent from
// v's type are ignored, giving SyncStatus forward compatibility for free
// (SPEC_FULL.md §6): a newer writer's extra fields don't break an older reader.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}
