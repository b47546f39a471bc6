package identitystore

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chatsim/joinsync/internal/domain/identity"
)

// Identities are stored with core deterministic encoding so an unchanged
// identity always produces the same bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	encMode, err = opts.EncMode()
	if err != nil {
		panic("identitystore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("identitystore: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeIdentity(id *identity.Identity) ([]byte, error) {
	payload, err := encMode.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	return payload, nil
}

func decodeIdentity(payload []byte) (*identity.Identity, error) {
	var id identity.Identity
	if err := decMode.Unmarshal(payload, &id); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return &id, nil
}
