package share

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
)

// Payload is what a recipient receives from a share.
type Payload struct {
	Entry       *model.Entry      `cbor:"1,keyasint"`
	Permissions model.Permissions `cbor:"2,keyasint"`
	Message     string            `cbor:"3,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("share: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("share: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalPayload(p *Payload) ([]byte, error) {
	data, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode share payload: %w", err)
	}
	return data, nil
}

func unmarshalPayload(data []byte) (*Payload, error) {
	var p Payload
	if err := decMode.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode share payload: %w", err)
	}
	if p.Entry == nil {
		return nil, fmt.Errorf("decode share payload: missing entry")
	}
	return &p, nil
}
