package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodes with canonical map ordering so identical payloads produce
// identical frames, which keeps relay tests byte-comparable.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec = (*CBOR)(nil)

func NewCBOR() *CBOR {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("BUG: canonical CBOR encoding options must always be valid: " + err.Error())
	}

	dec, err := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("BUG: CBOR decoding options must always be valid: " + err.Error())
	}

	return &CBOR{enc: enc, dec: dec}
}

func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBOR) NewEncoder(w io.Writer) Encoder {
	return c.enc.NewEncoder(w)
}

func (c *CBOR) Unmarshal(data []byte, dst any) error {
	return c.dec.Unmarshal(data, dst)
}

func (c *CBOR) NewDecoder(r io.Reader) Decoder {
	return c.dec.NewDecoder(r)
}
