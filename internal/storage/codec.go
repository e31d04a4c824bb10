package storage

import (
	"bytes"
	"fmt"

	"github.com/golang/snappy"
)

// CurrentCodecVersion is written into every stored model blob.
const CurrentCodecVersion byte = 1

var codecMagic = []byte("NGM")

// EncodeModel wraps raw weights in a versioned, snappy-compressed envelope.
func EncodeModel(blob []byte) []byte {
	out := make([]byte, 0, len(codecMagic)+1+snappy.MaxEncodedLen(len(blob)))
	out = append(out, codecMagic...)
	out = append(out, CurrentCodecVersion)
	return append(out, snappy.Encode(nil, blob)...)
}

// DecodeModel unwraps an envelope produced by EncodeModel.
func DecodeModel(data []byte) ([]byte, error) {
	header := len(codecMagic) + 1
	if len(data) < header || !bytes.Equal(data[:len(codecMagic)], codecMagic) {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupt)
	}
	if v := data[len(codecMagic)]; v != CurrentCodecVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, v, CurrentCodecVersion)
	}
	blob, err := snappy.Decode(nil, data[header:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return blob, nil
}
