package tilestore

import (
	"encoding/binary"
	"errors"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

const maxPNGDimension = 16384

func looksLikePNG(data []byte) bool {
	return len(data) >= len(pngSignature) && string(data[:len(pngSignature)]) == string(pngSignature)
}

// validatePNGStructure checks the signature, a well-formed IHDR chunk, and
// sane dimensions (§4.2 invalid-tile detection). It does not decode pixel
// data.
func validatePNGStructure(data []byte) error {
	if len(data) < len(pngSignature)+8+13+4 {
		return errors.New("tilestore: truncated png")
	}

	offset := len(pngSignature)
	length := binary.BigEndian.Uint32(data[offset : offset+4])
	chunkType := string(data[offset+4 : offset+8])
	if chunkType != "IHDR" {
		return errors.New("tilestore: png missing leading IHDR chunk")
	}
	if length != 13 {
		return errors.New("tilestore: png IHDR has unexpected length")
	}

	ihdr := data[offset+8 : offset+8+13]
	width := binary.BigEndian.Uint32(ihdr[0:4])
	height := binary.BigEndian.Uint32(ihdr[4:8])
	if width == 0 || height == 0 || width > maxPNGDimension || height > maxPNGDimension {
		return errors.New("tilestore: png has invalid dimensions")
	}
	return nil
}
