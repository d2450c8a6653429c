package dom

import (
	"encoding/json"
	"fmt"
)

// DecodeSnapshot parses a snapshot captured in-browser (see pkg/browser) and
// links parent pointers.
func DecodeSnapshot(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding page snapshot: %w", err)
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("page snapshot has no root node")
	}
	if doc.DevicePixelRatio == 0 {
		doc.DevicePixelRatio = 1
	}
	doc.Link()
	return &doc, nil
}

// Encode serializes the document back to its snapshot form. Round-tripping
// through Encode and DecodeSnapshot is lossless.
func (d *Document) Encode() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding page snapshot: %w", err)
	}
	return data, nil
}
