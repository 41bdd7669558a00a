package adapter

import (
	"encoding/json"
	"io"
)

// MaxResponseBytes caps how much of an HTTP response body adapters read.
const MaxResponseBytes = 10 << 20

// ReadBody reads at most MaxResponseBytes from r.
func ReadBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, MaxResponseBytes))
}

// DecodeBody parses JSON, falling back to the raw text.
func DecodeBody(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
