package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DecodeObject decodes a JSON object, keeping numbers as json.Number so
// integer ids wider than a float64 mantissa survive intact. A literal null
// yields a nil map.
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}
	return obj, nil
}
