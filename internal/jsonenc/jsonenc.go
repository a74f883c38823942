// Package jsonenc is the single jsoniter configuration every component
// that serializes content metadata (Jetton/NFT off-chain and on-chain
// content dictionaries) shares, so the marshaling behavior — string
// map keys sorted for deterministic output, numbers kept as
// json.Number on decode — stays consistent wherever content crosses a
// storage boundary.
package jsonenc

import jsoniter "github.com/json-iterator/go"

var JSON = jsoniter.Config{
	EscapeHTML:             false,
	DisallowUnknownFields:  false,
	ValidateJsonRawMessage: false,
	CaseSensitive:          true,
	UseNumber:              true,
	SortMapKeys:            true,
}.Froze()

// MarshalContent encodes a content map for storage in a jsonb column.
// A nil map encodes as "null" rather than "{}", which lets the store
// distinguish "content not fetched" from "content fetched and empty".
func MarshalContent(content map[string]string) (string, error) {
	b, err := JSON.Marshal(content)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalContent decodes a jsonb column value back into a content
// map. An empty string decodes to a nil map.
func UnmarshalContent(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]string
	if err := JSON.UnmarshalFromString(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
