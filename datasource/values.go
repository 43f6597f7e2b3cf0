package datasource

import (
	"bytes"
	"encoding/json"
)

// RenderValue renders a raw JSON value the way the engine materializes
// it into a property: a JSON string is stored as its bare (unquoted)
// string content; any other JSON value is stored as its compact JSON
// rendering. This is the same quoting rule jsonselect applies to
// selected elements, used here for MissingDefaultValue materialization.
func RenderValue(raw []byte) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}
