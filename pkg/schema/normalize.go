package schema

import (
	"encoding/json"
	"fmt"
)

// Normalize converts value into the generic JSON model used by the schemas:
// map[string]any, []any, float64, string, bool and nil. Byte slices and
// json.RawMessage are treated as encoded JSON.
func Normalize(value any) (any, error) {
	var encoded []byte
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		encoded = typed
	case []byte:
		encoded = typed
	default:
		marshaled, marshalErr := json.Marshal(value)
		if marshalErr != nil {
			return nil, fmt.Errorf("schema.normalize.marshal: %w", marshalErr)
		}
		encoded = marshaled
	}
	if len(encoded) == 0 {
		return nil, nil
	}
	var generic any
	if unmarshalErr := json.Unmarshal(encoded, &generic); unmarshalErr != nil {
		return nil, fmt.Errorf("schema.normalize.unmarshal: %w", unmarshalErr)
	}
	return generic, nil
}
