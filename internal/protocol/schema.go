package protocol

import (
	"encoding/json"
	"fmt"
)

// SchemaNode is a JSON-Schema-like document describing structured output.
type SchemaNode struct {
	Type                 string                 `json:"type,omitempty"`
	Description          string                 `json:"description,omitempty"`
	Properties           map[string]*SchemaNode `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Items                *SchemaNode            `json:"items,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
	Minimum              *float64               `json:"minimum,omitempty"`
	Maximum              *float64               `json:"maximum,omitempty"`
	MinItems             *int                   `json:"minItems,omitempty"`
	MaxItems             *int                   `json:"maxItems,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`
}

// UnmarshalJSON accepts `type` as a string or a list (the first non-null entry
// wins) and `additionalProperties` as a boolean or a schema object.
func (n *SchemaNode) UnmarshalJSON(data []byte) error {
	type alias SchemaNode
	var raw struct {
		alias
		Type                 json.RawMessage `json:"type"`
		AdditionalProperties json.RawMessage `json:"additionalProperties"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode schema node: %w", err)
	}

	*n = SchemaNode(raw.alias)

	typ, err := decodeSchemaType(raw.Type)
	if err != nil {
		return err
	}
	n.Type = typ

	switch {
	case len(raw.AdditionalProperties) == 0 || string(raw.AdditionalProperties) == "null":
		n.AdditionalProperties = nil
	case string(raw.AdditionalProperties) == "true" || string(raw.AdditionalProperties) == "false":
		v := string(raw.AdditionalProperties) == "true"
		n.AdditionalProperties = &v
	default:
		v := true
		n.AdditionalProperties = &v
	}
	return nil
}

func decodeSchemaType(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return "", fmt.Errorf("schema type must be a string or a list of strings")
	}
	for _, t := range many {
		if t != "null" {
			return t, nil
		}
	}
	return "", nil
}
