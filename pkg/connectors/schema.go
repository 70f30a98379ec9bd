package connectors

import "sort"

// Parameter types, as JSON Schema type names.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Range is an inclusive numeric bound. Out-of-range values are clamped by
// the operation, never rejected.
type Range struct {
	Min int
	Max int
}

// Param describes one operation parameter.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Range       *Range
	Default     any
	Enum        []string
	// Items is the element type for arrays; defaults to string.
	Items string
}

// Schema renders params as a JSON Schema object.
func Schema(params []Param) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Range != nil {
			prop["minimum"] = p.Range.Min
			prop["maximum"] = p.Range.Max
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == TypeArray {
			items := p.Items
			if items == "" {
				items = TypeString
			}
			prop["items"] = map[string]any{"type": items}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ToolInfo is the published description of an operation.
type ToolInfo struct {
	Name        string         `json:"name"`
	Connector   string         `json:"connector"`
	Description string         `json:"description"`
	ReadOnly    bool           `json:"read_only"`
	Kind        Kind           `json:"kind"`
	InputSchema map[string]any `json:"input_schema"`
}

func sortTools(tools []ToolInfo) {
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
}
