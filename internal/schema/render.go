package schema

import "math"

// JSONSchema renders the compiled graph as a JSON Schema document whose
// definitions live under $defs and are referenced with $ref.
func (c *Compiled) JSONSchema() map[string]any {
	defs := make(map[string]any, len(c.Dependencies))
	for _, def := range c.Dependencies {
		defs[def.Name] = render(def.Schema)
	}

	doc := render(c.Root)
	doc["$defs"] = defs
	if c.Description != "" {
		doc["description"] = c.Description
	}
	return doc
}

func render(s Schema) map[string]any {
	out := map[string]any{}
	if s.Description != "" {
		out["description"] = s.Description
	}

	switch s.Kind {
	case KindRef:
		out["$ref"] = "#/$defs/" + s.Ref
	case KindChoice:
		out["type"] = "string"
		out["enum"] = s.Choices
	case KindInteger, KindNumber:
		out["type"] = string(s.Kind)
		if s.Minimum != nil {
			out["minimum"] = *s.Minimum
		}
		if s.Maximum != nil {
			out["maximum"] = *s.Maximum
		}
	case KindArray:
		out["type"] = "array"
		if s.Items != nil {
			out["items"] = render(*s.Items)
		}
		if s.MinItems != nil {
			out["minItems"] = *s.MinItems
		}
		if s.MaxItems != nil {
			out["maxItems"] = *s.MaxItems
		}
	case KindObject:
		props := make(map[string]any, len(s.Properties))
		required := make([]string, 0, len(s.Properties))
		for _, p := range s.Properties {
			props[p.Name] = render(p.Schema)
			if !p.Optional {
				required = append(required, p.Name)
			}
		}
		out["type"] = "object"
		out["properties"] = props
		out["required"] = required
		out["additionalProperties"] = false
	default:
		out["type"] = string(s.Kind)
	}
	return out
}

// Example builds the smallest value that satisfies the schema: required
// properties only, the first enum choice, bounds-respecting numbers and
// minItems-length arrays. Arrays stop growing once maxExampleValues values
// have been produced, so nested bounds cannot multiply without limit.
func (c *Compiled) Example() any {
	e := &exampler{c: c, budget: maxExampleValues}
	return e.example(c.Root, 0)
}

const (
	maxExampleDepth  = 32
	maxExampleValues = 4096
)

type exampler struct {
	c      *Compiled
	budget int
}

func (e *exampler) example(s Schema, depth int) any {
	if depth > maxExampleDepth {
		return nil
	}
	e.budget--

	switch s.Kind {
	case KindRef:
		def, ok := e.c.Lookup(s.Ref)
		if !ok {
			return nil
		}
		return e.example(def, depth+1)
	case KindChoice:
		if len(s.Choices) == 0 {
			return ""
		}
		return s.Choices[0]
	case KindString:
		return ""
	case KindBoolean:
		return false
	case KindInteger:
		v := 0.0
		if s.Minimum != nil && v < *s.Minimum {
			v = math.Ceil(*s.Minimum)
		}
		if s.Maximum != nil && v > *s.Maximum {
			v = math.Floor(*s.Maximum)
		}
		return int64(v)
	case KindNumber:
		v := 0.0
		if s.Minimum != nil && v < *s.Minimum {
			v = *s.Minimum
		}
		if s.Maximum != nil && v > *s.Maximum {
			v = *s.Maximum
		}
		return v
	case KindArray:
		n := 0
		if s.MinItems != nil {
			n = min(max(*s.MinItems, 0), MaxArrayItems)
		}
		items := make([]any, 0, n)
		for i := 0; i < n && s.Items != nil && e.budget > 0; i++ {
			items = append(items, e.example(*s.Items, depth+1))
		}
		return items
	case KindObject:
		obj := make(map[string]any, len(s.Properties))
		for _, p := range s.Properties {
			if p.Optional {
				continue
			}
			obj[p.Name] = e.example(p.Schema, depth+1)
		}
		return obj
	}
	return nil
}
