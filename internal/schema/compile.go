package schema

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"orchardgrid/internal/protocol"
)

const (
	defaultName = "Response"

	// MaxArrayItems bounds minItems and maxItems.
	MaxArrayItems = 1024
)

// Compile turns spec into a generation schema. It keeps no state between
// calls; the dependency list is built in post-order so a definition is always
// appended before anything that references it.
func Compile(spec protocol.SchemaSpec) (*Compiled, error) {
	if spec.Schema == nil {
		return nil, compileErr(ErrInvalidSchema, "$", "schema is required")
	}
	if spec.Schema.Type != "object" {
		return nil, compileErr(ErrInvalidSchema, "$", "root type must be %q, got %q", "object", spec.Schema.Type)
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = defaultName
	}

	c := &compilation{owners: make(map[string]string)}
	root, err := c.node(name, "$", spec.Schema)
	if err != nil {
		return nil, err
	}
	return &Compiled{
		Name:         name,
		Description:  spec.Description,
		Strict:       spec.Strict,
		Root:         root,
		Dependencies: c.deps,
	}, nil
}

type compilation struct {
	deps   []Definition
	owners map[string]string // definition name -> JSON path that produced it
}

func (c *compilation) node(name, path string, n *protocol.SchemaNode) (Schema, error) {
	if n == nil {
		return Schema{}, compileErr(ErrInvalidSchema, path, "schema is missing")
	}

	switch n.Type {
	case "string":
		if len(n.Enum) > 0 {
			choices := make([]string, len(n.Enum))
			copy(choices, n.Enum)
			ref := c.define(name, path, Schema{Kind: KindChoice, Choices: choices, Description: n.Description})
			return Schema{Kind: KindRef, Ref: ref}, nil
		}
		return Schema{Kind: KindString, Description: n.Description}, nil

	case "integer", "number":
		if n.Minimum != nil && n.Maximum != nil && *n.Minimum > *n.Maximum {
			return Schema{}, compileErr(ErrInvalidSchema, path, "minimum %v exceeds maximum %v", *n.Minimum, *n.Maximum)
		}
		return Schema{
			Kind:        Kind(n.Type),
			Description: n.Description,
			Minimum:     n.Minimum,
			Maximum:     n.Maximum,
		}, nil

	case "boolean":
		return Schema{Kind: KindBoolean, Description: n.Description}, nil

	case "array":
		if n.Items == nil {
			return Schema{}, compileErr(ErrInvalidSchema, path, "array requires items")
		}
		if err := checkItemBound(path, "minItems", n.MinItems); err != nil {
			return Schema{}, err
		}
		if err := checkItemBound(path, "maxItems", n.MaxItems); err != nil {
			return Schema{}, err
		}
		if n.MinItems != nil && n.MaxItems != nil && *n.MinItems > *n.MaxItems {
			return Schema{}, compileErr(ErrInvalidSchema, path, "minItems %d exceeds maxItems %d", *n.MinItems, *n.MaxItems)
		}
		item, err := c.node(name+"_item", path+"/items", n.Items)
		if err != nil {
			return Schema{}, err
		}
		return Schema{
			Kind:        KindArray,
			Description: n.Description,
			Items:       &item,
			MinItems:    n.MinItems,
			MaxItems:    n.MaxItems,
		}, nil

	case "object":
		return c.object(name, path, n)

	case "":
		return Schema{}, compileErr(ErrInvalidSchema, path, "type is required")

	default:
		return Schema{}, compileErr(ErrUnsupportedType, path, "type %q is not supported", n.Type)
	}
}

func checkItemBound(path, field string, v *int) error {
	if v == nil {
		return nil
	}
	if *v < 0 {
		return compileErr(ErrInvalidSchema, path, "%s must not be negative, got %d", field, *v)
	}
	if *v > MaxArrayItems {
		return compileErr(ErrInvalidSchema, path, "%s %d exceeds the limit of %d", field, *v, MaxArrayItems)
	}
	return nil
}

func (c *compilation) object(name, path string, n *protocol.SchemaNode) (Schema, error) {
	if n.Properties == nil {
		return Schema{}, compileErr(ErrMissingProperties, path, "object requires properties")
	}

	required := make(map[string]struct{}, len(n.Required))
	for _, key := range n.Required {
		if _, ok := n.Properties[key]; !ok {
			return Schema{}, compileErr(ErrInvalidSchema, path, "required property %q is not declared", key)
		}
		required[key] = struct{}{}
	}

	keys := make([]string, 0, len(n.Properties))
	for key := range n.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	props := make([]Property, 0, len(keys))
	for _, key := range keys {
		child, err := c.node(name+"_"+key, path+"/properties/"+key, n.Properties[key])
		if err != nil {
			return Schema{}, err
		}
		_, isRequired := required[key]
		props = append(props, Property{Name: key, Schema: child, Optional: !isRequired})
	}

	ref := c.define(name, path, Schema{Kind: KindObject, Description: n.Description, Properties: props})
	return Schema{Kind: KindRef, Ref: ref}, nil
}

// define appends a named definition. Two JSON paths can flatten to the same
// name (`a_b` + `c` and `a` + `b_c`); the later one gets a suffix derived from
// its full path so names stay unique and stable across calls.
func (c *compilation) define(name, path string, s Schema) string {
	if owner, taken := c.owners[name]; taken && owner != path {
		name = fmt.Sprintf("%s_%s", name, pathHash(path))
	}
	c.owners[name] = path
	c.deps = append(c.deps, Definition{Name: name, Schema: s})
	return name
}

func pathHash(path string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return fmt.Sprintf("%08x", h.Sum32())
}
