// Package schema compiles JSON-Schema-like documents into generation schemas:
// flat, reference-based graphs in which every named definition appears after
// the definitions it references.
package schema

import "fmt"

// Kind identifies the shape of a generation-schema node.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindChoice  Kind = "choice"
	KindObject  Kind = "object"
	KindRef     Kind = "ref"
)

// Schema is one node of a generation schema. Only the fields relevant to Kind
// are populated.
type Schema struct {
	Kind        Kind
	Description string

	// KindRef
	Ref string

	// KindChoice
	Choices []string

	// KindInteger, KindNumber
	Minimum *float64
	Maximum *float64

	// KindArray
	Items    *Schema
	MinItems *int
	MaxItems *int

	// KindObject
	Properties []Property
}

// Property is a named member of an object schema.
type Property struct {
	Name     string
	Schema   Schema
	Optional bool
}

// Definition is a named entry of the dependency list.
type Definition struct {
	Name   string
	Schema Schema
}

// Compiled is the output of Compile. Root is a reference to the last
// definition; Dependencies is ordered so that references only point backwards.
type Compiled struct {
	Name         string
	Description  string
	Strict       bool
	Root         Schema
	Dependencies []Definition
}

// Lookup returns the named definition.
func (c *Compiled) Lookup(name string) (Schema, bool) {
	for _, def := range c.Dependencies {
		if def.Name == name {
			return def.Schema, true
		}
	}
	return Schema{}, false
}

// Check verifies that every reference resolves to a definition declared
// earlier in the dependency list and that definition names are unique.
func (c *Compiled) Check() error {
	defined := make(map[string]struct{}, len(c.Dependencies))
	for i, def := range c.Dependencies {
		if _, dup := defined[def.Name]; dup {
			return fmt.Errorf("dependency %d: duplicate definition %q", i, def.Name)
		}
		if err := checkRefs(def.Schema, defined); err != nil {
			return fmt.Errorf("dependency %q: %w", def.Name, err)
		}
		defined[def.Name] = struct{}{}
	}
	if err := checkRefs(c.Root, defined); err != nil {
		return fmt.Errorf("root: %w", err)
	}
	return nil
}

func checkRefs(s Schema, defined map[string]struct{}) error {
	switch s.Kind {
	case KindRef:
		if _, ok := defined[s.Ref]; !ok {
			return fmt.Errorf("reference %q is not defined before use", s.Ref)
		}
	case KindArray:
		if s.Items != nil {
			return checkRefs(*s.Items, defined)
		}
	case KindObject:
		for _, p := range s.Properties {
			if err := checkRefs(p.Schema, defined); err != nil {
				return fmt.Errorf("property %q: %w", p.Name, err)
			}
		}
	}
	return nil
}
