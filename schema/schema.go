// Package schema declares box kinds in YAML and turns them into graph
// factories.
package schema

import (
	_ "embed"
	"os"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"boxgraph/address"
	"boxgraph/graph"
)

// Document is the top level of a schema file.
type Document struct {
	Kinds []KindDecl `yaml:"kinds"`
}

// KindDecl declares one box kind.
type KindDecl struct {
	Name   string      `yaml:"name"`
	Fields []FieldDecl `yaml:"fields"`
}

// FieldDecl declares one field. Type is a primitive type name or one of
// "pointer", "object" and "array".
type FieldDecl struct {
	Key     uint16 `yaml:"key"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Default any    `yaml:"default,omitempty"`

	// Pointer fields. Accepts entries are glob patterns over kind names.
	Tag       string   `yaml:"tag,omitempty"`
	Accepts   []string `yaml:"accepts,omitempty"`
	Mandatory bool     `yaml:"mandatory,omitempty"`

	Fields  []FieldDecl `yaml:"fields,omitempty"`
	Element *FieldDecl  `yaml:"element,omitempty"`
}

//go:embed studio.yaml
var studioYAML []byte

// Studio returns the factories of the built-in studio schema.
func Studio() graph.Factories {
	fs, err := Parse(studioYAML)
	if err != nil {
		panic("schema: built-in studio schema: " + err.Error())
	}
	return fs
}

// Load reads a schema file.
func Load(path string) (graph.Factories, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading schema file")
	}
	fs, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "schema %s", path)
	}
	return fs, nil
}

// Parse decodes a schema document and validates the resulting factories.
func Parse(data []byte) (graph.Factories, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing schema")
	}
	return doc.Factories()
}

// Names returns the declared kind names in file order.
func (d *Document) Names() []string {
	names := make([]string, len(d.Kinds))
	for i, k := range d.Kinds {
		names[i] = k.Name
	}
	return names
}

// Factories converts the document. Accept patterns are expanded against
// the declared kinds; a pattern matching no kind is an error.
func (d *Document) Factories() (graph.Factories, error) {
	names := d.Names()
	fs := graph.Factories{}
	for _, k := range d.Kinds {
		if k.Name == "" {
			return nil, errors.Wrap(graph.ErrInvalidSchema, "kind without a name")
		}
		if _, dup := fs[k.Name]; dup {
			return nil, errors.Wrapf(graph.ErrInvalidSchema, "kind %s declared twice", k.Name)
		}
		specs, err := convertFields(k.Fields, names, k.Name)
		if err != nil {
			return nil, err
		}
		fs.Register(k.Name, func() []graph.FieldSpec { return specs })
	}
	if err := fs.Validate(); err != nil {
		return nil, err
	}
	return fs, nil
}

func convertFields(decls []FieldDecl, kinds []string, path string) ([]graph.FieldSpec, error) {
	specs := make([]graph.FieldSpec, 0, len(decls))
	for _, decl := range decls {
		spec, err := convertField(decl, kinds, path+"."+decl.Name)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func convertField(decl FieldDecl, kinds []string, path string) (graph.FieldSpec, error) {
	spec := graph.FieldSpec{Key: address.FieldKey(decl.Key), Name: decl.Name}
	switch decl.Type {
	case "pointer":
		accepts, err := expandAccepts(decl.Accepts, kinds)
		if err != nil {
			return spec, errors.Wrapf(err, "%s", path)
		}
		spec.Type = graph.TypePointer
		spec.Pointer = graph.PointerRules{Tag: decl.Tag, Accepts: accepts, Mandatory: decl.Mandatory}
	case "object":
		fields, err := convertFields(decl.Fields, kinds, path)
		if err != nil {
			return spec, err
		}
		spec.Type = graph.TypeObject
		spec.Fields = fields
	case "array":
		if decl.Element == nil {
			return spec, errors.Wrapf(graph.ErrInvalidSchema, "%s: array without element", path)
		}
		elem, err := convertField(*decl.Element, kinds, path+"[]")
		if err != nil {
			return spec, err
		}
		spec.Type = graph.TypeArray
		spec.Element = &elem
	default:
		t, ok := graph.ParsePrimitiveType(decl.Type)
		if !ok {
			return spec, errors.Wrapf(graph.ErrInvalidSchema, "%s: unknown type %q", path, decl.Type)
		}
		spec.Type = graph.TypePrimitive
		spec.Primitive = t
		spec.Default = decl.Default
	}
	return spec, nil
}

// expandAccepts resolves glob patterns to the sorted set of kinds they
// match. "*" accepts every kind and is kept as an empty list.
func expandAccepts(patterns, kinds []string) ([]string, error) {
	if len(patterns) == 0 || slices.Contains(patterns, "*") {
		return nil, nil
	}
	var out []string
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Wrapf(graph.ErrInvalidSchema, "bad accepts pattern %q", pattern)
		}
		matched := false
		for _, kind := range kinds {
			if ok, _ := doublestar.Match(pattern, kind); ok {
				matched = true
				if !slices.Contains(out, kind) {
					out = append(out, kind)
				}
			}
		}
		if !matched {
			return nil, errors.Wrapf(graph.ErrInvalidSchema, "accepts %q matches no kind", pattern)
		}
	}
	slices.Sort(out)
	return out, nil
}
