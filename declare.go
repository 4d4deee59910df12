package scoped

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/goliatone/go-scoped/internal/hydrate"
)

var (
	// ErrAlreadyDeclared indicates a catalog declaration reusing a name.
	ErrAlreadyDeclared = errors.New("scoped: type already declared")
	// ErrUnknownParent indicates an extends clause naming an undeclared type.
	ErrUnknownParent = errors.New("scoped: unknown parent type")
	// ErrInvalidDeclaration indicates a payload rejected by schema validation.
	ErrInvalidDeclaration = errors.New("scoped: invalid declaration")
)

// DeclarationOptions mirrors ScopedOptions with pointer fields so a payload
// can distinguish "false" from "unset" and inherit accordingly.
type DeclarationOptions struct {
	InheritStack *bool `json:"inherit_stack,omitempty"`
	MaxNesting   int   `json:"max_nesting,omitempty"`
	AllowReuse   *bool `json:"allow_reuse,omitempty"`
}

// Declaration is the external description of a scope type, typically loaded
// from configuration.
type Declaration struct {
	Name     string             `json:"name"`
	Extends  string             `json:"extends,omitempty"`
	Options  DeclarationOptions `json:"options,omitempty"`
	Metadata map[string]any     `json:"metadata,omitempty"`
	Guard    string             `json:"guard,omitempty"`
}

// Dyn is the instance type behind declared scope types. Its Values map is
// exposed to rule expressions through Binding.
type Dyn struct {
	Scope
	Values map[string]any
}

// Binding exposes the instance values to guard and query expressions.
func (d *Dyn) Binding() map[string]any {
	if d == nil {
		return nil
	}
	return d.Values
}

// declarationSchema validates payloads before hydration.
const declarationSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name"],
	"additionalProperties": false,
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"extends": {"type": "string"},
		"options": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"inherit_stack": {"type": "boolean"},
				"max_nesting": {"type": "integer", "minimum": 1},
				"allow_reuse": {"type": "boolean"}
			}
		},
		"metadata": {"type": "object"},
		"guard": {"type": "string"}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func declSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(declarationSchema)))
		if err != nil {
			schemaErr = fmt.Errorf("scoped: parse declaration schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("scoped://declaration", doc); err != nil {
			schemaErr = fmt.Errorf("scoped: add declaration schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("scoped://declaration")
	})
	return compiledSchema, schemaErr
}

// Catalog registers scope types from declarations and resolves them by name.
// Types declared through a catalog all use *Dyn instances; extends clauses
// become Derive relationships within the same catalog.
type Catalog struct {
	mu    sync.Mutex
	types map[string]*Type[*Dyn]
	base  []TypeOption
}

// NewCatalog constructs a catalog. The base options are applied to every
// declared type before the declaration's own settings, so catalog-wide hooks
// and evaluators are configured once.
func NewCatalog(base ...TypeOption) *Catalog {
	return &Catalog{
		types: make(map[string]*Type[*Dyn]),
		base:  base,
	}
}

// Declare registers a type from an already parsed declaration.
func (c *Catalog) Declare(decl Declaration) (*Type[*Dyn], error) {
	if decl.Name == "" {
		return nil, ErrNameRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.types[decl.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDeclared, decl.Name)
	}

	opts := append([]TypeOption{}, c.base...)
	if decl.Options.InheritStack != nil {
		opts = append(opts, InheritStack(*decl.Options.InheritStack))
	}
	if decl.Options.MaxNesting != 0 {
		opts = append(opts, MaxNesting(decl.Options.MaxNesting))
	}
	if decl.Options.AllowReuse != nil {
		opts = append(opts, AllowReuse(*decl.Options.AllowReuse))
	}
	if len(decl.Metadata) > 0 {
		opts = append(opts, WithTypeMetadata(decl.Metadata))
	}
	if decl.Guard != "" {
		opts = append(opts, WithGuard(decl.Guard))
	}

	var (
		typ *Type[*Dyn]
		err error
	)
	if decl.Extends != "" {
		parent, ok := c.types[decl.Extends]
		if !ok {
			return nil, fmt.Errorf("%w: %s extends %s", ErrUnknownParent, decl.Name, decl.Extends)
		}
		typ, err = Derive[*Dyn](parent, decl.Name, opts...)
	} else {
		typ, err = Register[*Dyn](decl.Name, opts...)
	}
	if err != nil {
		return nil, err
	}

	c.types[decl.Name] = typ
	return typ, nil
}

// DeclarePayload validates payload against the declaration schema, hydrates
// it, and registers the resulting type.
func (c *Catalog) DeclarePayload(payload map[string]any) (*Type[*Dyn], error) {
	if err := validateDeclaration(payload); err != nil {
		return nil, err
	}

	name, _ := payload["name"].(string)
	decoder := hydrate.NewDecoder(hydrate.WithDisallowUnknownFields[Declaration]())
	decl, err := decoder.Decode(hydrate.Context{Name: name, Source: "payload"}, payload)
	if err != nil {
		return nil, err
	}
	return c.Declare(decl)
}

// DeclareJSON parses raw JSON and registers the declared type.
func (c *Catalog) DeclareJSON(raw []byte) (*Type[*Dyn], error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeclaration, err)
	}
	return c.DeclarePayload(payload)
}

// Type resolves a declared type by name.
func (c *Catalog) Type(name string) (*Type[*Dyn], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	typ, ok := c.types[name]
	return typ, ok
}

// Names lists the declared type names in lexical order.
func (c *Catalog) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe reports the descriptor of a declared type.
func (c *Catalog) Describe(name string) (TypeDescriptor, bool) {
	typ, ok := c.Type(name)
	if !ok {
		return TypeDescriptor{}, false
	}
	return typ.Describe(), true
}

func validateDeclaration(payload map[string]any) error {
	schema, err := declSchema()
	if err != nil {
		return err
	}

	// Round-trip through the schema library's reader so numbers take the
	// representation the validator expects.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeclaration, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeclaration, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDeclaration, err)
	}
	return nil
}
