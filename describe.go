package scoped

// TypeDescriptor is a serialisable snapshot of a registered type: its place
// in the hierarchy, its effective options, and its configuration. Useful for
// diagnostics endpoints and config dumps.
type TypeDescriptor struct {
	Name       string         `json:"name"`
	Parent     string         `json:"parent,omitempty"`
	StackOwner string         `json:"stack_owner"`
	Options    ScopedOptions  `json:"options"`
	Guard      string         `json:"guard,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	HasDefault bool           `json:"has_default"`
}

// Describe reports the type's registration as a descriptor.
func (t *Type[T]) Describe() TypeDescriptor {
	f := t.fam
	desc := TypeDescriptor{
		Name:       f.name,
		StackOwner: f.owner.name,
		Options:    f.opts,
		Guard:      f.guard,
		Metadata:   copyMetadata(f.metadata),
		HasDefault: t.hasDef,
	}
	if f.parent != nil {
		desc.Parent = f.parent.name
	}
	return desc
}
