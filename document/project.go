package document

// Projection selects top-level fields of emitted payloads. When Exclude is
// non-empty it is applied and Include is ignored.
type Projection struct {
	Include []string
	Exclude []string
}

// Empty reports whether the projection keeps every field
func (p Projection) Empty() bool {
	return len(p.Include) == 0 && len(p.Exclude) == 0
}

// Apply returns the projected document. Include lists always keep _id.
func (p Projection) Apply(d *Document) *Document {
	if d == nil {
		return nil
	}
	switch {
	case len(p.Exclude) > 0:
		drop := toSet(p.Exclude)
		return d.filter(func(key string) bool { return !drop[key] })
	case len(p.Include) > 0:
		keep := toSet(p.Include)
		return d.filter(func(key string) bool { return key == IDField || keep[key] })
	default:
		return d
	}
}

func (d *Document) filter(keep func(string) bool) *Document {
	fields := make([]Field, 0, len(d.fields))
	for _, f := range d.fields {
		if keep(f.Key) {
			fields = append(fields, f)
		}
	}
	return &Document{fields: fields}
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
