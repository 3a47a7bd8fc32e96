package media

// AliasMap is a bidirectional mapping between device-native identifiers and
// human-readable display names. Lookups never fail: an identifier without a
// configured alias comes back unchanged, which lets callers pass raw native
// ids directly.
type AliasMap struct {
	name map[string]string // native id -> display name
	id   map[string]string // display name -> native id
}

// NewAliasMap builds an alias table from overrides merged onto defaults.
// Overrides win on conflicting native ids.
func NewAliasMap(defaults, overrides map[string]string) *AliasMap {
	m := &AliasMap{
		name: make(map[string]string, len(defaults)+len(overrides)),
		id:   make(map[string]string, len(defaults)+len(overrides)),
	}
	for id, name := range defaults {
		m.name[id] = name
	}
	for id, name := range overrides {
		m.name[id] = name
	}
	for id, name := range m.name {
		m.id[name] = id
	}
	return m
}

// Name returns the display name for a native id, or the id itself when no
// alias is configured.
func (m *AliasMap) Name(id string) string {
	if name, ok := m.name[id]; ok {
		return name
	}
	return id
}

// ID returns the native id for a display name, or the name itself when no
// alias is configured.
func (m *AliasMap) ID(name string) string {
	if id, ok := m.id[name]; ok {
		return id
	}
	return name
}
