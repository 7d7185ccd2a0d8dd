package domain

// Entity is a world-building entity from the project library.
// Only the fields the orchestration core needs are carried here; the
// full entity text lives in the library files.
type Entity struct {
	ID          string     `json:"id" yaml:"id"`
	Name        string     `json:"name" yaml:"name"`
	Kind        string     `json:"kind" yaml:"kind"`
	Culture     string     `json:"culture,omitempty" yaml:"culture,omitempty"`
	Importance  Importance `json:"importance,omitempty" yaml:"importance,omitempty"`
	Summary     string     `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string     `json:"description,omitempty" yaml:"-"`
}

// EntityRef is the minimal entity context sent to the executor on the wire
type EntityRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Ref returns the wire-shape reference for an entity
func (e *Entity) Ref() EntityRef {
	return EntityRef{ID: e.ID, Name: e.Name, Kind: e.Kind}
}
