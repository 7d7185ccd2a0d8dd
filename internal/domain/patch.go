package domain

// FieldChange is one proposed change to a single entity field, carrying
// the original value for diff display
type FieldChange struct {
	Field    string `json:"field"`
	Original string `json:"original,omitempty"`
	Proposed string `json:"proposed"`
}

// Patch is a proposed set of field changes for one entity. Patches are
// inert until explicitly applied by the caller.
type Patch struct {
	EntityID   string        `json:"entityId"`
	EntityName string        `json:"entityName,omitempty"`
	Changes    []FieldChange `json:"changes"`
	Annotation string        `json:"annotation,omitempty"`
}

// Change returns the proposed value for a field, or the empty string if
// the patch does not touch it
func (p *Patch) Change(field string) string {
	for _, c := range p.Changes {
		if c.Field == field {
			return c.Proposed
		}
	}
	return ""
}
