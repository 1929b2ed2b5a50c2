package contenttype

// Relationship is the type of a directed graph edge.
type Relationship string

const (
	Uses                Relationship = "USES"
	UsesCommandOrScript Relationship = "USES_COMMAND_OR_SCRIPT"
	DependsOn           Relationship = "DEPENDS_ON"
	TestedBy            Relationship = "TESTED_BY"
	InPack              Relationship = "IN_PACK"
	HasCommand          Relationship = "HAS_COMMAND"
)

func (r Relationship) String() string { return string(r) }

// Relationships lists every edge type.
func Relationships() []Relationship {
	return []Relationship{Uses, UsesCommandOrScript, DependsOn, TestedBy, InPack, HasCommand}
}

// IndexedProps lists relationship properties that get a store index.
func (r Relationship) IndexedProps() []string {
	switch r {
	case Uses:
		return []string{"mandatorily"}
	case HasCommand:
		return []string{"deprecated", "description"}
	}
	return nil
}

// ExistenceProps lists relationship properties that may never be null.
func (r Relationship) ExistenceProps() []string {
	if r == DependsOn {
		return []string{"mandatorily"}
	}
	return nil
}
