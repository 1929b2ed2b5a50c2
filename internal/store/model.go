package store

import "github.com/contentkit/contentgraph/internal/contenttype"

// Node is one row of the graph: a content item, a pack, a command, or a
// placeholder for something referenced but not present in the repository.
type Node struct {
	ID              int64                     `json:"id"`
	NodeID          string                    `json:"node_id"`
	ContentType     contenttype.ContentType   `json:"content_type"`
	ObjectID        string                    `json:"object_id"`
	Name            string                    `json:"name"`
	Path            string                    `json:"path"`
	Description     string                    `json:"description,omitempty"`
	FromVersion     string                    `json:"fromversion"`
	ToVersion       string                    `json:"toversion"`
	Deprecated      bool                      `json:"deprecated"`
	NotInRepository bool                      `json:"not_in_repository"`
	Marketplaces    []contenttype.Marketplace `json:"marketplaces"`
	Properties      map[string]any            `json:"properties,omitempty"`
}

// Labels are derived from the content type.
func (n Node) Labels() []string { return n.ContentType.Labels() }

// Relationship is a directed edge between two nodes.
type Relationship struct {
	ID           int64                     `json:"id"`
	Type         contenttype.Relationship  `json:"type"`
	SourceID     int64                     `json:"source_id"`
	TargetID     int64                     `json:"target_id"`
	Mandatorily  *bool                     `json:"mandatorily,omitempty"`
	Deprecated   bool                      `json:"deprecated,omitempty"`
	Description  string                    `json:"description,omitempty"`
	Marketplaces []contenttype.Marketplace `json:"marketplaces,omitempty"`
}

// CommandRef is an integration command to attach through HAS_COMMAND.
type CommandRef struct {
	Name        string
	Description string
	Deprecated  bool
}

// ItemWrite is a node together with its local edges: IN_PACK to the owning
// pack and HAS_COMMAND to the commands it exposes.
type ItemWrite struct {
	Node     Node
	Pack     string
	Commands []CommandRef
}

// DependencyWrite is an edge whose target is resolved by label and id at
// write time. The source is found by its repository path.
type DependencyWrite struct {
	SourcePath     string
	Type           contenttype.Relationship
	TargetType     contenttype.ContentType
	TargetObjectID string
	Mandatorily    bool
}

// Ambiguity is a USES_COMMAND_OR_SCRIPT edge that could not be resolved to
// a single command or script.
type Ambiguity struct {
	SourceNodeID string
	SourcePath   string
	Target       string
	Candidates   []string
}

func boolPtr(b bool) *bool { return &b }
