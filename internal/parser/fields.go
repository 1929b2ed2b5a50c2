package parser

import (
	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

// field is shared by incident and indicator fields. Both are identified by
// their CLI name and differ only in the type they associate with.
type field struct {
	*item
	associated contenttype.ContentType
}

func newIncidentField(it *item) Parser {
	it.idField = "cliName"
	return &field{item: it, associated: contenttype.IncidentType}
}

func newIndicatorField(it *item) Parser {
	it.idField = "cliName"
	return &field{item: it, associated: contenttype.IndicatorType}
}

func (p *field) ObjectID() string {
	return firstNonEmpty(treewalk.String(p.raw, "cliName"), treewalk.String(p.raw, "id"))
}

func (p *field) Data() map[string]any {
	return map[string]any{
		"cli_name":          treewalk.String(p.raw, "cliName"),
		"type":              treewalk.String(p.raw, "type"),
		"associated_to_all": treewalk.Bool(p.raw, "associatedToAll"),
		"content":           treewalk.Bool(p.raw, "content"),
		"system":            treewalk.Bool(p.raw, "system"),
	}
}

func (p *field) ConnectToDependencies() {
	for _, key := range []string{"associatedTypes", "systemAssociatedTypes"} {
		for _, t := range treewalk.Strings(p.raw, key) {
			p.addDependency(t, p.associated, false)
		}
	}
	p.addDependency(treewalk.String(p.raw, "script"), contenttype.Script, true)
	p.addDependency(treewalk.String(p.raw, "fieldCalcScript"), contenttype.Script, true)
}
