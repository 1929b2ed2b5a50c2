package parser

import (
	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

type integration struct{ *item }

func newIntegration(it *item) Parser {
	it.idField = "commonfields.id"
	return &integration{it}
}

func (p *integration) ObjectID() string { return p.commonID() }

func (p *integration) Data() map[string]any {
	script := treewalk.Map(p.raw, "script")
	return map[string]any{
		"display":       treewalk.String(p.raw, "display"),
		"category":      treewalk.String(p.raw, "category"),
		"type":          scriptType(script),
		"docker_image":  treewalk.String(script, "dockerimage"),
		"is_fetch":      treewalk.Bool(script, "isfetch"),
		"is_feed":       treewalk.Bool(script, "feed"),
		"is_beta":       treewalk.Bool(p.raw, "beta"),
		"long_running":  treewalk.Bool(script, "longRunning"),
		"command_count": len(p.commands),
	}
}

func (p *integration) ConnectToDependencies() {
	for _, c := range treewalk.List(treewalk.Map(p.raw, "script"), "commands") {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		name := treewalk.String(m, "name")
		if name == "" {
			continue
		}
		p.commands = append(p.commands, Command{
			Name:        name,
			Description: treewalk.String(m, "description"),
			Deprecated:  treewalk.Bool(m, "deprecated"),
		})
	}

	p.addDependency(treewalk.String(p.raw, "defaultclassifier"), contenttype.Classifier, false)
	p.addDependency(treewalk.String(p.raw, "defaultmapperin"), contenttype.Mapper, false)
	p.addDependency(treewalk.String(p.raw, "defaultmapperout"), contenttype.Mapper, false)
	p.addDependency(treewalk.String(p.raw, "defaultIncidentType"), contenttype.IncidentType, false)

	p.connectToTests()
}

// scriptType prefers the subtype, and pins bare python to python2.
func scriptType(m map[string]any) string {
	t := firstNonEmpty(treewalk.String(m, "subtype"), treewalk.String(m, "type"))
	if t == "python" {
		t = "python2"
	}
	return t
}
