package parser

import (
	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

type incidentType struct{ *item }

func newIncidentType(it *item) Parser { return &incidentType{it} }

func (p *incidentType) Data() map[string]any {
	return map[string]any{
		"playbook":       treewalk.String(p.raw, "playbookId"),
		"hours":          treewalk.String(p.raw, "hours"),
		"days":           treewalk.String(p.raw, "days"),
		"weeks":          treewalk.String(p.raw, "weeks"),
		"closure_script": treewalk.String(p.raw, "closureScript"),
		"auto_run":       treewalk.Bool(p.raw, "autorun"),
	}
}

func (p *incidentType) ConnectToDependencies() {
	p.addDependency(treewalk.String(p.raw, "playbookId"), contenttype.Playbook, false)
	p.addDependency(treewalk.String(p.raw, "preProcessingScript"), contenttype.Script, true)
	p.addDependency(treewalk.String(p.raw, "layout"), contenttype.Layout, true)
}

type indicatorType struct{ *item }

func newIndicatorType(it *item) Parser { return &indicatorType{it} }

func (p *indicatorType) Name() string { return treewalk.String(p.raw, "details") }

func (p *indicatorType) Data() map[string]any {
	return map[string]any{
		"regex":      treewalk.String(p.raw, "regex"),
		"expiration": treewalk.String(p.raw, "expiration"),
	}
}

func (p *indicatorType) ConnectToDependencies() {
	for _, key := range []string{"reputationScriptName", "enhancementScriptNames"} {
		for _, s := range treewalk.Strings(p.raw, key) {
			p.addDependency(s, contenttype.Script, false)
		}
	}
	p.addDependency(treewalk.String(p.raw, "reputationCommand"), contenttype.Command, false)
	p.addDependency(treewalk.String(p.raw, "layout"), contenttype.Layout, true)
}
