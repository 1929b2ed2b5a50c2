package parser

import (
	"path/filepath"
	"strings"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

type trigger struct{ *item }

func newTrigger(it *item) Parser {
	it.idField = "trigger_id"
	return &trigger{it}
}

func (p *trigger) ObjectID() string { return treewalk.String(p.raw, "trigger_id") }

func (p *trigger) Name() string { return treewalk.String(p.raw, "trigger_name") }

func (p *trigger) ConnectToDependencies() {
	p.addDependency(treewalk.String(p.raw, "playbook_id"), contenttype.Playbook, true)
}

type job struct{ *item }

func newJob(it *item) Parser { return &job{it} }

func (p *job) Data() map[string]any {
	return map[string]any{
		"is_feed":        treewalk.Bool(p.raw, "isFeed"),
		"selected_feeds": treewalk.Strings(p.raw, "selectedFeeds"),
		"is_all_feeds":   treewalk.Bool(p.raw, "isAllFeeds"),
	}
}

func (p *job) ConnectToDependencies() {
	p.addDependency(treewalk.String(p.raw, "playbookId"), contenttype.Playbook, true)
}

type preProcessRule struct{ *item }

func newPreProcessRule(it *item) Parser { return &preProcessRule{it} }

func (p *preProcessRule) ConnectToDependencies() {
	p.addDependency(treewalk.String(p.raw, "scriptName"), contenttype.Script, true)
}

type wizard struct{ *item }

func newWizard(it *item) Parser { return &wizard{it} }

func (p *wizard) Data() map[string]any {
	return map[string]any{
		"dependency_packs": namesOf(treewalk.List(p.raw, "dependency_packs")),
	}
}

func (p *wizard) ConnectToDependencies() {
	for _, name := range namesOf(treewalk.List(p.raw, "fetching_integrations")) {
		p.addDependency(name, contenttype.Integration, true)
	}
	for _, name := range namesOf(treewalk.List(treewalk.Map(p.raw, "wizard"), "set_playbook")) {
		p.addDependency(name, contenttype.Playbook, true)
	}
	for _, name := range namesOf(treewalk.List(p.raw, "set_playbooks")) {
		p.addDependency(name, contenttype.Playbook, true)
	}
}

// namesOf reads the name key of every object in list.
func namesOf(list []any) []string {
	var out []string
	for _, v := range list {
		switch t := v.(type) {
		case map[string]any:
			if n := treewalk.String(t, "name"); n != "" {
				out = append(out, n)
			}
		case string:
			out = append(out, t)
		}
	}
	return out
}

// widget is a single dashboard or report widget. Script-backed widgets run
// the script named in their query.
type widget struct{ *item }

func newWidget(it *item) Parser { return &widget{it} }

func (p *widget) Data() map[string]any {
	return map[string]any{
		"widget_type": treewalk.String(p.raw, "widgetType"),
		"data_type":   treewalk.String(p.raw, "dataType"),
	}
}

func (p *widget) ConnectToDependencies() {
	p.addWidgetScripts(p.raw)
}

func (it *item) addWidgetScripts(tree map[string]any) {
	if s := widgetScript(tree); s != "" {
		it.addDependency(s, contenttype.Script, true)
	}
	treewalk.Walk(tree, func(_ string, value any) bool {
		if m, ok := value.(map[string]any); ok {
			if s := widgetScript(m); s != "" {
				it.addDependency(s, contenttype.Script, true)
			}
		}
		return true
	})
}

func widgetScript(m map[string]any) string {
	if treewalk.String(m, "dataType") != "scripts" {
		return ""
	}
	return treewalk.String(m, "query")
}

// widgetContainer is a dashboard or report: a layout of embedded widgets.
type widgetContainer struct{ *item }

func newWidgetContainer(it *item) Parser { return &widgetContainer{it} }

func (p *widgetContainer) ConnectToDependencies() {
	p.addWidgetScripts(p.raw)
}

// connection files carry no id of their own; the file name stands in.
type connection struct{ *item }

func newConnection(it *item) Parser { return &connection{it} }

func (p *connection) ObjectID() string {
	if id := treewalk.String(p.raw, "id"); id != "" {
		return id
	}
	base := filepath.Base(p.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type genericField struct{ *item }

func newGenericField(it *item) Parser { return &genericField{it} }

func (p *genericField) Data() map[string]any {
	return map[string]any{"definition_id": treewalk.String(p.raw, "definitionId")}
}

func (p *genericField) ConnectToDependencies() {
	p.addDependency(treewalk.String(p.raw, "definitionId"), contenttype.GenericDefinition, true)
	for _, t := range treewalk.Strings(p.raw, "associatedTypes") {
		p.addDependency(t, contenttype.GenericType, false)
	}
}

type genericType struct{ *item }

func newGenericType(it *item) Parser { return &genericType{it} }

func (p *genericType) Data() map[string]any {
	return map[string]any{"definition_id": treewalk.String(p.raw, "definitionId")}
}

func (p *genericType) ConnectToDependencies() {
	p.addDependency(treewalk.String(p.raw, "definitionId"), contenttype.GenericDefinition, true)
	p.addDependency(treewalk.String(p.raw, "layout"), contenttype.Layout, true)
}

type genericModule struct{ *item }

func newGenericModule(it *item) Parser { return &genericModule{it} }

func (p *genericModule) ConnectToDependencies() {
	for _, id := range treewalk.Strings(p.raw, "definitionIds") {
		p.addDependency(id, contenttype.GenericDefinition, true)
	}
}
