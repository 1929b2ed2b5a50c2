package parser

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

type playbook struct{ *item }

func newPlaybook(it *item) Parser { return &playbook{it} }

func (p *playbook) Data() map[string]any {
	return map[string]any{
		"task_count": len(treewalk.Map(p.raw, "tasks")),
		"quiet":      treewalk.Bool(p.raw, "quiet"),
	}
}

func (p *playbook) ConnectToDependencies() {
	tasks := treewalk.Map(p.raw, "tasks")
	mandatory := mandatoryTasks(p.raw)

	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		task := treewalk.Map(tasks, id)
		if task == nil {
			continue
		}
		isMandatory := mandatory[id]
		p.handleComplexValues(task, isMandatory)
		p.handleTask(task, isMandatory)
		p.handleFieldMapping(task, isMandatory)
	}
	p.connectToTests()
}

func (p *playbook) handleTask(task map[string]any, mandatory bool) {
	inner := treewalk.Map(task, "task")
	p.addDependency(treewalk.String(inner, "playbookName"), contenttype.Playbook, mandatory)
	p.addDependency(treewalk.String(inner, "scriptName"), contenttype.Script, mandatory)

	command := treewalk.String(inner, "script")
	if command == "" {
		return
	}
	switch {
	case strings.Contains(command, "setIncident"):
		for _, f := range fieldsByScriptArgument(task) {
			p.addDependency(f, contenttype.IncidentField, mandatory)
		}
	case strings.Contains(command, "setIndicator"):
		for _, f := range fieldsByScriptArgument(task) {
			p.addDependency(f, contenttype.IndicatorField, mandatory)
		}
	case isListCommand(command):
		list := treewalk.String(treewalk.Path(task, "scriptarguments", "listName"), "simple")
		p.addDependency(list, contenttype.List, mandatory)
	case strings.HasPrefix(command, "Builtin"):
		parts := strings.Split(command, "|")
		name := parts[len(parts)-1]
		if _, special := specialBuiltins[name]; !special {
			p.addDependency(name, contenttype.Script, mandatory)
		}
	case !strings.Contains(command, "|"):
		p.addDependency(command, contenttype.Command, mandatory)
	default:
		parts := strings.Split(command, "|")
		if parts[0] != "" {
			p.addDependency(parts[0], contenttype.Integration, mandatory)
		} else {
			p.addDependency(parts[len(parts)-1], contenttype.Command, mandatory)
		}
	}
}

// handleComplexValues finds every complex expression in the task and records
// the scripts backing its filters and transformers.
func (p *playbook) handleComplexValues(task map[string]any, mandatory bool) {
	treewalk.Walk(task, func(key string, value any) bool {
		if key != "complex" {
			return true
		}
		if m, ok := value.(map[string]any); ok {
			for _, op := range complexOperators(m) {
				p.addDependency(op, contenttype.Script, mandatory)
			}
		}
		return false
	})
}

func (p *playbook) handleFieldMapping(task map[string]any, mandatory bool) {
	mappings := append(treewalk.List(task, "fieldMapping"), treewalk.List(treewalk.Map(task, "task"), "fieldMapping")...)
	for _, entry := range mappings {
		var field string
		switch v := entry.(type) {
		case string:
			field = v
		case map[string]any:
			field = treewalk.String(v, "incidentfield")
		}
		if field != "" && !isBuiltInField(field) {
			p.addDependency(field, contenttype.IncidentField, mandatory)
		}
	}
}

func isListCommand(command string) bool {
	_, ok := listCommands[command]
	return ok
}

// complexOperators returns the operator names of a complex value: the first
// operator of every filter group, then every transformer.
func complexOperators(complex map[string]any) []string {
	var ops []string
	for _, group := range treewalk.List(complex, "filters") {
		conds, ok := group.([]any)
		if !ok || len(conds) == 0 {
			continue
		}
		if first, ok := conds[0].(map[string]any); ok {
			ops = append(ops, treewalk.String(first, "operator"))
		}
	}
	for _, t := range treewalk.List(complex, "transformers") {
		if m, ok := t.(map[string]any); ok {
			ops = append(ops, treewalk.String(m, "operator"))
		}
	}
	return ops
}

// fieldsByScriptArgument lists the fields a setIncident or setIndicator task
// writes, expanding the customFields JSON argument.
func fieldsByScriptArgument(task map[string]any) []string {
	args := treewalk.Map(task, "scriptarguments")
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	var fields []string
	add := func(name string) {
		if !isBuiltInField(name) {
			fields = append(fields, name)
		}
	}
	for _, name := range names {
		if name != "customFields" {
			add(name)
			continue
		}
		raw := treewalk.String(treewalk.Map(args, name), "simple")
		for _, custom := range decodeCustomFields(raw) {
			keys := make([]string, 0, len(custom))
			for k := range custom {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				add(k)
			}
		}
	}
	return fields
}

// decodeCustomFields accepts a JSON object or a list of objects. Anything
// else yields no fields.
func decodeCustomFields(raw string) []map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var list []map[string]any
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	var one map[string]any
	if err := json.Unmarshal([]byte(raw), &one); err == nil {
		return []map[string]any{one}
	}
	return nil
}
