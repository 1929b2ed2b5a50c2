package parser

import (
	"sort"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

// classifierMapper covers the Classifiers folder, which holds both
// classifiers and incoming or outgoing mappers. The type key decides which.
type classifierMapper struct{ *item }

func newClassifierMapper(it *item) Parser {
	if treewalk.String(it.raw, "type") == "classification" {
		it.ct = contenttype.Classifier
	} else {
		it.ct = contenttype.Mapper
	}
	return &classifierMapper{it}
}

func (p *classifierMapper) Data() map[string]any {
	return map[string]any{
		"type":          treewalk.String(p.raw, "type"),
		"definition_id": treewalk.String(p.raw, "definitionId"),
	}
}

func (p *classifierMapper) ConnectToDependencies() {
	p.addDependency(treewalk.String(p.raw, "defaultIncidentType"), contenttype.IncidentType, true)
	if p.ct == contenttype.Classifier {
		p.connectClassifier()
		return
	}
	p.connectMapper()
}

func (p *classifierMapper) connectClassifier() {
	keyTypes := treewalk.Map(p.raw, "keyTypeMap")
	for _, k := range sortedKeys(keyTypes) {
		p.addDependency(treewalk.String(keyTypes, k), contenttype.IncidentType, true)
	}
	p.addComplexOperators(treewalk.Path(p.raw, "transformer", "complex"))
}

func (p *classifierMapper) connectMapper() {
	direction := treewalk.String(p.raw, "type")
	mapping := treewalk.Map(p.raw, "mapping")
	for _, incidentType := range sortedKeys(mapping) {
		p.addDependency(incidentType, contenttype.IncidentType, true)
		internal := treewalk.Path(mapping, incidentType, "internalMapping")
		for _, key := range sortedKeys(internal) {
			fieldMapper := treewalk.Map(internal, key)
			switch direction {
			case "mapping-incoming":
				p.addDependency(key, contenttype.IncidentField, true)
			case "mapping-outgoing":
				field := firstNonEmpty(
					treewalk.String(fieldMapper, "simple"),
					treewalk.String(treewalk.Map(fieldMapper, "complex"), "root"),
				)
				p.addDependency(field, contenttype.IncidentField, true)
			}
			p.addComplexOperators(treewalk.Map(fieldMapper, "complex"))
		}
	}
}

func (p *classifierMapper) addComplexOperators(complex map[string]any) {
	if complex == nil {
		return
	}
	for _, op := range complexOperators(complex) {
		p.addDependency(op, contenttype.Script, true)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
