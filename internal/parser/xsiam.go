package parser

import (
	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

// unwrapFirst replaces the document with the first object of the list under
// key. Exported XSIAM items wrap the real content this way.
func (it *item) unwrapFirst(key string) {
	list := treewalk.List(it.raw, key)
	if len(list) == 0 {
		return
	}
	if inner, ok := list[0].(map[string]any); ok {
		it.raw = inner
	}
}

type globalIDItem struct {
	*item
	key string
}

func newXSIAMDashboard(it *item) Parser {
	it.unwrapFirst("dashboards_data")
	it.idField = "dashboards_data[0].global_id"
	return &globalIDItem{item: it, key: "global_id"}
}

func newXSIAMReport(it *item) Parser {
	it.unwrapFirst("templates_data")
	it.idField = "templates_data[0].global_id"
	return &globalIDItem{item: it, key: "global_id"}
}

func newCorrelationRule(it *item) Parser {
	it.idField = "global_rule_id"
	return &globalIDItem{item: it, key: "global_rule_id"}
}

func (p *globalIDItem) ObjectID() string { return treewalk.String(p.raw, p.key) }

func (p *globalIDItem) Data() map[string]any {
	if p.ct != contenttype.XSIAMReport {
		return nil
	}
	return map[string]any{"report_name": treewalk.String(p.raw, "report_name")}
}

func (p *globalIDItem) Name() string {
	return firstNonEmpty(treewalk.String(p.raw, "name"), treewalk.String(p.raw, "report_name"))
}
