package parser

import (
	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

// layoutFlags are the layout sections whose presence is recorded on the node.
var layoutFlags = map[string]string{
	"edit":                "edit",
	"indicatorsDetails":   "indicators_details",
	"indicatorsQuickView": "indicators_quick_view",
	"quickView":           "quick_view",
	"close":               "close",
	"details":             "details",
	"detailsV2":           "details_v2",
	"mobile":              "mobile",
}

type layout struct{ *item }

func newLayout(it *item) Parser { return &layout{it} }

func (p *layout) Data() map[string]any {
	data := map[string]any{
		"kind":          treewalk.String(p.raw, "kind"),
		"group":         treewalk.String(p.raw, "group"),
		"definition_id": treewalk.String(p.raw, "definitionId"),
	}
	for key, prop := range layoutFlags {
		data[prop] = truthy(p.raw[key])
	}
	return data
}

// ConnectToDependencies links every field shown by the layout. Fields are
// optional: a layout still renders when one is missing.
func (p *layout) ConnectToDependencies() {
	fieldType := contenttype.IndicatorField
	if treewalk.String(p.raw, "group") == "incident" {
		fieldType = contenttype.IncidentField
	}
	for _, field := range treewalk.CollectStrings(p.raw, "fieldId") {
		p.addDependency(field, fieldType, false)
	}
}

// truthy mirrors how content treats a section as present: non-empty and not
// false or zero.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}
