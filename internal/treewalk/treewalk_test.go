package treewalk

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestCollectStrings(t *testing.T) {
	tree := decode(t, `{
		"tabs": [
			{"sections": [{"items": [{"fieldId": "occurred"}, {"fieldId": "severity"}]}]},
			{"fieldId": 7},
			{"nested": {"deeper": [{"fieldId": "owner"}]}}
		],
		"fieldId": "top"
	}`)

	got := CollectStrings(tree, "fieldId")
	sort.Strings(got)
	assert.Equal(t, []string{"occurred", "owner", "severity", "top"}, got)
}

func TestCollectStringsEmpty(t *testing.T) {
	assert.Empty(t, CollectStrings(decode(t, `{"a": [1, 2, {"b": null}]}`), "fieldId"))
	assert.Empty(t, CollectStrings(nil, "fieldId"))
}

func TestTransform(t *testing.T) {
	tree := decode(t, `{
		"widgets": [
			{"id": "relatedIncidents", "name": "Related Incidents"},
			{"id": "other", "name": "Related Incidents"},
			{"inner": {"id": "relatedIncidents", "name": "Related Incidents", "name_x2": "keep"}}
		]
	}`)

	match := func(m map[string]any) bool {
		return m["id"] == "relatedIncidents" && m["name"] == "Related Incidents" && m["name_x2"] == nil
	}
	fix := func(m map[string]any) map[string]any {
		m["name"] = "Related Alerts"
		return m
	}

	out := Transform(tree, match, fix).(map[string]any)
	widgets := out["widgets"].([]any)
	assert.Equal(t, "Related Alerts", widgets[0].(map[string]any)["name"])
	assert.Equal(t, "Related Incidents", widgets[1].(map[string]any)["name"])
	assert.Equal(t, "Related Incidents", widgets[2].(map[string]any)["inner"].(map[string]any)["name"])

	// input is untouched
	orig := tree.(map[string]any)["widgets"].([]any)[0].(map[string]any)
	assert.Equal(t, "Related Incidents", orig["name"])
}

func TestAccessors(t *testing.T) {
	m := decode(t, `{
		"a": {"b": {"c": "x"}},
		"list": ["one", "", "null", 2],
		"single": "s",
		"num": 5,
		"flag": "true"
	}`).(map[string]any)

	assert.Equal(t, "x", String(Path(m, "a", "b"), "c"))
	assert.Nil(t, Path(m, "a", "missing", "c"))
	assert.Equal(t, []string{"one", "2"}, Strings(m, "list"))
	assert.Equal(t, []string{"s"}, Strings(m, "single"))
	assert.Equal(t, "5", String(m, "num"))
	assert.Equal(t, "", String(m, "a"))
	assert.True(t, Bool(m, "flag"))
	assert.False(t, Bool(m, "missing"))
}

func TestNormalize(t *testing.T) {
	in := map[any]any{"k": []any{map[any]any{1: "v"}}}
	out := Normalize(in).(map[string]any)
	inner := out["k"].([]any)[0].(map[string]any)
	assert.Equal(t, "v", inner["1"])
}
