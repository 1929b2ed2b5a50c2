// Package contenttype enumerates the content kinds that make up a content
// repository, along with the graph labels, folder names and schema
// requirements attached to each kind.
package contenttype

import (
	"fmt"
	"sort"
	"strings"
)

// ContentType tags a graph node with the kind of content it represents.
type ContentType string

const (
	BaseContent     ContentType = "BaseContent"
	CommandOrScript ContentType = "CommandOrScript"

	Pack    ContentType = "Pack"
	Command ContentType = "Command"

	Integration       ContentType = "Integration"
	Script            ContentType = "Script"
	Playbook          ContentType = "Playbook"
	TestPlaybook      ContentType = "TestPlaybook"
	IncidentField     ContentType = "IncidentField"
	IncidentType      ContentType = "IncidentType"
	IndicatorField    ContentType = "IndicatorField"
	IndicatorType     ContentType = "IndicatorType"
	Classifier        ContentType = "Classifier"
	Mapper            ContentType = "Mapper"
	Layout            ContentType = "Layout"
	Widget            ContentType = "Widget"
	Dashboard         ContentType = "Dashboard"
	Report            ContentType = "Report"
	Connection        ContentType = "Connection"
	GenericDefinition ContentType = "GenericDefinition"
	GenericField      ContentType = "GenericField"
	GenericModule     ContentType = "GenericModule"
	GenericType       ContentType = "GenericType"
	List              ContentType = "List"
	PreProcessRule    ContentType = "PreProcessRule"
	Job               ContentType = "Job"
	ParsingRule       ContentType = "ParsingRule"
	ModelingRule      ContentType = "ModelingRule"
	CorrelationRule   ContentType = "CorrelationRule"
	XSIAMDashboard    ContentType = "XSIAMDashboard"
	XSIAMReport       ContentType = "XSIAMReport"
	Trigger           ContentType = "Trigger"
	Wizard            ContentType = "Wizard"
)

// all lists every type in declaration order. Iteration over the registry
// always follows this order so generated schema statements are stable.
var all = []ContentType{
	BaseContent, CommandOrScript,
	Pack, Command,
	Integration, Script, Playbook, TestPlaybook,
	IncidentField, IncidentType, IndicatorField, IndicatorType,
	Classifier, Mapper, Layout, Widget, Dashboard, Report, Connection,
	GenericDefinition, GenericField, GenericModule, GenericType,
	List, PreProcessRule, Job, ParsingRule, ModelingRule, CorrelationRule,
	XSIAMDashboard, XSIAMReport, Trigger, Wizard,
}

var byName = func() map[string]ContentType {
	m := make(map[string]ContentType, len(all))
	for _, ct := range all {
		m[string(ct)] = ct
	}
	return m
}()

// UnknownContentTypeError is returned when a folder or type name does not map
// to a registered content type.
type UnknownContentTypeError struct {
	Folder string
}

func (e *UnknownContentTypeError) Error() string {
	return fmt.Sprintf("unknown content type for folder %q", e.Folder)
}

func (ct ContentType) String() string { return string(ct) }

// Labels returns the graph labels carried by nodes of this type.
func (ct ContentType) Labels() []string {
	labels := map[string]struct{}{
		string(BaseContent): {},
		string(ct):          {},
	}
	switch ct {
	case TestPlaybook:
		labels[string(Playbook)] = struct{}{}
	case Script, Command:
		labels[string(CommandOrScript)] = struct{}{}
	}
	out := make([]string, 0, len(labels))
	for l := range labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// HasLabel reports whether nodes of this type carry label.
func (ct ContentType) HasLabel(label ContentType) bool {
	for _, l := range ct.Labels() {
		if l == string(label) {
			return true
		}
	}
	return false
}

// Folder is the plural folder name holding items of this type inside a pack.
func (ct ContentType) Folder() string {
	return string(ct) + "s"
}

// IsAbstract reports whether the type is a supertype that is never
// instantiated directly.
func (ct ContentType) IsAbstract() bool {
	return ct == BaseContent || ct == CommandOrScript
}

// IsContentItem reports whether the type is a concrete item owned by a pack.
func (ct ContentType) IsContentItem() bool {
	if ct.IsAbstract() {
		return false
	}
	return ct != Pack && ct != Command
}

// UniquenessProps lists node properties that must be unique per type.
func (ct ContentType) UniquenessProps() []string {
	if ct == Command {
		return []string{"object_id", "node_id"}
	}
	return nil
}

// RequiresUniqueness reports whether the store must enforce node-level
// uniqueness for this type.
func (ct ContentType) RequiresUniqueness() bool {
	return len(ct.UniquenessProps()) > 0
}

// IndexedProps lists the property sets indexed for nodes of this type.
// Command nodes are looked up through their uniqueness constraint instead.
func (ct ContentType) IndexedProps() [][]string {
	if ct == Command {
		return nil
	}
	return [][]string{
		{"node_id"},
		{"marketplaces"},
		{"object_id"},
		{"node_id", "fromversion", "marketplaces"},
	}
}

// Parse resolves a type by its singular name.
func Parse(name string) (ContentType, error) {
	if ct, ok := byName[name]; ok {
		return ct, nil
	}
	return "", &UnknownContentTypeError{Folder: name}
}

// ByFolder resolves the type stored in a pack sub-folder, e.g. "Scripts".
func ByFolder(folder string) (ContentType, error) {
	name := strings.TrimSuffix(folder, "s")
	if name == folder || name == "" {
		return "", &UnknownContentTypeError{Folder: folder}
	}
	ct, ok := byName[name]
	if !ok || !ct.IsContentItem() {
		return "", &UnknownContentTypeError{Folder: folder}
	}
	return ct, nil
}

// All returns every registered type, abstract ones included.
func All() []ContentType {
	return append([]ContentType(nil), all...)
}

// AbstractTypes returns the supertypes that are never instantiated.
func AbstractTypes() []ContentType {
	return []ContentType{BaseContent, CommandOrScript}
}

// NonAbstract returns every concrete type, Pack and Command included.
func NonAbstract() []ContentType {
	var out []ContentType
	for _, ct := range all {
		if !ct.IsAbstract() {
			out = append(out, ct)
		}
	}
	return out
}

// ContentItems returns the concrete types that live inside packs.
func ContentItems() []ContentType {
	var out []ContentType
	for _, ct := range all {
		if ct.IsContentItem() {
			out = append(out, ct)
		}
	}
	return out
}
