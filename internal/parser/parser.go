// Package parser turns raw content files into graph-ready records: identity,
// metadata, and the dependency declarations the builder turns into edges.
//
// Every content kind has its own variant. Variants form a closed set and are
// dispatched through a registry keyed by content type.
package parser

import (
	"fmt"

	"github.com/contentkit/contentgraph/internal/contenttype"
)

// Dependency is a declaration that the parsed item relies on another item.
// TargetType CommandOrScript marks a name that may resolve to either a
// Command or a Script once the whole repository is loaded.
type Dependency struct {
	Target     string                  `json:"target"`
	TargetType contenttype.ContentType `json:"target_type"`
	Mandatory  bool                    `json:"mandatory"`
}

// Ambiguous reports whether the target kind is only known after loading.
func (d Dependency) Ambiguous() bool {
	return d.TargetType == contenttype.CommandOrScript
}

// TargetNodeID is the node id the declaration points at.
func (d Dependency) TargetNodeID() string {
	return contenttype.NodeID(d.TargetType, d.Target)
}

// Command is an operation exposed by an integration.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Deprecated  bool   `json:"deprecated"`
}

// Record is the normalized result of parsing one content file.
type Record struct {
	ContentType  contenttype.ContentType   `json:"content_type"`
	ObjectID     string                    `json:"object_id"`
	NodeID       string                    `json:"node_id"`
	Name         string                    `json:"name"`
	Path         string                    `json:"path"`
	Description  string                    `json:"description,omitempty"`
	Marketplaces []contenttype.Marketplace `json:"marketplaces"`
	FromVersion  string                    `json:"fromversion"`
	ToVersion    string                    `json:"toversion"`
	Deprecated   bool                      `json:"deprecated"`
	Properties   map[string]any            `json:"properties,omitempty"`
	Dependencies []Dependency              `json:"dependencies,omitempty"`
	Tests        []string                  `json:"tests,omitempty"`
	Commands     []Command                 `json:"commands,omitempty"`
}

// PackInfo is what an item needs to know about the pack that owns it.
type PackInfo struct {
	ID           string
	Marketplaces []contenttype.Marketplace
}

// Parser is the capability every content variant implements.
type Parser interface {
	// ObjectID is the content-defined id of the item.
	ObjectID() string
	Name() string
	// Data returns the type-specific properties stored on the node.
	Data() map[string]any
	// ConnectToDependencies collects the item's dependency declarations.
	ConnectToDependencies()

	base() *item
}

// constructor builds a variant around an already-loaded item.
type constructor func(*item) Parser

var registry = map[contenttype.ContentType]constructor{
	contenttype.Integration:       newIntegration,
	contenttype.Script:            newScript,
	contenttype.Playbook:          newPlaybook,
	contenttype.TestPlaybook:      newTestPlaybookOrScript,
	contenttype.IncidentField:     newIncidentField,
	contenttype.IncidentType:      newIncidentType,
	contenttype.IndicatorField:    newIndicatorField,
	contenttype.IndicatorType:     newIndicatorType,
	contenttype.Classifier:        newClassifierMapper,
	contenttype.Mapper:            newClassifierMapper,
	contenttype.Layout:            newLayout,
	contenttype.Widget:            newWidget,
	contenttype.Dashboard:         newWidgetContainer,
	contenttype.Report:            newWidgetContainer,
	contenttype.Connection:        newConnection,
	contenttype.GenericDefinition: newPlain,
	contenttype.GenericField:      newGenericField,
	contenttype.GenericModule:     newGenericModule,
	contenttype.GenericType:       newGenericType,
	contenttype.List:              newPlain,
	contenttype.PreProcessRule:    newPreProcessRule,
	contenttype.Job:               newJob,
	contenttype.ParsingRule:       newPlain,
	contenttype.ModelingRule:      newPlain,
	contenttype.CorrelationRule:   newCorrelationRule,
	contenttype.XSIAMDashboard:    newXSIAMDashboard,
	contenttype.XSIAMReport:       newXSIAMReport,
	contenttype.Trigger:           newTrigger,
	contenttype.Wizard:            newWizard,
}

// Supported reports whether a parser variant exists for ct.
func Supported(ct contenttype.ContentType) bool {
	_, ok := registry[ct]
	return ok
}

// Parse reads the content file at path, which lives in a folder holding
// items of type ct, and returns its normalized record.
func Parse(path string, ct contenttype.ContentType, pack PackInfo) (*Record, error) {
	build, ok := registry[ct]
	if !ok {
		return nil, &contenttype.UnknownContentTypeError{Folder: ct.Folder()}
	}
	it, err := load(path, ct, pack)
	if err != nil {
		return nil, err
	}
	p := build(it)
	return finish(p)
}

func finish(p Parser) (*Record, error) {
	it := p.base()
	id := p.ObjectID()
	if id == "" {
		return nil, &MissingIdentityFieldError{Path: it.path, ContentType: it.ct, Field: it.idField}
	}
	if err := it.parseVersions(); err != nil {
		return nil, &ParsingError{Path: it.path, Err: err}
	}

	p.ConnectToDependencies()

	name := p.Name()
	if name == "" {
		name = id
	}
	rec := &Record{
		ContentType:  it.ct,
		ObjectID:     id,
		NodeID:       contenttype.NodeID(it.ct, id),
		Name:         name,
		Path:         it.path,
		Description:  it.description(),
		Marketplaces: it.marketplaces(),
		FromVersion:  it.fromVersion,
		ToVersion:    it.toVersion,
		Deprecated:   it.deprecated(),
		Properties:   p.Data(),
		Dependencies: it.dependenciesExcluding(it.ct, id),
		Tests:        it.tests,
		Commands:     it.commands,
	}
	return rec, nil
}

// ParsingError wraps a failure to read or decode a content file.
type ParsingError struct {
	Path string
	Err  error
}

func (e *ParsingError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParsingError) Unwrap() error { return e.Err }

// MissingIdentityFieldError is returned when an item has no usable id.
type MissingIdentityFieldError struct {
	Path        string
	ContentType contenttype.ContentType
	Field       string
}

func (e *MissingIdentityFieldError) Error() string {
	return fmt.Sprintf("%s %s: missing identity field %q", e.ContentType, e.Path, e.Field)
}
