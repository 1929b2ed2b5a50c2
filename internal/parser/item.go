package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

const (
	DefaultFromVersion = "0.0.0"
	DefaultToVersion   = "99.99.99"
)

// item is the state shared by every variant: the decoded document plus the
// declarations collected so far.
type item struct {
	path    string
	ct      contenttype.ContentType
	raw     map[string]any
	pack    PackInfo
	idField string

	fromVersion string
	toVersion   string

	deps     []Dependency
	seen     map[Dependency]struct{}
	tests    []string
	commands []Command
}

func load(path string, ct contenttype.ContentType, pack PackInfo) (*item, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParsingError{Path: path, Err: err}
	}
	raw, err := decode(path, b)
	if err != nil {
		return nil, &ParsingError{Path: path, Err: err}
	}
	return &item{
		path:    path,
		ct:      ct,
		raw:     raw,
		pack:    pack,
		idField: "id",
		seen:    make(map[Dependency]struct{}),
	}, nil
}

// Load reads and decodes a content file without interpreting it.
func Load(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParsingError{Path: path, Err: err}
	}
	raw, err := decode(path, b)
	if err != nil {
		return nil, &ParsingError{Path: path, Err: err}
	}
	return raw, nil
}

func decode(path string, b []byte) (map[string]any, error) {
	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	m, ok := treewalk.Normalize(doc).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %T, expected an object", doc)
	}
	return m, nil
}

func (it *item) base() *item { return it }

func (it *item) ObjectID() string { return treewalk.String(it.raw, "id") }

func (it *item) Name() string { return treewalk.String(it.raw, "name") }

func (it *item) Data() map[string]any { return nil }

func (it *item) ConnectToDependencies() {}

func (it *item) description() string {
	if d := treewalk.String(it.raw, "description"); d != "" {
		return d
	}
	return treewalk.String(it.raw, "comment")
}

func (it *item) deprecated() bool { return treewalk.Bool(it.raw, "deprecated") }

// marketplaces is the item's own marketplaces narrowed to the pack's, or the
// pack's when the item does not declare any.
func (it *item) marketplaces() []contenttype.Marketplace {
	packSet := contenttype.NewMarketplaceSet(it.pack.Marketplaces...)
	declared := treewalk.Strings(it.raw, "marketplaces")
	if len(declared) == 0 {
		return packSet.Sorted()
	}
	own := make(contenttype.MarketplaceSet)
	for _, s := range declared {
		if m, err := contenttype.ParseMarketplace(s); err == nil {
			own[m] = struct{}{}
		}
	}
	return own.Intersect(packSet).Sorted()
}

func (it *item) parseVersions() error {
	from := firstNonEmpty(treewalk.String(it.raw, "fromversion"), treewalk.String(it.raw, "fromVersion"))
	to := firstNonEmpty(treewalk.String(it.raw, "toversion"), treewalk.String(it.raw, "toVersion"))
	var err error
	if it.fromVersion, err = normalizeVersion(from, DefaultFromVersion); err != nil {
		return fmt.Errorf("fromversion: %w", err)
	}
	if it.toVersion, err = normalizeVersion(to, DefaultToVersion); err != nil {
		return fmt.Errorf("toversion: %w", err)
	}
	return nil
}

// normalizeVersion validates a content version and renders it as
// major.minor.patch.
func normalizeVersion(raw, def string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return "", fmt.Errorf("invalid version %q: %w", raw, err)
	}
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()), nil
}

func (it *item) addDependency(target string, ct contenttype.ContentType, mandatory bool) {
	target = strings.TrimSpace(target)
	if target == "" || target == "null" {
		return
	}
	d := Dependency{Target: target, TargetType: ct, Mandatory: mandatory}
	if _, ok := it.seen[d]; ok {
		return
	}
	it.seen[d] = struct{}{}
	it.deps = append(it.deps, d)
}

// dependenciesExcluding drops declarations pointing back at the item itself.
func (it *item) dependenciesExcluding(ct contenttype.ContentType, id string) []Dependency {
	self := contenttype.NodeID(ct, id)
	out := make([]Dependency, 0, len(it.deps))
	for _, d := range it.deps {
		if d.TargetNodeID() == self {
			continue
		}
		out = append(out, d)
	}
	return out
}

// connectToTests reads the `tests` list shared by integrations, scripts and
// playbooks.
func (it *item) connectToTests() {
	for _, t := range treewalk.Strings(it.raw, "tests") {
		if strings.EqualFold(t, "no test") || strings.EqualFold(t, "no tests") || strings.HasPrefix(strings.ToLower(t), "no tests") {
			continue
		}
		it.tests = append(it.tests, t)
	}
}

// commonID reads commonfields.id used by integrations and scripts.
func (it *item) commonID() string {
	return treewalk.String(treewalk.Map(it.raw, "commonfields"), "id")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// plain is an item with no type-specific data or dependencies.
type plain struct{ *item }

func newPlain(it *item) Parser { return &plain{it} }
