package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

// MetadataFile is the pack-level metadata document.
const MetadataFile = "pack_metadata.json"

// PackRecord is a parsed pack: the node record plus pack-only metadata.
type PackRecord struct {
	Record
	Author         string   `json:"author,omitempty"`
	Certification  string   `json:"certification,omitempty"`
	CurrentVersion string   `json:"current_version"`
	Categories     []string `json:"categories,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Hidden         bool     `json:"hidden"`
}

// Info is what items of the pack inherit.
func (p *PackRecord) Info() PackInfo {
	return PackInfo{ID: p.ObjectID, Marketplaces: p.Marketplaces}
}

// ParsePack reads dir/pack_metadata.json. The pack id is the folder name.
func ParsePack(dir string) (*PackRecord, error) {
	path := filepath.Join(dir, MetadataFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParsingError{Path: path, Err: err}
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, &ParsingError{Path: path, Err: fmt.Errorf("decode json: %w", err)}
	}
	meta, ok := doc.(map[string]any)
	if !ok {
		return nil, &ParsingError{Path: path, Err: fmt.Errorf("top-level value is %T, expected an object", doc)}
	}

	id := filepath.Base(filepath.Clean(dir))
	if id == "." || id == string(filepath.Separator) {
		return nil, &MissingIdentityFieldError{Path: path, ContentType: contenttype.Pack, Field: "folder name"}
	}

	version, err := normalizeVersion(treewalk.String(meta, "currentVersion"), "1.0.0")
	if err != nil {
		return nil, &ParsingError{Path: path, Err: fmt.Errorf("currentVersion: %w", err)}
	}

	marketplaces := contenttype.DefaultPackMarketplaces()
	if declared := treewalk.Strings(meta, "marketplaces"); len(declared) > 0 {
		set := make(contenttype.MarketplaceSet)
		for _, s := range declared {
			if m, err := contenttype.ParseMarketplace(s); err == nil {
				set[m] = struct{}{}
			}
		}
		marketplaces = set.Sorted()
	}

	name := treewalk.String(meta, "name")
	if name == "" {
		name = id
	}
	from, err := normalizeVersion(treewalk.String(meta, "serverMinVersion"), DefaultFromVersion)
	if err != nil {
		return nil, &ParsingError{Path: path, Err: fmt.Errorf("serverMinVersion: %w", err)}
	}

	return &PackRecord{
		Record: Record{
			ContentType:  contenttype.Pack,
			ObjectID:     id,
			NodeID:       contenttype.NodeID(contenttype.Pack, id),
			Name:         name,
			Path:         dir,
			Description:  treewalk.String(meta, "description"),
			Marketplaces: marketplaces,
			FromVersion:  from,
			ToVersion:    DefaultToVersion,
			Deprecated:   treewalk.Bool(meta, "deprecated"),
			Properties: map[string]any{
				"current_version": version,
				"support":         treewalk.String(meta, "support"),
				"hidden":          treewalk.Bool(meta, "hidden"),
			},
		},
		Author:         treewalk.String(meta, "author"),
		Certification:  certification(meta),
		CurrentVersion: version,
		Categories:     treewalk.Strings(meta, "categories"),
		Tags:           treewalk.Strings(meta, "tags"),
		Hidden:         treewalk.Bool(meta, "hidden"),
	}, nil
}

// certification defaults to certified for xsoar-supported packs.
func certification(meta map[string]any) string {
	if c := treewalk.String(meta, "certification"); c != "" {
		return c
	}
	if treewalk.String(meta, "support") == "xsoar" {
		return "certified"
	}
	return ""
}
