package graph

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/dependencies"
	"github.com/contentkit/contentgraph/internal/parser"
	"github.com/contentkit/contentgraph/internal/store"
	"github.com/contentkit/contentgraph/internal/treewalk"
)

// Repository is the graph as seen from one marketplace.
type Repository struct {
	Marketplace contenttype.Marketplace `json:"marketplace"`
	Packs       []Pack                  `json:"packs"`
}

type Pack struct {
	store.Node
	Items        []Item                        `json:"content_items"`
	Dependencies []dependencies.PackDependency `json:"dependencies,omitempty"`
}

type Item struct {
	store.Node
	Commands []string `json:"commands,omitempty"`
	Uses     []Usage  `json:"uses,omitempty"`
}

type Usage struct {
	NodeID      string `json:"node_id"`
	Mandatorily bool   `json:"mandatorily"`
}

// Pack returns the pack with the given id, or nil.
func (r *Repository) Pack(id string) *Pack {
	for i := range r.Packs {
		if r.Packs[i].ObjectID == id {
			return &r.Packs[i]
		}
	}
	return nil
}

const inMarketplace = "n.id IN (SELECT node FROM node_marketplaces WHERE marketplace = ?)"

// MarshalGraph loads the packs, items and pack dependencies available in
// marketplace m.
func (g *Interface) MarshalGraph(ctx context.Context, m contenttype.Marketplace) (*Repository, error) {
	packs, err := g.st.Nodes(ctx, "n.content_type = ? AND "+inMarketplace, string(contenttype.Pack), string(m))
	if err != nil {
		return nil, fmt.Errorf("marshal packs: %w", err)
	}
	items, err := g.st.Nodes(ctx, "n.content_type NOT IN (?, ?) AND n.not_in_repository = 0 AND "+inMarketplace,
		string(contenttype.Pack), string(contenttype.Command), string(m))
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	all, err := g.st.Nodes(ctx, "")
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]store.Node, len(all))
	for _, n := range all {
		byID[n.ID] = n
	}
	rels, err := g.st.Relationships(ctx, "r.type IN (?, ?, ?)",
		string(contenttype.InPack), string(contenttype.HasCommand), string(contenttype.Uses))
	if err != nil {
		return nil, fmt.Errorf("marshal relationships: %w", err)
	}

	owner := make(map[int64]int64)
	commands := make(map[int64][]string)
	uses := make(map[int64][]Usage)
	for _, r := range rels {
		switch r.Type {
		case contenttype.InPack:
			owner[r.SourceID] = r.TargetID
		case contenttype.HasCommand:
			commands[r.SourceID] = append(commands[r.SourceID], byID[r.TargetID].ObjectID)
		case contenttype.Uses:
			uses[r.SourceID] = append(uses[r.SourceID], Usage{
				NodeID:      byID[r.TargetID].NodeID,
				Mandatorily: r.Mandatorily != nil && *r.Mandatorily,
			})
		}
	}

	deps, err := dependencies.New(g.st, g.log).PackDependencies(ctx, m)
	if err != nil {
		return nil, err
	}
	repo := &Repository{Marketplace: m, Packs: make([]Pack, 0, len(packs))}
	index := make(map[int64]int, len(packs))
	for _, p := range packs {
		index[p.ID] = len(repo.Packs)
		pk := Pack{Node: p}
		for _, d := range deps {
			if d.Source == p.ObjectID {
				pk.Dependencies = append(pk.Dependencies, d)
			}
		}
		repo.Packs = append(repo.Packs, pk)
	}
	for _, n := range items {
		i, ok := index[owner[n.ID]]
		if !ok {
			continue
		}
		sort.Strings(commands[n.ID])
		repo.Packs[i].Items = append(repo.Packs[i].Items, Item{Node: n, Commands: commands[n.ID], Uses: uses[n.ID]})
	}
	sort.Slice(repo.Packs, func(i, j int) bool { return repo.Packs[i].ObjectID < repo.Packs[j].ObjectID })
	for _, p := range repo.Packs {
		sort.Slice(p.Items, func(i, j int) bool { return p.Items[i].NodeID < p.Items[j].NodeID })
	}
	return repo, nil
}

// PrepareForUpload reads an item's file and returns the document as it is
// uploaded to marketplace m.
func (g *Interface) PrepareForUpload(ctx context.Context, nodeID string, m contenttype.Marketplace) (map[string]any, error) {
	nodes, err := g.st.Nodes(ctx, "n.node_id = ? AND n.not_in_repository = 0", nodeID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%s: not in the graph", nodeID)
	}
	n := nodes[0]
	data, err := parser.Load(filepath.Join(g.cfg.RepoPath, filepath.FromSlash(n.Path)))
	if err != nil {
		return nil, err
	}
	return PrepareForUpload(n, data, m), nil
}

// PrepareForUpload applies the per-marketplace rewrites to a decoded item.
// Layouts get their server version range, and on marketplacev2 the related
// incidents widget is renamed for alerts. data is not modified.
func PrepareForUpload(n store.Node, data map[string]any, m contenttype.Marketplace) map[string]any {
	out, _ := treewalk.Transform(data, func(map[string]any) bool { return false }, nil).(map[string]any)
	if n.ContentType != contenttype.Layout {
		return out
	}
	out["fromServerVersion"] = n.FromVersion
	out["toServerVersion"] = n.ToVersion
	if m == contenttype.MarketplaceV2 {
		out, _ = treewalk.Transform(out, isRelatedIncidents, renameForAlerts).(map[string]any)
	}
	return out
}

func isRelatedIncidents(m map[string]any) bool {
	_, hasX2 := m["name_x2"]
	return treewalk.String(m, "id") == "relatedIncidents" &&
		treewalk.String(m, "name") == "Related Incidents" &&
		(!hasX2 || m["name_x2"] == nil)
}

func renameForAlerts(m map[string]any) map[string]any {
	m["name"] = "Related Alerts"
	return m
}
