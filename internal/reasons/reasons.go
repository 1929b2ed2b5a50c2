// Package reasons explains a pack dependency: it finds the item-level
// chains that lead from the items of one pack to the items of another.
package reasons

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/logging"
	"github.com/contentkit/contentgraph/internal/store"
	"github.com/contentkit/contentgraph/internal/telemetry"
)

// OutputFile is the name WriteJSON gives the records it writes.
const OutputFile = "get_dependencies_reasons_outputs.json"

// DefaultMaxDepth bounds the length of an explanatory chain.
const DefaultMaxDepth = 10

// maxPathsPerRecord caps how many equally short chains one item reports.
const maxPathsPerRecord = 100

type Query struct {
	Source string
	Target string
	// Marketplace restricts every node on a chain. Empty allows all.
	Marketplace   contenttype.Marketplace
	MandatoryOnly bool
	IncludeTests  bool
}

// PathElement is either a node (Relationship empty) or the edge between
// the nodes around it.
type PathElement struct {
	NodeID       string                   `json:"node_id,omitempty"`
	Path         string                   `json:"path,omitempty"`
	Relationship contenttype.Relationship `json:"relationship,omitempty"`
	Mandatorily  *bool                    `json:"mandatorily,omitempty"`
}

func (e PathElement) IsNode() bool { return e.Relationship == "" }

type Path struct {
	Mandatorily bool          `json:"mandatorily"`
	Elements    []PathElement `json:"path"`
}

// PathRecord groups the shortest chains starting at one item. Mandatorily
// is nil when those chains disagree.
type PathRecord struct {
	FilePath    string `json:"filepath"`
	MinDepth    int    `json:"minDepth"`
	Mandatorily *bool  `json:"mandatorily"`
	IsSource    bool   `json:"is_source"`
	Paths       []Path `json:"paths"`
}

type Engine struct {
	st       *store.Store
	log      *logging.Logger
	maxDepth int
}

func New(st *store.Store, maxDepth int, log *logging.Logger) *Engine {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Engine{st: st, log: log, maxDepth: maxDepth}
}

// Get returns the chains from Source to Target (IsSource set) followed by
// the chains from Target to Source. No chain is not an error.
func (e *Engine) Get(ctx context.Context, q Query) (out []PathRecord, err error) {
	ctx, end := telemetry.Phase(ctx, "dependencies_reasons",
		attribute.String("source", q.Source), attribute.String("target", q.Target))
	defer func() { end(err) }()

	g, err := e.load(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, dir := range []struct {
		from, to string
		isSource bool
	}{{q.Source, q.Target, true}, {q.Target, q.Source, false}} {
		origins, err := e.members(ctx, dir.from, false)
		if err != nil {
			return nil, err
		}
		targets, err := e.members(ctx, dir.to, true)
		if err != nil {
			return nil, err
		}
		goal := make(map[int64]bool, len(targets))
		for _, id := range targets {
			goal[id] = true
		}
		for _, id := range origins {
			rec, ok := g.shortest(id, goal, e.maxDepth)
			if !ok {
				continue
			}
			rec.IsSource = dir.isSource
			out = append(out, rec)
		}
	}
	e.log.Infow("dependency reasons", "source", q.Source, "target", q.Target, "records", len(out))
	return out, nil
}

// members returns the item ids of a pack. With commands set, commands its
// integrations expose count as members too.
func (e *Engine) members(ctx context.Context, packID string, commands bool) ([]int64, error) {
	q := `SELECT r.source_id FROM relationships r JOIN nodes p ON p.id = r.target_id
		WHERE r.type = ? AND p.content_type = ? AND p.object_id = ?`
	args := []any{string(contenttype.InPack), string(contenttype.Pack), packID}
	if commands {
		q += ` UNION SELECT hc.target_id FROM relationships hc
			JOIN relationships ip ON ip.source_id = hc.source_id AND ip.type = ?
			JOIN nodes p ON p.id = ip.target_id
			WHERE hc.type = ? AND p.content_type = ? AND p.object_id = ?`
		args = append(args, string(contenttype.InPack), string(contenttype.HasCommand), string(contenttype.Pack), packID)
	}
	rows, err := e.st.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", packID, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
