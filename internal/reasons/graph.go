package reasons

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/contentkit/contentgraph/internal/contenttype"
)

type node struct {
	nodeID string
	path   string
}

type edge struct {
	to          int64
	typ         contenttype.Relationship
	mandatorily *bool
}

// graph is the part of the store a query may walk: nodes in the requested
// marketplace and the edges between them.
type graph struct {
	nodes map[int64]node
	out   map[int64][]edge
}

func (e *Engine) load(ctx context.Context, q Query) (*graph, error) {
	g := &graph{nodes: make(map[int64]node), out: make(map[int64][]edge)}

	nq := "SELECT n.id, n.node_id, n.path FROM nodes n"
	var nargs []any
	if q.Marketplace != "" {
		nq += " JOIN node_marketplaces m ON m.node = n.id WHERE m.marketplace = ?"
		nargs = append(nargs, string(q.Marketplace))
	}
	rows, err := e.st.Query(ctx, nq, nargs...)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	for rows.Next() {
		var (
			id int64
			n  node
		)
		if err := rows.Scan(&id, &n.nodeID, &n.path); err != nil {
			rows.Close()
			return nil, err
		}
		g.nodes[id] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	types := []any{string(contenttype.Uses), string(contenttype.DependsOn)}
	if q.IncludeTests {
		types = append(types, string(contenttype.TestedBy))
	}
	rq := "SELECT r.source_id, r.target_id, r.type, r.mandatorily FROM relationships r WHERE r.type IN (" + marks(len(types)) + ")"
	if q.MandatoryOnly {
		rq += " AND r.mandatorily = 1"
	}
	rq += " ORDER BY r.id"
	rows, err = e.st.Query(ctx, rq, types...)
	if err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			from, to int64
			typ      string
			mand     sql.NullInt64
		)
		if err := rows.Scan(&from, &to, &typ, &mand); err != nil {
			return nil, err
		}
		if _, ok := g.nodes[from]; !ok {
			continue
		}
		if _, ok := g.nodes[to]; !ok {
			continue
		}
		ed := edge{to: to, typ: contenttype.Relationship(typ)}
		if mand.Valid {
			v := mand.Int64 == 1
			ed.mandatorily = &v
		}
		g.out[from] = append(g.out[from], ed)
	}
	return g, rows.Err()
}

type step struct {
	from int64
	edge edge
}

// shortest finds every shortest chain from origin to a goal node, walking
// at most maxDepth edges.
func (g *graph) shortest(origin int64, goal map[int64]bool, maxDepth int) (PathRecord, bool) {
	if _, ok := g.nodes[origin]; !ok {
		return PathRecord{}, false
	}
	dist := map[int64]int{origin: 0}
	preds := make(map[int64][]step)
	frontier := []int64{origin}
	var reached []int64
	for depth := 1; depth <= maxDepth && len(frontier) > 0 && len(reached) == 0; depth++ {
		var next []int64
		for _, id := range frontier {
			for _, ed := range g.out[id] {
				d, seen := dist[ed.to]
				if seen && d < depth {
					continue
				}
				if !seen {
					dist[ed.to] = depth
					next = append(next, ed.to)
					if goal[ed.to] {
						reached = append(reached, ed.to)
					}
				}
				preds[ed.to] = append(preds[ed.to], step{from: id, edge: ed})
			}
		}
		frontier = next
	}
	if len(reached) == 0 {
		return PathRecord{}, false
	}

	var paths []Path
	for _, target := range reached {
		g.unwind(origin, target, preds, nil, &paths)
	}
	sort.SliceStable(paths, func(i, j int) bool { return RenderPath(paths[i]) < RenderPath(paths[j]) })
	if len(paths) > maxPathsPerRecord {
		paths = paths[:maxPathsPerRecord]
	}

	rec := PathRecord{
		FilePath: g.nodes[origin].path,
		MinDepth: dist[reached[0]],
		Paths:    paths,
	}
	agreed := paths[0].Mandatorily
	for _, p := range paths[1:] {
		if p.Mandatorily != agreed {
			return rec, true
		}
	}
	rec.Mandatorily = &agreed
	return rec, true
}

// unwind walks predecessor links back from cur to origin. tail holds the
// steps already taken, nearest the target last.
func (g *graph) unwind(origin, cur int64, preds map[int64][]step, tail []step, out *[]Path) {
	if len(*out) >= maxPathsPerRecord {
		return
	}
	if cur == origin {
		*out = append(*out, g.path(origin, tail))
		return
	}
	for _, s := range preds[cur] {
		next := make([]step, 0, len(tail)+1)
		next = append(next, step{from: s.from, edge: edge{to: cur, typ: s.edge.typ, mandatorily: s.edge.mandatorily}})
		next = append(next, tail...)
		g.unwind(origin, s.from, preds, next, out)
	}
}

func (g *graph) path(origin int64, steps []step) Path {
	p := Path{Mandatorily: true}
	p.Elements = append(p.Elements, g.element(origin))
	for _, s := range steps {
		if s.edge.mandatorily == nil || !*s.edge.mandatorily {
			p.Mandatorily = false
		}
		p.Elements = append(p.Elements,
			PathElement{Relationship: s.edge.typ, Mandatorily: s.edge.mandatorily},
			g.element(s.edge.to))
	}
	return p
}

func (g *graph) element(id int64) PathElement {
	n := g.nodes[id]
	return PathElement{NodeID: n.nodeID, Path: n.path}
}

func marks(n int) string {
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}
