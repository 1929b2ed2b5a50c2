// Package dependencies infers pack-level DEPENDS_ON relationships from the
// item-level USES graph. It runs after a build has loaded every node and
// edge.
package dependencies

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/logging"
	"github.com/contentkit/contentgraph/internal/metrics"
	"github.com/contentkit/contentgraph/internal/store"
)

// IgnoredPacks never take part in pack dependencies.
var IgnoredPacks = []string{"NonSupported", "Base", "ApiModules"}

// ReputationCommands are served by many integrations, so using one says
// nothing about which pack is needed.
var ReputationCommands = []string{"ip", "domain", "url", "file", "email", "cve", "endpoint"}

// maxRepairPasses bounds the fixed-point loop. Each pass removes at least one
// marketplace tag, so a graph never needs more passes than it has tags.
const maxRepairPasses = 64

// Removal is one item dropped from a marketplace, with the dependencies that
// are unavailable there.
type Removal struct {
	NodeID      string
	Marketplace contenttype.Marketplace
	Reasons     []string
}

// Result summarizes one inference run.
type Result struct {
	Removals  []Removal
	DependsOn int
}

type Engine struct {
	st  *store.Store
	log *logging.Logger
}

func New(st *store.Store, log *logging.Logger) *Engine {
	return &Engine{st: st, log: log}
}

// Run repairs marketplaces, then collapses item edges into pack edges.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	removals, err := e.RepairMarketplaces(ctx)
	if err != nil {
		return nil, err
	}
	n, err := e.CollapsePacks(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{Removals: removals, DependsOn: n}, nil
}

// reachable lists (item, dependency) pairs joined by a mandatory USES path
// of any length.
const reachable = `WITH RECURSIVE reach(src, dst) AS (
	SELECT source_id, target_id FROM relationships WHERE type = 'USES' AND mandatorily = 1
	UNION
	SELECT reach.src, r.target_id FROM reach
	JOIN relationships r ON r.source_id = reach.dst AND r.type = 'USES' AND r.mandatorily = 1
)`

// unavailable restricts reach to dependencies missing from a marketplace
// with no same-id substitute there. Placeholders are not evidence.
const unavailable = `FROM reach
	JOIN node_marketplaces im ON im.node = reach.src AND im.marketplace = ?
	JOIN nodes item ON item.id = reach.src
	JOIN nodes dep ON dep.id = reach.dst
	WHERE dep.not_in_repository = 0
	AND NOT EXISTS (
		SELECT 1 FROM nodes alt
		JOIN node_marketplaces am ON am.node = alt.id AND am.marketplace = ?
		WHERE alt.node_id = dep.node_id
	)`

// RepairMarketplaces removes a marketplace from every item whose mandatory
// dependencies are unavailable there. Passes repeat until nothing changes,
// so a second call on an unchanged graph removes nothing.
func (e *Engine) RepairMarketplaces(ctx context.Context) ([]Removal, error) {
	var out []Removal
	for _, m := range contenttype.AllMarketplaces() {
		removed, err := e.repairMarketplace(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("repair %s: %w", m, err)
		}
		if len(removed) > 0 {
			metrics.MarketplaceRemoved.WithLabelValues(string(m)).Add(float64(len(removed)))
		}
		e.log.Infow("marketplace repaired", "marketplace", m, "removed", len(removed))
		out = append(out, removed...)
	}
	return out, nil
}

func (e *Engine) repairMarketplace(ctx context.Context, m contenttype.Marketplace) ([]Removal, error) {
	var out []Removal
	for pass := 0; pass < maxRepairPasses; pass++ {
		var removed []Removal
		err := e.st.Tx(ctx, func(tx *sql.Tx) error {
			var err error
			removed, err = e.repairPass(ctx, tx, m)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(removed) == 0 {
			return out, nil
		}
		e.log.Debugw("repair pass", "marketplace", m, "pass", pass, "removed", len(removed))
		out = append(out, removed...)
	}
	e.log.Warnw("marketplace repair did not converge", "marketplace", m, "passes", maxRepairPasses)
	return out, nil
}

func (e *Engine) repairPass(ctx context.Context, tx *sql.Tx, m contenttype.Marketplace) ([]Removal, error) {
	rows, err := tx.QueryContext(ctx, e.st.Rebind(reachable+`
	SELECT DISTINCT item.node_id, item.id, dep.node_id `+unavailable+`
	ORDER BY item.id, dep.node_id`), string(m), string(m))
	if err != nil {
		return nil, err
	}
	var (
		order   []int64
		byID    = make(map[int64]*Removal)
		scanErr error
	)
	func() {
		defer rows.Close()
		for rows.Next() {
			var (
				nodeID, reason string
				id             int64
			)
			if scanErr = rows.Scan(&nodeID, &id, &reason); scanErr != nil {
				return
			}
			r, ok := byID[id]
			if !ok {
				r = &Removal{NodeID: nodeID, Marketplace: m}
				byID[id] = r
				order = append(order, id)
			}
			r.Reasons = append(r.Reasons, reason)
		}
		scanErr = rows.Err()
	}()
	if scanErr != nil {
		return nil, scanErr
	}
	if len(order) == 0 {
		return nil, nil
	}

	args := []any{string(m)}
	for _, id := range order {
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx, e.st.Rebind(
		"DELETE FROM node_marketplaces WHERE marketplace = ? AND node IN ("+placeholders(len(order))+")"), args...); err != nil {
		return nil, err
	}
	out := make([]Removal, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// membership maps every item to its pack. Commands belong to the packs of
// the integrations exposing them.
const membership = `membership(item, pack) AS (
	SELECT source_id, target_id FROM relationships WHERE type = 'IN_PACK'
	UNION
	SELECT hc.target_id, ip.target_id FROM relationships hc
	JOIN relationships ip ON ip.source_id = hc.source_id AND ip.type = 'IN_PACK'
	WHERE hc.type = 'HAS_COMMAND'
)`

// CollapsePacks recomputes DEPENDS_ON. Previous pack edges are derived data
// and are dropped first. When several item edges link the same pack pair,
// the one written last decides mandatorily.
func (e *Engine) CollapsePacks(ctx context.Context) (int, error) {
	ignoredPacks := stringArgs(IgnoredPacks)
	var ignoredItems []any
	for _, c := range ReputationCommands {
		ignoredItems = append(ignoredItems, contenttype.NodeID(contenttype.Command, c))
	}

	// Optional USES edges count too and yield DEPENDS_ON with mandatorily false.
	candidates := `candidates(uid, pa, pb, mandatorily) AS (
	SELECT u.id, pa.id, pb.id, COALESCE(u.mandatorily, 0) FROM relationships u
	JOIN membership ma ON ma.item = u.source_id
	JOIN membership mb ON mb.item = u.target_id
	JOIN nodes pa ON pa.id = ma.pack
	JOIN nodes pb ON pb.id = mb.pack
	JOIN nodes a ON a.id = u.source_id
	JOIN nodes b ON b.id = u.target_id
	WHERE u.type = 'USES'
	AND pa.id <> pb.id
	AND pa.object_id NOT IN (` + placeholders(len(ignoredPacks)) + `)
	AND pb.object_id NOT IN (` + placeholders(len(ignoredPacks)) + `)
	AND a.node_id NOT IN (` + placeholders(len(ignoredItems)) + `)
	AND b.node_id NOT IN (` + placeholders(len(ignoredItems)) + `)
	AND EXISTS (
		SELECT 1 FROM node_marketplaces x
		JOIN node_marketplaces y ON y.marketplace = x.marketplace
		WHERE x.node = pa.id AND y.node = pb.id
	)
)`
	var args []any
	args = append(args, ignoredPacks...)
	args = append(args, ignoredPacks...)
	args = append(args, ignoredItems...)
	args = append(args, ignoredItems...)

	created := 0
	err := e.st.Tx(ctx, func(tx *sql.Tx) error {
		stmts := []struct {
			q    string
			args []any
		}{
			{q: "DELETE FROM relationship_marketplaces WHERE relationship IN (SELECT id FROM relationships WHERE type = 'DEPENDS_ON')"},
			{q: "DELETE FROM relationships WHERE type = 'DEPENDS_ON'"},
			{
				q: "WITH " + membership + ",\n" + candidates + `
	INSERT INTO relationships (type, source_id, target_id, mandatorily)
	SELECT 'DEPENDS_ON', c.pa, c.pb, c.mandatorily FROM candidates c
	WHERE c.uid = (SELECT MAX(c2.uid) FROM candidates c2 WHERE c2.pa = c.pa AND c2.pb = c.pb)
	ORDER BY c.pa, c.pb`,
				args: args,
			},
			{q: `INSERT INTO relationship_marketplaces (relationship, marketplace)
	SELECT d.id, x.marketplace FROM relationships d
	JOIN node_marketplaces x ON x.node = d.source_id
	JOIN node_marketplaces y ON y.node = d.target_id AND y.marketplace = x.marketplace
	WHERE d.type = 'DEPENDS_ON'`},
		}
		for i, s := range stmts {
			res, err := tx.ExecContext(ctx, e.st.Rebind(s.q), s.args...)
			if err != nil {
				return fmt.Errorf("collapse step %d: %w", i, err)
			}
			if i == 2 {
				n, err := res.RowsAffected()
				if err != nil {
					return err
				}
				created = int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.PackDependencies.Set(float64(created))
	metrics.EdgesTotal.WithLabelValues(string(contenttype.DependsOn)).Add(float64(created))
	e.log.Infow("pack dependencies created", "depends_on", created)
	return created, nil
}

// PackDependency is one DEPENDS_ON edge in terms of pack ids.
type PackDependency struct {
	Source       string                    `json:"source"`
	Target       string                    `json:"target"`
	Mandatorily  bool                      `json:"mandatorily"`
	Marketplaces []contenttype.Marketplace `json:"marketplaces"`
}

// PackDependencies lists the current DEPENDS_ON edges, optionally limited to
// one marketplace.
func (e *Engine) PackDependencies(ctx context.Context, m contenttype.Marketplace) ([]PackDependency, error) {
	rels, err := e.st.Relationships(ctx, "r.type = ?", string(contenttype.DependsOn))
	if err != nil {
		return nil, err
	}
	packs, err := e.st.Nodes(ctx, "n.content_type = ?", string(contenttype.Pack))
	if err != nil {
		return nil, err
	}
	ids := make(map[int64]string, len(packs))
	for _, p := range packs {
		ids[p.ID] = p.ObjectID
	}
	var out []PackDependency
	for _, r := range rels {
		if m != "" && !contenttype.NewMarketplaceSet(r.Marketplaces...).Has(m) {
			continue
		}
		d := PackDependency{Source: ids[r.SourceID], Target: ids[r.TargetID], Marketplaces: r.Marketplaces}
		if r.Mandatorily != nil {
			d.Mandatorily = *r.Mandatorily
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
