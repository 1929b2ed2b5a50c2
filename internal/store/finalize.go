package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/contentkit/contentgraph/internal/contenttype"
)

type ambiguousEdge struct {
	id           int64
	sourceID     int64
	mandatorily  sql.NullInt64
	target       string
	sourceNodeID string
	sourcePath   string
}

// ResolveAmbiguous re-points every USES_COMMAND_OR_SCRIPT edge as USES when
// exactly one command or script carries the called name. Edges with no or
// several candidates are left alone and reported.
func (s *Store) ResolveAmbiguous(ctx context.Context) (resolved int, ambiguous []Ambiguity, err error) {
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		resolved, ambiguous = 0, nil
		edges, err := s.ambiguousEdges(ctx, tx)
		if err != nil {
			return err
		}
		for _, e := range edges {
			names := []string{
				contenttype.NodeID(contenttype.Script, e.target),
				contenttype.NodeID(contenttype.Command, e.target),
			}
			cands, err := s.candidates(ctx, tx, names)
			if err != nil {
				return err
			}
			if len(cands) != 1 {
				a := Ambiguity{SourceNodeID: e.sourceNodeID, SourcePath: e.sourcePath, Target: e.target}
				for nodeID := range cands {
					a.Candidates = append(a.Candidates, nodeID)
				}
				ambiguous = append(ambiguous, a)
				continue
			}
			var ids []int64
			for _, v := range cands {
				ids = v
			}
			if _, err := s.exec(ctx, tx, "UPDATE relationships SET type = ?, target_id = ? WHERE id = ?",
				string(contenttype.Uses), ids[0], e.id); err != nil {
				return err
			}
			for _, extra := range ids[1:] {
				rel := Relationship{Type: contenttype.Uses, SourceID: e.sourceID, TargetID: extra}
				if e.mandatorily.Valid {
					rel.Mandatorily = boolPtr(e.mandatorily.Int64 == 1)
				}
				if _, err := s.insertRelationship(ctx, tx, rel); err != nil {
					return err
				}
			}
			resolved++
		}
		return nil
	})
	return resolved, ambiguous, err
}

func (s *Store) ambiguousEdges(ctx context.Context, q querier) ([]ambiguousEdge, error) {
	rows, err := q.QueryContext(ctx, s.Rebind(`SELECT r.id, r.source_id, r.mandatorily, t.object_id, src.node_id, src.path
		FROM relationships r
		JOIN nodes t ON t.id = r.target_id
		JOIN nodes src ON src.id = r.source_id
		WHERE r.type = ?
		ORDER BY r.id`), string(contenttype.UsesCommandOrScript))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ambiguousEdge
	for rows.Next() {
		var e ambiguousEdge
		if err := rows.Scan(&e.id, &e.sourceID, &e.mandatorily, &e.target, &e.sourceNodeID, &e.sourcePath); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// candidates groups stored, non-placeholder node ids by node id.
func (s *Store) candidates(ctx context.Context, q querier, nodeIDs []string) (map[string][]int64, error) {
	rows, err := q.QueryContext(ctx, s.Rebind(`SELECT id, node_id FROM nodes
		WHERE not_in_repository = 0 AND node_id IN (`+placeholders(len(nodeIDs))+`)
		ORDER BY id`), stringArgs(nodeIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]int64)
	for rows.Next() {
		var id int64
		var nodeID string
		if err := rows.Scan(&id, &nodeID); err != nil {
			return nil, err
		}
		out[nodeID] = append(out[nodeID], id)
	}
	return out, rows.Err()
}

// DetachCommands turns commands no integration exposes any more into
// placeholders, keeping the edges that still point at them.
func (s *Store) DetachCommands(ctx context.Context) (int64, error) {
	res, err := s.Exec(ctx, `UPDATE nodes SET not_in_repository = 1
		WHERE content_type = ? AND not_in_repository = 0
		AND NOT EXISTS (SELECT 1 FROM relationships r WHERE r.target_id = nodes.id AND r.type = ?)`,
		string(contenttype.Command), string(contenttype.HasCommand))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RefreshCommandMarketplaces sets every command's marketplaces to the union
// of the integrations that expose it. Commands nothing exposes keep none.
func (s *Store) RefreshCommandMarketplaces(ctx context.Context) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, "DELETE FROM node_marketplaces WHERE node IN (SELECT id FROM nodes WHERE content_type = ?)",
			string(contenttype.Command)); err != nil {
			return fmt.Errorf("clear command marketplaces: %w", err)
		}
		_, err := s.exec(ctx, tx, `INSERT INTO node_marketplaces (node, marketplace)
			SELECT DISTINCT r.target_id, m.marketplace FROM relationships r
			JOIN node_marketplaces m ON m.node = r.source_id
			WHERE r.type = ?`, string(contenttype.HasCommand))
		if err != nil {
			return fmt.Errorf("command marketplaces: %w", err)
		}
		return nil
	})
}

// Reset empties the graph. Schema objects are kept.
func (s *Store) Reset(ctx context.Context) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"relationship_marketplaces", "relationships", "node_labels", "node_marketplaces", "nodes"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// RemoveOrphanPlaceholders deletes placeholders no edge touches.
func (s *Store) RemoveOrphanPlaceholders(ctx context.Context) (int, error) {
	var removed int
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		ids, err := s.queryIDs(ctx, tx, `SELECT id FROM nodes WHERE not_in_repository = 1
			AND NOT EXISTS (SELECT 1 FROM relationships r WHERE r.source_id = nodes.id OR r.target_id = nodes.id)`)
		if err != nil {
			return err
		}
		removed = len(ids)
		return s.deleteNodes(ctx, tx, ids)
	})
	return removed, err
}

// DeletePacks removes the given packs and every item they own. Edges from
// items of other packs into the removed items are returned so they can be
// written again once the packs are re-parsed.
func (s *Store) DeletePacks(ctx context.Context, packIDs []string) ([]DependencyWrite, error) {
	if len(packIDs) == 0 {
		return nil, nil
	}
	var incoming []DependencyWrite
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		incoming = nil
		packs, err := s.queryIDs(ctx, tx, "SELECT id FROM nodes WHERE content_type = ? AND object_id IN ("+placeholders(len(packIDs))+")",
			append([]any{string(contenttype.Pack)}, stringArgs(packIDs)...)...)
		if err != nil || len(packs) == 0 {
			return err
		}
		items, err := s.queryIDs(ctx, tx, "SELECT source_id FROM relationships WHERE type = ? AND target_id IN ("+placeholders(len(packs))+")",
			append([]any{string(contenttype.InPack)}, int64Args(packs)...)...)
		if err != nil {
			return err
		}
		removed := append(packs, items...)

		incoming, err = s.incomingEdges(ctx, tx, removed)
		if err != nil {
			return err
		}
		return s.deleteNodes(ctx, tx, removed)
	})
	return incoming, err
}

func (s *Store) incomingEdges(ctx context.Context, q querier, removed []int64) ([]DependencyWrite, error) {
	in := placeholders(len(removed))
	args := append(int64Args(removed), int64Args(removed)...)
	args = append(args, string(contenttype.Uses), string(contenttype.UsesCommandOrScript), string(contenttype.TestedBy))
	rows, err := q.QueryContext(ctx, s.Rebind(`SELECT r.type, src.path, t.content_type, t.object_id, r.mandatorily
		FROM relationships r
		JOIN nodes src ON src.id = r.source_id
		JOIN nodes t ON t.id = r.target_id
		WHERE r.target_id IN (`+in+`) AND r.source_id NOT IN (`+in+`)
		AND r.type IN (?, ?, ?) AND src.not_in_repository = 0
		ORDER BY r.id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DependencyWrite
	for rows.Next() {
		var (
			d           DependencyWrite
			rel, ct     string
			mandatorily sql.NullInt64
		)
		if err := rows.Scan(&rel, &d.SourcePath, &ct, &d.TargetObjectID, &mandatorily); err != nil {
			return nil, err
		}
		d.Type = contenttype.Relationship(rel)
		d.TargetType = contenttype.ContentType(ct)
		d.Mandatorily = mandatorily.Valid && mandatorily.Int64 == 1
		out = append(out, d)
	}
	return out, rows.Err()
}

// deleteNodes removes nodes with their labels, marketplaces and every edge
// touching them.
func (s *Store) deleteNodes(ctx context.Context, q querier, ids []int64) error {
	for start := 0; start < len(ids); start += 200 {
		end := start + 200
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		in := placeholders(len(chunk))
		args := int64Args(chunk)
		both := append(append([]any{}, args...), args...)
		stmts := []struct {
			query string
			args  []any
		}{
			{"DELETE FROM relationship_marketplaces WHERE relationship IN (SELECT id FROM relationships WHERE source_id IN (" + in + ") OR target_id IN (" + in + "))", both},
			{"DELETE FROM relationships WHERE source_id IN (" + in + ") OR target_id IN (" + in + ")", both},
			{"DELETE FROM node_labels WHERE node IN (" + in + ")", args},
			{"DELETE FROM node_marketplaces WHERE node IN (" + in + ")", args},
			{"DELETE FROM nodes WHERE id IN (" + in + ")", args},
		}
		for _, st := range stmts {
			if _, err := s.exec(ctx, q, st.query, st.args...); err != nil {
				return fmt.Errorf("delete nodes: %w", err)
			}
		}
	}
	return nil
}
