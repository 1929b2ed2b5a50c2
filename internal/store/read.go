package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/contentkit/contentgraph/internal/contenttype"
)

const nodeColumns = `n.id, n.node_id, n.content_type, n.object_id, n.name, n.path, n.description,
	n.fromversion, n.toversion, n.deprecated, n.not_in_repository, n.properties`

// Nodes returns the nodes matching where, written against alias n, with
// their marketplaces loaded.
func (s *Store) Nodes(ctx context.Context, where string, args ...any) ([]Node, error) {
	q := "SELECT " + nodeColumns + " FROM nodes n"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY n.id"
	rows, err := s.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadNodeMarketplaces(ctx, nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	defer rows.Close()
	var out []Node
	for rows.Next() {
		var (
			n                 Node
			ct, props         string
			deprecated, notIn int
		)
		if err := rows.Scan(&n.ID, &n.NodeID, &ct, &n.ObjectID, &n.Name, &n.Path, &n.Description,
			&n.FromVersion, &n.ToVersion, &deprecated, &notIn, &props); err != nil {
			return nil, err
		}
		n.ContentType = contenttype.ContentType(ct)
		n.Deprecated = deprecated == 1
		n.NotInRepository = notIn == 1
		if props != "" && props != "{}" {
			if err := json.Unmarshal([]byte(props), &n.Properties); err != nil {
				return nil, fmt.Errorf("node %s properties: %w", n.NodeID, err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) loadNodeMarketplaces(ctx context.Context, nodes []Node) error {
	if len(nodes) == 0 {
		return nil
	}
	byID := make(map[int64]*Node, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}
	rows, err := s.Query(ctx, "SELECT node, marketplace FROM node_marketplaces ORDER BY node, marketplace")
	if err != nil {
		return err
	}
	defer rows.Close()
	sets := make(map[int64]contenttype.MarketplaceSet)
	for rows.Next() {
		var id int64
		var m string
		if err := rows.Scan(&id, &m); err != nil {
			return err
		}
		if _, ok := byID[id]; !ok {
			continue
		}
		if sets[id] == nil {
			sets[id] = make(contenttype.MarketplaceSet)
		}
		sets[id][contenttype.Marketplace(m)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for id, set := range sets {
		byID[id].Marketplaces = set.Sorted()
	}
	return nil
}

// Relationships returns the edges matching where, written against alias r.
func (s *Store) Relationships(ctx context.Context, where string, args ...any) ([]Relationship, error) {
	q := "SELECT r.id, r.type, r.source_id, r.target_id, r.mandatorily, r.deprecated, r.description FROM relationships r"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY r.id"
	rows, err := s.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []Relationship
	func() {
		defer rows.Close()
		for rows.Next() {
			var (
				r           Relationship
				typ         string
				mandatorily sql.NullInt64
				deprecated  int
			)
			if err = rows.Scan(&r.ID, &typ, &r.SourceID, &r.TargetID, &mandatorily, &deprecated, &r.Description); err != nil {
				return
			}
			r.Type = contenttype.Relationship(typ)
			if mandatorily.Valid {
				r.Mandatorily = boolPtr(mandatorily.Int64 == 1)
			}
			r.Deprecated = deprecated == 1
			out = append(out, r)
		}
		err = rows.Err()
	}()
	if err != nil {
		return nil, err
	}
	if err := s.loadRelationshipMarketplaces(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadRelationshipMarketplaces(ctx context.Context, rels []Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	byID := make(map[int64]*Relationship, len(rels))
	for i := range rels {
		byID[rels[i].ID] = &rels[i]
	}
	rows, err := s.Query(ctx, "SELECT relationship, marketplace FROM relationship_marketplaces ORDER BY relationship, marketplace")
	if err != nil {
		return err
	}
	defer rows.Close()
	sets := make(map[int64]contenttype.MarketplaceSet)
	for rows.Next() {
		var id int64
		var m string
		if err := rows.Scan(&id, &m); err != nil {
			return err
		}
		if _, ok := byID[id]; !ok {
			continue
		}
		if sets[id] == nil {
			sets[id] = make(contenttype.MarketplaceSet)
		}
		sets[id][contenttype.Marketplace(m)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for id, set := range sets {
		byID[id].Marketplaces = set.Sorted()
	}
	return nil
}

// Counts returns the number of nodes and relationships.
func (s *Store) Counts(ctx context.Context) (nodes, edges int, err error) {
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&nodes); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM relationships").Scan(&edges); err != nil {
		return 0, 0, err
	}
	return nodes, edges, nil
}
