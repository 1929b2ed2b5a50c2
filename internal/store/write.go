package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/contentkit/contentgraph/internal/contenttype"
)

// WriteItems stores nodes and their local edges in one transaction. Packs
// referenced by ItemWrite.Pack must already be stored.
func (s *Store) WriteItems(ctx context.Context, items []ItemWrite) (int, error) {
	edges := 0
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		edges = 0
		packs := make(map[string]int64)
		for _, it := range items {
			id, err := s.insertNode(ctx, tx, it.Node)
			if err != nil {
				return fmt.Errorf("insert %s: %w", it.Node.NodeID, err)
			}
			if it.Pack != "" {
				packID, ok := packs[it.Pack]
				if !ok {
					err := tx.QueryRowContext(ctx, s.Rebind(
						"SELECT id FROM nodes WHERE content_type = ? AND node_id = ?"),
						string(contenttype.Pack), it.Pack).Scan(&packID)
					if err != nil {
						return fmt.Errorf("pack %s of %s: %w", it.Pack, it.Node.NodeID, err)
					}
					packs[it.Pack] = packID
				}
				if _, err := s.insertRelationship(ctx, tx, Relationship{Type: contenttype.InPack, SourceID: id, TargetID: packID}); err != nil {
					return err
				}
				edges++
			}
			for _, c := range it.Commands {
				cmdID, err := s.ensureCommand(ctx, tx, c.Name, it.Node.Marketplaces)
				if err != nil {
					return fmt.Errorf("command %s: %w", c.Name, err)
				}
				rel := Relationship{
					Type:        contenttype.HasCommand,
					SourceID:    id,
					TargetID:    cmdID,
					Deprecated:  c.Deprecated,
					Description: c.Description,
				}
				if _, err := s.insertRelationship(ctx, tx, rel); err != nil {
					return err
				}
				edges++
			}
		}
		return nil
	})
	return edges, err
}

func (s *Store) insertNode(ctx context.Context, q querier, n Node) (int64, error) {
	props := n.Properties
	if props == nil {
		props = map[string]any{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return 0, fmt.Errorf("encode properties: %w", err)
	}
	id, err := s.insertID(ctx, q, `INSERT INTO nodes
		(node_id, content_type, object_id, name, path, description, fromversion, toversion, deprecated, not_in_repository, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.NodeID, string(n.ContentType), n.ObjectID, n.Name, n.Path, n.Description,
		orDefault(n.FromVersion, "0.0.0"), orDefault(n.ToVersion, "99.99.99"),
		boolInt(n.Deprecated), boolInt(n.NotInRepository), string(b))
	if err != nil {
		return 0, err
	}
	for _, l := range n.ContentType.Labels() {
		if _, err := s.exec(ctx, q, "INSERT INTO node_labels (node, label) VALUES (?, ?) ON CONFLICT DO NOTHING", id, l); err != nil {
			return 0, err
		}
	}
	if err := s.addMarketplaces(ctx, q, id, n.Marketplaces); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) addMarketplaces(ctx context.Context, q querier, id int64, ms []contenttype.Marketplace) error {
	for _, m := range ms {
		if _, err := s.exec(ctx, q, "INSERT INTO node_marketplaces (node, marketplace) VALUES (?, ?) ON CONFLICT DO NOTHING", id, string(m)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertRelationship(ctx context.Context, q querier, r Relationship) (int64, error) {
	var mandatorily any
	if r.Mandatorily != nil {
		mandatorily = boolInt(*r.Mandatorily)
	}
	id, err := s.insertID(ctx, q,
		"INSERT INTO relationships (type, source_id, target_id, mandatorily, deprecated, description) VALUES (?, ?, ?, ?, ?, ?)",
		string(r.Type), r.SourceID, r.TargetID, mandatorily, boolInt(r.Deprecated), r.Description)
	if err != nil {
		return 0, fmt.Errorf("insert %s edge: %w", r.Type, err)
	}
	for _, m := range r.Marketplaces {
		if _, err := s.exec(ctx, q, "INSERT INTO relationship_marketplaces (relationship, marketplace) VALUES (?, ?) ON CONFLICT DO NOTHING", id, string(m)); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// ensureCommand returns the shared node of a command, creating it on first
// use. Every integration exposing the command widens its marketplaces.
func (s *Store) ensureCommand(ctx context.Context, q querier, name string, ms []contenttype.Marketplace) (int64, error) {
	nodeID := contenttype.NodeID(contenttype.Command, name)
	var id int64
	err := q.QueryRowContext(ctx, s.Rebind("SELECT id FROM nodes WHERE content_type = ? AND node_id = ?"),
		string(contenttype.Command), nodeID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.insertNode(ctx, q, Node{
			NodeID:       nodeID,
			ContentType:  contenttype.Command,
			ObjectID:     name,
			Name:         name,
			Marketplaces: ms,
		})
	case err != nil:
		return 0, err
	}
	if _, err := s.exec(ctx, q, "UPDATE nodes SET not_in_repository = 0 WHERE id = ?", id); err != nil {
		return 0, err
	}
	return id, s.addMarketplaces(ctx, q, id, ms)
}

// WritePack stores a pack node, replacing nothing: packs are written once
// per build before their items.
func (s *Store) WritePack(ctx context.Context, n Node) (int64, error) {
	var id int64
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertNode(ctx, tx, n)
		return err
	})
	return id, err
}

// WriteDependencies adds dependency edges. Each declaration links its source
// to every node carrying the target label with a matching id; when there is
// none a placeholder stands in. It returns the number of edges written.
func (s *Store) WriteDependencies(ctx context.Context, deps []DependencyWrite) (int, error) {
	written := 0
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		written = 0
		sources := make(map[string][]int64)
		for _, d := range deps {
			src, ok := sources[d.SourcePath]
			if !ok {
				var err error
				src, err = s.queryIDs(ctx, tx, "SELECT id FROM nodes WHERE path = ? AND not_in_repository = 0 AND content_type <> ?",
					d.SourcePath, string(contenttype.Pack))
				if err != nil {
					return err
				}
				sources[d.SourcePath] = src
			}
			if len(src) == 0 {
				s.log.Debugw("dependency source not stored", "path", d.SourcePath, "target", d.TargetObjectID)
				continue
			}
			targets, err := s.matchTargets(ctx, tx, d.TargetType, d.TargetObjectID)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				id, err := s.ensurePlaceholder(ctx, tx, d.TargetType, d.TargetObjectID)
				if err != nil {
					return err
				}
				targets = []int64{id}
			}
			for _, from := range src {
				for _, to := range targets {
					rel := Relationship{Type: d.Type, SourceID: from, TargetID: to, Mandatorily: boolPtr(d.Mandatorily)}
					if _, err := s.insertRelationship(ctx, tx, rel); err != nil {
						return err
					}
					written++
				}
			}
		}
		return nil
	})
	return written, err
}

// matchTargets finds nodes carrying label whose node id matches objectID
// under any concrete type that carries the label. Ambiguous labels only
// ever match their own placeholders.
func (s *Store) matchTargets(ctx context.Context, q querier, label contenttype.ContentType, objectID string) ([]int64, error) {
	if label.IsAbstract() {
		return s.queryIDs(ctx, q, "SELECT id FROM nodes WHERE content_type = ? AND node_id = ?",
			string(label), contenttype.NodeID(label, objectID))
	}
	var nodeIDs []string
	for _, ct := range contenttype.NonAbstract() {
		if ct.HasLabel(label) {
			nodeIDs = append(nodeIDs, contenttype.NodeID(ct, objectID))
		}
	}
	args := append([]any{string(label)}, stringArgs(nodeIDs)...)
	return s.queryIDs(ctx, q, `SELECT n.id FROM nodes n
		JOIN node_labels l ON l.node = n.id
		WHERE l.label = ? AND n.node_id IN (`+placeholders(len(nodeIDs))+`)
		ORDER BY n.id`, args...)
}

func (s *Store) ensurePlaceholder(ctx context.Context, q querier, ct contenttype.ContentType, objectID string) (int64, error) {
	nodeID := contenttype.NodeID(ct, objectID)
	ids, err := s.queryIDs(ctx, q, "SELECT id FROM nodes WHERE content_type = ? AND node_id = ? AND not_in_repository = 1",
		string(ct), nodeID)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		return ids[0], nil
	}
	return s.insertNode(ctx, q, Node{
		NodeID:          nodeID,
		ContentType:     ct,
		ObjectID:        objectID,
		Name:            objectID,
		NotInRepository: true,
	})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
