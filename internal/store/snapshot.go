package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/contentkit/contentgraph/internal/contenttype"
)

// SnapshotExt is the file extension of exported graphs.
const SnapshotExt = ".json.sz"

const snapshotVersion = 1

// Snapshot is a portable copy of the whole graph. Relationship endpoints
// refer to Node.ID values inside the snapshot.
type Snapshot struct {
	Version       int            `json:"version"`
	ID            string         `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
}

// Export writes the graph as snappy-compressed JSON.
func (s *Store) Export(ctx context.Context, w io.Writer) (*Snapshot, error) {
	nodes, err := s.Nodes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("export nodes: %w", err)
	}
	rels, err := s.Relationships(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("export relationships: %w", err)
	}
	snap := &Snapshot{
		Version:       snapshotVersion,
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Nodes:         nodes,
		Relationships: rels,
	}
	sw := snappy.NewBufferedWriter(w)
	if err := json.NewEncoder(sw).Encode(snap); err != nil {
		return nil, fmt.Errorf("export encode: %w", err)
	}
	if err := sw.Close(); err != nil {
		return nil, fmt.Errorf("export flush: %w", err)
	}
	return snap, nil
}

// ExportFile writes a snapshot to path.
func (s *Store) ExportFile(ctx context.Context, path string) (*Snapshot, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	snap, err := s.Export(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return snap, err
}

// Import merges a snapshot into the store. Nodes already present with the
// same type, node id and path are reused; commands are merged by name.
func (s *Store) Import(ctx context.Context, r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := json.NewDecoder(snappy.NewReader(r)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("import decode: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("import: unsupported snapshot version %d", snap.Version)
	}
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		ids := make(map[int64]int64, len(snap.Nodes))
		for _, n := range snap.Nodes {
			id, err := s.importNode(ctx, tx, n)
			if err != nil {
				return fmt.Errorf("import %s: %w", n.NodeID, err)
			}
			ids[n.ID] = id
		}
		for _, r := range snap.Relationships {
			src, okS := ids[r.SourceID]
			dst, okT := ids[r.TargetID]
			if !okS || !okT {
				return fmt.Errorf("import: relationship %d refers to unknown nodes", r.ID)
			}
			var exists int
			err := tx.QueryRowContext(ctx, s.Rebind("SELECT 1 FROM relationships WHERE type = ? AND source_id = ? AND target_id = ?"),
				string(r.Type), src, dst).Scan(&exists)
			if err == nil {
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			r.SourceID, r.TargetID = src, dst
			if _, err := s.insertRelationship(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) importNode(ctx context.Context, q querier, n Node) (int64, error) {
	if n.ContentType == contenttype.Command {
		id, err := s.ensureCommand(ctx, q, n.ObjectID, n.Marketplaces)
		if err != nil {
			return 0, err
		}
		if n.NotInRepository {
			_, err = s.exec(ctx, q, "UPDATE nodes SET not_in_repository = 1 WHERE id = ? AND NOT EXISTS (SELECT 1 FROM relationships r WHERE r.target_id = nodes.id AND r.type = ?)",
				id, string(contenttype.HasCommand))
		}
		return id, err
	}
	existing, err := s.queryIDs(ctx, q, "SELECT id FROM nodes WHERE content_type = ? AND node_id = ? AND path = ? AND not_in_repository = ?",
		string(n.ContentType), n.NodeID, n.Path, boolInt(n.NotInRepository))
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}
	return s.insertNode(ctx, q, n)
}

// ImportFile merges the snapshot stored at path.
func (s *Store) ImportFile(ctx context.Context, path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.Import(ctx, f)
}
