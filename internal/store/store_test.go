package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, Config{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "graph.db")}, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

var both = []contenttype.Marketplace{contenttype.XSOAR, contenttype.MarketplaceV2}

func packNode(id string) Node {
	return Node{
		NodeID:       contenttype.NodeID(contenttype.Pack, id),
		ContentType:  contenttype.Pack,
		ObjectID:     id,
		Name:         id,
		Path:         "Packs/" + id,
		Marketplaces: both,
	}
}

func itemNode(ct contenttype.ContentType, id, path string) Node {
	return Node{
		NodeID:       contenttype.NodeID(ct, id),
		ContentType:  ct,
		ObjectID:     id,
		Name:         id,
		Path:         path,
		Marketplaces: both,
	}
}

func TestCypherTemplates(t *testing.T) {
	assert.Equal(t, "CREATE CONSTRAINT IF NOT EXISTS FOR (n:Command) REQUIRE n.node_id IS UNIQUE",
		Constraint{Kind: Unique, Label: "Command", Prop: "node_id"}.Cypher())
	assert.Equal(t, "CREATE CONSTRAINT IF NOT EXISTS FOR (n:Script) REQUIRE n.name IS NOT NULL",
		Constraint{Kind: Exists, Label: "Script", Prop: "name"}.Cypher())
	assert.Equal(t, "CREATE CONSTRAINT IF NOT EXISTS FOR ()-[r:DEPENDS_ON]-() REQUIRE r.mandatorily IS NOT NULL",
		Constraint{Kind: Exists, Label: "DEPENDS_ON", Prop: "mandatorily", Relationship: true}.Cypher())
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS FOR (n:Script) ON (n.node_id, n.fromversion, n.marketplaces)",
		Index{Label: "Script", Props: []string{"node_id", "fromversion", "marketplaces"}}.Cypher())
	assert.Equal(t, "CREATE INDEX IF NOT EXISTS FOR ()-[r:HAS_COMMAND]->() ON (r.deprecated, r.description)",
		Index{Label: "HAS_COMMAND", Props: []string{"deprecated", "description"}, Relationship: true}.Cypher())
}

func TestDefaultSchema(t *testing.T) {
	s := DefaultSchema()
	stmts := s.CypherStatements()
	assert.Contains(t, stmts, "CREATE CONSTRAINT IF NOT EXISTS FOR (n:Command) REQUIRE n.object_id IS UNIQUE")
	assert.Contains(t, stmts, "CREATE INDEX IF NOT EXISTS FOR ()-[r:USES]->() ON (r.mandatorily)")
	for _, stmt := range stmts {
		assert.NotContains(t, stmt, "INDEX IF NOT EXISTS FOR (n:Command)")
	}
	nodeIndexes := 0
	for _, i := range s.Indexes {
		if !i.Relationship {
			nodeIndexes++
		}
	}
	assert.Equal(t, 4*(len(contenttype.NonAbstract())-1), nodeIndexes)
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.schemaDone = false
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "neo4j", DSN: "x"}, logging.Nop())
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestOpenUnreachable(t *testing.T) {
	cfg := Config{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "missing", "dir", "graph.db"), RetryMaxElapsed: 200 * time.Millisecond}
	_, err := Open(context.Background(), cfg, logging.Nop())
	var u *UnavailableError
	require.True(t, errors.As(err, &u))
	assert.Equal(t, "ping", u.Op)
}

func TestWriteItemsAndDependencies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.WritePack(ctx, packNode("A"))
	require.NoError(t, err)
	_, err = s.WritePack(ctx, packNode("B"))
	require.NoError(t, err)

	edges, err := s.WriteItems(ctx, []ItemWrite{
		{Node: itemNode(contenttype.Script, "s1", "Packs/A/Scripts/s1.yml"), Pack: "Pack:A"},
		{Node: itemNode(contenttype.Integration, "i1", "Packs/B/Integrations/i1.yml"), Pack: "Pack:B",
			Commands: []CommandRef{{Name: "cmd1", Description: "one"}}},
		{Node: itemNode(contenttype.Integration, "i2", "Packs/B/Integrations/i2.yml"), Pack: "Pack:B",
			Commands: []CommandRef{{Name: "cmd1", Deprecated: true}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, edges)

	cmds, err := s.Nodes(ctx, "n.content_type = ?", "Command")
	require.NoError(t, err)
	require.Len(t, cmds, 1, "commands are shared between integrations")

	n, err := s.WriteDependencies(ctx, []DependencyWrite{
		{SourcePath: "Packs/A/Scripts/s1.yml", Type: contenttype.UsesCommandOrScript, TargetType: contenttype.CommandOrScript, TargetObjectID: "cmd1", Mandatorily: true},
		{SourcePath: "Packs/A/Scripts/s1.yml", Type: contenttype.Uses, TargetType: contenttype.Integration, TargetObjectID: "i1", Mandatorily: false},
		{SourcePath: "Packs/A/Scripts/s1.yml", Type: contenttype.Uses, TargetType: contenttype.Script, TargetObjectID: "nowhere", Mandatorily: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	placeholders, err := s.Nodes(ctx, "n.not_in_repository = 1")
	require.NoError(t, err)
	var ids []string
	for _, p := range placeholders {
		ids = append(ids, p.NodeID)
	}
	assert.ElementsMatch(t, []string{"CommandOrScript:cmd1", "Script:nowhere"}, ids)

	resolved, ambiguous, err := s.ResolveAmbiguous(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Empty(t, ambiguous)

	uses, err := s.Relationships(ctx, "r.type = ? AND r.target_id = ?", "USES", cmds[0].ID)
	require.NoError(t, err)
	require.Len(t, uses, 1)
	require.NotNil(t, uses[0].Mandatorily)
	assert.True(t, *uses[0].Mandatorily)

	removed, err := s.RemoveOrphanPlaceholders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "only the resolved ambiguous placeholder is orphaned")
}

func TestResolveAmbiguousReportsConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.WritePack(ctx, packNode("A"))
	require.NoError(t, err)
	_, err = s.WriteItems(ctx, []ItemWrite{
		{Node: itemNode(contenttype.Script, "caller", "Packs/A/Scripts/caller.yml"), Pack: "Pack:A"},
		{Node: itemNode(contenttype.Script, "dual", "Packs/A/Scripts/dual.yml"), Pack: "Pack:A"},
		{Node: itemNode(contenttype.Integration, "i", "Packs/A/Integrations/i.yml"), Pack: "Pack:A",
			Commands: []CommandRef{{Name: "dual"}}},
	})
	require.NoError(t, err)
	_, err = s.WriteDependencies(ctx, []DependencyWrite{
		{SourcePath: "Packs/A/Scripts/caller.yml", Type: contenttype.UsesCommandOrScript, TargetType: contenttype.CommandOrScript, TargetObjectID: "dual", Mandatorily: true},
		{SourcePath: "Packs/A/Scripts/caller.yml", Type: contenttype.UsesCommandOrScript, TargetType: contenttype.CommandOrScript, TargetObjectID: "ghost", Mandatorily: true},
	})
	require.NoError(t, err)

	resolved, ambiguous, err := s.ResolveAmbiguous(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)
	require.Len(t, ambiguous, 2)
	assert.Equal(t, "dual", ambiguous[0].Target)
	assert.ElementsMatch(t, []string{"Script:dual", "Command:dual"}, ambiguous[0].Candidates)
	assert.Equal(t, "ghost", ambiguous[1].Target)
	assert.Empty(t, ambiguous[1].Candidates)
}

func TestDeletePacksKeepsIncomingEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, p := range []string{"A", "B"} {
		_, err := s.WritePack(ctx, packNode(p))
		require.NoError(t, err)
	}
	_, err := s.WriteItems(ctx, []ItemWrite{
		{Node: itemNode(contenttype.Playbook, "pa", "Packs/A/Playbooks/pa.yml"), Pack: "Pack:A"},
		{Node: itemNode(contenttype.Script, "sb", "Packs/B/Scripts/sb.yml"), Pack: "Pack:B"},
	})
	require.NoError(t, err)
	_, err = s.WriteDependencies(ctx, []DependencyWrite{
		{SourcePath: "Packs/A/Playbooks/pa.yml", Type: contenttype.Uses, TargetType: contenttype.Script, TargetObjectID: "sb", Mandatorily: true},
	})
	require.NoError(t, err)

	incoming, err := s.DeletePacks(ctx, []string{"B"})
	require.NoError(t, err)
	assert.Equal(t, []DependencyWrite{
		{SourcePath: "Packs/A/Playbooks/pa.yml", Type: contenttype.Uses, TargetType: contenttype.Script, TargetObjectID: "sb", Mandatorily: true},
	}, incoming)

	left, err := s.Nodes(ctx, "")
	require.NoError(t, err)
	var ids []string
	for _, n := range left {
		ids = append(ids, n.NodeID)
	}
	assert.ElementsMatch(t, []string{"Pack:A", "Playbook:pa"}, ids)

	rels, err := s.Relationships(ctx, "")
	require.NoError(t, err)
	assert.Len(t, rels, 1, "only pa IN_PACK A remains")
}

func TestRefreshCommandMarketplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.WritePack(ctx, packNode("A"))
	require.NoError(t, err)
	wide := itemNode(contenttype.Integration, "wide", "Packs/A/Integrations/wide.yml")
	narrow := itemNode(contenttype.Integration, "narrow", "Packs/A/Integrations/narrow.yml")
	narrow.Marketplaces = []contenttype.Marketplace{contenttype.XSOAR}
	_, err = s.WriteItems(ctx, []ItemWrite{
		{Node: wide, Pack: "Pack:A", Commands: []CommandRef{{Name: "shared"}}},
		{Node: narrow, Pack: "Pack:A", Commands: []CommandRef{{Name: "shared"}}},
	})
	require.NoError(t, err)

	_, err = s.Exec(ctx, "DELETE FROM relationships WHERE type = ? AND source_id = (SELECT id FROM nodes WHERE node_id = ?)",
		string(contenttype.HasCommand), "Integration:wide")
	require.NoError(t, err)
	require.NoError(t, s.RefreshCommandMarketplaces(ctx))

	cmd, err := s.Nodes(ctx, "n.node_id = ?", "Command:shared")
	require.NoError(t, err)
	require.Len(t, cmd, 1)
	assert.Equal(t, []contenttype.Marketplace{contenttype.XSOAR}, cmd[0].Marketplaces)
}

func TestResetEmptiesGraph(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.WritePack(ctx, packNode("A"))
	require.NoError(t, err)
	_, err = s.WriteItems(ctx, []ItemWrite{
		{Node: itemNode(contenttype.Integration, "i", "Packs/A/Integrations/i.yml"), Pack: "Pack:A", Commands: []CommandRef{{Name: "c"}}},
	})
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))
	nodes, edges, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, nodes)
	assert.Zero(t, edges)

	_, err = s.WritePack(ctx, packNode("A"))
	require.NoError(t, err, "schema survives a reset")
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)
	_, err := src.WritePack(ctx, packNode("A"))
	require.NoError(t, err)
	node := itemNode(contenttype.Layout, "l1", "Packs/A/Layouts/l1.json")
	node.Properties = map[string]any{"group": "incident"}
	_, err = src.WriteItems(ctx, []ItemWrite{
		{Node: node, Pack: "Pack:A"},
		{Node: itemNode(contenttype.Integration, "i", "Packs/A/Integrations/i.yml"), Pack: "Pack:A", Commands: []CommandRef{{Name: "c"}}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	snap, err := src.Export(ctx, &buf)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)

	dst := newTestStore(t)
	imported, err := dst.Import(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, snap.ID, imported.ID)

	nodes, edges, err := dst.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, nodes)
	assert.Equal(t, 3, edges)

	layouts, err := dst.Nodes(ctx, "n.content_type = ?", "Layout")
	require.NoError(t, err)
	require.Len(t, layouts, 1)
	assert.Equal(t, "incident", layouts[0].Properties["group"])
	assert.Equal(t, both, layouts[0].Marketplaces)

	// importing twice changes nothing
	_, err = dst.Import(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	nodes2, edges2, err := dst.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, nodes, nodes2)
	assert.Equal(t, edges, edges2)
}

func TestRebind(t *testing.T) {
	pg := dialects["pgx"]
	assert.Equal(t, "SELECT $1, '?', $2", pg.rebind("SELECT ?, '?', ?"))
	assert.Equal(t, "SELECT ?", dialects["sqlite3"].rebind("SELECT ?"))
}
