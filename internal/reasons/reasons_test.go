package reasons

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/logging"
	"github.com/contentkit/contentgraph/internal/store"
)

var both = []contenttype.Marketplace{contenttype.XSOAR, contenttype.MarketplaceV2}

func script(packID, id string, ms []contenttype.Marketplace) store.ItemWrite {
	return store.ItemWrite{
		Node: store.Node{
			NodeID:       contenttype.NodeID(contenttype.Script, id),
			ContentType:  contenttype.Script,
			ObjectID:     id,
			Name:         id,
			Path:         fmt.Sprintf("Packs/%s/Scripts/%s.yml", packID, id),
			Marketplaces: ms,
		},
		Pack: contenttype.NodeID(contenttype.Pack, packID),
	}
}

func uses(from store.ItemWrite, target string, mandatory bool) store.DependencyWrite {
	return store.DependencyWrite{
		SourcePath:     from.Node.Path,
		Type:           contenttype.Uses,
		TargetType:     contenttype.Script,
		TargetObjectID: target,
		Mandatorily:    mandatory,
	}
}

// fixture: A/s1 -> A/s2 -> B/s3 (mandatory), A/s4 -> B/s3 (mandatory) and
// A/s4 -> B/s5 (optional), B/t1 -> A/s2 (optional, xsoar only).
func fixture(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "graph.db")}, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))

	for _, p := range []string{"A", "B"} {
		_, err := st.WritePack(ctx, store.Node{
			NodeID:       contenttype.NodeID(contenttype.Pack, p),
			ContentType:  contenttype.Pack,
			ObjectID:     p,
			Name:         p,
			Path:         "Packs/" + p,
			Marketplaces: both,
		})
		require.NoError(t, err)
	}
	s1, s2, s4 := script("A", "s1", both), script("A", "s2", both), script("A", "s4", both)
	s3, s5 := script("B", "s3", both), script("B", "s5", both)
	t1 := script("B", "t1", []contenttype.Marketplace{contenttype.XSOAR})
	_, err = st.WriteItems(ctx, []store.ItemWrite{s1, s2, s3, s4, s5, t1})
	require.NoError(t, err)
	_, err = st.WriteDependencies(ctx, []store.DependencyWrite{
		uses(s1, "s2", true),
		uses(s2, "s3", true),
		uses(s4, "s3", true),
		uses(s4, "s5", false),
		uses(t1, "s2", false),
	})
	require.NoError(t, err)
	return st
}

func byPath(records []PathRecord) map[string]PathRecord {
	out := make(map[string]PathRecord, len(records))
	for _, r := range records {
		out[r.FilePath] = r
	}
	return out
}

func TestGet_BothDirections(t *testing.T) {
	e := New(fixture(t), 0, logging.Nop())
	records, err := e.Get(context.Background(), Query{Source: "A", Target: "B"})
	require.NoError(t, err)
	got := byPath(records)
	require.Len(t, got, 4)

	s1 := got["Packs/A/Scripts/s1.yml"]
	assert.True(t, s1.IsSource)
	assert.Equal(t, 2, s1.MinDepth)
	require.NotNil(t, s1.Mandatorily)
	assert.True(t, *s1.Mandatorily)
	require.Len(t, s1.Paths, 1)
	assert.Equal(t,
		"(Packs/A/Scripts/s1.yml) -[USES {mandatorily: true}]-> (Packs/A/Scripts/s2.yml) -[USES {mandatorily: true}]-> (Packs/B/Scripts/s3.yml)",
		RenderPath(s1.Paths[0]))

	s2 := got["Packs/A/Scripts/s2.yml"]
	assert.Equal(t, 1, s2.MinDepth)

	t1 := got["Packs/B/Scripts/t1.yml"]
	assert.False(t, t1.IsSource)
	assert.Equal(t, 1, t1.MinDepth)
	require.NotNil(t, t1.Mandatorily)
	assert.False(t, *t1.Mandatorily)
}

func TestGet_MixedDepthKeepsOptionalPath(t *testing.T) {
	e := New(fixture(t), 0, logging.Nop())
	records, err := e.Get(context.Background(), Query{Source: "A", Target: "B"})
	require.NoError(t, err)

	s4 := byPath(records)["Packs/A/Scripts/s4.yml"]
	assert.Equal(t, 1, s4.MinDepth)
	assert.Nil(t, s4.Mandatorily)
	require.Len(t, s4.Paths, 2)
	var optional int
	for _, p := range s4.Paths {
		if !p.Mandatorily {
			optional++
		}
	}
	assert.Equal(t, 1, optional)
}

func TestGet_MandatoryOnly(t *testing.T) {
	e := New(fixture(t), 0, logging.Nop())
	records, err := e.Get(context.Background(), Query{Source: "A", Target: "B", MandatoryOnly: true})
	require.NoError(t, err)
	got := byPath(records)

	assert.NotContains(t, got, "Packs/B/Scripts/t1.yml")
	s4 := got["Packs/A/Scripts/s4.yml"]
	require.Len(t, s4.Paths, 1)
	require.NotNil(t, s4.Mandatorily)
	assert.True(t, *s4.Mandatorily)
}

func TestGet_MarketplaceFilter(t *testing.T) {
	e := New(fixture(t), 0, logging.Nop())
	records, err := e.Get(context.Background(), Query{Source: "A", Target: "B", Marketplace: contenttype.MarketplaceV2})
	require.NoError(t, err)
	for _, r := range records {
		assert.True(t, r.IsSource, r.FilePath)
	}
}

func TestGet_MaxDepth(t *testing.T) {
	e := New(fixture(t), 1, logging.Nop())
	records, err := e.Get(context.Background(), Query{Source: "A", Target: "B"})
	require.NoError(t, err)
	assert.NotContains(t, byPath(records), "Packs/A/Scripts/s1.yml")
}

func TestGet_NoPathIsEmpty(t *testing.T) {
	e := New(fixture(t), 0, logging.Nop())
	records, err := e.Get(context.Background(), Query{Source: "PackX", Target: "PackY"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestTableAndJSON(t *testing.T) {
	assert.Equal(t, "No results.", Table(nil))

	e := New(fixture(t), 0, logging.Nop())
	records, err := e.Get(context.Background(), Query{Source: "A", Target: "B"})
	require.NoError(t, err)
	out := Table(records)
	assert.Contains(t, out, "Min Depth")
	assert.Contains(t, out, "mixed")

	dir := t.TempDir()
	path, err := WriteJSON(dir, records)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, OutputFile), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded []PathRecord
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Len(t, decoded, len(records))
}
