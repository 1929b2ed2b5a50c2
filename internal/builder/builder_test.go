package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentkit/contentgraph/internal/cache"
	"github.com/contentkit/contentgraph/internal/contenttype"
	"github.com/contentkit/contentgraph/internal/dependencies"
	"github.com/contentkit/contentgraph/internal/logging"
	"github.com/contentkit/contentgraph/internal/store"
)

const scriptS1 = `
commonfields:
  id: s1
name: s1
type: python
script: |
  res = demisto.executeCommand("cmd1", {})
`

const integrationI1 = `
commonfields:
  id: i1
name: i1
script:
  type: python
  commands:
  - name: cmd1
    description: does one thing
`

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	repo := t.TempDir()
	for name, content := range files {
		path := filepath.Join(repo, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return repo
}

func baseRepo() map[string]string {
	return map[string]string{
		"Packs/A/pack_metadata.json":                `{"name": "A", "support": "xsoar"}`,
		"Packs/A/Scripts/s1/s1.yml":                 scriptS1,
		"Packs/A/ReleaseNotes/1_0_1.md":             "notes",
		"Packs/B/pack_metadata.json":                `{"name": "B"}`,
		"Packs/B/Integrations/i1/i1.yml":            integrationI1,
		"Packs/B/Integrations/i1/i1_description.md": "desc",
	}
}

func newBuilder(t *testing.T, c cache.Cache) (*Builder, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "graph.db")}, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	opts := Options{Concurrency: 2, BatchMax: 2, FlushEvery: 50 * time.Millisecond, RetryMaxElapsed: time.Second}
	return New(st, c, opts, logging.Nop()), st
}

func TestBuild_CommandCallBecomesPackDependency(t *testing.T) {
	ctx := context.Background()
	b, st := newBuilder(t, nil)
	repo := writeRepo(t, baseRepo())

	sum, err := b.Build(ctx, repo)
	require.NoError(t, err)
	require.NoError(t, sum.Err())
	assert.Equal(t, 2, sum.Packs)
	assert.Equal(t, 2, sum.Parsed)
	assert.Equal(t, 1, sum.Resolved)
	assert.Empty(t, sum.Ambiguous)
	assert.Equal(t, []string{"ReleaseNotes"}, sum.UnknownFolders)
	assert.NotEmpty(t, sum.RunID)

	scripts, err := st.Nodes(ctx, "n.node_id = ?", "Script:s1")
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "Packs/A/Scripts/s1/s1.yml", scripts[0].Path)

	uses, err := st.Relationships(ctx, "r.type = ?", string(contenttype.Uses))
	require.NoError(t, err)
	require.Len(t, uses, 1)
	require.NotNil(t, uses[0].Mandatorily)
	assert.True(t, *uses[0].Mandatorily)

	res, err := dependencies.New(st, logging.Nop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DependsOn)
	deps, err := dependencies.New(st, logging.Nop()).PackDependencies(ctx, "")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "A", deps[0].Source)
	assert.Equal(t, "B", deps[0].Target)
	assert.True(t, deps[0].Mandatorily)
}

func TestBuild_SecondRunReplacesGraph(t *testing.T) {
	ctx := context.Background()
	b, st := newBuilder(t, nil)
	repo := writeRepo(t, baseRepo())

	first, err := b.Build(ctx, repo)
	require.NoError(t, err)
	nodes, edges, err := st.Counts(ctx)
	require.NoError(t, err)

	second, err := b.Build(ctx, repo)
	require.NoError(t, err)
	again, againEdges, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, nodes, again)
	assert.Equal(t, edges, againEdges)
	assert.Equal(t, first.Nodes, second.Nodes)

	for _, id := range []string{"Pack:A", "Script:s1", "Integration:i1", "Command:cmd1"} {
		found, err := st.Nodes(ctx, "n.node_id = ?", id)
		require.NoError(t, err)
		assert.Len(t, found, 1, id)
	}
}

func TestBuild_RepeatedDeclarationWrittenOnce(t *testing.T) {
	ctx := context.Background()
	b, st := newBuilder(t, nil)
	files := baseRepo()
	files["Packs/B/Integrations/i1/i1.yml"] = integrationI1 + `tests:
- i1-test
- i1-test
`
	repo := writeRepo(t, files)

	_, err := b.Build(ctx, repo)
	require.NoError(t, err)

	tested, err := st.Relationships(ctx, "r.type = ?", string(contenttype.TestedBy))
	require.NoError(t, err)
	assert.Len(t, tested, 1)
}

func TestBuild_ParseFailureIsReported(t *testing.T) {
	ctx := context.Background()
	b, st := newBuilder(t, nil)
	files := baseRepo()
	files["Packs/A/Scripts/broken/broken.yml"] = "commonfields: [unclosed"
	files["Packs/A/Scripts/noid.yml"] = "name: no id here\nscript: x\n"
	repo := writeRepo(t, files)

	sum, err := b.Build(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 2, sum.Parsed)
	assert.Error(t, sum.Err())

	nodes, _, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum.Nodes, nodes)
}

func TestBuild_MarketplaceFilter(t *testing.T) {
	ctx := context.Background()
	b, st := newBuilder(t, nil)
	b.opts.Marketplaces = []contenttype.Marketplace{contenttype.XPANSE}
	files := baseRepo()
	files["Packs/C/pack_metadata.json"] = `{"name": "C", "marketplaces": ["xpanse"]}`
	repo := writeRepo(t, files)

	sum, err := b.Build(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Packs)
	assert.Equal(t, 2, sum.Skipped)

	packs, err := st.Nodes(ctx, "n.content_type = ?", string(contenttype.Pack))
	require.NoError(t, err)
	require.Len(t, packs, 1)
	assert.Equal(t, "C", packs[0].ObjectID)
	assert.Equal(t, []contenttype.Marketplace{contenttype.XPANSE}, packs[0].Marketplaces)
}

func TestBuild_CacheServesSecondRun(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(64, time.Hour)
	repo := writeRepo(t, baseRepo())

	b1, _ := newBuilder(t, c)
	first, err := b1.Build(ctx, repo)
	require.NoError(t, err)
	assert.Zero(t, first.Cached)

	b2, st := newBuilder(t, c)
	second, err := b2.Build(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Cached)
	assert.Equal(t, first.Nodes, second.Nodes)
	assert.Equal(t, first.Edges, second.Edges)

	nodes, err := st.Nodes(ctx, "n.node_id = ?", "Integration:i1")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Packs/B/Integrations/i1/i1.yml", nodes[0].Path)
}

func TestUpdate_ReplacesPackAndDetachesCommands(t *testing.T) {
	ctx := context.Background()
	b, st := newBuilder(t, nil)
	repo := writeRepo(t, baseRepo())
	_, err := b.Build(ctx, repo)
	require.NoError(t, err)

	i1 := filepath.Join(repo, "Packs", "B", "Integrations", "i1", "i1.yml")
	require.NoError(t, os.WriteFile(i1, []byte(`
commonfields:
  id: i1
name: i1
script:
  commands:
  - name: cmd2
`), 0o644))

	sum, err := b.Update(ctx, repo, nil, []string{"B", "Missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Packs)
	assert.Equal(t, 1, sum.Parsed)

	cmd1, err := st.Nodes(ctx, "n.node_id = ?", "Command:cmd1")
	require.NoError(t, err)
	require.Len(t, cmd1, 1)
	assert.True(t, cmd1[0].NotInRepository)

	cmd2, err := st.Nodes(ctx, "n.node_id = ?", "Command:cmd2")
	require.NoError(t, err)
	require.Len(t, cmd2, 1)
	assert.False(t, cmd2[0].NotInRepository)

	scripts, err := st.Nodes(ctx, "n.node_id = ?", "Script:s1")
	require.NoError(t, err)
	require.Len(t, scripts, 1)
}

func TestUpdate_NarrowedIntegrationNarrowsCommand(t *testing.T) {
	ctx := context.Background()
	b, st := newBuilder(t, nil)
	repo := writeRepo(t, baseRepo())
	_, err := b.Build(ctx, repo)
	require.NoError(t, err)

	cmd, err := st.Nodes(ctx, "n.node_id = ?", "Command:cmd1")
	require.NoError(t, err)
	require.Len(t, cmd, 1)
	assert.Equal(t, contenttype.DefaultPackMarketplaces(), cmd[0].Marketplaces)

	i1 := filepath.Join(repo, "Packs", "B", "Integrations", "i1", "i1.yml")
	require.NoError(t, os.WriteFile(i1, []byte(integrationI1+"marketplaces:\n- xsoar\n"), 0o644))
	_, err = b.Update(ctx, repo, nil, []string{"B"})
	require.NoError(t, err)

	cmd, err = st.Nodes(ctx, "n.node_id = ?", "Command:cmd1")
	require.NoError(t, err)
	require.Len(t, cmd, 1)
	assert.False(t, cmd[0].NotInRepository)
	assert.Equal(t, []contenttype.Marketplace{contenttype.XSOAR}, cmd[0].Marketplaces)

	res, err := dependencies.New(st, logging.Nop()).Run(ctx)
	require.NoError(t, err)
	require.Len(t, res.Removals, 1)
	assert.Equal(t, "Script:s1", res.Removals[0].NodeID)
	assert.Equal(t, contenttype.MarketplaceV2, res.Removals[0].Marketplace)
}

func TestUpdate_ImportsSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := writeRepo(t, baseRepo())

	src, srcStore := newBuilder(t, nil)
	_, err := src.Build(ctx, repo)
	require.NoError(t, err)
	snap := filepath.Join(t.TempDir(), "graph"+store.SnapshotExt)
	_, err = srcStore.ExportFile(ctx, snap)
	require.NoError(t, err)

	dst, st := newBuilder(t, nil)
	sum, err := dst.Update(ctx, repo, []string{snap}, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Parsed)

	uses, err := st.Relationships(ctx, "r.type = ?", string(contenttype.Uses))
	require.NoError(t, err)
	assert.Len(t, uses, 1)
}

func TestSummaryErr(t *testing.T) {
	s := &Summary{Parsed: 3}
	assert.NoError(t, s.Err())
	s.Failed = 1
	s.Errors = append(s.Errors, os.ErrNotExist)
	assert.ErrorIs(t, s.Err(), os.ErrNotExist)
	assert.Contains(t, s.String(), "failed=1")
}
