package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/contentkit/contentgraph/internal/contenttype"
)

// ConstraintKind distinguishes uniqueness from existence constraints.
type ConstraintKind int

const (
	Unique ConstraintKind = iota
	Exists
)

// Constraint is a store-enforced rule on one property of a node label or
// relationship type.
type Constraint struct {
	Kind         ConstraintKind
	Label        string
	Prop         string
	Relationship bool
}

// Index speeds up lookups by a set of properties of a label or type.
type Index struct {
	Label        string
	Props        []string
	Relationship bool
}

const (
	nodeUniquenessTemplate = "CREATE CONSTRAINT IF NOT EXISTS FOR (n:{label}) REQUIRE n.{prop} IS UNIQUE"
	nodeExistenceTemplate  = "CREATE CONSTRAINT IF NOT EXISTS FOR (n:{label}) REQUIRE n.{prop} IS NOT NULL"
	relExistenceTemplate   = "CREATE CONSTRAINT IF NOT EXISTS FOR ()-[r:{label}]-() REQUIRE r.{prop} IS NOT NULL"
	nodeIndexTemplate      = "CREATE INDEX IF NOT EXISTS FOR (n:{label}) ON ({props})"
	relIndexTemplate       = "CREATE INDEX IF NOT EXISTS FOR ()-[r:{rel}]->() ON ({props})"
)

// Cypher renders the constraint in the graph query language.
func (c Constraint) Cypher() string {
	tmpl := nodeUniquenessTemplate
	switch {
	case c.Relationship:
		tmpl = relExistenceTemplate
	case c.Kind == Exists:
		tmpl = nodeExistenceTemplate
	}
	return strings.NewReplacer("{label}", c.Label, "{prop}", c.Prop).Replace(tmpl)
}

// Cypher renders the index in the graph query language.
func (i Index) Cypher() string {
	alias, tmpl, key := "n", nodeIndexTemplate, "{label}"
	if i.Relationship {
		alias, tmpl, key = "r", relIndexTemplate, "{rel}"
	}
	props := make([]string, len(i.Props))
	for k, p := range i.Props {
		props[k] = alias + "." + p
	}
	return strings.NewReplacer(key, i.Label, "{props}", strings.Join(props, ", ")).Replace(tmpl)
}

// Schema is the full set of constraints and indexes, derived from the
// content type registry.
type Schema struct {
	Constraints []Constraint
	Indexes     []Index
}

func DefaultSchema() Schema {
	var s Schema
	for _, ct := range contenttype.NonAbstract() {
		for _, p := range ct.UniquenessProps() {
			s.Constraints = append(s.Constraints, Constraint{Kind: Unique, Label: string(ct), Prop: p})
		}
		for _, props := range ct.IndexedProps() {
			s.Indexes = append(s.Indexes, Index{Label: string(ct), Props: props})
		}
	}
	for _, r := range contenttype.Relationships() {
		for _, p := range r.ExistenceProps() {
			s.Constraints = append(s.Constraints, Constraint{Kind: Exists, Label: string(r), Prop: p, Relationship: true})
		}
		if props := r.IndexedProps(); len(props) > 0 {
			s.Indexes = append(s.Indexes, Index{Label: string(r), Props: props, Relationship: true})
		}
	}
	return s
}

// CypherStatements renders every constraint and index, constraints first.
func (s Schema) CypherStatements() []string {
	out := make([]string, 0, len(s.Constraints)+len(s.Indexes))
	for _, c := range s.Constraints {
		out = append(out, c.Cypher())
	}
	for _, i := range s.Indexes {
		out = append(out, i.Cypher())
	}
	return out
}

// SQLStatements renders the schema for the relational store. Table DDL comes
// first; existence constraints become CHECK clauses on their table.
func (s Schema) SQLStatements(d dialect) []string {
	var checks []string
	for _, c := range s.Constraints {
		if c.Kind == Exists && c.Relationship {
			checks = append(checks, fmt.Sprintf("CHECK (type <> '%s' OR %s IS NOT NULL)", c.Label, c.Prop))
		}
	}
	relChecks := ""
	if len(checks) > 0 {
		relChecks = ",\n\t" + strings.Join(checks, ",\n\t")
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS nodes (
	id %s,
	node_id TEXT NOT NULL,
	content_type TEXT NOT NULL,
	object_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	fromversion TEXT NOT NULL DEFAULT '0.0.0',
	toversion TEXT NOT NULL DEFAULT '99.99.99',
	deprecated INTEGER NOT NULL DEFAULT 0,
	not_in_repository INTEGER NOT NULL DEFAULT 0,
	properties TEXT NOT NULL DEFAULT '{}'
)`, d.idColumn),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS node_labels (
	node %s NOT NULL,
	label TEXT NOT NULL,
	PRIMARY KEY (node, label)
)`, d.refType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS node_marketplaces (
	node %s NOT NULL,
	marketplace TEXT NOT NULL,
	PRIMARY KEY (node, marketplace)
)`, d.refType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS relationships (
	id %s,
	type TEXT NOT NULL,
	source_id %s NOT NULL,
	target_id %s NOT NULL,
	mandatorily INTEGER,
	deprecated INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT ''%s
)`, d.idColumn, d.refType, d.refType, relChecks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS relationship_marketplaces (
	relationship %s NOT NULL,
	marketplace TEXT NOT NULL,
	PRIMARY KEY (relationship, marketplace)
)`, d.refType),
		"CREATE INDEX IF NOT EXISTS idx_nodes_path ON nodes (path)",
		"CREATE INDEX IF NOT EXISTS idx_nodes_type_node_id ON nodes (content_type, node_id)",
		"CREATE INDEX IF NOT EXISTS idx_node_labels_label ON node_labels (label, node)",
		"CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships (source_id, type)",
		"CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships (target_id, type)",
	}

	seen := make(map[string]bool)
	add := func(stmt string) {
		if !seen[stmt] {
			seen[stmt] = true
			stmts = append(stmts, stmt)
		}
	}
	for _, c := range s.Constraints {
		if c.Kind == Unique && !c.Relationship {
			add(fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_%s ON nodes (%s) WHERE content_type = '%s'",
				strings.ToLower(c.Label), c.Prop, c.Prop, c.Label))
		}
	}
	for _, i := range s.Indexes {
		add(indexSQL(i))
	}
	return stmts
}

// indexSQL maps an index onto the tables. Marketplaces live in their own
// table, so they are indexed there once for all labels.
func indexSQL(i Index) string {
	var cols []string
	for _, p := range i.Props {
		if p != "marketplaces" {
			cols = append(cols, p)
		}
	}
	if len(cols) == 0 {
		return "CREATE INDEX IF NOT EXISTS idx_node_marketplaces_marketplace ON node_marketplaces (marketplace, node)"
	}
	table, column := "nodes", "content_type"
	if i.Relationship {
		table, column = "relationships", "type"
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s) WHERE %s = '%s'",
		strings.ToLower(i.Label), strings.Join(cols, "_"), table, strings.Join(cols, ", "), column, i.Label)
}

// EnsureSchema creates tables, constraints and indexes. It runs once per
// store and is safe to call again.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaDone {
		return nil
	}
	err := s.Tx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range DefaultSchema().SQLStatements(s.dialect) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("schema: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return &UnavailableError{Op: "ensure schema", Err: err}
	}
	s.schemaDone = true
	s.log.Debugw("schema ready", "driver", s.dialect.driver)
	return nil
}
