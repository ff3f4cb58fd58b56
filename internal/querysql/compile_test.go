package querysql

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/queryir"
)

const linkedID = "11111111-1111-4111-8111-111111111111"

func build(t *testing.T, q queryir.EntityQuery, keys []string, scope queryir.Scope) *queryir.Select {
	t.Helper()
	sel, err := queryir.Build(q, keys, scope)
	require.NoError(t, err)
	return sel
}

func render(sql string, params []any) []byte {
	return []byte(fmt.Sprintf("%s\nparams: %v\n", sql, params))
}

func TestCompileSearch_Golden(t *testing.T) {
	valid := false
	tests := []struct {
		name    string
		dialect Dialect
		query   queryir.EntityQuery
		keys    []string
		scope   queryir.Scope
		page    queryir.Page
		after   ir.Array
		before  ir.Array
	}{
		{
			name:    "sqlite_default",
			dialect: SQLite,
			keys:    []string{"none"},
			page:    queryir.Page{Count: 25},
		},
		{
			name:    "sqlite_name_after",
			dialect: SQLite,
			query:   queryir.EntityQuery{EntityTypes: []string{"Person", "Article"}, Order: queryir.OrderName},
			keys:    []string{"none"},
			page:    queryir.Page{Count: 10},
			after:   ir.Array{ir.String("Bob"), ir.Int(7)},
		},
		{
			name:    "postgres_published_last",
			dialect: Postgres,
			query: queryir.EntityQuery{
				Status:  []ir.EntityStatus{ir.StatusPublished},
				Text:    "hello world",
				Order:   queryir.OrderUpdatedAt,
				Reverse: true,
			},
			keys:   []string{"subject:x", "none"},
			scope:  queryir.Scope{Published: true},
			page:   queryir.Page{Count: 5, Backward: true},
			before: ir.Array{ir.Int(1000), ir.Int(3)},
		},
		{
			name:    "sqlite_filters",
			dialect: SQLite,
			query: queryir.EntityQuery{
				ComponentTypes: []string{"Quote"},
				Valid:          &valid,
				LinksTo:        linkedID,
				Text:           "foo_bar",
				BoundingBox:    &queryir.BoundingBox{MinLat: -10, MaxLat: 10, MinLng: 170, MaxLng: -170},
			},
			page: queryir.Page{Count: 25},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := build(t, tt.query, tt.keys, tt.scope)
			search, err := NewCompiler(tt.dialect).CompileSearch(sel, tt.page, tt.after, tt.before)
			require.NoError(t, err)
			g.Assert(t, tt.name, render(search.SQL, search.Params))
		})
	}
}

func TestCompileSearch_LimitAndDirection(t *testing.T) {
	sel := build(t, queryir.EntityQuery{}, []string{"none"}, queryir.Scope{})

	forward, err := NewCompiler(SQLite).CompileSearch(sel, queryir.Page{Count: 3}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, forward.Limit)
	assert.False(t, forward.Reversed)
	assert.Contains(t, forward.SQL, "ORDER BY e.id ASC")

	backward, err := NewCompiler(SQLite).CompileSearch(sel, queryir.Page{Count: 3, Backward: true}, nil, nil)
	require.NoError(t, err)
	assert.True(t, backward.Reversed)
	assert.Contains(t, backward.SQL, "ORDER BY e.id DESC")

	sel.Reverse = true
	reversed, err := NewCompiler(SQLite).CompileSearch(sel, queryir.Page{Count: 3}, ir.Array{ir.Int(9)}, nil)
	require.NoError(t, err)
	assert.Contains(t, reversed.SQL, "(e.id < ?) ORDER BY e.id DESC")
}

func TestCompileSearch_InvalidCursor(t *testing.T) {
	tests := []struct {
		name  string
		order queryir.OrderKey
		keys  ir.Array
	}{
		{"arity", queryir.OrderCreatedAt, ir.Array{ir.Int(1), ir.Int(2)}},
		{"string id", queryir.OrderCreatedAt, ir.Array{ir.String("x")}},
		{"name not string", queryir.OrderName, ir.Array{ir.Int(1), ir.Int(2)}},
		{"float", queryir.OrderUpdatedAt, ir.Array{ir.Float(1.5), ir.Int(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := build(t, queryir.EntityQuery{Order: tt.order}, []string{"none"}, queryir.Scope{})
			_, err := NewCompiler(SQLite).CompileSearch(sel, queryir.Page{Count: 1}, tt.keys, nil)
			require.Error(t, err)
			assert.True(t, ir.IsKind(err, ir.ErrBadRequest))
		})
	}
}

func TestCompileSearch_RejectsSelectWithoutAuthKey(t *testing.T) {
	sel := &queryir.Select{Order: queryir.OrderCreatedAt, Filter: queryir.And{Predicates: []queryir.Predicate{
		queryir.TypeIn{Types: []string{"Person"}},
	}}}
	_, err := NewCompiler(SQLite).CompileSearch(sel, queryir.Page{Count: 1}, nil, nil)
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.ErrBadRequest))
}

func TestCompileCount(t *testing.T) {
	sel := build(t, queryir.EntityQuery{EntityTypes: []string{"Person"}}, []string{"none"}, queryir.Scope{})

	sql, params, err := NewCompiler(Postgres).CompileCount(sel)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM entities e JOIN entity_versions v ON v.entity_id = e.id AND v.version = e.latest_version"+
		" WHERE e.resolved_auth_key = ANY($1) AND e.type = ANY($2)", sql)
	assert.Equal(t, []any{[]string{"none"}, []string{"Person"}}, params)
}

func TestCompileSampleRow(t *testing.T) {
	sel := build(t, queryir.EntityQuery{}, []string{"none"}, queryir.Scope{Published: true})

	sql, params, err := NewCompiler(SQLite).CompileSampleRow(sel, 4)
	require.NoError(t, err)
	assert.Contains(t, sql, "v.version = e.published_version")
	assert.Contains(t, sql, "ORDER BY e.id ASC LIMIT 1 OFFSET ?")
	assert.Equal(t, []any{"none", 4}, params)
}

func TestCursorKeys(t *testing.T) {
	row := Row{RowID: 5, Name: "Alice", UpdatedAt: 77}

	assert.Equal(t, ir.Array{ir.Int(5)}, CursorKeys(queryir.OrderCreatedAt, row))
	assert.Equal(t, ir.Array{ir.Int(77), ir.Int(5)}, CursorKeys(queryir.OrderUpdatedAt, row))
	assert.Equal(t, ir.Array{ir.String("Alice"), ir.Int(5)}, CursorKeys(queryir.OrderName, row))
}

func TestRebind(t *testing.T) {
	q := "UPDATE t SET a = ?, b = 'what?' WHERE c = ?"

	assert.Equal(t, q, Rebind(SQLite, q))
	assert.Equal(t, "UPDATE t SET a = $1, b = 'what?' WHERE c = $2", Rebind(Postgres, q))
	assert.Equal(t, "SELECT 1", Rebind(Postgres, "SELECT 1"))
}

func TestParseDialect(t *testing.T) {
	d, ok := ParseDialect("sqlite3")
	assert.True(t, ok)
	assert.Equal(t, SQLite, d)

	d, ok = ParseDialect("pgx")
	assert.True(t, ok)
	assert.Equal(t, Postgres, d)
	assert.Equal(t, "postgres", d.String())

	_, ok = ParseDialect("mysql")
	assert.False(t, ok)
}
