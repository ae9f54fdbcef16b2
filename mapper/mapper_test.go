package mapper

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-orm/keystone/dialect"
	"github.com/keystone-orm/keystone/query"
	"github.com/keystone-orm/keystone/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	_, err := reg.Register(schema.NewEntity("User").
		Column("id", schema.TypeUUID, schema.PrimaryKey()).
		Column("name", schema.TypeString).
		OneToMany("posts", "Post", schema.WithInverse("author")))
	require.NoError(t, err)

	_, err = reg.Register(schema.NewEntity("Post").
		Column("id", schema.TypeUUID, schema.PrimaryKey()).
		Column("title", schema.TypeString).
		Column("userId", schema.TypeUUID, schema.Nullable()).
		ManyToOne("author", "User", schema.WithJoinColumn("userId"), schema.WithInverse("posts")).
		OneToMany("comments", "Comment", schema.WithInverse("post")))
	require.NoError(t, err)

	_, err = reg.Register(schema.NewEntity("Comment").
		Column("id", schema.TypeUUID, schema.PrimaryKey()).
		Column("text", schema.TypeText).
		Column("postId", schema.TypeUUID).
		ManyToOne("post", "Post", schema.WithJoinColumn("postId"), schema.WithInverse("comments")))
	require.NoError(t, err)

	require.NoError(t, reg.Finalize())
	return reg
}

// compile builds the AST and returns it with its projection, which is what
// the mapper navigates rows by
func compile(t *testing.T, reg *schema.Registry, b *query.Builder) (*query.AST, []dialect.ProjectedColumn) {
	t.Helper()
	ast, err := b.Build()
	require.NoError(t, err)
	stmt, err := dialect.NewCompiler(dialect.Postgres, reg).Compile(ast)
	require.NoError(t, err)
	return ast, stmt.Projection
}

func TestMapEntitiesFanout(t *testing.T) {
	reg := testRegistry(t)
	m := New(reg)

	ast, projection := compile(t, reg, query.NewBuilder(reg).
		From("User", "u").
		LeftJoin("posts", "p").
		LeftJoin("posts.comments", "c"))

	// one user with three posts, two comments each: six flat rows
	var rows [][]interface{}
	for _, p := range []string{"p1", "p2", "p3"} {
		for _, c := range []string{"a", "b"} {
			rows = append(rows, []interface{}{
				"u1", "alice",
				p, "title " + p, "u1",
				p + c, "comment " + c, p,
			})
		}
	}

	results, err := m.MapEntities(ast, projection, rows)
	require.NoError(t, err)
	require.Len(t, results, 1)

	user := results[0]
	assert.Equal(t, "u1", user["id"])
	assert.Equal(t, "alice", user["name"])

	posts, ok := user["posts"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, posts, 3)
	for _, post := range posts {
		comments, ok := post["comments"].([]map[string]interface{})
		require.True(t, ok)
		assert.Len(t, comments, 2)
	}
}

func TestMapEntitiesLeftJoinWithoutChildren(t *testing.T) {
	reg := testRegistry(t)
	m := New(reg)

	ast, projection := compile(t, reg, query.NewBuilder(reg).
		From("User", "u").
		LeftJoin("posts", "p"))

	rows := [][]interface{}{
		{"u1", "alice", nil, nil, nil},
	}

	results, err := m.MapEntities(ast, projection, rows)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// a null joined primary key means no related row, not a placeholder
	posts, ok := results[0]["posts"].([]map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, posts)
}

func TestMapEntitiesAttachesToOneParent(t *testing.T) {
	reg := testRegistry(t)
	m := New(reg)

	ast, projection := compile(t, reg, query.NewBuilder(reg).
		From("Post", "p").
		LeftJoin("author", "a"))

	rows := [][]interface{}{
		{"p1", "hello", "u1", "u1", "alice"},
		{"p2", "again", "u1", "u1", "alice"},
	}

	results, err := m.MapEntities(ast, projection, rows)
	require.NoError(t, err)
	require.Len(t, results, 2)

	first, ok := results[0]["author"].(map[string]interface{})
	require.True(t, ok)
	second, ok := results[1]["author"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", first["name"])

	// both posts resolve to the same deduplicated instance
	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())
}

func TestMapEntitiesRowArityMismatch(t *testing.T) {
	reg := testRegistry(t)
	m := New(reg)

	ast, projection := compile(t, reg, query.NewBuilder(reg).From("User", "u"))

	_, err := m.MapEntities(ast, projection, [][]interface{}{{"u1"}})
	assert.ErrorIs(t, err, ErrResultShapeMismatch)
}

func TestMapEntitiesRequiresPrimaryKey(t *testing.T) {
	reg := testRegistry(t)
	m := New(reg)

	ast, projection := compile(t, reg, query.NewBuilder(reg).
		From("User", "u").
		Select("u.name"))

	_, err := m.MapEntities(ast, projection, [][]interface{}{{"alice"}})
	assert.ErrorIs(t, err, ErrResultShapeMismatch)
}

func TestMapRawLabels(t *testing.T) {
	reg := testRegistry(t)
	m := New(reg)

	_, projection := compile(t, reg, query.NewBuilder(reg).
		From("User", "u").
		LeftJoin("posts", "p").
		Select("u.id", "p.title").
		Raw())

	results, err := m.MapRaw(projection, [][]interface{}{
		{"u1", "hello"},
		{"u1", "again"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, map[string]interface{}{"u_id": "u1", "p_title": "hello"}, results[0])
	assert.Equal(t, map[string]interface{}{"u_id": "u1", "p_title": "again"}, results[1])
}
