package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-orm/keystone/query"
	"github.com/keystone-orm/keystone/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()

	_, err := reg.Register(schema.NewEntity("User").
		Column("id", schema.TypeUUID, schema.PrimaryKey()).
		Column("name", schema.TypeString).
		Column("age", schema.TypeInt).
		OneToMany("posts", "Post", schema.WithInverse("author")).
		OneToMany("profile", "Profile"))
	require.NoError(t, err)

	_, err = reg.Register(schema.NewEntity("Post").
		Column("id", schema.TypeUUID, schema.PrimaryKey()).
		Column("title", schema.TypeString).
		Column("userId", schema.TypeUUID, schema.Nullable()).
		ManyToOne("author", "User", schema.WithJoinColumn("userId"), schema.WithInverse("posts")).
		ManyToMany("tags", "Tag"))
	require.NoError(t, err)

	_, err = reg.Register(schema.NewEntity("Profile").
		Column("id", schema.TypeUUID, schema.PrimaryKey()).
		Column("bio", schema.TypeText).
		Column("userId", schema.TypeUUID))
	require.NoError(t, err)

	_, err = reg.Register(schema.NewEntity("Tag").
		Column("id", schema.TypeUUID, schema.PrimaryKey()).
		Column("label", schema.TypeString))
	require.NoError(t, err)

	_, err = reg.Register(schema.NewEntity("Doc").
		Column("id", schema.TypeUUID, schema.PrimaryKey()).
		Column("deletedAt", schema.TypeTimestamp, schema.DeleteMarker()))
	require.NoError(t, err)

	_, err = reg.Register(schema.NewEntity("Order").
		Column("id", schema.TypeUUID, schema.PrimaryKey()).
		Column("status", schema.TypeString))
	require.NoError(t, err)

	require.NoError(t, reg.Finalize())
	return reg
}

func build(t *testing.T, b *query.Builder) *query.AST {
	t.Helper()
	ast, err := b.Build()
	require.NoError(t, err)
	return ast
}

func TestCompileSelectWithJoin(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).
		From("User", "u").
		LeftJoin("posts", "post"))

	stmt, err := c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT u.id, u.name, u.age, post.id, post.title, post.userId "+
			"FROM users u LEFT JOIN posts post ON post.userId = u.id",
		stmt.SQL)
	assert.Empty(t, stmt.Args)
	assert.Len(t, stmt.Projection, 6)
}

func TestCompileIsDeterministic(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).
		From("User", "u").
		LeftJoin("posts", "post").
		Where("name", query.OpEqual, "alice").
		OrderBy("age", query.Desc).
		Limit(10))

	first, err := c.Compile(ast)
	require.NoError(t, err)
	second, err := c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, first.Args, second.Args)
}

func TestCompileRawProjectionLabels(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).
		From("User", "user").
		LeftJoin("profile", "profile").
		Select("user.id", "profile.bio").
		Raw())

	stmt, err := c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "user".id AS user_id, profile.bio AS profile_bio `+
			`FROM users "user" LEFT JOIN profiles profile ON profile.userId = "user".id`,
		stmt.SQL)
	assert.Equal(t, "user_id", stmt.Projection[0].Label)
	assert.Equal(t, "profile_bio", stmt.Projection[1].Label)
}

func TestCompileWherePlaceholders(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).
		From("User", "u").
		Where("name", query.OpEqual, "alice").
		AndWhere("age", query.OpGreaterThan, 30).
		OrWhere("age", query.OpIsNull, nil))

	stmt, err := c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT u.id, u.name, u.age FROM users u "+
			"WHERE u.name = $1 AND u.age > $2 OR u.age IS NULL",
		stmt.SQL)
	assert.Equal(t, []interface{}{"alice", 30}, stmt.Args)
}

func TestCompileInAndBetween(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).
		From("User", "u").
		Where("id", query.OpIn, []interface{}{"a", "b", "c"}).
		AndWhere("age", query.OpBetween, []interface{}{18, 65}))

	stmt, err := c.Compile(ast)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "u.id IN ($1, $2, $3)")
	assert.Contains(t, stmt.SQL, "u.age BETWEEN $4 AND $5")
	assert.Equal(t, []interface{}{"a", "b", "c", 18, 65}, stmt.Args)
}

func TestCompileILike(t *testing.T) {
	reg := testRegistry(t)

	ast := build(t, query.NewBuilder(reg).
		From("User", "u").
		Where("name", query.OpILike, "al%"))

	stmt, err := NewCompiler(Postgres, reg).Compile(ast)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "u.name ILIKE $1")

	stmt, err = NewCompiler(SQLite, reg).Compile(ast)
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, "LOWER(u.name) LIKE LOWER(?)")
}

func TestCompileManyToManyJoin(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).
		From("Post", "post").
		LeftJoin("tags", "tag"))

	stmt, err := c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT post.id, post.title, post.userId, tag.id, tag.label "+
			"FROM posts post "+
			"LEFT JOIN post_tag tag_jt ON tag_jt.postId = post.id "+
			"LEFT JOIN tags tag ON tag.id = tag_jt.tagId",
		stmt.SQL)
}

func TestCompileInsert(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).
		InsertInto("Post").
		Values(map[string]interface{}{"id": "p1", "title": "hi", "userId": "u1"}))

	stmt, err := c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO posts (id, title, userId) VALUES ($1, $2, $3)", stmt.SQL)
	assert.Equal(t, []interface{}{"p1", "hi", "u1"}, stmt.Args)
}

func TestCompileReturningUnsupported(t *testing.T) {
	reg := testRegistry(t)

	ast := build(t, query.NewBuilder(reg).
		InsertInto("Post").
		Values(map[string]interface{}{"title": "hi"}).
		Returning("id"))

	_, err := NewCompiler(Postgres, reg).Compile(ast)
	require.NoError(t, err)

	_, err = NewCompiler(MySQL, reg).Compile(ast)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestCompileUpdate(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).
		Update("User").
		Set("name", "bob").
		Where("id", query.OpEqual, "u1"))

	stmt, err := c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET name = $1 WHERE id = $2", stmt.SQL)
	assert.Equal(t, []interface{}{"bob", "u1"}, stmt.Args)
}

func TestCompileDelete(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).
		Delete("User").
		Where("id", query.OpEqual, "u1"))

	stmt, err := c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users WHERE id = $1", stmt.SQL)
}

func TestCompileSoftDeleteFilter(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).From("Doc", "doc"))
	stmt, err := c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT doc.id, doc.deletedAt FROM docs doc WHERE doc.deletedAt IS NULL",
		stmt.SQL)

	ast = build(t, query.NewBuilder(reg).
		From("Doc", "doc").
		Where("id", query.OpEqual, "d1"))
	stmt, err = c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT doc.id, doc.deletedAt FROM docs doc WHERE (doc.id = $1) AND doc.deletedAt IS NULL",
		stmt.SQL)

	ast = build(t, query.NewBuilder(reg).From("Doc", "doc").IncludeDeleted())
	stmt, err = c.Compile(ast)
	require.NoError(t, err)
	assert.Equal(t, "SELECT doc.id, doc.deletedAt FROM docs doc", stmt.SQL)
}

func TestCompileCount(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(Postgres, reg)

	ast := build(t, query.NewBuilder(reg).
		From("User", "u").
		Where("age", query.OpGreaterThan, 30))

	stmt, err := c.CompileCount(ast)
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM users u WHERE u.age > $1", stmt.SQL)
	assert.Equal(t, []interface{}{30}, stmt.Args)
}

func TestCompileQuotesReservedIdentifiers(t *testing.T) {
	reg := testRegistry(t)

	// the derived alias for Order is the reserved word "order"
	ast := build(t, query.NewBuilder(reg).
		From("Order", "").
		Where("status", query.OpEqual, "open"))

	stmt, err := NewCompiler(Postgres, reg).Compile(ast)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "order".id, "order".status FROM orders "order" WHERE "order".status = $1`,
		stmt.SQL)

	stmt, err = NewCompiler(SQLite, reg).Compile(ast)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "order".id, "order".status FROM orders "order" WHERE "order".status = ?`,
		stmt.SQL)

	stmt, err = NewCompiler(MySQL, reg).Compile(ast)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `order`.id, `order`.status FROM orders `order` WHERE `order`.status = ?",
		stmt.SQL)
}

func TestFromName(t *testing.T) {
	d, err := FromName("postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = FromName("oracle")
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}
