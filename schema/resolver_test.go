package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveManyToOne(t *testing.T) {
	reg := buildRegistry(t)

	post, err := reg.Resolve("Post")
	require.NoError(t, err)
	rel, ok := post.Relation("author")
	require.True(t, ok)

	resolved := rel.Resolved()
	require.NotNil(t, resolved)
	assert.True(t, resolved.OwningSide)
	assert.Equal(t, "userId", resolved.ForeignKeyColumn)
	assert.Equal(t, "id", resolved.ReferencedColumn)
	assert.Equal(t, "posts", resolved.InverseRelation.Name)
}

func TestResolveOneToManyInverse(t *testing.T) {
	reg := buildRegistry(t)

	user, err := reg.Resolve("User")
	require.NoError(t, err)
	rel, ok := user.Relation("posts")
	require.True(t, ok)

	resolved := rel.Resolved()
	require.NotNil(t, resolved)
	assert.False(t, resolved.OwningSide)
	// the key lives on the Post side
	assert.Equal(t, "userId", resolved.ForeignKeyColumn)
	assert.Equal(t, "id", resolved.ReferencedColumn)
}

func TestDerivedForeignKeyName(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(NewEntity("Comment").
		Column("id", TypeUUID, PrimaryKey()).
		Column("postId", TypeUUID).
		ManyToOne("post", "Post"))
	require.NoError(t, err)
	_, err = reg.Register(NewEntity("Post").
		Column("id", TypeUUID, PrimaryKey()))
	require.NoError(t, err)
	require.NoError(t, reg.Finalize())

	comment, _ := reg.Resolve("Comment")
	rel, _ := comment.Relation("post")
	assert.Equal(t, "postId", rel.Resolved().ForeignKeyColumn)
}

func TestDerivedForeignKeyWithoutInverse(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(NewEntity("Author").
		Column("id", TypeUUID, PrimaryKey()).
		OneToMany("books", "Book"))
	require.NoError(t, err)
	_, err = reg.Register(NewEntity("Book").
		Column("id", TypeUUID, PrimaryKey()).
		Column("authorId", TypeUUID))
	require.NoError(t, err)
	require.NoError(t, reg.Finalize())

	author, _ := reg.Resolve("Author")
	rel, _ := author.Relation("books")
	assert.Equal(t, "authorId", rel.Resolved().ForeignKeyColumn)
}

func TestMissingForeignKeyColumnIsFatal(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(NewEntity("Author").
		Column("id", TypeUUID, PrimaryKey()).
		OneToMany("books", "Book"))
	require.NoError(t, err)
	_, err = reg.Register(NewEntity("Book").
		Column("id", TypeUUID, PrimaryKey()))
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Finalize(), ErrInvalidDescriptor)
}

func TestAmbiguousOwnership(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(NewEntity("Left").
		Column("id", TypeUUID, PrimaryKey()).
		Column("rightId", TypeUUID, Nullable()).
		ManyToOne("right", "Right", WithJoinColumn("rightId"), WithInverse("left")))
	require.NoError(t, err)
	_, err = reg.Register(NewEntity("Right").
		Column("id", TypeUUID, PrimaryKey()).
		Column("leftId", TypeUUID, Nullable()).
		ManyToOne("left", "Left", WithJoinColumn("leftId"), WithInverse("right")))
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Finalize(), ErrAmbiguousOwnership)
}

func TestManyToManyJunction(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(NewEntity("Post").
		Column("id", TypeUUID, PrimaryKey()).
		ManyToMany("tags", "Tag", WithInverse("posts")))
	require.NoError(t, err)
	_, err = reg.Register(NewEntity("Tag").
		Column("id", TypeUUID, PrimaryKey()).
		ManyToManyInverse("posts", "Post", WithInverse("tags")))
	require.NoError(t, err)
	require.NoError(t, reg.Finalize())

	post, _ := reg.Resolve("Post")
	rel, _ := post.Relation("tags")
	resolved := rel.Resolved()
	assert.True(t, resolved.OwningSide)
	assert.Equal(t, "post_tag", resolved.JunctionTable)
	assert.Equal(t, "postId", resolved.JunctionOwnerColumn)
	assert.Equal(t, "tagId", resolved.JunctionTargetColumn)

	tag, _ := reg.Resolve("Tag")
	inv, _ := tag.Relation("posts")
	// both sides derive the same junction table
	assert.Equal(t, "post_tag", inv.Resolved().JunctionTable)
	assert.False(t, inv.Resolved().OwningSide)
}

func TestSelfReferencingJunction(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(NewEntity("User").
		Column("id", TypeUUID, PrimaryKey()).
		ManyToMany("friends", "User"))
	require.NoError(t, err)
	require.NoError(t, reg.Finalize())

	user, _ := reg.Resolve("User")
	rel, _ := user.Relation("friends")
	resolved := rel.Resolved()
	assert.Equal(t, "user_user", resolved.JunctionTable)
	assert.Equal(t, "userId_1", resolved.JunctionOwnerColumn)
	assert.Equal(t, "userId_2", resolved.JunctionTargetColumn)
}

func TestManyToManyBothOwningIsAmbiguous(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(NewEntity("Post").
		Column("id", TypeUUID, PrimaryKey()).
		ManyToMany("tags", "Tag", WithInverse("posts")))
	require.NoError(t, err)
	_, err = reg.Register(NewEntity("Tag").
		Column("id", TypeUUID, PrimaryKey()).
		ManyToMany("posts", "Post", WithInverse("tags")))
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Finalize(), ErrAmbiguousOwnership)
}
