package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userDescriptor() *EntityDescriptor {
	return NewEntity("User").
		Column("id", TypeUUID, PrimaryKey()).
		Column("name", TypeString).
		OneToMany("posts", "Post", WithInverse("author"), WithCascade(CascadeRemove))
}

func postDescriptor() *EntityDescriptor {
	return NewEntity("Post").
		Column("id", TypeUUID, PrimaryKey()).
		Column("title", TypeString).
		Column("userId", TypeUUID, Nullable()).
		ManyToOne("author", "User", WithJoinColumn("userId"), WithInverse("posts"))
}

func buildRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	_, err := reg.Register(userDescriptor())
	require.NoError(t, err)
	_, err = reg.Register(postDescriptor())
	require.NoError(t, err)
	require.NoError(t, reg.Finalize())
	return reg
}

func TestRegisterAndResolve(t *testing.T) {
	reg := NewRegistry()

	meta, err := reg.Register(userDescriptor())
	require.NoError(t, err)
	assert.Equal(t, "User", meta.Name)
	assert.Equal(t, "users", meta.Table)
	assert.Equal(t, "id", meta.PrimaryKey.Name)

	resolved, err := reg.Resolve("User")
	require.NoError(t, err)
	assert.Same(t, meta, resolved)
}

func TestResolveUnknownEntity(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve("Ghost")
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestRegisterIdempotent(t *testing.T) {
	reg := NewRegistry()
	first, err := reg.Register(userDescriptor())
	require.NoError(t, err)

	again, err := reg.Register(userDescriptor())
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, reg.Count())
}

func TestRegisterConflict(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(userDescriptor())
	require.NoError(t, err)

	other := NewEntity("User").
		Column("id", TypeInt, PrimaryKey()).
		Column("email", TypeString)
	_, err = reg.Register(other)
	assert.ErrorIs(t, err, ErrSchemaConflict)
}

func TestRegisterAfterFinalize(t *testing.T) {
	reg := buildRegistry(t)

	_, err := reg.Register(NewEntity("Tag").Column("id", TypeUUID, PrimaryKey()))
	assert.ErrorIs(t, err, ErrRegistryFrozen)
	assert.True(t, reg.Frozen())
}

func TestFinalizeUnknownTarget(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(NewEntity("Orphan").
		Column("id", TypeUUID, PrimaryKey()).
		Column("parentId", TypeUUID, Nullable()).
		ManyToOne("parent", "Missing", WithJoinColumn("parentId")))
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Finalize(), ErrUnknownEntity)
	assert.False(t, reg.Frozen())
}

func TestDescriptorValidation(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Register(NewEntity("NoKey").Column("name", TypeString))
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	_, err = reg.Register(NewEntity("Dup").
		Column("id", TypeUUID, PrimaryKey()).
		Column("id", TypeUUID))
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestAllEntitiesOrdered(t *testing.T) {
	reg := buildRegistry(t)
	all := reg.AllEntities()
	require.Len(t, all, 2)
	assert.Equal(t, "User", all[0].Name)
	assert.Equal(t, "Post", all[1].Name)
}

func TestSoftDeleteColumn(t *testing.T) {
	reg := NewRegistry()
	meta, err := reg.Register(NewEntity("Doc").
		Column("id", TypeUUID, PrimaryKey()).
		Column("deletedAt", TypeTimestamp, DeleteMarker()))
	require.NoError(t, err)
	assert.Equal(t, "deletedAt", meta.SoftDeleteColumn)

	col, ok := meta.Column("deletedAt")
	require.True(t, ok)
	assert.True(t, col.Nullable)
}

func TestDependencyOrder(t *testing.T) {
	reg := buildRegistry(t)
	order := reg.DependencyOrder()
	require.Equal(t, []string{"User", "Post"}, order)
	assert.Empty(t, reg.DetectCycles())
}

func TestDetectCycles(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(NewEntity("A").
		Column("id", TypeUUID, PrimaryKey()).
		Column("bId", TypeUUID, Nullable()).
		ManyToOne("b", "B", WithJoinColumn("bId")))
	require.NoError(t, err)
	_, err = reg.Register(NewEntity("B").
		Column("id", TypeUUID, PrimaryKey()).
		Column("aId", TypeUUID, Nullable()).
		ManyToOne("a", "A", WithJoinColumn("aId")))
	require.NoError(t, err)

	cycles := reg.DetectCycles()
	require.Len(t, cycles, 1)
	assert.Len(t, cycles[0], 2)
}
