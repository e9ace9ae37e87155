package cascade

import (
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
)

func comp(name, target string) schema.Edge {
	return schema.Edge{Name: name, Target: target}
}

func entity(name string, media bool, compositions ...schema.Edge) schema.Entity {
	return schema.Entity{Name: name, Keys: []string{"ID"}, Media: media, Compositions: compositions}
}

func mustRegistry(t *testing.T, entities ...schema.Entity) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(entities)
	require.NoError(t, err)
	return reg
}

func targets(path []AssociationIdentifier) []string {
	out := make([]string, 0, len(path))
	for _, step := range path {
		out = append(out, step.Target)
	}
	return out
}

func TestFindAttachmentPaths_Simple(t *testing.T) {
	reg := mustRegistry(t,
		entity("Incidents", false, comp("attachments", "Incidents.attachments")),
		entity("Incidents.attachments", true),
	)

	tree := New(reg).FindAttachmentPaths("Incidents")
	require.NotNil(t, tree)
	assert.Equal(t, "Incidents", tree.Identifier.Target)
	assert.Empty(t, tree.Identifier.Edge)

	paths := tree.Paths()
	require.Len(t, paths, 1)
	assert.Equal(t, []AssociationIdentifier{
		{Target: "Incidents"},
		{Edge: "attachments", Target: "Incidents.attachments"},
	}, paths[0])
}

func TestFindAttachmentPaths_Cycle(t *testing.T) {
	// A → A (самокомпозиция), A → B, B → A, B → M (вложение)
	reg := mustRegistry(t,
		entity("A", false, comp("self", "A"), comp("b", "B")),
		entity("B", false, comp("back", "A"), comp("files", "M")),
		entity("M", true),
	)

	done := make(chan *NodeTree, 1)
	go func() { done <- New(reg).FindAttachmentPaths("A") }()

	var tree *NodeTree
	select {
	case tree = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("обход циклической модели не завершился")
	}
	require.NotNil(t, tree)

	paths := tree.Paths()
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"A", "B", "M"}, targets(paths[0]))

	for _, path := range paths {
		seen := mapset.NewThreadUnsafeSet[string]()
		for _, step := range path {
			assert.True(t, seen.Add(step.Target), "сущность %s повторяется в пути", step.Target)
		}
	}
}

func TestFindAttachmentPaths_CycleReachedFromDifferentRoots(t *testing.T) {
	// R → A, R → B; A ↔ B; оба компонуют M.
	reg := mustRegistry(t,
		entity("R", false, comp("a", "A"), comp("b", "B")),
		entity("A", false, comp("toB", "B"), comp("files", "M")),
		entity("B", false, comp("toA", "A"), comp("docs", "M")),
		entity("M", true),
	)

	tree := New(reg).FindAttachmentPaths("R")
	require.NotNil(t, tree)

	var got [][]string
	for _, p := range tree.Paths() {
		got = append(got, targets(p))
	}
	assert.ElementsMatch(t, [][]string{
		{"R", "A", "B", "M"},
		{"R", "A", "M"},
		{"R", "B", "A", "M"},
		{"R", "B", "M"},
	}, got)
}

func TestFindAttachmentPaths_Diamond(t *testing.T) {
	reg := mustRegistry(t,
		entity("Root", false, comp("a", "A"), comp("b", "B")),
		entity("A", false, comp("files", "X")),
		entity("B", false, comp("docs", "X")),
		entity("X", true),
	)

	paths := New(reg).FindAttachmentPaths("Root").Paths()
	require.Len(t, paths, 2)
	for _, p := range paths {
		assert.Equal(t, "X", p[len(p)-1].Target)
	}
	assert.Equal(t, "files", paths[0][2].Edge)
	assert.Equal(t, "docs", paths[1][2].Edge)
}

func TestFindAttachmentPaths_SharedSubtreeIsReused(t *testing.T) {
	reg := mustRegistry(t,
		entity("Root", false, comp("c1", "C"), comp("c2", "C")),
		entity("C", false, comp("files", "M")),
		entity("M", true),
	)

	tree := New(reg).FindAttachmentPaths("Root")
	require.NotNil(t, tree)
	require.Len(t, tree.Children, 2)

	assert.Equal(t, "c1", tree.Children[0].Identifier.Edge)
	assert.Equal(t, "c2", tree.Children[1].Identifier.Edge)
	// Поддерево C исследовано один раз.
	assert.Same(t, tree.Children[0].Children[0], tree.Children[1].Children[0])
	assert.Len(t, tree.Paths(), 2)
}

func TestFindAttachmentPaths_Empty(t *testing.T) {
	reg := mustRegistry(t,
		entity("Plain", false),
		entity("Customers", false),
		schema.Entity{
			Name:         "WithAssociation",
			Keys:         []string{"ID"},
			Associations: []schema.Edge{comp("files", "M")},
		},
		entity("M", true),
	)
	c := New(reg)

	assert.Nil(t, c.FindAttachmentPaths("Plain"))
	assert.Nil(t, c.FindAttachmentPaths("Unknown"))
	assert.Nil(t, c.FindAttachmentPaths("WithAssociation"), "ассоциации не обходятся")
}

func TestFindAttachmentPaths_MediaRoot(t *testing.T) {
	reg := mustRegistry(t, entity("M", true))

	tree := New(reg).FindAttachmentPaths("M")
	require.NotNil(t, tree)
	assert.True(t, tree.IsLeaf())
	assert.Equal(t, [][]AssociationIdentifier{{{Target: "M"}}}, tree.Paths())
}

func TestFindMediaEntityNames(t *testing.T) {
	reg := mustRegistry(t,
		entity("Root", false, comp("a", "A"), comp("b", "B"), comp("self", "Root")),
		entity("A", false, comp("files", "X"), comp("images", "Y")),
		entity("B", false, comp("docs", "X")),
		entity("X", true),
		entity("Y", true),
		schema.Entity{
			Name:         "Other",
			Keys:         []string{"ID"},
			Media:        true,
			Associations: nil,
		},
	)
	c := New(reg)

	assert.Equal(t, []string{"X", "Y"}, c.FindMediaEntityNames("Root"))
	assert.Equal(t, []string{"X"}, c.FindMediaEntityNames("B"))
	assert.Equal(t, []string{"X"}, c.FindMediaEntityNames("X"))
	assert.Empty(t, c.FindMediaEntityNames("Unknown"))
}
