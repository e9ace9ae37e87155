package lifecycle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_DecisionTable(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Kind
	}{
		{
			name: "поле id не передано, контент есть, прежнего нет",
			in:   Input{NewContent: true},
			want: Create,
		},
		{
			name: "поле id не передано, контент есть, прежний есть",
			in:   Input{NewContent: true, ExistingContentID: "id-1"},
			want: Update,
		},
		{
			name: "поле id не передано, контента нет, прежнего нет",
			in:   Input{},
			want: DoNothing,
		},
		{
			name: "поле id не передано, контента нет, прежний есть",
			in:   Input{ExistingContentID: "id-1"},
			want: MarkAsDeleted,
		},
		{
			name: "id=null, прежнего нет, контент есть",
			in:   Input{ContentIDPresent: true, NewContent: true},
			want: Create,
		},
		{
			name: "id=null, прежний есть, контент есть",
			in:   Input{ContentIDPresent: true, NewContent: true, ExistingContentID: "id-1"},
			want: Update,
		},
		{
			name: "id=null, прежний есть, контента нет",
			in:   Input{ContentIDPresent: true, ExistingContentID: "id-1"},
			want: MarkAsDeleted,
		},
		{
			name: "id совпадает с прежним, контент есть",
			in:   Input{ContentIDPresent: true, NewContentID: "id-1", NewContent: true, ExistingContentID: "id-1"},
			want: Update,
		},
		{
			name: "id совпадает с прежним, контента нет",
			in:   Input{ContentIDPresent: true, NewContentID: "id-1", ExistingContentID: "id-1"},
			want: DoNothing,
		},
		{
			name: "id отличается от прежнего, контента нет",
			in:   Input{ContentIDPresent: true, NewContentID: "id-2", ExistingContentID: "id-1"},
			want: MarkAsDeleted,
		},
		{
			name: "id отличается от прежнего, контент есть",
			in:   Input{ContentIDPresent: true, NewContentID: "id-2", NewContent: true, ExistingContentID: "id-1"},
			want: Update,
		},
		{
			name: "id несуществующего контента, контент есть",
			in:   Input{ContentIDPresent: true, NewContentID: "id-2", NewContent: true},
			want: DoNothing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.in))
		})
	}
}

// TestClassify_Exhaustive перебирает всё пространство входов и проверяет
// инварианты таблицы для каждой комбинации.
func TestClassify_Exhaustive(t *testing.T) {
	type idState struct {
		present bool
		value   string
	}
	newIDs := []idState{{false, ""}, {true, ""}, {true, "id-1"}, {true, "id-2"}}
	existingIDs := []string{"", "id-1"}

	seen := map[Kind]int{}
	for _, newID := range newIDs {
		for _, existing := range existingIDs {
			for _, content := range []bool{false, true} {
				in := Input{
					NewContent:        content,
					NewContentID:      newID.value,
					ContentIDPresent:  newID.present,
					ExistingContentID: existing,
				}
				name := fmt.Sprintf("present=%v/new=%q/existing=%q/content=%v", newID.present, newID.value, existing, content)
				t.Run(name, func(t *testing.T) {
					got := Classify(in)
					seen[got]++

					switch got {
					case Create:
						assert.True(t, content, "Create без контента")
						assert.Empty(t, existing, "Create при существующем контенте")
					case Update:
						assert.True(t, content, "Update без контента")
						assert.NotEmpty(t, existing, "Update без прежнего контента")
					case MarkAsDeleted:
						assert.False(t, content, "MarkAsDeleted при переданном контенте")
						assert.NotEmpty(t, existing, "MarkAsDeleted без прежнего контента")
					case DoNothing:
					default:
						t.Fatalf("неизвестное действие %v", got)
					}

					// Контент пропал, прежний id был, новый id его не подтверждает.
					if !content && existing != "" && newID.value != existing {
						assert.Equal(t, MarkAsDeleted, got)
					}
					// Свежий контент при существующем контенте — всегда Update.
					if content && existing != "" {
						assert.Equal(t, Update, got)
					}
				})
			}
		}
	}

	for _, k := range []Kind{Create, Update, MarkAsDeleted, DoNothing} {
		assert.Positive(t, seen[k], "действие %s недостижимо", k)
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "create", Create.String())
	assert.Equal(t, "update", Update.String())
	assert.Equal(t, "mark_as_deleted", MarkAsDeleted.String())
	assert.Equal(t, "do_nothing", DoNothing.String())
}
