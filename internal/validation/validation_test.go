package validation

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
)

func intPtr(v int) *int { return &v }

// Incidents → attachments (min=1, max=3), Incidents → tasks → files (max=1).
func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry([]schema.Entity{
		{
			Name: "Incidents",
			Keys: []string{"ID"},
			Compositions: []schema.Edge{
				{Name: "attachments", Target: "Incidents.attachments", Min: intPtr(1), Max: intPtr(3)},
				{Name: "tasks", Target: "Incidents.tasks"},
				{Name: "notes", Target: "Incidents.notes", Max: intPtr(1)},
			},
		},
		{
			Name:         "Incidents.tasks",
			Keys:         []string{"ID"},
			Compositions: []schema.Edge{{Name: "files", Target: "Incidents.tasks.files", Max: intPtr(1)}},
		},
		{
			Name:               "Incidents.attachments",
			Keys:               []string{"ID"},
			Media:              true,
			AcceptedMediaTypes: []string{"image/*", "application/pdf"},
		},
		{Name: "Incidents.tasks.files", Keys: []string{"ID"}, Media: true},
		{Name: "Incidents.notes", Keys: []string{"ID"}},
	})
	require.NoError(t, err)
	return reg
}

func items(n int) []model.Record {
	out := make([]model.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Record{"ID": fmt.Sprintf("a-%d", i)})
	}
	return out
}

func TestCountValidator_MinMax(t *testing.T) {
	v := NewCountValidator(testRegistry(t))

	tests := []struct {
		count   int
		wantErr string
	}{
		{0, BoundMin},
		{1, ""},
		{2, ""},
		{3, ""},
		{4, BoundMax},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d вложений", tt.count), func(t *testing.T) {
			err := v.ValidatePayload("Incidents", []model.Record{{"ID": "inc-1", "attachments": items(tt.count)}})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var countErr *CountError
			require.ErrorAs(t, err, &countErr)
			require.Len(t, countErr.Violations, 1)
			violation := countErr.Violations[0]
			assert.Equal(t, tt.wantErr, violation.Kind)
			assert.Equal(t, "attachments", violation.Field)
			assert.Equal(t, tt.count, violation.Actual)
			assert.ErrorIs(t, err, ErrCountViolation)
		})
	}
}

func TestCountValidator_PayloadSkipsAbsentFields(t *testing.T) {
	v := NewCountValidator(testRegistry(t))
	assert.NoError(t, v.ValidatePayload("Incidents", []model.Record{{"ID": "inc-1", "title": "без вложений"}}))
}

func TestCountValidator_StateCountsAbsentAsZero(t *testing.T) {
	v := NewCountValidator(testRegistry(t))
	err := v.ValidateState("Incidents", []model.Record{{"ID": "inc-1"}})

	var countErr *CountError
	require.ErrorAs(t, err, &countErr)
	require.Len(t, countErr.Violations, 1)
	assert.Equal(t, CountViolation{Entity: "Incidents", Field: "attachments", Kind: BoundMin, Bound: 1, Actual: 0}, countErr.Violations[0])
}

func TestCountValidator_AggregatesNested(t *testing.T) {
	v := NewCountValidator(testRegistry(t))
	payload := []model.Record{{
		"ID":          "inc-1",
		"attachments": items(5),
		"tasks": []model.Record{
			{"ID": "t-1", "files": items(2)},
			{"ID": "t-2", "files": items(1)},
		},
		// ограничение на композиции без вложений не проверяется
		"notes": items(3),
	}}

	err := v.ValidatePayload("Incidents", payload)
	var countErr *CountError
	require.ErrorAs(t, err, &countErr)
	assert.Equal(t, []CountViolation{
		{Entity: "Incidents", Field: "attachments", Kind: BoundMax, Bound: 3, Actual: 5},
		{Entity: "Incidents.tasks", Field: "files", Kind: BoundMax, Bound: 1, Actual: 2},
	}, countErr.Violations)
	assert.Contains(t, err.Error(), "Incidents.tasks.files")
}

func TestMediaTypeValidator(t *testing.T) {
	reg := testRegistry(t)
	fields, err := schema.NewFieldNameResolver(reg, 0)
	require.NoError(t, err)
	v := NewMediaTypeValidator(reg, fields)

	content := func() any { return strings.NewReader("x") }

	t.Run("допустимые типы", func(t *testing.T) {
		err := v.Validate("Incidents", []model.Record{{
			"ID": "inc-1",
			"attachments": []model.Record{
				{"ID": "a-1", "fileName": "photo.PNG", "content": content()},
				{"ID": "a-2", "fileName": "doc.bin", "mimeType": "application/pdf", "content": content()},
			},
		}})
		assert.NoError(t, err)
	})

	t.Run("без контента не проверяется", func(t *testing.T) {
		err := v.Validate("Incidents", []model.Record{{
			"ID":          "inc-1",
			"attachments": []model.Record{{"ID": "a-1", "fileName": "virus.exe"}},
		}})
		assert.NoError(t, err)
	})

	t.Run("сущность без ограничений", func(t *testing.T) {
		err := v.Validate("Incidents", []model.Record{{
			"ID": "inc-1",
			"tasks": []model.Record{{"ID": "t-1", "files": []model.Record{
				{"ID": "f-1", "fileName": "setup.exe", "content": content()},
			}}},
		}})
		assert.NoError(t, err)
	})

	t.Run("недопустимые файлы группируются по полю", func(t *testing.T) {
		err := v.Validate("Incidents", []model.Record{{
			"ID": "inc-1",
			"attachments": []model.Record{
				{"ID": "a-1", "fileName": "setup.exe", "content": content()},
				{"ID": "a-2", "fileName": "ok.jpg", "content": content()},
				{"ID": "a-3", "fileName": "notes.txt", "content": []byte("x")},
			},
		}})

		var mtErr *UnsupportedMediaTypeError
		require.ErrorAs(t, err, &mtErr)
		require.Len(t, mtErr.Violations, 1)
		assert.Equal(t, "attachments", mtErr.Violations[0].Field)
		assert.Equal(t, []string{"setup.exe", "notes.txt"}, mtErr.Violations[0].FileNames)
		assert.Equal(t, []string{"image/*", "application/pdf"}, mtErr.Violations[0].Allowed)
		assert.True(t, errors.Is(err, ErrUnsupportedMediaType))
	})

	t.Run("корневая сущность-вложение", func(t *testing.T) {
		err := v.Validate("Incidents.attachments", []model.Record{
			{"ID": "a-1", "fileName": "archive.zip", "content": content()},
		})
		var mtErr *UnsupportedMediaTypeError
		require.ErrorAs(t, err, &mtErr)
		assert.Equal(t, "Incidents.attachments", mtErr.Violations[0].Field)
	})
}
