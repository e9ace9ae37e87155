package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/goartstore/attachment-module/internal/cascade"
	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/lifecycle"
	"github.com/bigkaa/goartstore/attachment-module/internal/reader"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
	"github.com/bigkaa/goartstore/attachment-module/internal/txn"
	"github.com/bigkaa/goartstore/attachment-module/internal/validation"
)

// fakeService — хранилище контента в памяти с журналом вызовов.
type fakeService struct {
	calls  []string
	nextID int
}

func (f *fakeService) CreateAttachment(_ context.Context, in model.CreateAttachmentInput) (model.AttachmentModificationResult, error) {
	if in.Content != nil {
		_, _ = io.Copy(io.Discard, in.Content)
	}
	f.nextID++
	id := fmt.Sprintf("c-%d", f.nextID)
	f.calls = append(f.calls, "create:"+id)
	return model.AttachmentModificationResult{IsExternallyStored: true, ContentID: id, Status: model.StatusUnscanned}, nil
}

func (f *fakeService) UpdateAttachment(context.Context, model.UpdateAttachmentInput) (model.AttachmentModificationResult, error) {
	return model.AttachmentModificationResult{}, errors.New("не используется")
}

func (f *fakeService) MarkAttachmentAsDeleted(_ context.Context, in model.MarkAsDeletedInput) error {
	f.calls = append(f.calls, "delete:"+in.ContentID)
	return nil
}

func (f *fakeService) ReadAttachment(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("не используется")
}

func (f *fakeService) RestoreAttachment(context.Context, time.Time) (int, error) {
	return 0, nil
}

func intPtr(v int) *int { return &v }

type fixture struct {
	proc  *Processor
	svc   *fakeService
	store *repository.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := schema.NewRegistry([]schema.Entity{
		{
			Name: "Incidents",
			Keys: []string{"ID"},
			Compositions: []schema.Edge{
				{Name: "attachments", Target: "Incidents.attachments", Max: intPtr(2)},
				{Name: "tasks", Target: "Incidents.tasks"},
			},
		},
		{
			Name:         "Incidents.tasks",
			Keys:         []string{"ID"},
			Compositions: []schema.Edge{{Name: "files", Target: "Incidents.tasks.files"}},
		},
		{
			Name:               "Incidents.attachments",
			Keys:               []string{"ID"},
			Media:              true,
			AcceptedMediaTypes: []string{"image/*", "text/plain"},
		},
		{Name: "Incidents.tasks.files", Keys: []string{"ID"}, Media: true},
	})
	require.NoError(t, err)
	fields, err := schema.NewFieldNameResolver(reg, 0)
	require.NoError(t, err)

	svc := &fakeService{}
	store := repository.NewMemoryStore(reg, fields, logger)
	proc := New(reg, fields, lifecycle.NewFactory(svc, logger), reader.New(cascade.New(reg), store), logger)
	return &fixture{proc: proc, svc: svc, store: store}
}

func TestProcessWrite_CreateNested(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	rec := model.Record{
		"title": "Новый инцидент",
		"attachments": []model.Record{
			{"fileName": "a.png", "content": strings.NewReader("png")},
			{"fileName": "b.txt", "content": strings.NewReader("txt")},
		},
		"tasks": []model.Record{
			{"ID": "t-1", "files": []model.Record{{"ID": "f-1", "fileName": "x.bin", "content": strings.NewReader("bin")}}},
		},
	}

	res, err := fx.proc.ProcessWrite(ctx, WriteRequest{
		Entity:    "Incidents",
		Records:   []model.Record{rec},
		Operation: model.OpCreate,
		Space:     model.SpaceActive,
		Store:     fx.store,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count(lifecycle.Create))
	assert.Equal(t, []string{"create:c-1", "create:c-2", "create:c-3"}, fx.svc.calls, "поля обрабатываются слева направо")

	assert.NotEmpty(t, rec.String("ID"), "ключ корня сгенерирован")
	first := rec.Children("attachments")[0]
	assert.NotEmpty(t, first.String("ID"))
	assert.Equal(t, "c-1", first["contentId"])
	assert.Equal(t, "unscanned", first["status"])
	assert.Nil(t, first["content"], "внешний контент не остаётся в записи")

	file := rec.Children("tasks")[0].Children("files")[0]
	assert.Equal(t, "c-3", file["contentId"])
}

func TestProcessWrite_UpdateUsesPriorState(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, model.SpaceActive, "Incidents", model.Record{
		"ID": "inc-1",
		"attachments": []model.Record{
			{"ID": "a-1", "fileName": "old.png", "contentId": "id-1", "status": "clean"},
			{"ID": "a-2", "fileName": "keep.png", "contentId": "id-2", "status": "clean"},
		},
	}))

	rec := model.Record{
		"ID": "inc-1",
		"attachments": []model.Record{
			{"ID": "a-1", "fileName": "new.png", "content": strings.NewReader("new")},
			{"ID": "a-2", "content": nil},
		},
	}
	res, err := fx.proc.ProcessWrite(ctx, WriteRequest{
		Entity: "Incidents", Records: []model.Record{rec}, Operation: model.OpUpdate,
		Space: model.SpaceActive, Store: fx.store,
	})
	require.NoError(t, err)

	assert.Equal(t, []FieldAction{
		{Entity: "Incidents.attachments", Key: "ID=a-1", Kind: lifecycle.Update},
		{Entity: "Incidents.attachments", Key: "ID=a-2", Kind: lifecycle.MarkAsDeleted},
	}, res.Actions)
	assert.Equal(t, []string{"delete:id-1", "create:c-1", "delete:id-2"}, fx.svc.calls)

	atts := rec.Children("attachments")
	assert.Equal(t, "c-1", atts[0]["contentId"])
	assert.Nil(t, atts[1]["contentId"])
	assert.Nil(t, atts[1]["status"])
}

func TestProcessWrite_UnknownContentIDDropsContent(t *testing.T) {
	fx := newFixture(t)
	rec := model.Record{
		"ID": "inc-1",
		"attachments": []model.Record{
			{"ID": "a-9", "fileName": "x.png", "contentId": "bogus", "content": strings.NewReader(strings.Repeat("x", 1000))},
		},
	}
	res, err := fx.proc.ProcessWrite(context.Background(), WriteRequest{
		Entity: "Incidents", Records: []model.Record{rec}, Operation: model.OpCreate,
		Space: model.SpaceActive, Store: fx.store,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Count(lifecycle.DoNothing))
	assert.Empty(t, fx.svc.calls)
	att := rec.Children("attachments")[0]
	assert.Nil(t, att["content"])
	assert.Nil(t, att["contentId"])
}

func TestProcessWrite_UpdateCountsStoredChildren(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, model.SpaceActive, "Incidents", model.Record{
		"ID": "inc-1",
		"attachments": []model.Record{
			{"ID": "a-1", "contentId": "id-1"},
			{"ID": "a-2", "contentId": "id-2"},
		},
	}))

	tests := []struct {
		name    string
		items   []model.Record
		wantErr bool
	}{
		{"новое вложение сверх максимума", []model.Record{{"ID": "a-3", "fileName": "3.png", "content": strings.NewReader("3")}}, true},
		{"замена существующего", []model.Record{{"ID": "a-1", "fileName": "1.png", "content": strings.NewReader("1")}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx.svc.calls = nil
			rec := model.Record{"ID": "inc-1", "attachments": tt.items}
			_, err := fx.proc.ProcessWrite(ctx, WriteRequest{
				Entity: "Incidents", Records: []model.Record{rec}, Operation: model.OpUpdate,
				Space: model.SpaceActive, Store: fx.store,
			})
			if tt.wantErr {
				require.ErrorIs(t, err, validation.ErrCountViolation)
				assert.Empty(t, fx.svc.calls)
				return
			}
			require.NoError(t, err)
			assert.Len(t, rec.Children("attachments"), 1, "запрос не дополняется сохранёнными записями")
		})
	}
}

func TestProcessWrite_UntouchedContentFieldIgnored(t *testing.T) {
	fx := newFixture(t)
	rec := model.Record{
		"ID":          "inc-1",
		"attachments": []model.Record{{"ID": "a-1", "fileName": "renamed.png"}},
	}
	res, err := fx.proc.ProcessWrite(context.Background(), WriteRequest{
		Entity: "Incidents", Records: []model.Record{rec}, Operation: model.OpUpdate,
		Space: model.SpaceActive, Store: fx.store,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Actions)
	assert.Empty(t, fx.svc.calls)
}

func TestProcessWrite_MissingIdentifierOnUpdate(t *testing.T) {
	fx := newFixture(t)
	rec := model.Record{
		"ID":          "inc-1",
		"attachments": []model.Record{{"fileName": "a.png", "content": strings.NewReader("x")}},
	}
	_, err := fx.proc.ProcessWrite(context.Background(), WriteRequest{
		Entity: "Incidents", Records: []model.Record{rec}, Operation: model.OpUpdate,
		Space: model.SpaceActive, Store: fx.store,
	})
	assert.ErrorIs(t, err, model.ErrMissingIdentifier)
	assert.Empty(t, fx.svc.calls)
}

func TestProcessWrite_ValidationBeforeStoreCalls(t *testing.T) {
	fx := newFixture(t)

	t.Run("количество", func(t *testing.T) {
		rec := model.Record{
			"ID": "inc-1",
			"attachments": []model.Record{
				{"ID": "a-1", "fileName": "1.png", "content": strings.NewReader("1")},
				{"ID": "a-2", "fileName": "2.png", "content": strings.NewReader("2")},
				{"ID": "a-3", "fileName": "3.png", "content": strings.NewReader("3")},
			},
		}
		_, err := fx.proc.ProcessWrite(context.Background(), WriteRequest{
			Entity: "Incidents", Records: []model.Record{rec}, Operation: model.OpCreate, Space: model.SpaceActive,
		})
		assert.ErrorIs(t, err, validation.ErrCountViolation)
		assert.Empty(t, fx.svc.calls)
	})

	t.Run("черновик не проверяет количество", func(t *testing.T) {
		rec := model.Record{
			"ID": "inc-1",
			"attachments": []model.Record{
				{"ID": "a-1", "content": nil}, {"ID": "a-2", "content": nil}, {"ID": "a-3", "content": nil},
			},
		}
		_, err := fx.proc.ProcessWrite(context.Background(), WriteRequest{
			Entity: "Incidents", Records: []model.Record{rec}, Operation: model.OpDraftPatch,
			Space: model.SpaceDraft, Store: fx.store,
		})
		assert.NoError(t, err)
	})

	t.Run("тип контента", func(t *testing.T) {
		rec := model.Record{
			"ID":          "inc-1",
			"attachments": []model.Record{{"ID": "a-1", "fileName": "virus.exe", "content": strings.NewReader("MZ")}},
		}
		_, err := fx.proc.ProcessWrite(context.Background(), WriteRequest{
			Entity: "Incidents", Records: []model.Record{rec}, Operation: model.OpCreate, Space: model.SpaceActive,
		})
		assert.ErrorIs(t, err, validation.ErrUnsupportedMediaType)
		assert.Empty(t, fx.svc.calls)
	})
}

func TestProcessWrite_DraftPatchDoesNotDelete(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, model.SpaceDraft, "Incidents", model.Record{
		"ID":          "inc-1",
		"attachments": []model.Record{{"ID": "a-1", "contentId": "id-1", "status": "clean"}},
	}))

	rec := model.Record{
		"ID":          "inc-1",
		"attachments": []model.Record{{"ID": "a-1", "fileName": "new.png", "content": strings.NewReader("v2")}},
	}
	res, err := fx.proc.ProcessWrite(ctx, WriteRequest{
		Entity: "Incidents", Records: []model.Record{rec}, Operation: model.OpDraftPatch,
		Space: model.SpaceDraft, Store: fx.store,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(lifecycle.Update))
	assert.Equal(t, []string{"create:c-1"}, fx.svc.calls, "прежний контент черновика не удаляется")
}

func TestProcessWrite_UnknownEntity(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.proc.ProcessWrite(context.Background(), WriteRequest{Entity: "Nope", Operation: model.OpCreate})
	assert.ErrorIs(t, err, schema.ErrUnknownEntity)
}

func TestProcessWrite_RollbackRegistersCompensation(t *testing.T) {
	fx := newFixture(t)
	failure := errors.New("сбой сохранения записи")

	err := txn.Run(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), func(ctx context.Context, reg txn.Registrar) error {
		rec := model.Record{
			"ID":          "inc-1",
			"attachments": []model.Record{{"ID": "a-1", "fileName": "a.png", "content": strings.NewReader("x")}},
		}
		if _, err := fx.proc.ProcessWrite(ctx, WriteRequest{
			Entity: "Incidents", Records: []model.Record{rec}, Operation: model.OpCreate,
			Space: model.SpaceActive, Store: fx.store, Registrar: reg,
		}); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)
	assert.Equal(t, []string{"create:c-1", "delete:c-1"}, fx.svc.calls)
}

func TestProcessDelete_Cascades(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.Upsert(ctx, model.SpaceActive, "Incidents", model.Record{
		"ID": "inc-1",
		"attachments": []model.Record{
			{"ID": "a-1", "contentId": "id-1"},
			{"ID": "a-2"},
		},
		"tasks": []model.Record{
			{"ID": "t-1", "files": []model.Record{{"ID": "f-1", "contentId": "id-3"}}},
		},
	}))

	res, err := fx.proc.ProcessDelete(ctx, DeleteRequest{
		Entity: "Incidents", Keys: map[string]any{"ID": "inc-1"}, Space: model.SpaceActive,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(lifecycle.MarkAsDeleted))
	assert.Equal(t, []string{"delete:id-1", "delete:id-3"}, fx.svc.calls)

	_, err = fx.proc.ProcessDelete(ctx, DeleteRequest{
		Entity: "Incidents", Keys: map[string]any{"ID": "missing"}, Space: model.SpaceActive,
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
