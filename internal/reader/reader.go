// Пакет reader — каскадное чтение записи со всеми достижимыми вложениями.
//
// План чтения строится из дерева путей cascade: каждая композиция на
// пути к сущности-вложению раскрывается со всеми полями. Запрос к
// хранилищу выполняется одним обращением.
package reader

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/attachment-module/internal/cascade"
	"github.com/bigkaa/goartstore/attachment-module/internal/domain/model"
	"github.com/bigkaa/goartstore/attachment-module/internal/repository"
)

// BuildExpansion строит план раскрытия по дочерним узлам дерева путей.
// Корень дерева соответствует читаемой сущности и в план не входит.
func BuildExpansion(tree *cascade.NodeTree) []repository.Expand {
	if tree == nil || tree.IsLeaf() {
		return nil
	}
	expands := make([]repository.Expand, 0, len(tree.Children))
	for _, child := range tree.Children {
		expands = append(expands, repository.Expand{
			Edge:    child.Identifier.Edge,
			Target:  child.Identifier.Target,
			Expands: BuildExpansion(child),
		})
	}
	return expands
}

// AttachmentsReader читает запись с раскрытием всех путей к вложениям.
type AttachmentsReader struct {
	cascader *cascade.Cascader
	records  repository.RecordReader
}

// New создаёт AttachmentsReader поверх хранилища записей.
func New(cascader *cascade.Cascader, records repository.RecordReader) *AttachmentsReader {
	return &AttachmentsReader{cascader: cascader, records: records}
}

// Using возвращает копию, читающую через другое хранилище
// (например, привязанное к транзакции).
func (r *AttachmentsReader) Using(records repository.RecordReader) *AttachmentsReader {
	return &AttachmentsReader{cascader: r.cascader, records: records}
}

// Read читает запись entity с ключом keys из пространства space.
// Возвращает запись и дерево путей, по которому она раскрыта
// (nil — вложения недостижимы, запись прочитана без раскрытий).
func (r *AttachmentsReader) Read(ctx context.Context, space model.Space, entity string, keys map[string]any) (model.Record, *cascade.NodeTree, error) {
	tree := r.cascader.FindAttachmentPaths(entity)

	rec, err := r.records.Read(ctx, repository.Query{
		Space:   space,
		Entity:  entity,
		Keys:    keys,
		Expands: BuildExpansion(tree),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("каскадное чтение %s: %w", entity, err)
	}
	return rec, tree, nil
}

// MediaRow — запись сущности-вложения, найденная в раскрытой записи.
type MediaRow struct {
	// Entity — квалифицированное имя сущности-вложения
	Entity string
	// Field — имя композиции, в которой найдена запись (пусто для корня)
	Field string
	// Record — сама запись (общая с исходным деревом)
	Record model.Record
	// Parents — записи-предки от корня
	Parents []model.Record
}

// Collect перечисляет записи-вложения раскрытой записи по дереву путей
// в порядке обхода в глубину слева направо.
func Collect(rec model.Record, tree *cascade.NodeTree) []MediaRow {
	if rec == nil || tree == nil {
		return nil
	}
	var rows []MediaRow
	collect(rec, tree, "", nil, &rows)
	return rows
}

func collect(rec model.Record, node *cascade.NodeTree, field string, parents []model.Record, rows *[]MediaRow) {
	if node.IsLeaf() {
		*rows = append(*rows, MediaRow{
			Entity:  node.Identifier.Target,
			Field:   field,
			Record:  rec,
			Parents: parents,
		})
		return
	}

	path := make([]model.Record, len(parents), len(parents)+1)
	copy(path, parents)
	path = append(path, rec)

	for _, child := range node.Children {
		for _, item := range rec.Children(child.Identifier.Edge) {
			collect(item, child, child.Identifier.Edge, path, rows)
		}
	}
}
