// Пакет cascade — поиск сущностей-вложений, достижимых от корневой
// сущности по рёбрам композиции.
//
// Обход в глубину с множеством предков на текущем пути: сущность
// встречается в пути не более одного раза, поэтому циклические модели
// обходятся за конечное время. Поддерево, исследованное без отсечения
// цикла, запоминается по имени сущности и переиспользуется при
// повторном достижении через другое ребро. Ассоциации не обходятся.
package cascade

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bigkaa/goartstore/attachment-module/internal/schema"
)

// AssociationIdentifier — шаг обхода: имя ребра и целевая сущность.
// Для корня дерева Edge пуст.
type AssociationIdentifier struct {
	Edge   string
	Target string
}

// NodeTree — узел дерева путей. Каждый путь от корня до листа ведёт
// к сущности-вложению. Дерево неизменяемо; поддеревья могут разделяться.
type NodeTree struct {
	Identifier AssociationIdentifier
	Children   []*NodeTree
}

// IsLeaf сообщает, является ли узел листом.
func (n *NodeTree) IsLeaf() bool {
	return len(n.Children) == 0
}

// Paths перечисляет все пути от корня до листьев (корень включён).
func (n *NodeTree) Paths() [][]AssociationIdentifier {
	if n == nil {
		return nil
	}
	if n.IsLeaf() {
		return [][]AssociationIdentifier{{n.Identifier}}
	}

	var paths [][]AssociationIdentifier
	for _, child := range n.Children {
		for _, tail := range child.Paths() {
			path := make([]AssociationIdentifier, 0, len(tail)+1)
			path = append(path, n.Identifier)
			path = append(path, tail...)
			paths = append(paths, path)
		}
	}
	return paths
}

// Cascader ищет вложения по описанию модели.
type Cascader struct {
	schema schema.Introspector
}

// New создаёт Cascader.
func New(s schema.Introspector) *Cascader {
	return &Cascader{schema: s}
}

// FindMediaEntityNames возвращает отсортированные имена сущностей-вложений,
// достижимых от root по композициям (включая сам root, если он вложение).
// Неизвестная сущность — пустой результат.
func (c *Cascader) FindMediaEntityNames(root string) []string {
	visited := mapset.NewThreadUnsafeSet[string]()
	media := mapset.NewThreadUnsafeSet[string]()

	var walk func(name string)
	walk = func(name string) {
		if !visited.Add(name) {
			return
		}
		entity, ok := c.schema.Entity(name)
		if !ok {
			return
		}
		if entity.Media {
			media.Add(name)
			return
		}
		for _, edge := range entity.Compositions {
			walk(edge.Target)
		}
	}
	walk(root)

	names := media.ToSlice()
	sort.Strings(names)
	return names
}

// FindAttachmentPaths строит дерево путей от root к сущностям-вложениям.
// nil — вложения недостижимы или root неизвестен.
func (c *Cascader) FindAttachmentPaths(root string) *NodeTree {
	entity, ok := c.schema.Entity(root)
	if !ok {
		return nil
	}

	rootNode := &NodeTree{Identifier: AssociationIdentifier{Target: root}}
	if entity.Media {
		return rootNode
	}

	w := &walker{
		schema:    c.schema,
		ancestors: mapset.NewThreadUnsafeSet[string](),
		memo:      make(map[string][]*NodeTree),
	}
	children, _ := w.children(root)
	if len(children) == 0 {
		return nil
	}
	rootNode.Children = children
	return rootNode
}

// walker — состояние одного обхода. Живёт в пределах вызова FindAttachmentPaths.
type walker struct {
	schema    schema.Introspector
	ancestors mapset.Set[string]
	memo      map[string][]*NodeTree
}

// children возвращает дочерние узлы сущности name, ведущие к вложениям.
// cut=true — при обходе поддерева был отсечён цикл; такой результат
// зависит от текущих предков и не запоминается.
func (w *walker) children(name string) (nodes []*NodeTree, cut bool) {
	if cached, ok := w.memo[name]; ok {
		return cached, false
	}
	entity, ok := w.schema.Entity(name)
	if !ok {
		return nil, false
	}

	w.ancestors.Add(name)
	defer w.ancestors.Remove(name)

	for _, edge := range entity.Compositions {
		if w.ancestors.Contains(edge.Target) {
			cut = true
			continue
		}
		target, ok := w.schema.Entity(edge.Target)
		if !ok {
			continue
		}

		id := AssociationIdentifier{Edge: edge.Name, Target: edge.Target}
		if target.Media {
			nodes = append(nodes, &NodeTree{Identifier: id})
			continue
		}

		sub, subCut := w.children(edge.Target)
		cut = cut || subCut
		if len(sub) > 0 {
			nodes = append(nodes, &NodeTree{Identifier: id, Children: sub})
		}
	}

	if !cut {
		w.memo[name] = nodes
	}
	return nodes, cut
}
