// loader.go — загрузка модели данных из YAML-файла (AT_SCHEMA_FILE).
package schema

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// fileDefinition — корневой элемент YAML-описания модели.
type fileDefinition struct {
	Entities []entityDefinition `yaml:"entities"`
}

type entityDefinition struct {
	Name               string           `yaml:"name"`
	Keys               []string         `yaml:"keys"`
	Compositions       []edgeDefinition `yaml:"compositions,omitempty"`
	Associations       []edgeDefinition `yaml:"associations,omitempty"`
	Media              bool             `yaml:"media,omitempty"`
	Fields             FieldOverrides   `yaml:"fields,omitempty"`
	AcceptedMediaTypes []string         `yaml:"acceptedMediaTypes,omitempty"`
	// MaxContentSize — лимит в человекочитаемом виде ("10MB", "512KiB")
	MaxContentSize string `yaml:"maxContentSize,omitempty"`
}

type edgeDefinition struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
	Min    *int   `yaml:"min,omitempty"`
	Max    *int   `yaml:"max,omitempty"`
}

// LoadFile читает YAML-файл модели и строит реестр.
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("не задан путь к файлу модели")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла модели %s: %w", path, err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("файл модели %s: %w", path, err)
	}
	return reg, nil
}

// Parse разбирает YAML-описание модели и строит реестр.
func Parse(data []byte) (*Registry, error) {
	var def fileDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("ошибка разбора YAML: %w", err)
	}
	if len(def.Entities) == 0 {
		return nil, fmt.Errorf("модель не содержит сущностей")
	}

	entities := make([]Entity, 0, len(def.Entities))
	for _, ed := range def.Entities {
		e := Entity{
			Name:               strings.TrimSpace(ed.Name),
			Keys:               ed.Keys,
			Compositions:       convertEdges(ed.Compositions),
			Associations:       convertEdges(ed.Associations),
			Media:              ed.Media,
			Fields:             ed.Fields,
			AcceptedMediaTypes: ed.AcceptedMediaTypes,
		}
		if ed.MaxContentSize != "" {
			size, err := humanize.ParseBytes(ed.MaxContentSize)
			if err != nil {
				return nil, fmt.Errorf("сущность %s: некорректный maxContentSize %q: %w",
					ed.Name, ed.MaxContentSize, err)
			}
			e.MaxContentSize = int64(size)
		}
		entities = append(entities, e)
	}

	return NewRegistry(entities)
}

func convertEdges(defs []edgeDefinition) []Edge {
	if len(defs) == 0 {
		return nil
	}
	edges := make([]Edge, 0, len(defs))
	for _, d := range defs {
		edges = append(edges, Edge{
			Name:   d.Name,
			Target: d.Target,
			Min:    d.Min,
			Max:    d.Max,
		})
	}
	return edges
}
