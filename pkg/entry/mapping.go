package entry

import (
	"fmt"
	"slices"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// MappingConfig declares a transformer in configuration instead of code.
//
//	entity: community
//	fields:
//	  id: id
//	  slug: slug
//	  title: metadata.title
//	required: [id, slug]
//	split:
//	  community_files: [logo]
type MappingConfig struct {
	// Entity names the primary record
	Entity string `mapstructure:"entity"`
	// Fields maps target field -> source path (see Lookup)
	Fields map[string]string `mapstructure:"fields"`
	// Required target fields; absent ones fail with a ValidationError
	Required []string `mapstructure:"required"`
	// Split moves target fields out of the primary record into named sub-entities
	Split map[string][]string `mapstructure:"split"`
}

func (c *MappingConfig) Validate() error {
	if c.Entity == "" {
		return fmt.Errorf("mapping entity is required")
	}
	if len(c.Fields) == 0 {
		return fmt.Errorf("mapping %s: at least one field is required", c.Entity)
	}
	for _, f := range c.Required {
		if _, ok := c.Fields[f]; !ok {
			return fmt.Errorf("mapping %s: required field %s is not mapped", c.Entity, f)
		}
	}
	for sub, fields := range c.Split {
		if sub == c.Entity {
			return fmt.Errorf("mapping %s: sub-entity cannot reuse the primary name", c.Entity)
		}
		for _, f := range fields {
			if _, ok := c.Fields[f]; !ok {
				return fmt.Errorf("mapping %s: split field %s is not mapped", c.Entity, f)
			}
		}
	}
	return nil
}

// Mapping renames and derives fields according to a MappingConfig.
type Mapping struct {
	cfg MappingConfig
}

// NewMapping validates cfg and returns its transformer.
func NewMapping(cfg MappingConfig) (*Mapping, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Mapping{cfg: cfg}, nil
}

// DecodeMapping builds a Mapping from a raw config map.
func DecodeMapping(raw map[string]any) (*Mapping, error) {
	var cfg MappingConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return nil, fmt.Errorf("error decoding mapping config: %w", err)
	}
	return NewMapping(cfg)
}

func (m *Mapping) Name() string {
	return m.cfg.Entity
}

func (m *Mapping) Transform(payload Record) ([]Entity, error) {
	primary := Record{}
	for target, path := range m.cfg.Fields {
		v, err := Lookup(payload, path)
		if err != nil {
			if slices.Contains(m.cfg.Required, target) {
				return nil, missing(m.cfg.Entity, target)
			}
			continue
		}
		primary[target] = v
	}

	for _, f := range m.cfg.Required {
		if primary[f] == nil {
			return nil, missing(m.cfg.Entity, f)
		}
	}

	subs := make([]string, 0, len(m.cfg.Split))
	for sub := range m.cfg.Split {
		subs = append(subs, sub)
	}
	sort.Strings(subs)

	entities := []Entity{{Name: m.cfg.Entity, Record: primary}}
	for _, sub := range subs {
		rec := Record{}
		for _, f := range m.cfg.Split[sub] {
			if v, ok := primary[f]; ok {
				rec[f] = v
				delete(primary, f)
			}
		}
		entities = append(entities, Entity{Name: sub, Record: rec})
	}
	return entities, nil
}
