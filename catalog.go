package ecr

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"

	"github.com/danielorbach/go-component"
	"gocloud.dev/blob"
	"gopkg.in/yaml.v3"
)

// A Catalog is a versioned, ordered list of type descriptors.
type Catalog struct {
	Version           int                `yaml:"version"`
	ComponentTypes    []ComponentType    `yaml:"componentTypes"`
	RelationshipTypes []RelationshipType `yaml:"relationshipTypes"`
}

//go:embed catalog.yaml
var builtinCatalog []byte

// BuiltinCatalog returns the types every deployment starts with: common
// building equipment, sensors, locations and the relationships between them.
func BuiltinCatalog() Catalog {
	c, err := ParseCatalog(bytes.NewReader(builtinCatalog))
	if err != nil {
		panic("ecr: malformed built-in catalog: " + err.Error())
	}
	return c
}

// ParseCatalog decodes a YAML catalog. Unknown fields are rejected to catch
// misspelled keys early.
func ParseCatalog(r io.Reader) (Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("decode yaml: %w", err)
	}
	return c, nil
}

// ReadCatalogBlob reads a YAML catalog stored under key in the given bucket.
func ReadCatalogBlob(ctx context.Context, bucket *blob.Bucket, key string) (Catalog, error) {
	b, err := bucket.ReadAll(ctx, key)
	if err != nil {
		return Catalog{}, fmt.Errorf("read %q: %w", key, err)
	}
	return ParseCatalog(bytes.NewReader(b))
}

// LoadCatalog registers every descriptor of the catalog, overwriting existing
// descriptors of the same name. It stops at the first failure.
func LoadCatalog(ctx context.Context, r *TypeRegistry, c Catalog) error {
	logger := component.Logger(ctx).With("catalog.version", c.Version)
	for _, t := range c.ComponentTypes {
		if err := r.Components.Register(ctx, t); err != nil {
			return err
		}
	}
	for _, t := range c.RelationshipTypes {
		if err := r.Relationships.Register(ctx, t); err != nil {
			return err
		}
	}
	logger.Info("Type catalog loaded",
		"components", len(c.ComponentTypes),
		"relationships", len(c.RelationshipTypes),
	)
	return nil
}
