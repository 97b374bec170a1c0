// Package catalog reads norm curves from YAML catalog files.
//
// A catalog lists curves with their sample points. Points may be written
// as mappings or as two-element sequences:
//
//	curves:
//	  - id: N1
//	    type: freight
//	    points:
//	      - {load: 10, consumption: 45}
//	      - [20, 50]
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/okian/normscope/internal/domain/model"
)

type document struct {
	Curves []curveDoc `yaml:"curves"`
}

type curveDoc struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"`
	Points   []pointDoc        `yaml:"points"`
	Metadata map[string]string `yaml:"metadata"`
}

type pointDoc model.SamplePoint

// UnmarshalYAML accepts {load, consumption} or [load, consumption].
func (p *pointDoc) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var pair []float64
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: point needs exactly 2 values, got %d", node.Line, len(pair))
		}
		p.Load, p.Consumption = pair[0], pair[1]
		return nil
	case yaml.MappingNode:
		var sp model.SamplePoint
		if err := node.Decode(&sp); err != nil {
			return err
		}
		*p = pointDoc(sp)
		return nil
	default:
		return fmt.Errorf("line %d: point must be a mapping or a sequence", node.Line)
	}
}

// Parse decodes a catalog. Curve ids must be unique within a catalog;
// point validation is left to the curve store.
func Parse(r io.Reader) ([]model.NormCurve, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	seen := make(map[string]bool, len(doc.Curves))
	curves := make([]model.NormCurve, 0, len(doc.Curves))
	for i, cd := range doc.Curves {
		id := strings.TrimSpace(cd.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: curve #%d has no id", ErrInvalidCatalog, i)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate curve id %q", ErrInvalidCatalog, id)
		}
		seen[id] = true

		c := model.NormCurve{ID: id, Type: strings.TrimSpace(cd.Type), Metadata: cd.Metadata}
		c.Points = make([]model.SamplePoint, len(cd.Points))
		for j, p := range cd.Points {
			c.Points[j] = model.SamplePoint(p)
		}
		curves = append(curves, c)
	}
	return curves, nil
}

// LoadFile parses the catalog at path.
func LoadFile(path string) ([]model.NormCurve, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	curves, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return curves, nil
}
