// Package scene stores a building model in sqlite and imports it from JSON
// or YAML fixtures.
package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/roomview/internal/geometry"
	"github.com/banshee-data/roomview/internal/units"
)

// maxFixtureSize bounds fixture files read from disk.
const maxFixtureSize = 16 * 1024 * 1024

// Scene is an importable model: its length unit and objects.
type Scene struct {
	Unit    string   `json:"unit" yaml:"unit"`
	Objects []Object `json:"objects" yaml:"objects"`
}

// Object is one model element with its fragments and displayed properties.
type Object struct {
	ID         int        `json:"dbId" yaml:"dbId"`
	ExternalID string     `json:"externalId,omitempty" yaml:"externalId,omitempty"`
	Name       string     `json:"name" yaml:"name"`
	Category   string     `json:"category" yaml:"category"`
	Hidden     bool       `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	Fragments  []Fragment `json:"fragments" yaml:"fragments"`
	Properties []Property `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Fragment is one geometric piece of an object, as world-space corners.
type Fragment struct {
	Min [3]float64 `json:"min" yaml:"min"`
	Max [3]float64 `json:"max" yaml:"max"`
}

// Property is one displayed attribute.
type Property struct {
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Value    string `json:"value" yaml:"value"`
}

// Box returns the fragment as a geometry box.
func (f Fragment) Box() geometry.Box {
	return geometry.Box{
		Min: r3.Vec{X: f.Min[0], Y: f.Min[1], Z: f.Min[2]},
		Max: r3.Vec{X: f.Max[0], Y: f.Max[1], Z: f.Max[2]},
	}
}

// LoadFixture reads a scene from a .json, .yaml or .yml file.
func LoadFixture(path string) (*Scene, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("scene fixture must be .json, .yaml or .yml, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scene fixture: %w", err)
	}
	if info.Size() > maxFixtureSize {
		return nil, fmt.Errorf("scene fixture too large: %d bytes (max %d)", info.Size(), maxFixtureSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene fixture: %w", err)
	}
	return ParseFixture(data, ext)
}

// ParseFixture decodes a scene in the format named by ext and validates it.
func ParseFixture(data []byte, ext string) (*Scene, error) {
	var sc Scene
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("failed to parse scene JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("failed to parse scene YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported scene format %q", ext)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scene: %w", err)
	}
	return &sc, nil
}

// Validate checks units, ids and fragment extents.
func (s *Scene) Validate() error {
	if s.Unit == "" {
		s.Unit = units.Meters
	}
	if !units.IsValid(s.Unit) {
		return fmt.Errorf("unit must be one of %s, got %q", units.GetValidUnitsString(), s.Unit)
	}

	var errs []error
	seen := make(map[int]bool, len(s.Objects))
	for i, o := range s.Objects {
		if o.ID <= 0 {
			errs = append(errs, fmt.Errorf("objects[%d]: dbId must be positive, got %d", i, o.ID))
		}
		if seen[o.ID] {
			errs = append(errs, fmt.Errorf("objects[%d]: duplicate dbId %d", i, o.ID))
		}
		seen[o.ID] = true
		for j, f := range o.Fragments {
			if f.Box().IsEmpty() {
				errs = append(errs, fmt.Errorf("objects[%d].fragments[%d]: min exceeds max", i, j))
			}
		}
	}
	return errors.Join(errs...)
}
