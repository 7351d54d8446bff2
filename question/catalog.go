package question

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk layout of an activity catalog.
type catalogFile struct {
	Activities []Activity `yaml:"activities"`
}

// LoadCatalog parses a YAML activity catalog. Activities without an id get
// their 1-based position as id.
func LoadCatalog(r io.Reader) ([]Activity, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	for i := range file.Activities {
		a := &file.Activities[i]
		if a.Name == "" {
			return nil, fmt.Errorf("activity %d has no name", i+1)
		}
		if a.Consumption < 0 {
			return nil, fmt.Errorf("activity %q has negative consumption", a.Name)
		}
		if a.ID == 0 {
			a.ID = uint(i + 1)
		}
		if a.Unit == "" {
			a.Unit = "kWh"
		}
	}
	return file.Activities, nil
}

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) ([]Activity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// CatalogSource serves activities from an in-memory catalog.
type CatalogSource struct {
	activities []Activity
}

// NewCatalogSource copies activities into a source.
func NewCatalogSource(activities []Activity) *CatalogSource {
	return &CatalogSource{activities: slices.Clone(activities)}
}

func (s *CatalogSource) RandomActivity(ctx context.Context, rng *rand.Rand) (Activity, error) {
	if err := ctx.Err(); err != nil {
		return Activity{}, err
	}
	if len(s.activities) == 0 {
		return Activity{}, ErrEmptySource
	}
	return s.activities[rng.IntN(len(s.activities))], nil
}

// Len returns the catalog size.
func (s *CatalogSource) Len() int {
	return len(s.activities)
}
