// Package source holds the static catalog of external data sources.
// The catalog is reference data: loaded once at startup from a YAML file
// shipped with the deployment, validated, and never mutated at runtime.
package source

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tidewatch/tidewatch/internal/domain"
)

// Registry is an immutable, id-keyed view of the source catalog.
type Registry struct {
	byID  map[string]domain.Source
	order []string
}

type catalogFile struct {
	Sources []sourceSpec `yaml:"sources"`
}

type sourceSpec struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Format   string   `yaml:"format"`
	Cadence  string   `yaml:"cadence"`
	Endpoint string   `yaml:"endpoint"`
	Mirror   string   `yaml:"mirror"`
	Stations []string `yaml:"stations"`
	Version  string   `yaml:"version"`
}

// LoadFile reads and validates a YAML source catalog.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source catalog: %w", err)
	}
	return Load(data)
}

// Load parses and validates a YAML source catalog from raw bytes.
func Load(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse source catalog: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, fmt.Errorf("source catalog is empty")
	}

	r := &Registry{byID: make(map[string]domain.Source, len(file.Sources))}
	for _, spec := range file.Sources {
		src, err := spec.toDomain()
		if err != nil {
			return nil, err
		}
		if _, dup := r.byID[src.ID]; dup {
			return nil, fmt.Errorf("duplicate source id %q", src.ID)
		}
		r.byID[src.ID] = src
		r.order = append(r.order, src.ID)
	}
	sort.Strings(r.order)
	return r, nil
}

func (s sourceSpec) toDomain() (domain.Source, error) {
	if s.ID == "" {
		return domain.Source{}, fmt.Errorf("source with empty id")
	}
	format := domain.SourceFormat(s.Format)
	switch format {
	case domain.FormatBuoyText, domain.FormatGridNetCDF:
	default:
		return domain.Source{}, fmt.Errorf("source %s: unknown format %q", s.ID, s.Format)
	}
	cadence, err := time.ParseDuration(s.Cadence)
	if err != nil || cadence <= 0 {
		return domain.Source{}, fmt.Errorf("source %s: invalid cadence %q", s.ID, s.Cadence)
	}
	if s.Endpoint == "" {
		return domain.Source{}, fmt.Errorf("source %s: endpoint is required", s.ID)
	}
	if format == domain.FormatBuoyText && len(s.Stations) == 0 {
		return domain.Source{}, fmt.Errorf("source %s: buoy_text sources need at least one station", s.ID)
	}
	if format == domain.FormatGridNetCDF && s.Version == "" {
		return domain.Source{}, fmt.Errorf("source %s: grid sources need a version tag", s.ID)
	}
	return domain.Source{
		ID:       s.ID,
		Name:     s.Name,
		Format:   format,
		Cadence:  cadence,
		Endpoint: s.Endpoint,
		Mirror:   s.Mirror,
		Stations: s.Stations,
		Version:  s.Version,
	}, nil
}

// Get returns the source with the given id.
func (r *Registry) Get(id string) (domain.Source, bool) {
	src, ok := r.byID[id]
	return src, ok
}

// All returns every source ordered by id.
func (r *Registry) All() []domain.Source {
	out := make([]domain.Source, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
