// Package scenario drives a runtime from a YAML description and records a
// deterministic trace of every commit, notification and failure.
//
// Derived cells are written as Go function bodies and interpreted with yaegi:
//
//	cells:
//	  - name: count
//	    value: 1
//	  - name: doubled
//	    derive: return get("count").(int) * 2
package scenario

import (
	"errors"
	"fmt"
	"os"

	"github.com/AnatoleLucet/ripple/internal/config"
	"gopkg.in/yaml.v3"
)

var ErrInvalidScenario = errors.New("ripple: invalid scenario")

type Scenario struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Runtime     config.RuntimeConfig `yaml:"runtime"`
	Storage     *StorageSpec         `yaml:"storage"`
	Cells       []CellSpec           `yaml:"cells"`
	Subscribers []SubscriberSpec     `yaml:"subscribers"`
	Steps       []Step               `yaml:"steps"`
}

type CellSpec struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`

	// Derive is the body of func(get func(string) any) any. Returning an
	// error value fails the recomputation.
	Derive  string   `yaml:"derive"`
	Imports []string `yaml:"imports"`

	Persist bool `yaml:"persist"`
}

func (c CellSpec) Derived() bool { return c.Derive != "" }

// StorageSpec backs persisted cells with an in-memory store seeded with Seed.
type StorageSpec struct {
	Prefix string         `yaml:"prefix"`
	Seed   map[string]any `yaml:"seed"`
}

type SubscriberSpec struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"` // callback or component

	// callback
	Cells []string `yaml:"cells"`

	// component: local key -> cell name
	Keys    map[string]string `yaml:"keys"`
	KeyDiff bool              `yaml:"key_diff"`
}

// Step is one action. Exactly one field is set.
type Step struct {
	Ingest      *IngestStep `yaml:"ingest"`
	Flush       bool        `yaml:"flush"`
	Drain       bool        `yaml:"drain"`
	Batch       []Step      `yaml:"batch"`
	Dispose     string      `yaml:"dispose"`
	Unsubscribe string      `yaml:"unsubscribe"`
}

type IngestStep struct {
	Cell  string `yaml:"cell"`
	Value any    `yaml:"value"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the structure of the scenario. Cell references are resolved when it runs.
func (sc *Scenario) Validate() error {
	names := make(map[string]bool, len(sc.Cells))
	for i, c := range sc.Cells {
		if c.Name == "" {
			return fmt.Errorf("%w: cell %d has no name", ErrInvalidScenario, i)
		}
		if names[c.Name] {
			return fmt.Errorf("%w: duplicate cell %q", ErrInvalidScenario, c.Name)
		}
		names[c.Name] = true

		if c.Persist && sc.Storage == nil {
			return fmt.Errorf("%w: cell %q is persisted but the scenario has no storage", ErrInvalidScenario, c.Name)
		}
	}

	subs := make(map[string]bool, len(sc.Subscribers))
	for i, s := range sc.Subscribers {
		if s.Name == "" {
			return fmt.Errorf("%w: subscriber %d has no name", ErrInvalidScenario, i)
		}
		if subs[s.Name] {
			return fmt.Errorf("%w: duplicate subscriber %q", ErrInvalidScenario, s.Name)
		}
		subs[s.Name] = true

		switch s.Kind {
		case "", "callback":
			if len(s.Cells) == 0 {
				return fmt.Errorf("%w: callback subscriber %q has no cells", ErrInvalidScenario, s.Name)
			}
		case "component":
			if len(s.Keys) == 0 {
				return fmt.Errorf("%w: component subscriber %q has no keys", ErrInvalidScenario, s.Name)
			}
		default:
			return fmt.Errorf("%w: subscriber %q has unknown kind %q", ErrInvalidScenario, s.Name, s.Kind)
		}
	}

	return validateSteps(sc.Steps)
}

func validateSteps(steps []Step) error {
	for i, st := range steps {
		set := 0
		if st.Ingest != nil {
			set++
			if st.Ingest.Cell == "" {
				return fmt.Errorf("%w: step %d ingests into no cell", ErrInvalidScenario, i)
			}
		}
		if st.Flush {
			set++
		}
		if st.Drain {
			set++
		}
		if st.Batch != nil {
			set++
			if err := validateSteps(st.Batch); err != nil {
				return err
			}
		}
		if st.Dispose != "" {
			set++
		}
		if st.Unsubscribe != "" {
			set++
		}

		if set != 1 {
			return fmt.Errorf("%w: step %d must set exactly one action", ErrInvalidScenario, i)
		}
	}
	return nil
}
