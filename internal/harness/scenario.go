package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dirtyread/internal/shape"
	"github.com/roach88/dirtyread/internal/xid"
)

// DefaultRelation is used when a scenario names no relation.
const DefaultRelation = "t"

// Scenario defines a visibility conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Relation is the relation the steps write to. Defaults to "t".
	Relation string `yaml:"relation,omitempty"`

	// Columns is the relation's row type.
	Columns []shape.Column `yaml:"columns"`

	// Statuses records the outcome of transactions. Values are
	// "committed" or "aborted"; anything not listed is in progress.
	Statuses map[uint32]string `yaml:"statuses,omitempty"`

	// Steps build the heap, in order.
	Steps []Step `yaml:"steps"`

	// Checks scan the finished heap.
	Checks []Check `yaml:"checks"`
}

// Step is one heap write. Exactly one field is set.
type Step struct {
	Insert *InsertStep `yaml:"insert,omitempty"`
	Delete *DeleteStep `yaml:"delete,omitempty"`
	Update *UpdateStep `yaml:"update,omitempty"`
	Raw    *RawStep    `yaml:"raw,omitempty"`
}

// InsertStep appends a tuple created by XMin.
type InsertStep struct {
	Label string         `yaml:"label"`
	XMin  uint32         `yaml:"xmin"`
	Row   map[string]any `yaml:"row,omitempty"`
}

// DeleteStep stamps XMax on the tuple called Label.
type DeleteStep struct {
	Label string `yaml:"label"`
	XMax  uint32 `yaml:"xmax"`
}

// UpdateStep deletes Label and appends NewLabel, both by transaction XID.
type UpdateStep struct {
	Label    string         `yaml:"label"`
	NewLabel string         `yaml:"new_label"`
	XID      uint32         `yaml:"xid"`
	Row      map[string]any `yaml:"row,omitempty"`
}

// RawStep stores bytes verbatim, typically an undecodable tuple.
type RawStep struct {
	Label string `yaml:"label"`
	Hex   string `yaml:"hex"`
}

// Check scans the relation as of TxnID.
type Check struct {
	TxnID uint32 `yaml:"txn_id"`

	// Visible lists the expected labels in physical order.
	Visible []string `yaml:"visible"`

	// Corrupt, when set, is the expected number of skipped tuples.
	Corrupt *int `yaml:"corrupt,omitempty"`
}

// RelationName returns the relation the scenario writes to.
func (s *Scenario) RelationName() string {
	if s.Relation == "" {
		return DefaultRelation
	}
	return s.Relation
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	return parse(data, true)
}

// LoadFixture loads a scenario file for seeding a heap. Unlike
// LoadScenario, checks are optional.
func LoadFixture(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return parse(data, false)
}

func parse(data []byte, requireChecks bool) (*Scenario, error) {
	// Strict decoding catches typos like "check:" vs "checks:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario, requireChecks); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, m...)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario, requireChecks bool) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("columns list is required and must be non-empty")
	}
	if requireChecks && len(s.Checks) == 0 {
		return fmt.Errorf("checks list is required and must be non-empty")
	}

	for id, st := range s.Statuses {
		if !xid.TransactionID(id).IsNormal() {
			return fmt.Errorf("statuses: %d is not a normal transaction id", id)
		}
		parsed, err := xid.ParseStatus(st)
		if err != nil {
			return fmt.Errorf("statuses[%d]: %w", id, err)
		}
		if !parsed.IsFinal() {
			return fmt.Errorf("statuses[%d]: only committed or aborted may be listed", id)
		}
	}

	labels := make(map[string]bool)
	define := func(i int, label string) error {
		if label == "" {
			return fmt.Errorf("steps[%d]: label is required", i)
		}
		if labels[label] {
			return fmt.Errorf("steps[%d]: label %q already used", i, label)
		}
		labels[label] = true
		return nil
	}
	use := func(i int, label string) error {
		if !labels[label] {
			return fmt.Errorf("steps[%d]: unknown label %q", i, label)
		}
		return nil
	}

	for i, step := range s.Steps {
		if n := step.kinds(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one of insert, delete, update, raw is required, got %d", i, n)
		}
		switch {
		case step.Insert != nil:
			if step.Insert.XMin == 0 {
				return fmt.Errorf("steps[%d]: insert xmin is required", i)
			}
			if err := define(i, step.Insert.Label); err != nil {
				return err
			}
		case step.Delete != nil:
			if step.Delete.XMax == 0 {
				return fmt.Errorf("steps[%d]: delete xmax is required", i)
			}
			if err := use(i, step.Delete.Label); err != nil {
				return err
			}
		case step.Update != nil:
			if step.Update.XID == 0 {
				return fmt.Errorf("steps[%d]: update xid is required", i)
			}
			if err := use(i, step.Update.Label); err != nil {
				return err
			}
			if err := define(i, step.Update.NewLabel); err != nil {
				return err
			}
		case step.Raw != nil:
			if _, err := hex.DecodeString(step.Raw.Hex); err != nil {
				return fmt.Errorf("steps[%d]: raw hex: %w", i, err)
			}
			if err := define(i, step.Raw.Label); err != nil {
				return err
			}
		}
	}

	for i, c := range s.Checks {
		if uint64(c.TxnID) > uint64(xid.MaxReference) {
			return fmt.Errorf("checks[%d]: txn_id %d is outside 0..%d", i, c.TxnID, xid.MaxReference)
		}
		for _, l := range c.Visible {
			if !labels[l] {
				return fmt.Errorf("checks[%d]: unknown label %q", i, l)
			}
		}
		if c.Corrupt != nil && *c.Corrupt < 0 {
			return fmt.Errorf("checks[%d]: corrupt must be non-negative", i)
		}
	}

	return nil
}

func (s Step) kinds() int {
	n := 0
	if s.Insert != nil {
		n++
	}
	if s.Delete != nil {
		n++
	}
	if s.Update != nil {
		n++
	}
	if s.Raw != nil {
		n++
	}
	return n
}
