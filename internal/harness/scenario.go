package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/loopbridge/internal/notify"
)

// Scenario describes a run: classes to define, writes to apply from worker
// goroutines, listeners to register on the loop, and assertions on what the
// listeners received.
type Scenario struct {
	// Name uniquely identifies this scenario. Used for golden file names.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// IndexBase overrides the run's index convention ("zero" or "one").
	IndexBase string `yaml:"index_base,omitempty"`

	// Classes are defined before anything else.
	Classes []ClassDef `yaml:"classes"`

	// Setup writes run before listeners are registered, so they produce no
	// notifications.
	Setup []Op `yaml:"setup,omitempty"`

	// Listeners are registered on the loop goroutine after setup.
	Listeners []ListenerDef `yaml:"listeners"`

	// Steps run in order. Each step waits for the loop to drain before the
	// next one starts.
	Steps []Step `yaml:"steps"`

	// Assertions validate what was delivered.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ClassDef defines one class.
type ClassDef struct {
	Name       string   `yaml:"name"`
	Properties []string `yaml:"properties"`
}

// ListenerDef registers one listener. Exactly one of Object or Results is set.
type ListenerDef struct {
	Name string `yaml:"name"`

	// Object is the label of an object created in setup.
	Object string `yaml:"object,omitempty"`

	// Results is a class name.
	Results string `yaml:"results,omitempty"`

	// Fail makes the callback return an error after recording the delivery.
	Fail bool `yaml:"fail,omitempty"`
}

// Op is one write operation. Exactly one field is set.
type Op struct {
	Create *CreateOp `yaml:"create,omitempty"`
	Set    *SetOp    `yaml:"set,omitempty"`
	Delete string    `yaml:"delete,omitempty"`
}

// CreateOp creates an object and optionally labels it for later ops.
type CreateOp struct {
	Class  string         `yaml:"class"`
	Label  string         `yaml:"label,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`
}

// SetOp writes one property of a labelled object.
type SetOp struct {
	Object   string `yaml:"object"`
	Property string `yaml:"property"`
	Value    any    `yaml:"value"`
}

// Step is one unit of scenario progress. Exactly one field is set.
type Step struct {
	// Write runs the ops as one transaction on a worker goroutine.
	Write []Op `yaml:"write,omitempty"`

	// Parallel runs each entry as its own transaction, concurrently.
	Parallel [][]Op `yaml:"parallel,omitempty"`

	// Release closes the named listener's token on the loop goroutine.
	Release string `yaml:"release,omitempty"`
}

// Assertion validates deliveries or counters.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Listener names the listener (delivery_count, delivered).
	Listener string `yaml:"listener,omitempty"`

	// Count is the expected count (delivery_count, suppressed, failed).
	Count int `yaml:"count,omitempty"`

	// Index selects the listener's n-th delivery (delivered).
	Index int `yaml:"index,omitempty"`

	// Change is a subset of the delivered change set, keyed by its JSON
	// field names (delivered).
	Change map[string]any `yaml:"change,omitempty"`
}

// Assertion type constants.
const (
	AssertDeliveryCount = "delivery_count"
	AssertDelivered     = "delivered"
	AssertSuppressed    = "suppressed"
	AssertFailed        = "failed"
)

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

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.IndexBase != "" {
		if _, err := notify.ParseIndexBase(s.IndexBase); err != nil {
			return err
		}
	}
	if len(s.Classes) == 0 {
		return fmt.Errorf("classes list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	classes := make(map[string]bool)
	for i, c := range s.Classes {
		if c.Name == "" {
			return fmt.Errorf("classes[%d]: name is required", i)
		}
		classes[c.Name] = true
	}

	labels := make(map[string]bool)
	for i, op := range s.Setup {
		if err := validateOp(fmt.Sprintf("setup[%d]", i), op, classes); err != nil {
			return err
		}
		if op.Create != nil && op.Create.Label != "" {
			labels[op.Create.Label] = true
		}
	}

	listeners := make(map[string]bool)
	for i, l := range s.Listeners {
		if l.Name == "" {
			return fmt.Errorf("listeners[%d]: name is required", i)
		}
		if listeners[l.Name] {
			return fmt.Errorf("listeners[%d]: duplicate name %q", i, l.Name)
		}
		listeners[l.Name] = true

		switch {
		case l.Object != "" && l.Results != "":
			return fmt.Errorf("listeners[%d]: object and results are mutually exclusive", i)
		case l.Object != "":
			if !labels[l.Object] {
				return fmt.Errorf("listeners[%d]: object %q is not a setup label", i, l.Object)
			}
		case l.Results != "":
			if !classes[l.Results] {
				return fmt.Errorf("listeners[%d]: unknown class %q", i, l.Results)
			}
		default:
			return fmt.Errorf("listeners[%d]: object or results is required", i)
		}
	}

	for i, step := range s.Steps {
		path := fmt.Sprintf("steps[%d]", i)
		set := 0
		if len(step.Write) > 0 {
			set++
		}
		if len(step.Parallel) > 0 {
			set++
		}
		if step.Release != "" {
			set++
			if !listeners[step.Release] {
				return fmt.Errorf("%s: release of unknown listener %q", path, step.Release)
			}
		}
		if set != 1 {
			return fmt.Errorf("%s: exactly one of write, parallel, release is required", path)
		}

		for j, op := range step.Write {
			if err := validateOp(fmt.Sprintf("%s.write[%d]", path, j), op, classes); err != nil {
				return err
			}
		}
		for j, ops := range step.Parallel {
			for k, op := range ops {
				if err := validateOp(fmt.Sprintf("%s.parallel[%d][%d]", path, j, k), op, classes); err != nil {
					return err
				}
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, listeners); err != nil {
			return err
		}
	}

	return nil
}

func validateOp(path string, op Op, classes map[string]bool) error {
	set := 0
	if op.Create != nil {
		set++
		if !classes[op.Create.Class] {
			return fmt.Errorf("%s: unknown class %q", path, op.Create.Class)
		}
	}
	if op.Set != nil {
		set++
		if op.Set.Object == "" || op.Set.Property == "" {
			return fmt.Errorf("%s: set requires object and property", path)
		}
	}
	if op.Delete != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%s: exactly one of create, set, delete is required", path)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, listeners map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertDeliveryCount, AssertDelivered:
		if !listeners[a.Listener] {
			return fmt.Errorf("assertions[%d]: unknown listener %q", index, a.Listener)
		}
		if a.Type == AssertDelivered && len(a.Change) == 0 {
			return fmt.Errorf("assertions[%d]: change is required for delivered", index)
		}
	case AssertSuppressed, AssertFailed:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 || a.Index < 0 {
		return fmt.Errorf("assertions[%d]: count and index must be non-negative", index)
	}
	return nil
}
