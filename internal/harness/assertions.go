package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type       string     // Assertion type for categorization
	Expected   string     // Human-readable expected outcome
	Actual     string     // Human-readable actual outcome
	Deliveries []Delivery // Full delivery log for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nDeliveries:\n")
	for _, d := range e.Deliveries {
		change, _ := json.Marshal(d.Change)
		fmt.Fprintf(&buf, "  [%d] %s %s %s\n", d.Seq, d.Listener, d.Kind, change)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all assertions held.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertDeliveryCount:
		return assertDeliveryCount(result, a)
	case AssertDelivered:
		return assertDelivered(result, a)
	case AssertSuppressed:
		return assertCounter(result, a, result.Stats.Dispatcher.Suppressed)
	case AssertFailed:
		return assertCounter(result, a, result.Stats.Dispatcher.Failed)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertDeliveryCount checks the listener received exactly Count change sets.
func assertDeliveryCount(result *Result, a Assertion) error {
	got := len(result.ForListener(a.Listener))
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:       AssertDeliveryCount,
		Expected:   fmt.Sprintf("%d deliveries to %s", a.Count, a.Listener),
		Actual:     fmt.Sprintf("%d deliveries", got),
		Deliveries: result.Deliveries,
	}
}

// assertDelivered checks the listener's Index-th change set against Change
// (subset semantics: only listed fields are compared).
func assertDelivered(result *Result, a Assertion) error {
	deliveries := result.ForListener(a.Listener)
	if a.Index >= len(deliveries) {
		return &AssertionError{
			Type:       AssertDelivered,
			Expected:   fmt.Sprintf("delivery %d to %s", a.Index, a.Listener),
			Actual:     fmt.Sprintf("only %d deliveries", len(deliveries)),
			Deliveries: result.Deliveries,
		}
	}

	actual, err := toJSONMap(deliveries[a.Index].Change)
	if err != nil {
		return err
	}
	expected, err := toJSONMap(a.Change)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return &AssertionError{
				Type:       AssertDelivered,
				Expected:   fmt.Sprintf("%s.%s = %v", a.Listener, k, expected[k]),
				Actual:     "field not present",
				Deliveries: result.Deliveries,
			}
		}
		if !reflect.DeepEqual(got, expected[k]) {
			return &AssertionError{
				Type:       AssertDelivered,
				Expected:   fmt.Sprintf("%s[%d].%s = %v", a.Listener, a.Index, k, expected[k]),
				Actual:     fmt.Sprintf("%v", got),
				Deliveries: result.Deliveries,
			}
		}
	}
	return nil
}

func assertCounter(result *Result, a Assertion, got uint64) error {
	if got == uint64(a.Count) {
		return nil
	}
	return &AssertionError{
		Type:       a.Type,
		Expected:   fmt.Sprintf("%s = %d", a.Type, a.Count),
		Actual:     fmt.Sprintf("%d", got),
		Deliveries: result.Deliveries,
	}
}

// toJSONMap normalizes v through JSON so YAML-decoded expectations and
// typed change sets compare equal.
func toJSONMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for comparison: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal for comparison: %w", err)
	}
	return m, nil
}
