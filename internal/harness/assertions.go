package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails. It carries the trace
// so a failure can be read without re-running the scenario.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			indent := ""
			if ev.Depth > 1 {
				indent = strings.Repeat("  ", ev.Depth-1)
			}
			fmt.Fprintf(&buf, "  [%d] %s%s %s -> %s\n", ev.Seq, indent, ev.Type, ev.Sender, ev.Target)
		}
	}
	return buf.String()
}

// assertTraceContains checks that a message of the given type, and target
// when one is named, was dispatched.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Type == a.Message && (a.Target == "" || ev.Target == a.Target) {
			return nil
		}
	}
	expected := a.Message
	if a.Target != "" {
		expected += " to " + a.Target
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that message types appear in the given order.
// Other messages may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Messages) && ev.Type == a.Messages[next] {
			next++
		}
	}
	if next == len(a.Messages) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("messages in order: %v", a.Messages),
		Actual:   fmt.Sprintf("%s not found after %v", a.Messages[next], a.Messages[:next]),
		Trace:    trace,
	}
}

// assertTraceCount checks that a message type was dispatched exactly Count
// times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type == a.Message {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Message),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertDependents(result *Result, a Assertion) error {
	m, ok := result.module(a.Module)
	if !ok {
		return &AssertionError{Type: AssertDependents, Expected: a.Module + " installed", Actual: "not installed"}
	}
	got := make([]string, len(m.Dependents))
	for i, d := range m.Dependents {
		got[i] = string(d)
	}
	if strings.Join(got, ",") != strings.Join(a.Dependents, ",") {
		return &AssertionError{
			Type:     AssertDependents,
			Expected: fmt.Sprintf("dependents of %s: %v", a.Module, a.Dependents),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func assertInstalled(result *Result, a Assertion) error {
	m, ok := result.module(a.Module)
	if !ok {
		return &AssertionError{Type: AssertInstalled, Expected: a.Module + " installed", Actual: "not installed"}
	}
	if a.Version != "" && m.Version != a.Version {
		return &AssertionError{
			Type:     AssertInstalled,
			Expected: fmt.Sprintf("%s at %s", a.Module, a.Version),
			Actual:   fmt.Sprintf("at %s", m.Version),
		}
	}
	return nil
}

func assertNotInstalled(result *Result, a Assertion) error {
	if m, ok := result.module(a.Module); ok {
		return &AssertionError{
			Type:     AssertNotInstalled,
			Expected: a.Module + " not installed",
			Actual:   fmt.Sprintf("installed at %s", m.Addr),
		}
	}
	return nil
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertDependents:
			err = assertDependents(result, a)
		case AssertInstalled:
			err = assertInstalled(result, a)
		case AssertNotInstalled:
			err = assertNotInstalled(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
