package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/modacct/internal/host"
	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/manager"
)

// Scenario is an account scenario: a catalog to publish, steps to run
// against one account, and assertions over the outcome.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Catalog is the CUE catalog published before the account is created.
	Catalog string `yaml:"catalog"`

	// MaxSteps overrides the host's per-transaction message quota.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Setup steps run before the flow and must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps are traced and checked against their expect clauses.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and module state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one call to the account's manager. Exactly one of Install,
// Uninstall, Exec and Upgrade is set.
type Step struct {
	// Sender is "owner" (the default), "stranger" or a literal address.
	Sender string `yaml:"sender,omitempty"`

	Install   string        `yaml:"install,omitempty"`
	Init      string        `yaml:"init,omitempty"`
	Uninstall string        `yaml:"uninstall,omitempty"`
	Exec      *ExecStep     `yaml:"exec,omitempty"`
	Upgrade   []UpgradeStep `yaml:"upgrade,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExecStep forwards a JSON payload to an installed module.
type ExecStep struct {
	Module  string `yaml:"module"`
	Payload string `yaml:"payload"`
}

// UpgradeStep is one batch entry. A missing payload stays missing, which
// matters for module kinds that require one.
type UpgradeStep struct {
	Module  string  `yaml:"module"`
	Payload *string `yaml:"payload,omitempty"`
}

// ExpectClause names the error code a step must fail with.
type ExpectClause struct {
	Error string `yaml:"error"`
}

// Assertion validates the trace or the final module state.
type Assertion struct {
	Type string `yaml:"type"`

	// Message is a message type (trace_contains, trace_count).
	Message string `yaml:"message,omitempty"`

	// Target optionally narrows trace_contains to a named target.
	Target string `yaml:"target,omitempty"`

	// Messages is the expected order (trace_order).
	Messages []string `yaml:"messages,omitempty"`

	// Count is the expected number of messages (trace_count).
	Count int `yaml:"count,omitempty"`

	// Module is the module id (dependents, installed, not_installed).
	Module string `yaml:"module,omitempty"`

	// Version optionally pins the installed version (installed).
	Version string `yaml:"version,omitempty"`

	// Dependents is the expected dependents set, sorted (dependents).
	Dependents []string `yaml:"dependents,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertDependents    = "dependents"
	AssertInstalled     = "installed"
	AssertNotInstalled  = "not_installed"
)

// LoadScenario reads a scenario file, rejecting unknown fields, and resolves
// its catalog path relative to the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) {
		scenario.Catalog = filepath.Join(filepath.Dir(path), scenario.Catalog)
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
	if s.Catalog == "" {
		return fmt.Errorf("catalog is required")
	}
	if _, err := os.Stat(s.Catalog); os.IsNotExist(err) {
		return fmt.Errorf("catalog not found: %s", s.Catalog)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}

	for i, step := range s.Setup {
		if _, err := step.call(); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot expect errors", i)
		}
	}
	for i, step := range s.Flow {
		if _, err := step.call(); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		if step.Expect != nil && step.Expect.Error == "" {
			return fmt.Errorf("flow[%d].expect: error is required", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Messages) == 0 {
			return fmt.Errorf("assertions[%d]: messages list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertDependents, AssertInstalled, AssertNotInstalled:
		if a.Module == "" {
			return fmt.Errorf("assertions[%d]: module is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// call converts the step into a host call.
func (s Step) call() (host.Call, error) {
	var calls []host.Call

	if s.Install != "" {
		info, err := ir.ParseModuleInfo(s.Install)
		if err != nil {
			return nil, fmt.Errorf("install: %w", err)
		}
		var init ir.Payload
		if s.Init != "" {
			if init, err = ir.ParsePayload([]byte(s.Init)); err != nil {
				return nil, fmt.Errorf("init: %w", err)
			}
		}
		calls = append(calls, host.Install{Module: info, InitPayload: init})
	}
	if s.Uninstall != "" {
		id, err := ir.ParseModuleID(s.Uninstall)
		if err != nil {
			return nil, fmt.Errorf("uninstall: %w", err)
		}
		calls = append(calls, host.Uninstall{Module: id})
	}
	if s.Exec != nil {
		id, err := ir.ParseModuleID(s.Exec.Module)
		if err != nil {
			return nil, fmt.Errorf("exec: %w", err)
		}
		payload, err := ir.ParsePayload([]byte(s.Exec.Payload))
		if err != nil {
			return nil, fmt.Errorf("exec payload: %w", err)
		}
		calls = append(calls, host.ExecOnModule{Module: id, Payload: payload})
	}
	if s.Upgrade != nil {
		batch := make([]manager.UpgradeRequest, 0, len(s.Upgrade))
		for i, u := range s.Upgrade {
			info, err := ir.ParseModuleInfo(u.Module)
			if err != nil {
				return nil, fmt.Errorf("upgrade[%d]: %w", i, err)
			}
			req := manager.UpgradeRequest{Module: info}
			if u.Payload != nil {
				if req.Payload, err = ir.ParsePayload([]byte(*u.Payload)); err != nil {
					return nil, fmt.Errorf("upgrade[%d] payload: %w", i, err)
				}
			}
			batch = append(batch, req)
		}
		calls = append(calls, host.Upgrade{Batch: batch})
	}

	if len(calls) != 1 {
		return nil, fmt.Errorf("exactly one of install, uninstall, exec or upgrade is required")
	}
	if s.Init != "" && s.Install == "" {
		return nil, fmt.Errorf("init is only valid with install")
	}
	return calls[0], nil
}
