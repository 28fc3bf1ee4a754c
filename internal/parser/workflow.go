// Package parser parses and statically validates YAML workflow
// documents into the engine's Workflow/Step/ErrorPolicy shape.
//
// Grounded on Corynth's FlowParser (ParseFlow, ValidateFlow: plain
// fmt.Errorf-style validation, a step-name-uniqueness check, a
// dependency-exists check), generalized from Corynth's
// flow/plugin/action document shape to a step/task/inputs/on_error
// shape.
package parser

import "fmt"

// ParamSpec describes one entry of a workflow's params: block.
type ParamSpec struct {
	Type        string      `yaml:"type"`
	Default     interface{} `yaml:"default"`
	Required    bool        `yaml:"required"`
	Description string      `yaml:"description"`
}

// ErrorPolicy is a step's on_error block.
type ErrorPolicy struct {
	Action  string `yaml:"action"`
	Retry   int    `yaml:"retry"`
	Delay   float64 `yaml:"delay"`
	Next    string `yaml:"next"`
	Message string `yaml:"message"`
}

// Step is one entry of a workflow's steps: list.
type Step struct {
	Name      string                 `yaml:"name"`
	Task      string                 `yaml:"task"`
	Inputs    map[string]interface{} `yaml:"inputs"`
	Condition string                 `yaml:"condition"`
	OnError   *ErrorPolicy           `yaml:"on_error"`
	Outputs   interface{}            `yaml:"outputs"`

	// UsedDeprecatedParams records whether this step's YAML used the
	// deprecated "params:" alias for "inputs:" (Open Question 1); set by
	// UnmarshalYAML, not part of the YAML shape itself.
	UsedDeprecatedParams bool `yaml:"-"`
}

// FlowsBlock is a workflow's flows: block.
type FlowsBlock struct {
	Default     string              `yaml:"default"`
	Definitions map[string][]string `yaml:"definitions"`
}

// Workflow is the parsed shape of a workflow YAML document.
type Workflow struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Version     string               `yaml:"version"`
	Params      map[string]ParamSpec `yaml:"params"`
	Env         map[string]string    `yaml:"env"`
	Flows       *FlowsBlock          `yaml:"flows"`
	Steps       []Step               `yaml:"steps"`

	// SourcePath is the file this workflow was parsed from; set by
	// Parse, not part of the YAML shape.
	SourcePath string `yaml:"-"`
}

// StepByName returns the step named name, if any.
func (w *Workflow) StepByName(name string) (*Step, bool) {
	for i := range w.Steps {
		if w.Steps[i].Name == name {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// ResolveFlow returns the ordered step-name list for the named flow,
// falling back to flows.default then the implicit "all" flow (every
// step in declaration order).
func (w *Workflow) ResolveFlow(name string) ([]string, error) {
	if name == "" && w.Flows != nil {
		name = w.Flows.Default
	}
	if name == "" || name == "all" {
		if w.Flows == nil || w.Flows.Definitions["all"] == nil {
			return w.allStepNames(), nil
		}
	}
	if name == "" {
		return w.allStepNames(), nil
	}
	if w.Flows == nil {
		return nil, fmt.Errorf("flow %q is not defined", name)
	}
	steps, ok := w.Flows.Definitions[name]
	if !ok {
		return nil, fmt.Errorf("flow %q is not defined", name)
	}
	return steps, nil
}

func (w *Workflow) allStepNames() []string {
	names := make([]string, len(w.Steps))
	for i, s := range w.Steps {
		names[i] = s.Name
	}
	return names
}
