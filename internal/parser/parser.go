package parser

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse reads and decodes the workflow document at path. Deprecated
// params: usage (Open Question 1) is reported via warnings rather than
// failing the parse.
func Parse(path string) (*Workflow, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading workflow file: %w", err)
	}
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, nil, fmt.Errorf("parsing workflow YAML: %w", err)
	}
	w.SourcePath = path

	var warnings []string
	for _, s := range w.Steps {
		if s.UsedDeprecatedParams {
			warnings = append(warnings, fmt.Sprintf("%s: step %q uses \"params:\", which is deprecated; use \"inputs:\"", path, s.Name))
		}
	}
	return &w, warnings, nil
}

// Validate performs the static checks the `validate` command and
// engine initialization require: non-empty name, unique step names,
// flow references resolve, no duplicate flow names (map keys are
// already unique by construction, so this checks cross-references
// instead), on_error.next targets exist.
func Validate(w *Workflow) error {
	if w.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q declares no steps", w.Name)
	}

	seen := map[string]bool{}
	for _, s := range w.Steps {
		if s.Name == "" {
			return fmt.Errorf("workflow %q has a step with an empty name", w.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("workflow %q has a duplicate step name %q", w.Name, s.Name)
		}
		seen[s.Name] = true
		if s.Task == "" {
			return fmt.Errorf("step %q is missing a task", s.Name)
		}
		if s.OnError != nil {
			if err := validateErrorPolicy(w, s); err != nil {
				return err
			}
		}
	}

	if w.Flows != nil {
		for flowName, steps := range w.Flows.Definitions {
			if len(steps) == 0 {
				return fmt.Errorf("flow %q declares no steps", flowName)
			}
			for _, name := range steps {
				if !seen[name] {
					return fmt.Errorf("flow %q references unknown step %q", flowName, name)
				}
			}
		}
		if w.Flows.Default != "" {
			if _, ok := w.Flows.Definitions[w.Flows.Default]; !ok {
				return fmt.Errorf("flows.default %q is not a defined flow", w.Flows.Default)
			}
		}
	}

	for name, p := range w.Params {
		if p.Required && p.Default != nil {
			// Not an error, just documented precedence: a required param
			// with a default is accepted; default only applies if a
			// caller also fails to supply the value, which Validate does
			// not check (that is the engine's job at run time).
			_ = name
		}
	}

	return nil
}

func validateErrorPolicy(w *Workflow, s Step) error {
	switch s.OnError.Action {
	case "", "fail", "retry", "continue", "next":
	default:
		return fmt.Errorf("step %q has unknown on_error.action %q", s.Name, s.OnError.Action)
	}
	if s.OnError.Action == "next" {
		if s.OnError.Next == "" {
			return fmt.Errorf("step %q: on_error.action=next requires on_error.next", s.Name)
		}
		if _, ok := w.StepByName(s.OnError.Next); !ok {
			return fmt.Errorf("step %q: on_error.next references unknown step %q", s.Name, s.OnError.Next)
		}
	}
	if s.OnError.Retry < 0 {
		return fmt.Errorf("step %q: on_error.retry must be >= 0", s.Name)
	}
	return nil
}
