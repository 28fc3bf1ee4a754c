package parser

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

var knownStepKeys = map[string]bool{
	"name": true, "task": true, "inputs": true, "condition": true,
	"on_error": true, "outputs": true,
	// "params" is the deprecated alias for "inputs" (DESIGN.md Open
	// Question 1): listed here so it is not rejected as an unknown key;
	// UnmarshalYAML then marks its use so Parse reports the deprecation
	// warning.
	"params": true,
}

// UnmarshalYAML rejects unknown keys inside a Step: the engine accepts
// unknown keys at the workflow document's top level (forward
// compatibility) but rejects them inside a Step, to catch typos. The
// workflow document as a whole is decoded without KnownFields so
// top-level forward-compatible keys are tolerated; only Step gets this
// stricter treatment.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	raw := map[string]yaml.Node{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	for key := range raw {
		if !knownStepKeys[key] {
			return fmt.Errorf("unknown key %q in step definition", key)
		}
	}
	type plain Step
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	if node, ok := raw["params"]; ok && p.Inputs == nil {
		var params map[string]interface{}
		if err := node.Decode(&params); err == nil {
			p.Inputs = params
		}
		p.UsedDeprecatedParams = true
	}
	*s = Step(p)
	return nil
}
