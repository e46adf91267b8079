package bim

import "fmt"

// Finding is what a rule emits; the pipeline assigns identity and ownership.
type Finding struct {
	Category    string
	Description string
	Severity    Severity
	ElementID   string
	Details     map[string]any
}

// Rule is one predicate→finding check over the persisted element set.
type Rule struct {
	Name     string
	Evaluate func(elements []Element) (Finding, bool)
}

// LowElementCountThreshold below which a model is reported as possibly incomplete.
const LowElementCountThreshold = 10

// DefaultRules returns the heuristic pass used by ingestion.
func DefaultRules() []Rule {
	return []Rule{LowElementCountRule(LowElementCountThreshold), WallPresenceRule()}
}

// LowElementCountRule flags models with fewer than threshold elements.
func LowElementCountRule(threshold int) Rule {
	return Rule{
		Name: "low-element-count",
		Evaluate: func(elements []Element) (Finding, bool) {
			if len(elements) >= threshold {
				return Finding{}, false
			}
			return Finding{
				Category:    "completeness",
				Description: fmt.Sprintf("Model has only %d elements. Check whether the model is complete.", len(elements)),
				Severity:    SeverityMedium,
				Details:     map[string]any{"total_elements": len(elements)},
			}, true
		},
	}
}

// WallPresenceRule prompts verification of wall thickness and material.
func WallPresenceRule() Rule {
	return Rule{
		Name: "wall-presence",
		Evaluate: func(elements []Element) (Finding, bool) {
			for _, e := range elements {
				if e.Category == CategoryWall {
					return Finding{
						Category:    "structural",
						Description: "Walls identified. Verify thicknesses and materials against the structural design.",
						Severity:    SeverityLow,
						Details:     map[string]any{"element_type": string(CategoryWall)},
					}, true
				}
			}
			return Finding{}, false
		},
	}
}
