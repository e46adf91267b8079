package bim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func elems(cats ...Category) []Element {
	out := make([]Element, 0, len(cats))
	for _, c := range cats {
		out = append(out, Element{Category: c})
	}
	return out
}

func TestLowElementCountRule(t *testing.T) {
	r := LowElementCountRule(10)

	f, ok := r.Evaluate(elems(CategoryWall, CategorySlab, CategoryBeam))
	assert.True(t, ok)
	assert.Equal(t, "completeness", f.Category)
	assert.Equal(t, SeverityMedium, f.Severity)
	assert.Equal(t, 3, f.Details["total_elements"])

	ten := make([]Element, 10)
	_, ok = r.Evaluate(ten)
	assert.False(t, ok)
}

func TestLowElementCountRuleEmptyModel(t *testing.T) {
	f, ok := LowElementCountRule(10).Evaluate(nil)
	assert.True(t, ok)
	assert.Contains(t, f.Description, "0 elements")
}

func TestWallPresenceRule(t *testing.T) {
	r := WallPresenceRule()

	f, ok := r.Evaluate(elems(CategoryDoor, CategoryWall))
	assert.True(t, ok)
	assert.Equal(t, "structural", f.Category)
	assert.Equal(t, SeverityLow, f.Severity)

	_, ok = r.Evaluate(elems(CategoryDoor, CategoryRoof))
	assert.False(t, ok)
}

func TestDefaultRulesOrder(t *testing.T) {
	rules := DefaultRules()
	if assert.Len(t, rules, 2) {
		assert.Equal(t, "low-element-count", rules[0].Name)
		assert.Equal(t, "wall-presence", rules[1].Name)
	}
}
