package utils

import (
	"math/rand"
	"testing"

	"mailreach/models"

	"github.com/stretchr/testify/assert"
)

func TestRenderMergeFields(t *testing.T) {
	lead := &models.Lead{
		Email:     "ana@acme.com",
		FirstName: "Ana",
		Company:   "Acme",
		CustomFields: map[string]string{
			"role": "CTO",
		},
	}

	assert.Equal(t, "Hi Ana from Acme", RenderMergeFields("Hi {{first_name}} from {{company}}", lead))
	assert.Equal(t, "Hi Ana", RenderMergeFields("Hi {{ first_name }}", lead))
	assert.Equal(t, "As a CTO you know", RenderMergeFields("As a {{role}} you know", lead))
	assert.Equal(t, "Write to ana@acme.com", RenderMergeFields("Write to {{email}}", lead))
}

func TestRenderMergeFieldsMissingValues(t *testing.T) {
	lead := &models.Lead{Email: "ana@acme.com", FirstName: "Ana"}

	// A known field with no value renders empty
	assert.Equal(t, "Hi Ana from ", RenderMergeFields("Hi {{first_name}} from {{company}}", lead))

	// An unknown placeholder stays in place so broken templates are visible
	assert.Equal(t, "Your {{widget_count}} widgets", RenderMergeFields("Your {{widget_count}} widgets", lead))
}

func TestRenderMergeFieldsNoPlaceholders(t *testing.T) {
	lead := &models.Lead{FirstName: "Ana"}
	assert.Equal(t, "Quick question", RenderMergeFields("Quick question", lead))
}

func TestPickVariantSingle(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	variants := []models.SequenceVariant{{Label: "A", Weight: 100}}

	picked := PickVariant(variants, rng)
	assert.Equal(t, "A", picked.Label)

	assert.Nil(t, PickVariant(nil, rng))
}

func TestPickVariantWeightedDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	variants := []models.SequenceVariant{
		{Label: "A", Weight: 90},
		{Label: "B", Weight: 10},
	}

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[PickVariant(variants, rng).Label]++
	}

	assert.Greater(t, counts["A"], 800)
	assert.Greater(t, counts["B"], 30)
	assert.Less(t, counts["B"], 200)
}

func TestPickVariantNonPositiveWeight(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	variants := []models.SequenceVariant{
		{Label: "A", Weight: 0},
		{Label: "B", Weight: 0},
	}

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		counts[PickVariant(variants, rng).Label]++
	}

	// Zero weights fall back to 1 so both arms keep getting drawn
	assert.Greater(t, counts["A"], 0)
	assert.Greater(t, counts["B"], 0)
}
