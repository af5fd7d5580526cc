package utils

import (
	"math/rand"
	"regexp"
	"strings"

	"mailreach/models"
)

var mergeFieldPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Standard merge fields resolvable from lead contact columns. Anything else
// is looked up in the lead's custom fields.
var standardMergeFields = map[string]bool{
	"email":      true,
	"first_name": true,
	"last_name":  true,
	"company":    true,
}

// RenderMergeFields substitutes {{field}} placeholders with lead attributes.
// A known field with no value renders as an empty string; an unknown
// placeholder is left in place unexpanded.
func RenderMergeFields(tmpl string, lead *models.Lead) string {
	return mergeFieldPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := strings.TrimSpace(strings.Trim(match, "{}"))
		if v, ok := lead.Field(name); ok {
			return v
		}
		if standardMergeFields[name] {
			return ""
		}
		return match
	})
}

// PickVariant selects a variant by weighted random choice. Non-positive
// weights count as 1 so a misconfigured variant can still be drawn.
func PickVariant(variants []models.SequenceVariant, rng *rand.Rand) *models.SequenceVariant {
	if len(variants) == 0 {
		return nil
	}
	if len(variants) == 1 {
		return &variants[0]
	}

	total := 0
	for i := range variants {
		total += variantWeight(&variants[i])
	}

	pick := rng.Intn(total)
	for i := range variants {
		pick -= variantWeight(&variants[i])
		if pick < 0 {
			return &variants[i]
		}
	}
	return &variants[len(variants)-1]
}

func variantWeight(v *models.SequenceVariant) int {
	if v.Weight <= 0 {
		return 1
	}
	return v.Weight
}
