package pipeline

import (
	"regexp"
	"strings"
	"unicode"

	api "github.com/disputeflow/verifier/api/v1"
)

var (
	reDate     = regexp.MustCompile(`\b20\d{2}[-/.]\d{1,2}[-/.]\d{1,2}\b|\b\d{1,2}[-/.]\d{1,2}[-/.]20\d{2}\b`)
	reCurrency = regexp.MustCompile(`\b(usd|eur|gbp|cad|aud|inr|jpy)\b|[$£€]`)
	reAmount   = regexp.MustCompile(`\b\d{1,3}(,\d{3})*\.\d{2}\b|\b\d+\.\d{2}\b`)
)

// coreExtractionFields are the fields a payment document is expected to
// yield; completeness is measured against this set.
var coreExtractionFields = []string{"amount", "currency", "transaction_date", "merchant_name"}

// scoreExtraction derives the confidence breakdown for an extraction from
// the decoded text and the fields that came back. Vendor field scores,
// when present, are blended into the overall figure.
func scoreExtraction(fields map[string]string, fieldScores map[string]float64, rawText string) api.OCRConfidence {
	clarity := textClarity(rawText)
	completeness := fieldCompleteness(fields)
	patterns := patternMatching(rawText)

	overall := (clarity + completeness + patterns) / 3
	if len(fieldScores) > 0 {
		var sum float64
		for _, s := range fieldScores {
			sum += s
		}
		overall = (overall + sum/float64(len(fieldScores))) / 2
	}

	return api.OCRConfidence{
		Overall:           clamp01(overall),
		TextClarity:       clamp01(clarity),
		FieldCompleteness: clamp01(completeness),
		PatternMatching:   clamp01(patterns),
	}
}

func textClarity(txt string) float64 {
	if txt == "" {
		return 0
	}

	printable, total := 0, 0
	for _, r := range txt {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r' {
			printable++
		}
	}

	ratio := float64(printable) / float64(total)
	// very short decodes carry little signal
	if total < 40 {
		ratio *= float64(total) / 40
	}
	return ratio
}

func fieldCompleteness(fields map[string]string) float64 {
	present := 0
	for _, name := range coreExtractionFields {
		if strings.TrimSpace(fields[name]) != "" {
			present++
		}
	}
	return float64(present) / float64(len(coreExtractionFields))
}

// patternMatching boosts confidence when the decoded text shows the
// artifacts a payment document should have: a date, a currency marker
// and a decimal amount.
func patternMatching(txt string) float64 {
	if txt == "" {
		return 0
	}

	txtL := strings.ToLower(txt)
	score := 0.2
	if reDate.MatchString(txtL) {
		score += 0.25
	}
	if reCurrency.MatchString(txtL) {
		score += 0.2
	}
	if reAmount.MatchString(txtL) {
		score += 0.25
	}
	if len(txt) > 120 {
		score += 0.1
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
