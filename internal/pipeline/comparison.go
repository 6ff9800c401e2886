package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/store"
	"github.com/disputeflow/verifier/internal/store/model"
)

const (
	amountMatchTolerance   = 0.005
	amountPartialTolerance = 0.02
	dateMatchWindowDays    = 3
	merchantMatchOverlap   = 0.8
	merchantPartialOverlap = 0.4
)

// ComparisonHandler matches extracted fields against the transaction
// record the document claims to evidence.
type ComparisonHandler struct {
	store store.Store
}

func NewComparisonHandler(s store.Store) *ComparisonHandler {
	return &ComparisonHandler{store: s}
}

func (h *ComparisonHandler) Stage() api.Stage { return api.StageDataComparison }

func (h *ComparisonHandler) Run(ctx context.Context, msg *model.QueueMessage) (*Result, error) {
	if msg.StageConfig != nil && msg.StageConfig.Data.SkipComparison {
		return &Result{Stage: api.StageDataComparison}, nil
	}

	results, err := h.store.Results().Get(ctx, msg.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewFatalError("document %s reached comparison without stage results", msg.DocumentID)
		}
		return nil, NewInfraError("failed to load stage results", err)
	}
	if results.OCR == nil {
		return nil, NewFatalError("document %s reached comparison without extraction output", msg.DocumentID)
	}

	txn, err := h.store.Transaction().Get(ctx, msg.TransactionID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewValidationError("transaction %s has no record to compare against", msg.TransactionID)
		}
		return nil, NewInfraError("failed to load transaction record", err)
	}

	expectedMerchant := txn.MerchantName
	if msg.StageConfig != nil && msg.StageConfig.Data.ComparisonLabel != "" {
		// acquirer descriptors rarely match the storefront name, a
		// submission may supply the descriptor to compare against
		expectedMerchant = msg.StageConfig.Data.ComparisonLabel
	}

	summary := compareFields(results.OCR.Data.Fields, txn, expectedMerchant)

	return &Result{
		Stage:      api.StageDataComparison,
		Comparison: summary,
	}, nil
}

func compareFields(extracted map[string]string, txn *model.TransactionRecord, expectedMerchant string) *api.ComparisonSummary {
	summary := &api.ComparisonSummary{}

	add := func(fc api.FieldComparison, d *api.Discrepancy) {
		summary.Fields = append(summary.Fields, fc)
		if d != nil {
			summary.Discrepancies = append(summary.Discrepancies, *d)
		}
	}

	add(compareAmount(extracted["amount"], txn.Amount))
	add(compareCurrency(extracted["currency"], txn.Currency))
	add(compareDate(extracted["transaction_date"], txn.TransactionDate))
	add(compareMerchant(extracted["merchant_name"], expectedMerchant))
	if txn.CardLast4 != "" {
		add(compareLast4(extracted["card_last4"], txn.CardLast4))
	}

	var sum float64
	comparable := 0
	for _, fc := range summary.Fields {
		if fc.Status == api.ComparisonMissingData {
			continue
		}
		sum += fc.MatchScore
		comparable++
	}
	if comparable > 0 {
		summary.OverallMatch = sum / float64(comparable)
	}

	return summary
}

func compareAmount(extracted string, expected float64) (api.FieldComparison, *api.Discrepancy) {
	fc := api.FieldComparison{
		Field:    "amount",
		Expected: strconv.FormatFloat(expected, 'f', 2, 64),
	}

	value, ok := parseAmount(extracted)
	if !ok {
		fc.Status = api.ComparisonMissingData
		return fc, nil
	}
	fc.Extracted = extracted

	relDiff := math.Abs(value-expected) / math.Max(math.Abs(expected), 0.01)
	switch {
	case relDiff <= amountMatchTolerance:
		fc.Status = api.ComparisonMatch
		fc.MatchScore = 1.0
	case relDiff <= amountPartialTolerance:
		fc.Status = api.ComparisonPartial
		fc.MatchScore = 0.7
	default:
		fc.Status = api.ComparisonMismatch
		return fc, &api.Discrepancy{
			Field:       "amount",
			Severity:    api.SeverityHigh,
			Impact:      api.SeverityCritical,
			Description: fmt.Sprintf("extracted amount %.2f differs from transaction amount %.2f", value, expected),
		}
	}
	return fc, nil
}

func compareCurrency(extracted, expected string) (api.FieldComparison, *api.Discrepancy) {
	fc := api.FieldComparison{
		Field:    "currency",
		Expected: strings.ToUpper(expected),
	}

	value := strings.ToUpper(strings.TrimSpace(extracted))
	if value == "" {
		fc.Status = api.ComparisonMissingData
		return fc, nil
	}
	fc.Extracted = value

	if value == fc.Expected {
		fc.Status = api.ComparisonMatch
		fc.MatchScore = 1.0
		return fc, nil
	}

	fc.Status = api.ComparisonMismatch
	return fc, &api.Discrepancy{
		Field:       "currency",
		Severity:    api.SeverityHigh,
		Impact:      api.SeverityCritical,
		Description: fmt.Sprintf("extracted currency %s differs from transaction currency %s", value, fc.Expected),
	}
}

func compareDate(extracted string, expected time.Time) (api.FieldComparison, *api.Discrepancy) {
	fc := api.FieldComparison{
		Field:    "transaction_date",
		Expected: expected.UTC().Format("2006-01-02"),
	}

	value, ok := parseDate(extracted)
	if !ok {
		fc.Status = api.ComparisonMissingData
		return fc, nil
	}
	fc.Extracted = extracted

	days := dayDiff(value, expected)
	switch {
	case days == 0:
		fc.Status = api.ComparisonMatch
		fc.MatchScore = 1.0
	case days <= dateMatchWindowDays:
		fc.Status = api.ComparisonPartial
		fc.MatchScore = 0.7
	default:
		fc.Status = api.ComparisonMismatch
		return fc, &api.Discrepancy{
			Field:       "transaction_date",
			Severity:    api.SeverityMedium,
			Impact:      api.SeverityMedium,
			Description: fmt.Sprintf("extracted date %s is %d days from the transaction date %s", fc.Extracted, days, fc.Expected),
		}
	}
	return fc, nil
}

func compareMerchant(extracted, expected string) (api.FieldComparison, *api.Discrepancy) {
	fc := api.FieldComparison{
		Field:    "merchant_name",
		Expected: expected,
	}

	if strings.TrimSpace(extracted) == "" {
		fc.Status = api.ComparisonMissingData
		return fc, nil
	}
	fc.Extracted = extracted

	overlap := tokenOverlap(merchantTokens(extracted), merchantTokens(expected))
	fc.MatchScore = overlap
	switch {
	case overlap >= merchantMatchOverlap:
		fc.Status = api.ComparisonMatch
	case overlap >= merchantPartialOverlap:
		fc.Status = api.ComparisonPartial
	default:
		fc.Status = api.ComparisonMismatch
		return fc, &api.Discrepancy{
			Field:       "merchant_name",
			Severity:    api.SeverityMedium,
			Impact:      api.SeverityHigh,
			Description: fmt.Sprintf("extracted merchant %q does not resemble %q", extracted, expected),
		}
	}
	return fc, nil
}

func compareLast4(extracted, expected string) (api.FieldComparison, *api.Discrepancy) {
	fc := api.FieldComparison{
		Field:    "card_last4",
		Expected: expected,
	}

	value := strings.TrimSpace(extracted)
	if value == "" {
		fc.Status = api.ComparisonMissingData
		return fc, nil
	}
	fc.Extracted = value

	if value == expected {
		fc.Status = api.ComparisonMatch
		fc.MatchScore = 1.0
		return fc, nil
	}

	fc.Status = api.ComparisonMismatch
	return fc, &api.Discrepancy{
		Field:       "card_last4",
		Severity:    api.SeverityHigh,
		Impact:      api.SeverityHigh,
		Description: fmt.Sprintf("document shows card ending %s, transaction used %s", value, expected),
	}
}

func parseAmount(s string) (float64, bool) {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, s)
	if clean == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
	time.RFC3339,
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func dayDiff(a, b time.Time) int {
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.UTC().Year(), b.UTC().Month(), b.UTC().Day(), 0, 0, 0, 0, time.UTC)
	d := int(math.Abs(au.Sub(bu).Hours()) / 24)
	return d
}

// stop words that vary between a storefront name and its legal entity
var merchantStopWords = map[string]bool{
	"inc": true, "llc": true, "ltd": true, "co": true, "corp": true,
	"company": true, "gmbh": true, "the": true,
}

func merchantTokens(name string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, name)

	var tokens []string
	for _, tok := range strings.Fields(cleaned) {
		if !merchantStopWords[tok] {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// tokenOverlap is containment, not jaccard: "ACME STORE" against
// "Acme Online Store" should count as a full match.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]bool, len(b))
	for _, tok := range b {
		set[tok] = true
	}

	common := 0
	for _, tok := range a {
		if set[tok] {
			common++
		}
	}

	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	return float64(common) / float64(min)
}
