package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultTimeout = 45 * time.Second

type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Client asks the authenticity model to judge a document given its
// extracted fields and the comparison against the transaction record.
// Responses are validated against a schema before they are trusted.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.SugaredLogger
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  zap.S().Named("ai_client"),
	}
}

type DiscrepancyFact struct {
	Field       string `json:"field"`
	Severity    string `json:"severity"`
	Impact      string `json:"impact"`
	Description string `json:"description,omitempty"`
}

type ComparisonFacts struct {
	OverallMatch  float64           `json:"overall_match"`
	FieldOutcomes map[string]string `json:"field_outcomes,omitempty"`
	Discrepancies []DiscrepancyFact `json:"discrepancies,omitempty"`
}

type TransactionFacts struct {
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	MerchantName    string  `json:"merchant_name"`
	TransactionDate string  `json:"transaction_date"`
	PaymentMethod   string  `json:"payment_method,omitempty"`
	CardLast4       string  `json:"card_last4,omitempty"`
}

type EvaluationRequest struct {
	DocumentID     string
	Model          string
	Fields         map[string]string
	RawTextExcerpt string
	Comparison     *ComparisonFacts
	Transaction    *TransactionFacts
}

type Flag struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

type Evaluation struct {
	Score           float64  `json:"authenticity_score"`
	Confidence      float64  `json:"confidence"`
	Flags           []Flag   `json:"flags,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Evaluate posts the evaluation request and returns the model's verdict.
// A response that does not match the evaluation schema is rejected, the
// model's output never reaches scoring unchecked.
func (c *Client) Evaluate(ctx context.Context, req EvaluationRequest) (*Evaluation, error) {
	model := c.cfg.Model
	if req.Model != "" {
		model = req.Model
	}

	body := map[string]any{
		"model":            model,
		"document_id":      req.DocumentID,
		"extracted_fields": req.Fields,
	}
	if req.RawTextExcerpt != "" {
		body["raw_text_excerpt"] = req.RawTextExcerpt
	}
	if req.Comparison != nil {
		body["comparison"] = req.Comparison
	}
	if req.Transaction != nil {
		body["transaction"] = req.Transaction
	}

	raw, err := c.post(ctx, strings.TrimRight(c.cfg.Endpoint, "/")+"/v1/evaluations", body)
	if err != nil {
		return nil, err
	}

	if err := ValidateEvaluation(raw); err != nil {
		c.log.Errorw("ai evaluation failed schema validation",
			"document_id", req.DocumentID,
			"error", err,
		)
		return nil, errors.Wrap(err, "invalid evaluation response")
	}

	var eval Evaluation
	if err := json.Unmarshal(raw, &eval); err != nil {
		return nil, errors.Wrap(err, "failed to decode evaluation response")
	}

	return &eval, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal evaluation request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build evaluation request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "evaluation request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read evaluation response")
	}

	c.log.Debugw("ai evaluation completed",
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("ai service returned status %d: %s", resp.StatusCode, truncate(raw, 256))
	}
	return raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
