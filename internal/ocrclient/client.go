package ocrclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultTimeout = 60 * time.Second

type Config struct {
	Endpoint string
	APIKey   string
	Preset   string
	Timeout  time.Duration
}

// Client talks to the OCR vendor over HTTP. Documents are posted as
// multipart bodies and come back as extracted fields plus the raw text.
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
		log:  zap.S().Named("ocr_client"),
	}
}

type ExtractRequest struct {
	Document      []byte
	FileName      string
	ContentType   string
	Preset        string
	LanguageHints []string
}

type ExtractResult struct {
	Fields      map[string]string
	FieldScores map[string]float64
	RawText     string
}

type extractResponse struct {
	Fields      map[string]string  `json:"fields"`
	FieldScores map[string]float64 `json:"field_scores"`
	RawText     string             `json:"raw_text"`
}

// Extract sends the document for field extraction. The preset selects the
// vendor side extraction template; an empty preset falls back to the
// configured default.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	preset := req.Preset
	if preset == "" {
		preset = c.cfg.Preset
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("document", req.FileName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build multipart body")
	}
	if _, err := part.Write(req.Document); err != nil {
		return nil, errors.Wrap(err, "failed to write document part")
	}
	if err := w.WriteField("preset", preset); err != nil {
		return nil, errors.Wrap(err, "failed to write preset field")
	}
	if len(req.LanguageHints) > 0 {
		if err := w.WriteField("language_hints", strings.Join(req.LanguageHints, ",")); err != nil {
			return nil, errors.Wrap(err, "failed to write language hints")
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finalize multipart body")
	}

	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/v1/extract"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build extract request")
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "extract request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read extract response")
	}

	c.log.Debugw("ocr extract completed",
		"file", req.FileName,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("ocr service returned status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var decoded extractResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.Wrap(err, "failed to decode extract response")
	}

	return &ExtractResult{
		Fields:      decoded.Fields,
		FieldScores: decoded.FieldScores,
		RawText:     decoded.RawText,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
