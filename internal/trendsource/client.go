// Package trendsource fetches a precomputed trend value, with the reference
// price and sample count behind it, from an upstream HTTP endpoint.
package trendsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Options parameterise the client. Paths use gjson syntax.
type Options struct {
	URL           string
	SuccessPath   string
	CandidatePath string
	ReferencePath string
	CountPath     string
	// Shift moves the decimal point of candidate and reference values before
	// truncation, e.g. 2 turns dollars into cents.
	Shift     int32
	Timeout   time.Duration
	UserAgent string
}

// Reading is one upstream observation in the oracle's fixed-point scale.
type Reading struct {
	Candidate      uint64
	ReferencePrice uint64
	SampleCount    uint64
}

// Client reads Readings over HTTP.
type Client struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client
}

// New constructs a client.
func New(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "trend_source").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch performs one GET and extracts a Reading.
func (c *Client) Fetch(ctx context.Context) (Reading, error) {
	if strings.TrimSpace(c.opts.URL) == "" {
		return Reading{}, errors.New("trend source url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.URL, nil)
	if err != nil {
		return Reading{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "trend-oracle/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Reading{}, err
	}
	defer resp.Body.Close()

	payload, err := readBody(resp.Body)
	if err != nil {
		return Reading{}, err
	}
	if !gjson.ValidBytes(payload) {
		return Reading{}, fmt.Errorf("trend source returned invalid json (%d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if msg := gjson.GetBytes(payload, "error"); msg.Exists() {
			return Reading{}, fmt.Errorf("trend source error (%d): %s", resp.StatusCode, msg.String())
		}
		return Reading{}, fmt.Errorf("trend source error (%d)", resp.StatusCode)
	}

	return c.Parse(payload)
}

// Parse extracts a Reading from a response body.
func (c *Client) Parse(payload []byte) (Reading, error) {
	if c.opts.SuccessPath != "" {
		if ok := gjson.GetBytes(payload, c.opts.SuccessPath); ok.Exists() && !ok.Bool() {
			return Reading{}, fmt.Errorf("trend source reported failure: %s", gjson.GetBytes(payload, "error").String())
		}
	}

	candidate, err := scaled(payload, c.opts.CandidatePath, c.opts.Shift)
	if err != nil {
		return Reading{}, fmt.Errorf("candidate: %w", err)
	}
	reference, err := scaled(payload, c.opts.ReferencePath, c.opts.Shift)
	if err != nil {
		return Reading{}, fmt.Errorf("reference price: %w", err)
	}
	count, err := scaled(payload, c.opts.CountPath, 0)
	if err != nil {
		return Reading{}, fmt.Errorf("sample count: %w", err)
	}

	c.logger.Debug().
		Uint64("candidate", candidate).
		Uint64("reference_price", reference).
		Uint64("sample_count", count).
		Msg("trend reading")

	return Reading{Candidate: candidate, ReferencePrice: reference, SampleCount: count}, nil
}

func scaled(payload []byte, path string, shift int32) (uint64, error) {
	res := gjson.GetBytes(payload, path)
	if !res.Exists() {
		return 0, fmt.Errorf("path %q not found", path)
	}

	var raw string
	switch res.Type {
	case gjson.Number:
		raw = res.Raw
	case gjson.String:
		raw = strings.TrimSpace(res.String())
	default:
		return 0, fmt.Errorf("path %q holds %s, want a number", path, res.Type)
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("path %q: %w", path, err)
	}
	d = d.Shift(shift).Truncate(0)
	if d.IsNegative() {
		return 0, fmt.Errorf("path %q is negative", path)
	}
	v := d.BigInt()
	if !v.IsUint64() {
		return 0, fmt.Errorf("path %q overflows uint64", path)
	}
	return v.Uint64(), nil
}

// maxResponseBytes caps how much of an upstream response is read.
const maxResponseBytes = 1 << 20

func readBody(body io.Reader) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(body, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(payload) > maxResponseBytes {
		return nil, fmt.Errorf("trend source response exceeds %d bytes", maxResponseBytes)
	}
	return payload, nil
}
