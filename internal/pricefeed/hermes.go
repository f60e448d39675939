package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const hermesLatestPath = "/v2/updates/price/latest"

// HermesOptions parameterise the Pyth Hermes source.
type HermesOptions struct {
	BaseURL   string
	FeedID    string
	Timeout   time.Duration
	UserAgent string
}

// Hermes reads the latest Pyth price update over HTTP.
type Hermes struct {
	opts    HermesOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHermes constructs a Hermes source.
func NewHermes(opts HermesOptions, logger zerolog.Logger) *Hermes {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://hermes.pyth.network"
	}

	return &Hermes{
		opts:    opts,
		logger:  logger.With().Str("component", "hermes_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name implements Source.
func (h *Hermes) Name() string { return "hermes" }

// LatestQuote fetches the parsed price of the configured feed.
func (h *Hermes) LatestQuote(ctx context.Context) (Quote, error) {
	feedID := strings.TrimPrefix(strings.TrimSpace(h.opts.FeedID), "0x")
	if feedID == "" {
		return Quote{}, errors.New("hermes feed id not configured")
	}

	query := url.Values{}
	query.Add("ids[]", feedID)
	query.Set("parsed", "true")
	endpoint := h.baseURL + hermesLatestPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "trend-oracle/1.0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	payload, err := readBody(resp.Body)
	if err != nil {
		return Quote{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, parseHTTPError(resp.StatusCode, payload)
	}

	var res latestResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return Quote{}, fmt.Errorf("decode hermes response: %w", err)
	}
	if len(res.Parsed) == 0 {
		return Quote{}, errors.New("hermes response has no parsed price")
	}

	update := res.Parsed[0]
	if update.ID != "" && !strings.EqualFold(strings.TrimPrefix(update.ID, "0x"), feedID) {
		return Quote{}, fmt.Errorf("hermes returned feed %s, want %s", update.ID, feedID)
	}

	price, err := strconv.ParseInt(update.Price.Price, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("parse price: %w", err)
	}
	conf, err := strconv.ParseUint(update.Price.Conf, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("parse conf: %w", err)
	}

	h.logger.Debug().
		Int64("price", price).
		Uint64("conf", conf).
		Int32("expo", update.Price.Expo).
		Int64("publish_time", update.Price.PublishTime).
		Msg("hermes quote")

	return Quote{
		Price:       price,
		Conf:        conf,
		Expo:        update.Price.Expo,
		PublishTime: update.Price.PublishTime,
	}, nil
}

type latestResponse struct {
	Parsed []struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Conf        string `json:"conf"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"parsed"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("hermes api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("hermes api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("hermes api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("hermes api error (%d)", status)
}

var _ Source = (*Hermes)(nil)

// maxResponseBytes caps how much of an upstream response is read.
const maxResponseBytes = 1 << 20

func readBody(body io.Reader) ([]byte, error) {
	payload, err := io.ReadAll(io.LimitReader(body, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(payload) > maxResponseBytes {
		return nil, fmt.Errorf("hermes response exceeds %d bytes", maxResponseBytes)
	}
	return payload, nil
}
