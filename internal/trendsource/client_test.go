package trendsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func sbtcOptions(url string) Options {
	return Options{
		URL:           url,
		SuccessPath:   "success",
		CandidatePath: "data.sbtc_target_price",
		ReferencePath: "data.current_btc_price",
		CountPath:     "data.data_points_used",
		Shift:         2,
		Timeout:       time.Second,
	}
}

func TestFetchSBTCPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"current_btc_price":65123.456,"sbtc_target_price":47000.019,"sbtc_scaled_cents":4700001,"data_points_used":1000}}`))
	}))
	defer srv.Close()

	c := New(sbtcOptions(srv.URL), zerolog.Nop())
	got, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, Reading{Candidate: 4700001, ReferencePrice: 6512345, SampleCount: 1000}, got)
}

func TestFetchUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"no data"}`))
	}))
	defer srv.Close()

	c := New(sbtcOptions(srv.URL), zerolog.Nop())
	_, err := c.Fetch(context.Background())
	require.EqualError(t, err, "trend source error (500): no data")
}

func TestFetchOversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"pad":"`))
		_, _ = w.Write([]byte(strings.Repeat("x", maxResponseBytes)))
		_, _ = w.Write([]byte(`"}`))
	}))
	defer srv.Close()

	opts := sbtcOptions(srv.URL)
	opts.Timeout = 5 * time.Second
	_, err := New(opts, zerolog.Nop()).Fetch(context.Background())
	require.ErrorContains(t, err, "response exceeds")
}

func TestParseReportedFailure(t *testing.T) {
	c := New(sbtcOptions(""), zerolog.Nop())
	_, err := c.Parse([]byte(`{"success":false,"error":"nan"}`))
	require.Error(t, err, "success=false should fail")
}

func TestParseStringNumbersAndMissingPaths(t *testing.T) {
	c := New(sbtcOptions(""), zerolog.Nop())

	got, err := c.Parse([]byte(`{"data":{"current_btc_price":"100.5","sbtc_target_price":"99.999","data_points_used":"30"}}`))
	require.NoError(t, err)
	require.Equal(t, Reading{Candidate: 9999, ReferencePrice: 10050, SampleCount: 30}, got)

	for name, payload := range map[string]string{
		"missing candidate":  `{"data":{"current_btc_price":1}}`,
		"negative candidate": `{"data":{"current_btc_price":1,"sbtc_target_price":-3,"data_points_used":1}}`,
		"boolean candidate":  `{"data":{"current_btc_price":1,"sbtc_target_price":true,"data_points_used":1}}`,
	} {
		_, err := c.Parse([]byte(payload))
		require.Error(t, err, name)
	}
}

func TestFetchRequiresURL(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop()).Fetch(context.Background())
	require.Error(t, err, "empty url should fail")
}
