package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"trend-oracle/internal/authority"
	"trend-oracle/internal/domain"
	"trend-oracle/internal/version"
)

type trendResponse struct {
	CurrentValue uint64 `json:"current_value"`
	Value        string `json:"value"`
	LastUpdate   int64  `json:"last_update"`
}

type updateTrendRequest struct {
	Candidate *uint64 `json:"candidate"`
}

type storeDatapointRequest struct {
	DerivedValue   *uint64 `json:"derived_value"`
	ReferencePrice *uint64 `json:"reference_price"`
	SampleCount    *uint64 `json:"sample_count"`
}

type rangeResponse struct {
	Start      int64              `json:"start"`
	End        int64              `json:"end"`
	Count      int                `json:"count"`
	Datapoints []domain.Datapoint `json:"datapoints"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "trend-oracle",
		"version": version.Get(),
		"endpoints": map[string]string{
			"GET /v1/trend":                "current accepted trend value",
			"POST /v1/trend":               "submit a candidate trend value",
			"POST /v1/datapoints":          "append a datapoint",
			"GET /v1/datapoints/latest":    "most recent datapoint",
			"GET /v1/datapoints/{id}":      "datapoint by id",
			"GET /v1/datapoints?start&end": "datapoints observed in [start, end]",
			"GET /health":                  "health check",
			"GET /metrics":                 "prometheus metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)}
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			status["status"] = "unhealthy"
			status["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetTrend(w http.ResponseWriter, r *http.Request) {
	st, err := s.oracle.GetTrend(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.trendBody(st))
}

func (s *Server) handleUpdateTrend(w http.ResponseWriter, r *http.Request) {
	grant, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req updateTrendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Candidate == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "candidate is required")
		return
	}

	st, err := s.oracle.UpdateTrend(r.Context(), grant, *req.Candidate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.trendBody(st))
}

func (s *Server) handleStoreDatapoint(w http.ResponseWriter, r *http.Request) {
	grant, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req storeDatapointRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.DerivedValue == nil || req.ReferencePrice == nil || req.SampleCount == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "derived_value, reference_price and sample_count are required")
		return
	}

	id, err := s.oracle.StoreDatapoint(r.Context(), grant, *req.DerivedValue, *req.ReferencePrice, *req.SampleCount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/datapoints/"+id.String())
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleGetDatapoint(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseDatapointID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	dp, err := s.oracle.GetDatapoint(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dp)
}

func (s *Server) handleLatestDatapoint(w http.ResponseWriter, r *http.Request) {
	dp, err := s.oracle.LatestDatapoint(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dp)
}

func (s *Server) handleQueryDatapoints(w http.ResponseWriter, r *http.Request) {
	start, err := queryInt(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	end, err := queryInt(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	seq, err := s.oracle.QueryDatapoints(r.Context(), start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := rangeResponse{Start: start, End: end, Datapoints: []domain.Datapoint{}}
	for dp, err := range seq {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out.Datapoints = append(out.Datapoints, dp)
	}
	out.Count = len(out.Datapoints)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (authority.Grant, bool) {
	header := r.Header.Get("Authorization")
	scheme, credential, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(credential) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer credential")
		return authority.Grant{}, false
	}

	grant, err := s.authz.Authorize(r.Context(), strings.TrimSpace(credential))
	if err != nil {
		s.fail(w, r, err)
		return authority.Grant{}, false
	}
	return grant, true
}

func (s *Server) trendBody(st domain.OracleState) trendResponse {
	value := decimal.NewFromUint64(st.CurrentValue).Shift(-s.opts.Decimals).StringFixed(s.opts.Decimals)
	return trendResponse{CurrentValue: st.CurrentValue, Value: value, LastUpdate: st.LastUpdate}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, fmt.Errorf("query parameter %s is required", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("query parameter %s must be an integer", name)
	}
	return v, nil
}
