package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/monitoring"
	"github.com/cabbageseo/geo-scanner/internal/platforms"
	"github.com/cabbageseo/geo-scanner/internal/scorer"
	"github.com/cabbageseo/geo-scanner/internal/storage"
)

const (
	// statusClientClosedRequest is logged when the caller left before the scan finished
	statusClientClosedRequest = 499

	defaultHistoryDays   = 30
	defaultCitationLimit = 100
	maxCitationLimit     = 1000

	insufficientDataMessage = "insufficient data - try again"
)

// Server exposes the scan service over HTTP
type Server struct {
	config  *config.Config
	service *monitoring.Service
	router  *mux.Router
}

// ScanRequest is the body of POST /api/scans. Plan limits the query count
// and platform set; an empty plan means the configured default plan.
type ScanRequest struct {
	monitoring.ScanRequest
	Plan string `json:"plan,omitempty"`
}

// NewServer creates the HTTP API
func NewServer(cfg *config.Config, service *monitoring.Service) *Server {
	s := &Server{config: cfg, service: service, router: mux.NewRouter()}

	s.router.HandleFunc("/health", s.healthCheckHandler).Methods("GET")
	s.router.HandleFunc("/metrics", s.metricsHandler).Methods("GET")
	s.router.HandleFunc("/trigger", s.triggerHandler).Methods("POST")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scans", s.createScanHandler).Methods("POST")
	api.HandleFunc("/scans/{domain}", s.listScansHandler).Methods("GET")
	api.HandleFunc("/scans/{domain}/{id}", s.getScanHandler).Methods("GET")
	api.HandleFunc("/sites/{siteID}/citations", s.citationsHandler).Methods("GET")
	api.HandleFunc("/sites/{siteID}/trend", s.trendHandler).Methods("GET")
	api.HandleFunc("/sites/{siteID}", s.deleteSiteHandler).Methods("DELETE")

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	enabled := s.service.EnabledPlatforms()
	status := "healthy"
	if len(enabled) == 0 {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"platforms": enabled,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.service.GetMetrics()))
}

func (s *Server) triggerHandler(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := s.service.RunTrackedScans(context.Background()); err != nil {
			logrus.Errorf("Manual scan trigger failed: %v", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Tracked scans triggered"})
}

func (s *Server) createScanHandler(w http.ResponseWriter, r *http.Request) {
	var body ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	req, err := s.resolveRequest(body)
	if err != nil {
		s.writeScanError(w, r, err)
		return
	}

	report, err := s.service.RunScan(r.Context(), req)
	if err != nil {
		s.writeScanError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// resolveRequest applies tracked-site settings and plan limits to a scan request
func (s *Server) resolveRequest(body ScanRequest) (monitoring.ScanRequest, error) {
	if body.Domain == "" && body.SiteID != "" {
		site, ok := s.service.Catalog().Site(body.SiteID)
		if !ok {
			return monitoring.ScanRequest{}, fmt.Errorf("site %q: %w", body.SiteID, storage.ErrNotFound)
		}
		return s.service.RequestForSite(site)
	}

	planName := body.Plan
	if planName == "" {
		planName = s.config.DefaultPlan
	}
	plan, ok := config.PlanFor(planName)
	if !ok {
		return monitoring.ScanRequest{}, &platforms.ValidationError{Field: "plan", Message: fmt.Sprintf("unknown plan %q", planName)}
	}

	return monitoring.ApplyPlan(body.ScanRequest, plan)
}

func (s *Server) listScansHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := s.service.ListScans(r.Context(), mux.Vars(r)["domain"])
	if err != nil {
		s.writeScanError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scans": ids})
}

func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	report, err := s.service.GetScan(r.Context(), vars["domain"], vars["id"])
	if err != nil {
		s.writeScanError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) citationsHandler(w http.ResponseWriter, r *http.Request) {
	since, err := sinceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := defaultCitationLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxCitationLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxCitationLimit))
			return
		}
	}

	citations, err := s.service.Citations(r.Context(), mux.Vars(r)["siteID"], since, limit)
	if err != nil {
		s.writeScanError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"citations": citations})
}

func (s *Server) trendHandler(w http.ResponseWriter, r *http.Request) {
	since, err := sinceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := s.service.Trend(r.Context(), mux.Vars(r)["siteID"], since)
	if err != nil {
		s.writeScanError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trend": points})
}

func (s *Server) deleteSiteHandler(w http.ResponseWriter, r *http.Request) {
	siteID := mux.Vars(r)["siteID"]

	domain := r.URL.Query().Get("domain")
	if site, ok := s.service.Catalog().Site(siteID); ok && domain == "" {
		domain = site.Domain
	}
	if domain == "" {
		domain = siteID
	}

	if err := s.service.DeleteSite(r.Context(), siteID, domain); err != nil {
		s.writeScanError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sinceParam reads ?since=<RFC3339> or ?days=<n>, defaulting to 30 days back
func sinceParam(r *http.Request) (time.Time, error) {
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("since must be an RFC3339 timestamp")
		}
		return t.UTC(), nil
	}

	days := defaultHistoryDays
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return time.Time{}, fmt.Errorf("days must be a positive integer")
		}
		days = n
	}
	return time.Now().UTC().AddDate(0, 0, -days), nil
}

// writeScanError maps service errors onto HTTP statuses
func (s *Server) writeScanError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case platforms.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case monitoring.IsScanError(err, monitoring.AllProvidersUnavailable), errors.Is(err, scorer.ErrInsufficientData):
		logrus.Warnf("Scan %s %s produced no data: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusServiceUnavailable, insufficientDataMessage)
	case monitoring.IsScanError(err, monitoring.ScanCanceled):
		logrus.Infof("Client closed request %s %s: %v", r.Method, r.URL.Path, err)
		w.WriteHeader(statusClientClosedRequest)
	default:
		logrus.Errorf("Request %s %s failed: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
