package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/extractor"
	"github.com/cabbageseo/geo-scanner/internal/models"
	"github.com/cabbageseo/geo-scanner/internal/notifications"
	"github.com/cabbageseo/geo-scanner/internal/platforms"
	"github.com/cabbageseo/geo-scanner/internal/scorer"
	"github.com/cabbageseo/geo-scanner/internal/storage"
	"github.com/cabbageseo/geo-scanner/internal/tracking"
)

// Service runs visibility scans across the AI platforms
type Service struct {
	config              *config.Config
	catalog             *tracking.Catalog
	storage             storage.StorageInterface
	citations           storage.CitationStore
	notificationService notifications.NotificationInterface
	scorer              *scorer.Scorer
	platforms           map[models.PlatformID]platforms.Platform
	metrics             *Metrics
	mu                  sync.RWMutex
}

// Metrics holds scan metrics
type Metrics struct {
	TotalScans        int            `json:"total_scans"`
	FailedScans       int            `json:"failed_scans"`
	LastRun           time.Time      `json:"last_run"`
	LastRunDuration   string         `json:"last_run_duration"`
	PlatformCalls     map[string]int `json:"platform_calls"`
	PlatformFailures  map[string]int `json:"platform_failures"`
	CitationsRecorded int            `json:"citations_recorded"`
	LastScores        map[string]int `json:"last_scores"`
	ErrorCount        int            `json:"error_count"`
}

// ScanRequest is the resolved input of one scan. Plan limits are applied by
// the caller; the service only receives the resulting numbers.
type ScanRequest struct {
	SiteID        string              `json:"site_id,omitempty"`
	Domain        string              `json:"domain"`
	BrandName     string              `json:"brand_name,omitempty"`
	Category      string              `json:"category,omitempty"`
	Competitors   []string            `json:"competitors,omitempty"`
	QueryCount    int                 `json:"query_count"`
	Platforms     []models.PlatformID `json:"platforms"`
	CustomQueries []string            `json:"custom_queries,omitempty"`
}

// NewService creates a new scan service
func NewService(cfg *config.Config, catalog *tracking.Catalog, store storage.StorageInterface, citations storage.CitationStore, notificationService notifications.NotificationInterface) *Service {
	if catalog == nil {
		catalog = &tracking.Catalog{Categories: map[string][]string{}}
	}

	service := &Service{
		config:              cfg,
		catalog:             catalog,
		storage:             store,
		citations:           citations,
		notificationService: notificationService,
		scorer: scorer.New(scorer.Config{
			MarketCrowdingK:     cfg.MarketCrowdingK,
			MaxExpectedMentions: cfg.MaxExpectedMentions,
		}),
		metrics: &Metrics{
			PlatformCalls:    make(map[string]int),
			PlatformFailures: make(map[string]int),
			LastScores:       make(map[string]int),
		},
	}

	service.initializePlatforms()

	return service
}

func (s *Service) initializePlatforms() {
	opts := func(baseURL, model string) platforms.Options {
		return platforms.Options{
			BaseURL:      baseURL,
			Model:        model,
			Timeout:      s.config.CallTimeout,
			RPM:          s.config.ProviderRPM,
			Burst:        s.config.ProviderBurst,
			RetryBackoff: s.config.RetryBackoff,
		}
	}

	s.SetPlatforms(
		platforms.NewPerplexityPlatform(s.config.PerplexityAPIKey, opts(s.config.PerplexityBaseURL, s.config.PerplexityModel)),
		platforms.NewGeminiPlatform(s.config.GeminiAPIKey, opts(s.config.GeminiBaseURL, s.config.GeminiModel)),
		platforms.NewChatGPTPlatform(s.config.OpenAIAPIKey, opts(s.config.OpenAIBaseURL, s.config.OpenAIModel)),
	)
}

// SetPlatforms replaces the platform adapters
func (s *Service) SetPlatforms(ps ...platforms.Platform) {
	registry := make(map[models.PlatformID]platforms.Platform, len(ps))
	for _, p := range ps {
		registry[p.ID()] = p
		if !p.IsEnabled() {
			logrus.Warnf("Platform %s is not configured and will report as unavailable", p.ID())
		}
	}

	s.mu.Lock()
	s.platforms = registry
	s.mu.Unlock()
}

// EnabledPlatforms lists the platforms that have credentials
func (s *Service) EnabledPlatforms() []models.PlatformID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var enabled []models.PlatformID
	for _, id := range models.AllPlatforms {
		if p, ok := s.platforms[id]; ok && p.IsEnabled() {
			enabled = append(enabled, id)
		}
	}
	return enabled
}

// Catalog returns the tracking catalog
func (s *Service) Catalog() *tracking.Catalog {
	return s.catalog
}

// callResult is the outcome of one (query, platform) call
type callResult struct {
	query    models.ScanQuery
	platform models.PlatformID
	response *models.PlatformResponse
	err      error
	duration time.Duration
}

// RunScan generates the queries, asks every platform concurrently and
// assembles the scored report. Individual platform failures are tolerated;
// a ScanError is returned only when every call failed or ctx was canceled.
func (s *Service) RunScan(ctx context.Context, req ScanRequest) (*models.ScanReport, error) {
	req, err := s.normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	scanID := uuid.NewString()
	log := logrus.WithFields(logrus.Fields{"scan_id": scanID, "domain": req.Domain})

	queries := GenerateQueries(QueryInput{
		BrandName:   req.BrandName,
		Category:    req.Category,
		Competitors: req.Competitors,
		Custom:      req.CustomQueries,
	}, req.QueryCount)

	log.Infof("Starting scan: %d queries across %d platforms", len(queries), len(req.Platforms))

	results, err := s.dispatch(ctx, req.Domain, queries, req.Platforms)
	if err != nil {
		log.Warnf("Scan abandoned: %v", err)
		s.recordFailure()
		return nil, err
	}

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
		}
	}
	s.recordCalls(results)

	if failed == len(results) {
		log.Errorf("All %d platform calls failed", failed)
		s.recordFailure()
		return nil, &ScanError{Kind: AllProvidersUnavailable, Calls: failed}
	}

	report, err := s.assemble(scanID, req, results, start)
	if err != nil {
		s.recordFailure()
		return nil, err
	}

	if ctx.Err() != nil {
		log.Warn("Scan canceled after completion, discarding results")
		s.recordFailure()
		return nil, &ScanError{Kind: ScanCanceled, Err: ctx.Err()}
	}

	s.persist(ctx, report)
	s.recordScan(report, time.Since(start))

	log.Infof("Scan completed in %v: score %d (%d/%d calls failed)",
		time.Since(start), report.Score.OverallScore, failed, len(results))
	return report, nil
}

func (s *Service) normalizeRequest(req ScanRequest) (ScanRequest, error) {
	if err := platforms.ValidateDomain(req.Domain); err != nil {
		return req, err
	}
	req.Domain = platforms.NormalizeDomain(req.Domain)

	if req.QueryCount < 1 {
		return req, &platforms.ValidationError{Field: "query_count", Message: "must be at least 1"}
	}
	if len(req.Platforms) == 0 {
		return req, &platforms.ValidationError{Field: "platforms", Message: "at least one platform is required"}
	}

	seen := make(map[models.PlatformID]bool)
	unique := make([]models.PlatformID, 0, len(req.Platforms))
	for _, name := range req.Platforms {
		p, err := models.ParsePlatform(string(name))
		if err != nil {
			return req, &platforms.ValidationError{Field: "platforms", Message: err.Error()}
		}
		if !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}
	req.Platforms = unique

	if req.BrandName == "" {
		req.BrandName = tracking.BrandFromDomain(req.Domain)
	}
	if req.SiteID == "" {
		req.SiteID = req.Domain
	}
	if len(req.Competitors) == 0 && req.Category != "" {
		req.Competitors = s.catalog.CategoryCompetitors(req.Category, req.BrandName)
	}

	return req, nil
}

// dispatch runs every (query, platform) call concurrently and waits for all
// of them. Calls run detached from ctx so already-billed requests finish; if
// ctx ends first the results are abandoned.
func (s *Service) dispatch(ctx context.Context, domain string, queries []models.ScanQuery, ids []models.PlatformID) ([]callResult, error) {
	results := make([]callResult, len(queries)*len(ids))
	callCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	if s.config.MaxConcurrentCalls > 0 {
		g.SetLimit(s.config.MaxConcurrentCalls)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, q := range queries {
			for j, id := range ids {
				slot := i*len(ids) + j
				q, id := q, id
				g.Go(func() error {
					results[slot] = s.call(callCtx, domain, q, id)
					return nil
				})
			}
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		return results, nil
	case <-ctx.Done():
		return nil, &ScanError{Kind: ScanCanceled, Err: ctx.Err()}
	}
}

func (s *Service) call(ctx context.Context, domain string, q models.ScanQuery, id models.PlatformID) callResult {
	start := time.Now()
	result := callResult{query: q, platform: id}

	s.mu.RLock()
	p, ok := s.platforms[id]
	s.mu.RUnlock()

	if !ok {
		result.err = &platforms.ProviderError{Platform: id, Kind: platforms.KindUnavailable, Message: "no adapter registered"}
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.CallTimeout)
	defer cancel()

	result.response, result.err = p.Query(ctx, domain, q.Text)
	result.duration = time.Since(start)

	if result.err != nil {
		logrus.WithFields(logrus.Fields{
			"platform": id,
			"intent":   q.Intent,
		}).Warnf("Platform call failed: %v", result.err)
	}
	return result
}

// assemble extracts mentions, scores them and builds the report
func (s *Service) assemble(scanID string, req ScanRequest, results []callResult, start time.Time) (*models.ScanReport, error) {
	ext := extractor.New(req.Domain, req.BrandName, req.Competitors)

	report := &models.ScanReport{
		ID:           scanID,
		SiteID:       req.SiteID,
		Domain:       req.Domain,
		BrandName:    req.BrandName,
		StartedAt:    start.UTC(),
		Mentions:     make([]models.MentionResult, 0, len(results)),
		Observations: make([]models.Observation, 0, len(results)),
		Gaps:         []models.Gap{},
	}

	succeeded := make(map[models.PlatformID]bool)
	for _, r := range results {
		obs := models.Observation{
			Query:    r.query,
			Platform: r.platform,
			Response: r.response,
			Duration: r.duration.String(),
		}

		var mention models.MentionResult
		if r.err != nil {
			obs.Error = r.err.Error()
			mention = models.MentionResult{
				Platform:         r.platform,
				Query:            r.query.Text,
				CompetitorBrands: []string{},
				Unavailable:      true,
			}
		} else {
			succeeded[r.platform] = true
			mention = ext.Extract(*r.response)
			mention.Query = r.query.Text

			if !mention.IsGenuine() && len(mention.CompetitorBrands) > 0 {
				report.Gaps = append(report.Gaps, models.Gap{
					Query:       r.query.Text,
					Platform:    r.platform,
					Competitors: mention.CompetitorBrands,
				})
			}
		}

		m := mention
		obs.Mention = &m
		report.Mentions = append(report.Mentions, mention)
		report.Observations = append(report.Observations, obs)
	}

	for _, id := range req.Platforms {
		if !succeeded[id] {
			report.UnavailablePlatforms = append(report.UnavailablePlatforms, id)
		}
	}

	score, err := s.scorer.Score(report.Mentions)
	if err != nil {
		return nil, fmt.Errorf("failed to score scan %s: %w", scanID, err)
	}
	report.Score = score
	report.CompletedAt = time.Now().UTC()

	return report, nil
}

// BuildCitations returns one citation row per response that cited the domain
func BuildCitations(report *models.ScanReport, ext *extractor.Extractor) []models.Citation {
	var citations []models.Citation
	for _, obs := range report.Observations {
		if obs.Response == nil || obs.Mention == nil || !obs.Mention.InCitations {
			continue
		}
		citations = append(citations, models.Citation{
			ID:       uuid.NewString(),
			SiteID:   report.SiteID,
			ScanID:   report.ID,
			Domain:   report.Domain,
			Platform: obs.Platform,
			Query:    obs.Query.Text,
			Snippet:  ext.Snippet(*obs.Response),
			CitedURL: ext.CitedURL(*obs.Response),
			// Postgres keeps microseconds
			CitedAt: obs.Response.FetchedAt.UTC().Truncate(time.Microsecond),
		})
	}
	return citations
}

// persist stores citation rows and archives the report. Failures are logged;
// the report is still returned to the caller.
func (s *Service) persist(ctx context.Context, report *models.ScanReport) {
	ext := extractor.New(report.Domain, report.BrandName, nil)
	citations := BuildCitations(report, ext)

	if len(citations) > 0 && s.citations != nil {
		if err := s.citations.SaveCitations(ctx, citations); err != nil {
			logrus.Errorf("Failed to save %d citations for scan %s: %v", len(citations), report.ID, err)
			s.recordError()
		} else {
			s.mu.Lock()
			s.metrics.CitationsRecorded += len(citations)
			s.mu.Unlock()
		}
	}

	if s.storage == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		logrus.Errorf("Failed to marshal scan %s: %v", report.ID, err)
		s.recordError()
		return
	}
	if err := s.storage.Store(ctx, scanKey(report.Domain, report.ID), data); err != nil {
		logrus.Errorf("Failed to archive scan %s: %v", report.ID, err)
		s.recordError()
	}
}

func scanPrefix(domain string) string {
	return fmt.Sprintf("scans/%s/", platforms.NormalizeDomain(domain))
}

func scanKey(domain, id string) string {
	return scanPrefix(domain) + id + ".json"
}

// GetScan loads an archived scan report
func (s *Service) GetScan(ctx context.Context, domain, id string) (*models.ScanReport, error) {
	if err := platforms.ValidateDomain(domain); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, &platforms.ValidationError{Field: "scan_id", Message: "must be a UUID"}
	}

	data, err := s.storage.Retrieve(ctx, scanKey(domain, id))
	if err != nil {
		return nil, err
	}

	var report models.ScanReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode scan %s: %w", id, err)
	}
	return &report, nil
}

// ListScans returns the ids of the archived scans of a domain
func (s *Service) ListScans(ctx context.Context, domain string) ([]string, error) {
	if err := platforms.ValidateDomain(domain); err != nil {
		return nil, err
	}

	keys, err := s.storage.List(ctx, scanPrefix(domain))
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(k, scanPrefix(domain)), ".json")
		if id != "" && !strings.Contains(id, "/") && strings.HasSuffix(k, ".json") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteSite removes a site's citations and archived scans
func (s *Service) DeleteSite(ctx context.Context, siteID, domain string) error {
	if s.citations != nil {
		if err := s.citations.DeleteSite(ctx, siteID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}

	ids, err := s.ListScans(ctx, domain)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.storage.Delete(ctx, scanKey(domain, id)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}

	logrus.Infof("Deleted site %s (%d archived scans)", siteID, len(ids))
	return nil
}

// Citations returns the stored citations of a site
func (s *Service) Citations(ctx context.Context, siteID string, since time.Time, limit int) ([]models.Citation, error) {
	if s.citations == nil {
		return []models.Citation{}, nil
	}
	return s.citations.ListCitations(ctx, siteID, since, limit)
}

// Trend returns daily citation counts of a site
func (s *Service) Trend(ctx context.Context, siteID string, since time.Time) ([]models.TrendPoint, error) {
	if s.citations == nil {
		return []models.TrendPoint{}, nil
	}
	return s.citations.Trend(ctx, siteID, since)
}

func (s *Service) recordCalls(results []callResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range results {
		s.metrics.PlatformCalls[string(r.platform)]++
		if r.err != nil {
			s.metrics.PlatformFailures[string(r.platform)]++
		}
	}
}

func (s *Service) recordScan(report *models.ScanReport, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.TotalScans++
	s.metrics.LastRun = time.Now()
	s.metrics.LastRunDuration = duration.String()
	s.metrics.LastScores[report.Domain] = report.Score.OverallScore
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.FailedScans++
	s.metrics.ErrorCount++
}

func (s *Service) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.ErrorCount++
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}
