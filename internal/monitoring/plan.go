package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/models"
	"github.com/cabbageseo/geo-scanner/internal/platforms"
)

// ApplyPlan fills the query count and platforms a request left empty from
// the plan, and rejects requests that exceed the plan's allowance.
func ApplyPlan(req ScanRequest, plan config.Plan) (ScanRequest, error) {
	switch {
	case req.QueryCount == 0:
		req.QueryCount = plan.QueryCount
	case req.QueryCount > plan.QueryCount:
		return req, &platforms.ValidationError{
			Field:   "query_count",
			Message: fmt.Sprintf("the %s plan allows at most %d queries", plan.Name, plan.QueryCount),
		}
	}

	if len(req.Platforms) == 0 {
		req.Platforms = append([]models.PlatformID(nil), plan.Platforms...)
		return req, nil
	}

	allowed := make(map[models.PlatformID]bool, len(plan.Platforms))
	for _, p := range plan.Platforms {
		allowed[p] = true
	}
	for _, name := range req.Platforms {
		p, err := models.ParsePlatform(string(name))
		if err != nil {
			return req, &platforms.ValidationError{Field: "platforms", Message: err.Error()}
		}
		if !allowed[p] {
			return req, &platforms.ValidationError{
				Field:   "platforms",
				Message: fmt.Sprintf("%s is not included in the %s plan", p, plan.Name),
			}
		}
	}
	return req, nil
}

// probeQuery is the question sent by CheckPlatforms
var probeQuery = models.ScanQuery{Text: "What is example.com used for?", Intent: "probe"}

// CheckResult is the outcome of one platform connectivity probe
type CheckResult struct {
	Platform  models.PlatformID `json:"platform"`
	Enabled   bool              `json:"enabled"`
	Latency   time.Duration     `json:"latency"`
	Citations int               `json:"citations"`
	Err       error             `json:"-"`
}

// CheckPlatforms sends one probe question to every registered platform
func (s *Service) CheckPlatforms(ctx context.Context) []CheckResult {
	enabled := make(map[models.PlatformID]bool)
	for _, id := range s.EnabledPlatforms() {
		enabled[id] = true
	}

	results := make([]CheckResult, 0, len(models.AllPlatforms))
	for _, id := range models.AllPlatforms {
		check := CheckResult{Platform: id, Enabled: enabled[id]}
		if !check.Enabled {
			check.Err = &platforms.ProviderError{Platform: id, Kind: platforms.KindUnavailable, Message: "no API key configured"}
			results = append(results, check)
			continue
		}

		r := s.call(ctx, "example.com", probeQuery, id)
		check.Latency = r.duration
		check.Err = r.err
		if r.response != nil {
			check.Citations = len(r.response.CitedURLs)
		}
		results = append(results, check)
	}
	return results
}
