package monitoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/models"
	"github.com/cabbageseo/geo-scanner/internal/tracking"
)

// RunTrackedScans scans every tracked site with its plan allowance, then
// sends a digest report and an alert for each site found invisible. When ctx
// ends early the sites not yet scanned are recorded as failures and the
// partial digest is still sent and returned together with ctx's error.
func (s *Service) RunTrackedScans(ctx context.Context) (*models.Report, error) {
	start := time.Now()
	sites := s.catalog.Sites
	logrus.Infof("Starting tracked scans for %d sites", len(sites))

	var scans []models.ScanReport
	failures := make(map[string]string)

	for i, site := range sites {
		if err := ctx.Err(); err != nil {
			logrus.Warnf("Tracked scans interrupted, skipping %d sites: %v", len(sites)-i, err)
			for _, skipped := range sites[i:] {
				failures[skipped.ID] = fmt.Sprintf("scan skipped: %v", err)
			}
			break
		}

		req, err := s.RequestForSite(site)
		if err != nil {
			failures[site.ID] = err.Error()
			continue
		}

		report, err := s.RunScan(ctx, req)
		if err != nil {
			logrus.Errorf("Scan of %s failed: %v", site.Domain, err)
			failures[site.ID] = err.Error()
			continue
		}
		scans = append(scans, *report)
	}

	digest := s.generateReport(scans, failures)
	logrus.Infof("Tracked scans completed in %v: %d succeeded, %d failed", time.Since(start), len(scans), len(failures))

	runErr := ctx.Err()
	if s.notificationService == nil {
		return digest, runErr
	}

	sendErr := s.notificationService.SendReport(digest)
	if sendErr != nil {
		logrus.Errorf("Failed to send digest: %v", sendErr)
	}

	// alerts go out on their own channel even when the digest could not be sent
	for _, scan := range scans {
		if !scan.Score.IsInvisible {
			continue
		}
		if err := s.notificationService.SendAlert(invisibleAlert(scan)); err != nil {
			logrus.Errorf("Failed to send alert for %s: %v", scan.Domain, err)
		}
	}

	if runErr != nil {
		return digest, runErr
	}
	return digest, sendErr
}

// RequestForSite resolves a tracked site and its plan into a scan request
func (s *Service) RequestForSite(site tracking.Site) (ScanRequest, error) {
	planName := site.Plan
	if planName == "" {
		planName = s.config.DefaultPlan
	}
	plan, ok := config.PlanFor(planName)
	if !ok {
		return ScanRequest{}, fmt.Errorf("unknown plan %q", planName)
	}

	return ScanRequest{
		SiteID:        site.ID,
		Domain:        site.Domain,
		BrandName:     site.BrandName(),
		Category:      site.Category,
		Competitors:   s.catalog.CompetitorsFor(site),
		QueryCount:    plan.QueryCount,
		Platforms:     plan.Platforms,
		CustomQueries: site.Queries,
	}, nil
}

func (s *Service) generateReport(scans []models.ScanReport, failures map[string]string) *models.Report {
	report := &models.Report{
		GeneratedAt: time.Now().UTC(),
		Period:      s.config.ScanSchedule,
		TotalScans:  len(scans),
		Scans:       scans,
		Failures:    failures,
		Summary:     make(map[string]interface{}),
	}

	total := 0
	invisible := []string{}
	competitorCount := make(map[string]int)
	for _, scan := range scans {
		total += scan.Score.OverallScore
		if scan.Score.IsInvisible {
			invisible = append(invisible, scan.Domain)
		}
		for _, gap := range scan.Gaps {
			for _, c := range gap.Competitors {
				competitorCount[c]++
			}
		}
	}

	average := 0
	if len(scans) > 0 {
		average = total / len(scans)
	}

	report.Summary["average_score"] = average
	report.Summary["invisible_sites"] = invisible
	report.Summary["top_competitors"] = topCompetitors(competitorCount, 5)

	return report
}

// topCompetitors ranks competitors by how many gaps they appear in
func topCompetitors(counts map[string]int, limit int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	top := make([]string, 0, limit)
	for i, name := range names {
		if i >= limit {
			break
		}
		top = append(top, fmt.Sprintf("%s (%d)", name, counts[name]))
	}
	return top
}

func invisibleAlert(scan models.ScanReport) *models.Alert {
	return &models.Alert{
		ID:    uuid.NewString(),
		Type:  "urgent",
		Title: fmt.Sprintf("%s is invisible to AI platforms", scan.BrandName),
		Message: fmt.Sprintf("No platform mentioned %s or %s in %d answers. %d queries surfaced competitors instead.",
			scan.BrandName, scan.Domain, len(scan.Mentions), len(scan.Gaps)),
		Domain:    scan.Domain,
		CreatedAt: time.Now().UTC(),
	}
}
