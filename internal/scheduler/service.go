package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/models"
)

// runTimeout bounds one scheduled pass over all tracked sites
const runTimeout = 30 * time.Minute

// Runner runs the tracked-site scans
type Runner interface {
	RunTrackedScans(ctx context.Context) (*models.Report, error)
}

// Service schedules the recurring tracked-site scans
type Service struct {
	config *config.Config
	runner Runner
	cron   *cron.Cron
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, runner Runner) (*Service, error) {
	loc := time.UTC
	if cfg.TimeZone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.TimeZone, err)
		}
	}

	return &Service{
		config: cfg,
		runner: runner,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
	}, nil
}

// Start registers the scan job and starts the scheduler
func (s *Service) Start() error {
	_, err := s.cron.AddFunc(s.config.ScanSchedule, s.run)
	if err != nil {
		return fmt.Errorf("invalid SCAN_SCHEDULE %q: %w", s.config.ScanSchedule, err)
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with schedule %q", s.config.ScanSchedule)
	return nil
}

func (s *Service) run() {
	logrus.Info("Starting scheduled scan run")

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	report, err := s.runner.RunTrackedScans(ctx)
	if err != nil {
		if report != nil {
			logrus.Errorf("Scheduled scan run incomplete after %d scans, %d failures: %v", report.TotalScans, len(report.Failures), err)
			return
		}
		logrus.Errorf("Scheduled scan run failed: %v", err)
		return
	}
	logrus.Infof("Scheduled scan run finished: %d scans, %d failures", report.TotalScans, len(report.Failures))
}

// Stop stops the scheduler and waits for a running job to finish
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}
