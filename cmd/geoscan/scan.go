package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/models"
	"github.com/cabbageseo/geo-scanner/internal/monitoring"
	"github.com/cabbageseo/geo-scanner/internal/storage"
	"github.com/cabbageseo/geo-scanner/internal/tracking"
)

var scanCmd = newScanCmd()

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a one-off visibility scan and print the report",
		Long: `Run a visibility scan for one domain and print the JSON report.

Examples:
  # Scan with the default plan
  geoscan scan --domain acme.io --brand Acme --competitors HubSpot,Pipedrive

  # Two questions on Perplexity only
  geoscan scan --domain acme.io --queries 2 --platforms perplexity

  # Scan a site from the tracking file and archive the report
  geoscan scan --site acme --save`,
		RunE: runScan,
	}

	f := cmd.Flags()
	f.String("domain", "", "domain to scan (e.g. acme.io)")
	f.String("site", "", "tracked site id from the tracking file")
	f.String("brand", "", "brand name (default: derived from the domain)")
	f.String("category", "", "product category used to phrase questions")
	f.StringSlice("competitors", nil, "comma-separated competitor names")
	f.StringArray("question", nil, "custom question to ask (repeatable)")
	f.Int("queries", 0, "number of questions (0=plan allowance)")
	f.StringSlice("platforms", nil, "platforms to ask: perplexity, google_ai, chatgpt (default: plan platforms)")
	f.String("plan", "", "plan limiting queries and platforms (default: DEFAULT_PLAN)")
	f.Bool("save", false, "archive the report under LOCAL_STORAGE_DIR")
	return cmd
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f := cmd.Flags()
	save, _ := f.GetBool("save")

	catalog, err := optionalCatalog(cfg.TrackingFile)
	if err != nil {
		return err
	}

	var archive storage.StorageInterface
	if save {
		files, err := storage.NewFileStorage(cfg.LocalStorageDir)
		if err != nil {
			return err
		}
		archive = files
	}

	service := monitoring.NewService(cfg, catalog, archive, storage.NewMemoryCitationStore(), nil)

	req, err := scanRequestFromFlags(cmd, service)
	if err != nil {
		return err
	}

	report, err := service.RunScan(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// scanRequestFromFlags builds a request from a tracked site or from the
// individual flags, then applies the plan allowance
func scanRequestFromFlags(cmd *cobra.Command, service *monitoring.Service) (monitoring.ScanRequest, error) {
	f := cmd.Flags()
	siteID, _ := f.GetString("site")
	domain, _ := f.GetString("domain")

	if siteID != "" && domain == "" {
		site, ok := service.Catalog().Site(siteID)
		if !ok {
			return monitoring.ScanRequest{}, fmt.Errorf("site %q is not in %s", siteID, cfg.TrackingFile)
		}
		return service.RequestForSite(site)
	}
	if domain == "" {
		return monitoring.ScanRequest{}, errors.New("either --domain or --site is required")
	}

	brand, _ := f.GetString("brand")
	category, _ := f.GetString("category")
	competitors, _ := f.GetStringSlice("competitors")
	questions, _ := f.GetStringArray("question")
	queries, _ := f.GetInt("queries")
	names, _ := f.GetStringSlice("platforms")
	planName, _ := f.GetString("plan")

	if planName == "" {
		planName = cfg.DefaultPlan
	}
	plan, ok := config.PlanFor(planName)
	if !ok {
		return monitoring.ScanRequest{}, fmt.Errorf("unknown plan %q", planName)
	}

	ids := make([]models.PlatformID, 0, len(names))
	for _, name := range names {
		ids = append(ids, models.PlatformID(name))
	}

	return monitoring.ApplyPlan(monitoring.ScanRequest{
		SiteID:        siteID,
		Domain:        domain,
		BrandName:     brand,
		Category:      category,
		Competitors:   competitors,
		QueryCount:    queries,
		Platforms:     ids,
		CustomQueries: questions,
	}, plan)
}

// optionalCatalog loads the tracking file when it exists
func optionalCatalog(path string) (*tracking.Catalog, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return tracking.Load(path)
}
