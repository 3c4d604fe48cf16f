package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cabbageseo/geo-scanner/internal/config"
	"github.com/cabbageseo/geo-scanner/internal/models"
	"github.com/cabbageseo/geo-scanner/internal/platforms"
	"github.com/cabbageseo/geo-scanner/internal/storage"
	"github.com/cabbageseo/geo-scanner/internal/tracking"
)

// MockStorage is a mock implementation of the storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Store(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *MockStorage) Retrieve(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorage) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockNotificationService is a mock implementation of the notification service
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) SendReport(report *models.Report) error {
	args := m.Called(report)
	return args.Error(0)
}

func (m *MockNotificationService) SendAlert(alert *models.Alert) error {
	args := m.Called(alert)
	return args.Error(0)
}

// fakePlatform answers every question with the output of respond
type fakePlatform struct {
	id      models.PlatformID
	respond func(ctx context.Context, question string) (*models.PlatformResponse, error)
	calls   atomic.Int32
}

func (f *fakePlatform) ID() models.PlatformID { return f.id }
func (f *fakePlatform) IsEnabled() bool       { return true }

func (f *fakePlatform) Query(ctx context.Context, domain, question string) (*models.PlatformResponse, error) {
	f.calls.Add(1)
	return f.respond(ctx, question)
}

func answering(id models.PlatformID, text string, urls ...string) *fakePlatform {
	return &fakePlatform{id: id, respond: func(_ context.Context, question string) (*models.PlatformResponse, error) {
		return &models.PlatformResponse{
			Platform:  id,
			Query:     question,
			RawText:   text,
			CitedURLs: urls,
			FetchedAt: time.Date(2026, 10, 16, 9, 0, 0, 123456789, time.UTC),
		}, nil
	}}
}

func failing(id models.PlatformID) *fakePlatform {
	return &fakePlatform{id: id, respond: func(context.Context, string) (*models.PlatformResponse, error) {
		return nil, &platforms.ProviderError{Platform: id, Kind: platforms.KindServer, StatusCode: 503}
	}}
}

func testConfig() *config.Config {
	return &config.Config{
		ScanSchedule:        "0 0 9 * * MON",
		DefaultPlan:         "starter",
		CallTimeout:         2 * time.Second,
		MarketCrowdingK:     0.15,
		MaxExpectedMentions: 10,
	}
}

func newTestService(t *testing.T, cfg *config.Config, ps ...platforms.Platform) (*Service, *storage.FileStorage, *storage.MemoryCitationStore) {
	t.Helper()
	files, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	citations := storage.NewMemoryCitationStore()

	service := NewService(cfg, nil, files, citations, &MockNotificationService{})
	service.SetPlatforms(ps...)
	return service, files, citations
}

func acmeRequest(queryCount int) ScanRequest {
	return ScanRequest{
		Domain:      "acme.io",
		BrandName:   "Acme",
		Competitors: []string{"HubSpot", "Pipedrive"},
		QueryCount:  queryCount,
		Platforms:   models.AllPlatforms,
	}
}

func TestRunScan_AllPlatformsAnswer(t *testing.T) {
	service, files, citations := newTestService(t, testConfig(),
		answering(models.PlatformPerplexity, "Acme is a great CRM, see acme.io for details", "https://acme.io/pricing"),
		answering(models.PlatformGoogleAI, "The best CRMs are HubSpot and Pipedrive"),
		answering(models.PlatformChatGPT, "Acme and HubSpot are both popular."),
	)

	report, err := service.RunScan(context.Background(), acmeRequest(3))
	require.NoError(t, err)

	assert.Equal(t, "acme.io", report.Domain)
	assert.Equal(t, "acme.io", report.SiteID)
	assert.Len(t, report.Mentions, 9)
	assert.Len(t, report.Observations, 9)
	assert.Empty(t, report.UnavailablePlatforms)
	assert.False(t, report.Score.IsInvisible)
	assert.Len(t, report.Score.PlatformScores, 3)
	assert.Equal(t, []string{"HubSpot", "Pipedrive"}, report.Score.CompetitorsDetected)

	// cites 1/3, names domain 1/3, echoes 2/3
	assert.InDelta(t, 40.0/3, report.Score.Factors.CitationPresence, 0.001)
	assert.InDelta(t, 8*2.0/3, report.Score.Factors.BrandEcho, 0.001)

	// Google and ChatGPT named competitors without a genuine mention
	assert.Len(t, report.Gaps, 6)
	for _, gap := range report.Gaps {
		assert.NotEqual(t, models.PlatformPerplexity, gap.Platform)
	}

	saved, err := citations.ListCitations(context.Background(), "acme.io", time.Time{}, 100)
	require.NoError(t, err)
	require.Len(t, saved, 3)
	for _, c := range saved {
		assert.Equal(t, models.PlatformPerplexity, c.Platform)
		assert.Equal(t, report.ID, c.ScanID)
		assert.Equal(t, "https://acme.io/pricing", c.CitedURL)
		assert.Equal(t, "Acme is a great CRM, see acme.io for details", c.Snippet)
		assert.Equal(t, time.Date(2026, 10, 16, 9, 0, 0, 123456000, time.UTC), c.CitedAt)
	}

	keys, err := files.List(context.Background(), "scans/acme.io/")
	require.NoError(t, err)
	assert.Equal(t, []string{"scans/acme.io/" + report.ID + ".json"}, keys)
}

func TestRunScan_SingleCitedPlatform(t *testing.T) {
	service, _, _ := newTestService(t, testConfig(),
		answering(models.PlatformPerplexity, "Acme is a great CRM, see acme.io for details", "https://acme.io/pricing"),
	)

	req := acmeRequest(1)
	req.Platforms = []models.PlatformID{models.PlatformPerplexity}

	report, err := service.RunScan(context.Background(), req)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Score.OverallScore, 80)
	assert.LessOrEqual(t, report.Score.OverallScore, 100)
}

func TestRunScan_PartialFailure(t *testing.T) {
	chatgpt := failing(models.PlatformChatGPT)
	service, _, _ := newTestService(t, testConfig(),
		answering(models.PlatformPerplexity, "Acme is a great CRM, see acme.io for details", "https://acme.io/pricing"),
		answering(models.PlatformGoogleAI, "Try acme.io"),
		chatgpt,
	)

	report, err := service.RunScan(context.Background(), acmeRequest(2))
	require.NoError(t, err)

	assert.Equal(t, int32(2), chatgpt.calls.Load())
	assert.Equal(t, []models.PlatformID{models.PlatformChatGPT}, report.UnavailablePlatforms)
	assert.NotContains(t, report.Score.PlatformScores, models.PlatformChatGPT)
	assert.Contains(t, report.Score.PlatformScores, models.PlatformPerplexity)
	assert.Contains(t, report.Score.PlatformScores, models.PlatformGoogleAI)
	assert.Greater(t, report.Score.OverallScore, 0)

	failedObservations := 0
	for _, obs := range report.Observations {
		if obs.Platform == models.PlatformChatGPT {
			failedObservations++
			assert.Contains(t, obs.Error, "503")
			assert.Nil(t, obs.Response)
			require.NotNil(t, obs.Mention)
			assert.True(t, obs.Mention.Unavailable)
		}
	}
	assert.Equal(t, 2, failedObservations)
}

func TestRunScan_AllProvidersUnavailable(t *testing.T) {
	mockStorage := &MockStorage{}
	citations := storage.NewMemoryCitationStore()
	service := NewService(testConfig(), nil, mockStorage, citations, &MockNotificationService{})
	service.SetPlatforms(
		failing(models.PlatformPerplexity),
		failing(models.PlatformGoogleAI),
		failing(models.PlatformChatGPT),
	)

	report, err := service.RunScan(context.Background(), acmeRequest(2))
	assert.Nil(t, report)
	assert.True(t, IsScanError(err, AllProvidersUnavailable))
	mockStorage.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything)

	var metrics Metrics
	require.NoError(t, json.Unmarshal([]byte(service.GetMetrics()), &metrics))
	assert.Equal(t, 1, metrics.FailedScans)
	assert.Equal(t, 2, metrics.PlatformFailures["chatgpt"])
}

func TestRunScan_MissingAdapterCountsAsFailure(t *testing.T) {
	service, _, _ := newTestService(t, testConfig(),
		answering(models.PlatformPerplexity, "acme.io"),
	)

	report, err := service.RunScan(context.Background(), acmeRequest(1))
	require.NoError(t, err)
	assert.Equal(t, []models.PlatformID{models.PlatformGoogleAI, models.PlatformChatGPT}, report.UnavailablePlatforms)
}

func TestRunScan_CallTimeoutIsProviderFailure(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 50 * time.Millisecond

	slow := &fakePlatform{id: models.PlatformGoogleAI, respond: func(ctx context.Context, _ string) (*models.PlatformResponse, error) {
		<-ctx.Done()
		return nil, &platforms.ProviderError{Platform: models.PlatformGoogleAI, Kind: platforms.KindTimeout, Cause: ctx.Err()}
	}}
	service, _, _ := newTestService(t, cfg,
		answering(models.PlatformPerplexity, "acme.io"),
		slow,
	)

	req := acmeRequest(1)
	req.Platforms = []models.PlatformID{models.PlatformPerplexity, models.PlatformGoogleAI}

	report, err := service.RunScan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []models.PlatformID{models.PlatformGoogleAI}, report.UnavailablePlatforms)
}

func TestRunScan_CancellationDiscardsResults(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan error, 3)

	blocking := func(id models.PlatformID) *fakePlatform {
		return &fakePlatform{id: id, respond: func(ctx context.Context, q string) (*models.PlatformResponse, error) {
			<-release
			finished <- ctx.Err()
			return &models.PlatformResponse{Platform: id, Query: q, RawText: "acme.io", CitedURLs: []string{"https://acme.io"}}, nil
		}}
	}

	mockStorage := &MockStorage{}
	citations := storage.NewMemoryCitationStore()
	service := NewService(testConfig(), nil, mockStorage, citations, &MockNotificationService{})
	service.SetPlatforms(
		blocking(models.PlatformPerplexity),
		blocking(models.PlatformGoogleAI),
		blocking(models.PlatformChatGPT),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := service.RunScan(ctx, acmeRequest(1))
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, IsScanError(err, ScanCanceled))
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunScan did not return after cancellation")
	}

	// in-flight calls keep running on a live context
	close(release)
	for i := 0; i < 3; i++ {
		select {
		case err := <-finished:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("platform call did not complete")
		}
	}

	saved, err := citations.ListCitations(context.Background(), "acme.io", time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, saved)
	mockStorage.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunScan_ConcurrencyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentCalls = 2

	var inFlight, maxInFlight atomic.Int32
	var mu sync.Mutex
	tracked := func(id models.PlatformID) *fakePlatform {
		return &fakePlatform{id: id, respond: func(_ context.Context, q string) (*models.PlatformResponse, error) {
			n := inFlight.Add(1)
			mu.Lock()
			if n > maxInFlight.Load() {
				maxInFlight.Store(n)
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return &models.PlatformResponse{Platform: id, Query: q, RawText: "nothing"}, nil
		}}
	}

	service, _, _ := newTestService(t, cfg,
		tracked(models.PlatformPerplexity),
		tracked(models.PlatformGoogleAI),
		tracked(models.PlatformChatGPT),
	)

	report, err := service.RunScan(context.Background(), acmeRequest(3))
	require.NoError(t, err)
	assert.Len(t, report.Mentions, 9)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
}

func TestRunScan_Validation(t *testing.T) {
	service, _, _ := newTestService(t, testConfig(), answering(models.PlatformPerplexity, ""))

	tests := []struct {
		name   string
		mutate func(*ScanRequest)
	}{
		{"empty domain", func(r *ScanRequest) { r.Domain = "" }},
		{"domain with scheme", func(r *ScanRequest) { r.Domain = "https://acme.io" }},
		{"domain with path", func(r *ScanRequest) { r.Domain = "acme.io/pricing" }},
		{"zero queries", func(r *ScanRequest) { r.QueryCount = 0 }},
		{"no platforms", func(r *ScanRequest) { r.Platforms = nil }},
		{"unknown platform", func(r *ScanRequest) { r.Platforms = []models.PlatformID{"claude"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := acmeRequest(1)
			tt.mutate(&req)
			_, err := service.RunScan(context.Background(), req)
			assert.True(t, platforms.IsValidationError(err), "got %v", err)
		})
	}
}

func TestRunScan_DefaultsAndAliases(t *testing.T) {
	gemini := answering(models.PlatformGoogleAI, "nothing here")
	service, _, _ := newTestService(t, testConfig(), gemini)

	report, err := service.RunScan(context.Background(), ScanRequest{
		Domain:     "WWW.Acme.io",
		QueryCount: 2,
		Platforms:  []models.PlatformID{"gemini", "google_ai"},
	})
	require.NoError(t, err)

	assert.Equal(t, "acme.io", report.Domain)
	assert.Equal(t, "Acme", report.BrandName)
	assert.Equal(t, int32(2), gemini.calls.Load())
	assert.True(t, report.Score.IsInvisible)
}

func TestArchivedScans(t *testing.T) {
	service, _, citations := newTestService(t, testConfig(),
		answering(models.PlatformPerplexity, "see acme.io", "https://acme.io"),
	)
	ctx := context.Background()

	req := acmeRequest(1)
	req.Platforms = []models.PlatformID{models.PlatformPerplexity}
	report, err := service.RunScan(ctx, req)
	require.NoError(t, err)

	ids, err := service.ListScans(ctx, "acme.io")
	require.NoError(t, err)
	assert.Equal(t, []string{report.ID}, ids)

	loaded, err := service.GetScan(ctx, "acme.io", report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.Score, loaded.Score)
	assert.Equal(t, report.Gaps, loaded.Gaps)

	_, err = service.GetScan(ctx, "acme.io", "../../etc/passwd")
	assert.True(t, platforms.IsValidationError(err))

	require.NoError(t, service.DeleteSite(ctx, "acme.io", "acme.io"))
	ids, err = service.ListScans(ctx, "acme.io")
	require.NoError(t, err)
	assert.Empty(t, ids)
	saved, err := citations.ListCitations(ctx, "acme.io", time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, saved)

	_, err = service.GetScan(ctx, "acme.io", report.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunScan_StorageFailureStillReturnsReport(t *testing.T) {
	mockStorage := &MockStorage{}
	mockStorage.On("Store", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "scans/acme.io/")
	}), mock.Anything).Return(errors.New("container gone"))

	service := NewService(testConfig(), nil, mockStorage, storage.NewMemoryCitationStore(), &MockNotificationService{})
	service.SetPlatforms(answering(models.PlatformPerplexity, "acme.io"))

	req := acmeRequest(1)
	req.Platforms = []models.PlatformID{models.PlatformPerplexity}
	report, err := service.RunScan(context.Background(), req)
	require.NoError(t, err)
	assert.NotNil(t, report)
	mockStorage.AssertExpectations(t)

	var metrics Metrics
	require.NoError(t, json.Unmarshal([]byte(service.GetMetrics()), &metrics))
	assert.Equal(t, 1, metrics.TotalScans)
	assert.Equal(t, 1, metrics.ErrorCount)
}

func TestRunScan_UsesCategoryCompetitors(t *testing.T) {
	catalog, err := tracking.Parse([]byte("categories:\n  crm: [HubSpot, Zoho]\n"))
	require.NoError(t, err)

	files, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	service := NewService(testConfig(), catalog, files, storage.NewMemoryCitationStore(), &MockNotificationService{})
	service.SetPlatforms(answering(models.PlatformPerplexity, "Zoho is the pick"))

	report, err := service.RunScan(context.Background(), ScanRequest{
		Domain:     "acme.io",
		Category:   "crm",
		QueryCount: 1,
		Platforms:  []models.PlatformID{models.PlatformPerplexity},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Zoho"}, report.Score.CompetitorsDetected)
}
