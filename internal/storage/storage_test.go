package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

var citationColumns = []string{"id", "site_id", "scan_id", "domain", "platform", "query", "snippet", "cited_url", "cited_at"}

func sampleCitation() models.Citation {
	return models.Citation{
		ID:       "c-1",
		SiteID:   "acme",
		ScanID:   "scan-1",
		Domain:   "acme.io",
		Platform: models.PlatformPerplexity,
		Query:    "What is the best CRM for startups?",
		Snippet:  "Acme is a great CRM, see acme.io for details",
		CitedURL: "https://acme.io/pricing",
		CitedAt:  time.Date(2026, 10, 16, 9, 30, 15, 123456000, time.UTC),
	}
}

func TestFileStorage(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Store(ctx, "scans/acme.io/1.json", []byte(`{"id":"1"}`)))
	require.NoError(t, fs.Store(ctx, "scans/acme.io/2.json", []byte(`{"id":"2"}`)))
	require.NoError(t, fs.Store(ctx, "scans/other.dev/3.json", []byte(`{"id":"3"}`)))

	data, err := fs.Retrieve(ctx, "scans/acme.io/1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1"}`, string(data))

	keys, err := fs.List(ctx, "scans/acme.io/")
	require.NoError(t, err)
	assert.Equal(t, []string{"scans/acme.io/1.json", "scans/acme.io/2.json"}, keys)

	require.NoError(t, fs.Delete(ctx, "scans/acme.io/1.json"))
	_, err = fs.Retrieve(ctx, "scans/acme.io/1.json")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, fs.Delete(ctx, "scans/acme.io/1.json"), ErrNotFound)
}

func TestFileStorage_RejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../outside.json", "/etc/passwd", "a/../../b"} {
		assert.Error(t, fs.Store(context.Background(), key, []byte("x")), key)
	}
}

func TestMemoryCitationStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCitationStore()

	first := sampleCitation()
	second := sampleCitation()
	second.ID = "c-2"
	second.Platform = models.PlatformGoogleAI
	second.CitedAt = first.CitedAt.Add(time.Hour)
	old := sampleCitation()
	old.ID = "c-0"
	old.CitedAt = first.CitedAt.Add(-72 * time.Hour)
	other := sampleCitation()
	other.ID = "c-9"
	other.SiteID = "other"

	require.NoError(t, store.SaveCitations(ctx, []models.Citation{first, second, old, other}))
	// saving again does not duplicate
	require.NoError(t, store.SaveCitations(ctx, []models.Citation{first}))

	since := first.CitedAt.Add(-24 * time.Hour)
	got, err := store.ListCitations(ctx, "acme", since, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.Citation{second, first}, got)

	limited, err := store.ListCitations(ctx, "acme", time.Time{}, 1)
	require.NoError(t, err)
	assert.Equal(t, []models.Citation{second}, limited)

	trend, err := store.Trend(ctx, "acme", time.Time{})
	require.NoError(t, err)
	require.Len(t, trend, 3)
	assert.Equal(t, models.TrendPoint{Day: time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), Platform: models.PlatformPerplexity, Count: 1}, trend[0])
	assert.Equal(t, models.PlatformGoogleAI, trend[1].Platform)
	assert.Equal(t, models.PlatformPerplexity, trend[2].Platform)

	require.NoError(t, store.DeleteSite(ctx, "acme"))
	got, err = store.ListCitations(ctx, "acme", time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.ErrorIs(t, store.DeleteSite(ctx, "acme"), ErrNotFound)
}

func TestPostgresCitationStore_EnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sites").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS citations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, NewPostgresCitationStore(mock).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCitationStore_RoundTrip(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	c := sampleCitation()
	since := c.CitedAt.Add(-24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sites").
		WithArgs(c.SiteID, c.Domain).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO citations").
		WithArgs(c.ID, c.SiteID, c.ScanID, c.Domain, string(c.Platform), c.Query, c.Snippet, c.CitedURL, c.CitedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT id, site_id, scan_id").
		WithArgs(c.SiteID, since, 50).
		WillReturnRows(pgxmock.NewRows(citationColumns).
			AddRow(c.ID, c.SiteID, c.ScanID, c.Domain, string(c.Platform), c.Query, c.Snippet, c.CitedURL, c.CitedAt))

	store := NewPostgresCitationStore(mock)
	require.NoError(t, store.SaveCitations(ctx, []models.Citation{c}))

	got, err := store.ListCitations(ctx, c.SiteID, since, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c, got[0])
	assert.True(t, c.CitedAt.Equal(got[0].CitedAt))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCitationStore_SaveRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sites").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO citations").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = NewPostgresCitationStore(mock).SaveCitations(context.Background(), []models.Citation{sampleCitation()})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCitationStore_SaveEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	require.NoError(t, NewPostgresCitationStore(mock).SaveCitations(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCitationStore_Trend(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	day := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT date_trunc").
		WithArgs("acme", day.AddDate(0, 0, -7)).
		WillReturnRows(pgxmock.NewRows([]string{"day", "platform", "count"}).
			AddRow(day, "chatgpt", int64(1)).
			AddRow(day, "perplexity", int64(3)))

	points, err := NewPostgresCitationStore(mock).Trend(context.Background(), "acme", day.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, []models.TrendPoint{
		{Day: day, Platform: models.PlatformChatGPT, Count: 1},
		{Day: day, Platform: models.PlatformPerplexity, Count: 3},
	}, points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCitationStore_DeleteSite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM sites").WithArgs("acme").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM sites").WithArgs("ghost").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	store := NewPostgresCitationStore(mock)
	require.NoError(t, store.DeleteSite(context.Background(), "acme"))
	assert.ErrorIs(t, store.DeleteSite(context.Background(), "ghost"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
