package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// ErrNotFound is returned when a key or record does not exist
var ErrNotFound = errors.New("not found")

// StorageInterface stores opaque documents such as archived scan reports
type StorageInterface interface {
	Store(ctx context.Context, key string, data []byte) error
	Retrieve(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// CitationStore persists confirmed citations and answers history queries
type CitationStore interface {
	SaveCitations(ctx context.Context, citations []models.Citation) error
	ListCitations(ctx context.Context, siteID string, since time.Time, limit int) ([]models.Citation, error)
	Trend(ctx context.Context, siteID string, since time.Time) ([]models.TrendPoint, error)
	DeleteSite(ctx context.Context, siteID string) error
}
