package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// MemoryCitationStore keeps citations in process memory. Used when no
// DATABASE_URL is configured and in tests.
type MemoryCitationStore struct {
	mu        sync.RWMutex
	citations map[string]models.Citation
}

var _ CitationStore = (*MemoryCitationStore)(nil)

func NewMemoryCitationStore() *MemoryCitationStore {
	return &MemoryCitationStore{citations: make(map[string]models.Citation)}
}

func (m *MemoryCitationStore) SaveCitations(_ context.Context, citations []models.Citation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range citations {
		if _, exists := m.citations[c.ID]; !exists {
			m.citations[c.ID] = c
		}
	}
	return nil
}

func (m *MemoryCitationStore) ListCitations(_ context.Context, siteID string, since time.Time, limit int) ([]models.Citation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Citation{}
	for _, c := range m.citations {
		if c.SiteID == siteID && !c.CitedAt.Before(since) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CitedAt.Equal(out[j].CitedAt) {
			return out[i].CitedAt.After(out[j].CitedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryCitationStore) Trend(_ context.Context, siteID string, since time.Time) ([]models.TrendPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct {
		day      time.Time
		platform models.PlatformID
	}
	counts := make(map[key]int)
	for _, c := range m.citations {
		if c.SiteID != siteID || c.CitedAt.Before(since) {
			continue
		}
		day := c.CitedAt.UTC().Truncate(24 * time.Hour)
		counts[key{day, c.Platform}]++
	}

	points := make([]models.TrendPoint, 0, len(counts))
	for k, n := range counts {
		points = append(points, models.TrendPoint{Day: k.day, Platform: k.platform, Count: n})
	}
	sort.Slice(points, func(i, j int) bool {
		if !points[i].Day.Equal(points[j].Day) {
			return points[i].Day.Before(points[j].Day)
		}
		return points[i].Platform < points[j].Platform
	})
	return points, nil
}

func (m *MemoryCitationStore) DeleteSite(_ context.Context, siteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for id, c := range m.citations {
		if c.SiteID == siteID {
			delete(m.citations, id)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("site %s: %w", siteID, ErrNotFound)
	}
	return nil
}
