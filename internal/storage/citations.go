package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/cabbageseo/geo-scanner/internal/models"
)

// Pool is the subset of *pgxpool.Pool used by PostgresCitationStore
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sites (
		id         TEXT PRIMARY KEY,
		domain     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS citations (
		id        TEXT PRIMARY KEY,
		site_id   TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
		scan_id   TEXT NOT NULL,
		domain    TEXT NOT NULL,
		platform  TEXT NOT NULL,
		query     TEXT NOT NULL,
		snippet   TEXT NOT NULL,
		cited_url TEXT NOT NULL,
		cited_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS citations_site_cited_at_idx ON citations (site_id, cited_at DESC)`,
}

const upsertSiteSQL = `INSERT INTO sites (id, domain) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`

const insertCitationSQL = `INSERT INTO citations
	(id, site_id, scan_id, domain, platform, query, snippet, cited_url, cited_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING`

const listCitationsSQL = `SELECT id, site_id, scan_id, domain, platform, query, snippet, cited_url, cited_at
	FROM citations
	WHERE site_id = $1 AND cited_at >= $2
	ORDER BY cited_at DESC, id
	LIMIT $3`

const trendSQL = `SELECT date_trunc('day', cited_at) AS day, platform, count(*)
	FROM citations
	WHERE site_id = $1 AND cited_at >= $2
	GROUP BY day, platform
	ORDER BY day, platform`

// PostgresCitationStore keeps citations in Postgres. Rows are never updated;
// they go away only when their site is deleted.
type PostgresCitationStore struct {
	pool Pool
}

var _ CitationStore = (*PostgresCitationStore)(nil)

// NewPostgresCitationStore wraps a pgx pool
func NewPostgresCitationStore(pool Pool) *PostgresCitationStore {
	return &PostgresCitationStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist
func (s *PostgresCitationStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "citations: ensure schema")
		}
	}
	return nil
}

// SaveCitations inserts citations and their parent sites in one transaction
func (s *PostgresCitationStore) SaveCitations(ctx context.Context, citations []models.Citation) error {
	if len(citations) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "citations: begin")
	}

	if err := insertCitations(ctx, tx, citations); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return eris.Wrapf(err, "citations: rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "citations: commit")
	}
	return nil
}

func insertCitations(ctx context.Context, tx pgx.Tx, citations []models.Citation) error {
	sites := make(map[string]bool)
	for _, c := range citations {
		if sites[c.SiteID] {
			continue
		}
		sites[c.SiteID] = true
		if _, err := tx.Exec(ctx, upsertSiteSQL, c.SiteID, c.Domain); err != nil {
			return eris.Wrapf(err, "citations: upsert site %s", c.SiteID)
		}
	}

	for _, c := range citations {
		_, err := tx.Exec(ctx, insertCitationSQL,
			c.ID, c.SiteID, c.ScanID, c.Domain, string(c.Platform),
			c.Query, c.Snippet, c.CitedURL, c.CitedAt)
		if err != nil {
			return eris.Wrapf(err, "citations: insert %s", c.ID)
		}
	}
	return nil
}

// ListCitations returns the newest citations of a site since the given time
func (s *PostgresCitationStore) ListCitations(ctx context.Context, siteID string, since time.Time, limit int) ([]models.Citation, error) {
	rows, err := s.pool.Query(ctx, listCitationsSQL, siteID, since, limit)
	if err != nil {
		return nil, eris.Wrap(err, "citations: list")
	}
	defer rows.Close()

	citations := []models.Citation{}
	for rows.Next() {
		var c models.Citation
		var platform string
		if err := rows.Scan(&c.ID, &c.SiteID, &c.ScanID, &c.Domain, &platform,
			&c.Query, &c.Snippet, &c.CitedURL, &c.CitedAt); err != nil {
			return nil, eris.Wrap(err, "citations: scan row")
		}
		c.Platform = models.PlatformID(platform)
		c.CitedAt = c.CitedAt.UTC()
		citations = append(citations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "citations: iterate rows")
	}
	return citations, nil
}

// Trend counts citations per day and platform
func (s *PostgresCitationStore) Trend(ctx context.Context, siteID string, since time.Time) ([]models.TrendPoint, error) {
	rows, err := s.pool.Query(ctx, trendSQL, siteID, since)
	if err != nil {
		return nil, eris.Wrap(err, "citations: trend")
	}
	defer rows.Close()

	points := []models.TrendPoint{}
	for rows.Next() {
		var p models.TrendPoint
		var platform string
		var count int64
		if err := rows.Scan(&p.Day, &platform, &count); err != nil {
			return nil, eris.Wrap(err, "citations: scan trend row")
		}
		p.Day = p.Day.UTC()
		p.Platform = models.PlatformID(platform)
		p.Count = int(count)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "citations: iterate trend rows")
	}
	return points, nil
}

// DeleteSite removes a site; its citations are removed by cascade
func (s *PostgresCitationStore) DeleteSite(ctx context.Context, siteID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sites WHERE id = $1`, siteID)
	if err != nil {
		return eris.Wrapf(err, "citations: delete site %s", siteID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("citations: site %s: %w", siteID, ErrNotFound)
	}
	return nil
}
