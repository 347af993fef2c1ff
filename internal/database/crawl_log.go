package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

const defaultCrawlLogLimit = 50

// CrawlLogRepository appends and lists crawl_logs rows.
type CrawlLogRepository struct {
	db *sqlx.DB
}

// NewCrawlLogRepository wraps db.
func NewCrawlLogRepository(db *sqlx.DB) (*CrawlLogRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &CrawlLogRepository{db: db}, nil
}

// AppendCrawlLog inserts entry. Rows are never updated.
func (r *CrawlLogRepository) AppendCrawlLog(ctx context.Context, entry crawler.CrawlLogEntry) error {
	errs := []byte(entry.Errors)
	if len(errs) == 0 {
		errs = []byte("[]")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := `INSERT INTO crawl_logs (vendor_id, job_id, status, products_found, duration_ms, errors, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		entry.VendorID,
		entry.JobID,
		string(entry.Status),
		entry.ProductsFound,
		entry.DurationMs,
		errs,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert crawl log: %w", err)
	}
	return nil
}

type crawlLogRow struct {
	ID            int64     `db:"id"`
	VendorID      string    `db:"vendor_id"`
	JobID         string    `db:"job_id"`
	Status        string    `db:"status"`
	ProductsFound int       `db:"products_found"`
	DurationMs    int64     `db:"duration_ms"`
	Errors        []byte    `db:"errors"`
	CreatedAt     time.Time `db:"created_at"`
}

// ListCrawlLogs returns the newest entries first, optionally for one vendor.
func (r *CrawlLogRepository) ListCrawlLogs(ctx context.Context, vendorID string, limit int) ([]crawler.CrawlLogEntry, error) {
	if limit <= 0 {
		limit = defaultCrawlLogLimit
	}
	var (
		rows []crawlLogRow
		err  error
	)
	const columns = `id, vendor_id, job_id, status, products_found, duration_ms, errors, created_at`
	if vendorID == "" {
		err = r.db.SelectContext(ctx, &rows,
			`SELECT `+columns+` FROM crawl_logs ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	} else {
		err = r.db.SelectContext(ctx, &rows,
			`SELECT `+columns+` FROM crawl_logs WHERE vendor_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, vendorID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list crawl logs: %w", err)
	}
	out := make([]crawler.CrawlLogEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, crawler.CrawlLogEntry{
			ID:            row.ID,
			VendorID:      row.VendorID,
			JobID:         row.JobID,
			Status:        crawler.CrawlLogStatus(row.Status),
			ProductsFound: row.ProductsFound,
			DurationMs:    row.DurationMs,
			Errors:        json.RawMessage(row.Errors),
			CreatedAt:     row.CreatedAt,
		})
	}
	return out, nil
}
