package history

import (
	"context"
	"fmt"

	"github.com/coupuas/threadauto/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) IsUploaded(ctx context.Context, normalizedURL string) (bool, error) {
	var n int
	query := `select count(1) from uploads where url = ?`
	if err := r.db.QueryRowContext(ctx, query, normalizedURL).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to query uploads: %w", err)
	}
	return n > 0, nil
}

// Add inserts a record, ignoring conflicts so the history stays append-only.
func (r *SQLiteRepository) Add(ctx context.Context, rec Record) error {
	query := `insert into uploads (url, title, success, uploaded_at)
			values (?, ?, ?, ?)
			ON CONFLICT(url) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, rec.URL, rec.Title, rec.Success, rec.UploadedAt)
	if err != nil {
		return fmt.Errorf("failed to insert upload record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UploadedSet(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `select url from uploads`)
	if err != nil {
		return nil, fmt.Errorf("failed to select uploads: %w", err)
	}
	defer rows.Close()

	result := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		result[url] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Record, error) {
	query := `select url, title, success, uploaded_at from uploads
			order by uploaded_at desc limit ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select uploads: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.URL, &rec.Title, &rec.Success, &rec.UploadedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	query := `select count(1),
			coalesce(sum(case when success then 1 else 0 end), 0),
			coalesce(sum(case when success then 0 else 1 end), 0)
			from uploads`
	if err := r.db.QueryRowContext(ctx, query).Scan(&s.Total, &s.Success, &s.Failed); err != nil {
		return Stats{}, fmt.Errorf("failed to query upload stats: %w", err)
	}
	return s, nil
}

var _ Repository = (*SQLiteRepository)(nil)
