package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sjsage522/modaggregator/internal/model"
	apperrors "sjsage522/modaggregator/pkg/errors"
)

// RecordStore persists mod records keyed by URL. A missing record is
// reported as (nil, nil), never as an error.
type RecordStore interface {
	GetByURL(ctx context.Context, url string) (*model.Record, error)
	Put(ctx context.Context, r *model.Record) (*model.Record, error)
	Update(ctx context.Context, id int64, r *model.Record) error
}

// Records is the SQLite RecordStore.
type Records struct {
	db *DB
}

func NewRecords(db *DB) *Records {
	return &Records{db: db}
}

const recordColumns = `id, site_id, title, url, version, author, description, image_url, changes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var (
		r                    model.Record
		createdAt, updatedAt string
	)
	if err := row.Scan(&r.ID, &r.SiteID, &r.Title, &r.URL, &r.Version, &r.Author,
		&r.Description, &r.ImageURL, &r.Changes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

func (s *Records) GetByURL(ctx context.Context, url string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM mods WHERE url = ?`, url)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStore("get record", err).WithURL(url)
	}
	return r, nil
}

// Put inserts r, or overwrites the row already holding r.URL. The stored
// record with its assigned ID is returned.
func (s *Records) Put(ctx context.Context, r *model.Record) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO mods (site_id, title, url, version, author, description, image_url, changes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			site_id = excluded.site_id,
			title = excluded.title,
			version = excluded.version,
			author = excluded.author,
			description = excluded.description,
			image_url = excluded.image_url,
			changes = excluded.changes,
			updated_at = excluded.updated_at
		RETURNING `+recordColumns,
		r.SiteID, r.Title, r.URL, r.Version, r.Author, r.Description, r.ImageURL, r.Changes,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))

	stored, err := scanRecord(row)
	if err != nil {
		return nil, apperrors.NewStore("put record", err).WithURL(r.URL)
	}
	return stored, nil
}

// Update overwrites the mutable fields of record id. ID, URL and created_at
// are kept.
func (s *Records) Update(ctx context.Context, id int64, r *model.Record) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mods SET title = ?, version = ?, author = ?, description = ?, image_url = ?, changes = ?, updated_at = ?
		WHERE id = ?`,
		r.Title, r.Version, r.Author, r.Description, r.ImageURL, r.Changes, formatTime(r.UpdatedAt), id)
	if err != nil {
		return apperrors.NewStore("update record", err).WithURL(r.URL)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewStore(fmt.Sprintf("update record: no record with id %d", id), nil).WithURL(r.URL)
	}
	return nil
}

// List returns the records of siteID, or of every site for model.AnySite,
// most recently updated first.
func (s *Records) List(ctx context.Context, siteID int64) ([]model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM mods`
	var args []any
	if siteID != model.AnySite {
		query += ` WHERE site_id = ?`
		args = append(args, siteID)
	}
	query += ` ORDER BY updated_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStore("list records", err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, apperrors.NewStore("scan record", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStore("list records", err)
	}
	return records, nil
}
