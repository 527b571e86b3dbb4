package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"sjsage522/modaggregator/internal/model"
	apperrors "sjsage522/modaggregator/pkg/errors"
)

// Sites stores site configurations. The extraction config is kept as JSON.
type Sites struct {
	db  *DB
	now func() time.Time
}

func NewSites(db *DB) *Sites {
	return &Sites{db: db, now: time.Now}
}

const siteColumns = `id, name, url, parser_config, created_at, updated_at`

func scanSite(row rowScanner) (*model.Site, error) {
	var (
		s                    model.Site
		rawConfig            string
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &s.Name, &s.URL, &rawConfig, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rawConfig), &s.Config); err != nil {
		return nil, apperrors.NewConfig("invalid stored parser_config", err).WithSite(s.Name)
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

// List returns every site ordered by ID.
func (s *Sites) List(ctx context.Context) ([]model.Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY id`)
	if err != nil {
		return nil, apperrors.NewStore("list sites", err)
	}
	defer rows.Close()

	var sites []model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, *site)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStore("list sites", err)
	}
	return sites, nil
}

// Get returns the site with id, or nil when there is none.
func (s *Sites) Get(ctx context.Context, id int64) (*model.Site, error) {
	site, err := scanSite(s.db.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStore("get site", err)
	}
	return site, nil
}

// Upsert inserts site or replaces the name and config of the site with the
// same URL.
func (s *Sites) Upsert(ctx context.Context, site *model.Site) (*model.Site, error) {
	rawConfig, err := json.Marshal(site.Config)
	if err != nil {
		return nil, apperrors.NewConfig("encode parser_config", err).WithSite(site.Name)
	}
	now := formatTime(s.now())

	stored, err := scanSite(s.db.QueryRowContext(ctx, `
		INSERT INTO sites (name, url, parser_config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			name = excluded.name,
			parser_config = excluded.parser_config,
			updated_at = excluded.updated_at
		RETURNING `+siteColumns,
		site.Name, site.URL, string(rawConfig), now, now))
	if err != nil {
		return nil, apperrors.NewStore("upsert site", err).WithSite(site.Name)
	}
	return stored, nil
}

// Delete removes the site with id. Its records and snapshots are kept.
func (s *Sites) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id); err != nil {
		return apperrors.NewStore("delete site", err)
	}
	return nil
}
