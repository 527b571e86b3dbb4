package snapshot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sjsage522/modaggregator/internal/model"
	"sjsage522/modaggregator/logger"
	apperrors "sjsage522/modaggregator/pkg/errors"
	"sjsage522/modaggregator/services/store"
)

// Store indexes page snapshots in the saved_pages table and keeps the HTML
// as content-addressed blobs under dir/objects. Locations are relative to
// dir.
type Store struct {
	db  *store.DB
	dir string
	now func() time.Time
	log *logger.Logger

	// blobs orders blob reuse and index inserts against reference counting
	// and unlinking.
	blobs sync.Mutex
}

// NewStore creates dir if needed and returns a Store over it.
func NewStore(db *store.DB, dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, apperrors.NewStore("create snapshot directory", err)
	}
	return &Store{db: db, dir: dir, now: time.Now, log: logger.ForStore()}, nil
}

const snapshotColumns = `id, site_id, url, location, version_timestamp, created_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*model.PageSnapshot, error) {
	var (
		s         model.PageSnapshot
		createdAt string
	)
	if err := row.Scan(&s.ID, &s.SiteID, &s.URL, &s.Location, &s.Version, &createdAt); err != nil {
		return nil, err
	}
	if t, err := time.Parse(model.VersionLayout, createdAt); err == nil {
		s.CreatedAt = t
	}
	return &s, nil
}

// FindExact returns the latest snapshot of url for siteID, or nil.
// model.AnySite matches snapshots of every site.
func (s *Store) FindExact(ctx context.Context, siteID int64, url string) (*model.PageSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM saved_pages
		WHERE url = ? AND (? = 0 OR site_id = ?)
		ORDER BY version_timestamp DESC, id DESC
		LIMIT 1`, url, siteID, siteID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStore("find snapshot", err).WithURL(url)
	}
	return snap, nil
}

// ScanAll lists the snapshots of siteID (every site for model.AnySite),
// newest version first.
func (s *Store) ScanAll(ctx context.Context, siteID int64) ([]model.PageSnapshot, error) {
	return s.list(ctx, `WHERE (? = 0 OR site_id = ?)`, siteID, siteID)
}

// Versions lists every stored version of one (site, url), newest first.
func (s *Store) Versions(ctx context.Context, siteID int64, url string) ([]model.PageSnapshot, error) {
	return s.list(ctx, `WHERE url = ? AND (? = 0 OR site_id = ?)`, url, siteID, siteID)
}

func (s *Store) list(ctx context.Context, where string, args ...any) ([]model.PageSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM saved_pages `+where+` ORDER BY version_timestamp DESC, id DESC`, args...)
	if err != nil {
		return nil, apperrors.NewStore("list snapshots", err)
	}
	defer rows.Close()

	var out []model.PageSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, apperrors.NewStore("scan snapshot", err)
		}
		out = append(out, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStore("list snapshots", err)
	}
	return out, nil
}

// Get returns the snapshot with id, or nil.
func (s *Store) Get(ctx context.Context, id int64) (*model.PageSnapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM saved_pages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStore("get snapshot", err)
	}
	return snap, nil
}

// Write stores html as a new version of (siteID, url). The blob is complete
// on disk before the index row exists, so readers never see a partial page.
func (s *Store) Write(ctx context.Context, siteID int64, url, version string, html []byte) (*model.PageSnapshot, error) {
	s.blobs.Lock()
	defer s.blobs.Unlock()

	location, created, err := s.writeBlob(html)
	if err != nil {
		return nil, apperrors.NewStore("write snapshot blob", err).WithURL(url)
	}

	createdAt := model.FormatVersion(s.now())
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, `
		INSERT INTO saved_pages (site_id, url, location, version_timestamp, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING `+snapshotColumns,
		siteID, url, location, version, createdAt))
	if err != nil {
		if created {
			s.removeIfUnreferenced(context.WithoutCancel(ctx), location)
		}
		return nil, apperrors.NewStore("index snapshot", err).WithURL(url)
	}

	// Another process may have unlinked a reused blob before the row existed.
	if _, err := os.Stat(filepath.Join(s.dir, location)); errors.Is(err, os.ErrNotExist) {
		if _, _, err := s.writeBlob(html); err != nil {
			return nil, apperrors.NewStore("restore snapshot blob", err).WithURL(url)
		}
	}

	s.log.Debug().
		Int64("snapshot_id", snap.ID).
		Str("url", url).
		Str("version", version).
		Msg("Snapshot written")
	return snap, nil
}

// writeBlob reports whether the blob was newly created.
func (s *Store) writeBlob(html []byte) (string, bool, error) {
	sum := sha256.Sum256(html)
	name := hex.EncodeToString(sum[:])
	location := filepath.Join("objects", name[:2], name+".html")
	path := filepath.Join(s.dir, location)

	if _, err := os.Stat(path); err == nil {
		return location, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", false, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(html); err != nil {
		tmp.Close()
		return "", false, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", false, err
	}
	if err := tmp.Close(); err != nil {
		return "", false, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", false, err
	}
	return location, true, nil
}

// Read returns the HTML stored at location.
func (s *Store) Read(_ context.Context, location string) ([]byte, error) {
	if !filepath.IsLocal(location) {
		return nil, apperrors.NewStore(fmt.Sprintf("snapshot location outside store: %q", location), nil)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, location))
	if err != nil {
		return nil, apperrors.NewStore("read snapshot blob", err)
	}
	return data, nil
}

// Delete removes one version. Other versions of the same page are untouched
// and the blob survives while any other version still references it.
func (s *Store) Delete(ctx context.Context, id int64) error {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	s.blobs.Lock()
	defer s.blobs.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM saved_pages WHERE id = ?`, id); err != nil {
		return apperrors.NewStore("delete snapshot", err).WithURL(snap.URL)
	}
	s.removeIfUnreferenced(ctx, snap.Location)
	return nil
}

// removeIfUnreferenced must be called with s.blobs held.
func (s *Store) removeIfUnreferenced(ctx context.Context, location string) {
	var refs int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM saved_pages WHERE location = ?`, location).Scan(&refs); err != nil {
		s.log.Warn().Err(err).Str("location", location).Msg("Failed to count snapshot references")
		return
	}
	if refs > 0 {
		return
	}
	if err := os.Remove(filepath.Join(s.dir, location)); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("location", location).Msg("Failed to remove snapshot blob")
	}
}
