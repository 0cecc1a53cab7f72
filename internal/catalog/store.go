// Package catalog records the pictures and recordings saved by the cameras
// together with their capture metadata.
//
// The catalog is a single SQLite database. Media files themselves stay
// wherever the client asked them to be written; rows are keyed by their
// absolute path.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"owlcam/internal/camera"
)

var ErrNotFound = errors.New("media item not found")

// Item is one catalogued media file.
type Item struct {
	Path        string           `json:"path"`
	Kind        camera.MediaKind `json:"kind"`
	CameraID    string           `json:"cameraId"`
	Width       int              `json:"width"`
	Height      int              `json:"height"`
	Orientation int              `json:"orientation"`
	SizeBytes   int64            `json:"sizeBytes"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// Store handles persistence of the media catalog.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the catalog database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, log: slog.Default()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS media (
		path TEXT PRIMARY KEY,
		dir TEXT NOT NULL,
		kind TEXT NOT NULL,
		camera_id TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		orientation INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_media_dir ON media(dir);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts item, replacing any previous entry for the same path.
func (s *Store) Add(ctx context.Context, item Item) error {
	path, err := filepath.Abs(item.Path)
	if err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO media
			(path, dir, kind, camera_id, width, height, orientation, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		path, filepath.Dir(path), string(item.Kind), item.CameraID,
		item.Width, item.Height, item.Orientation, item.SizeBytes,
		item.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert media item: %w", err)
	}
	return nil
}

// Get returns the item stored at path.
func (s *Store) Get(ctx context.Context, path string) (Item, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Item{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT path, kind, camera_id, width, height, orientation, size_bytes, created_at
		FROM media WHERE path = ?`, abs)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return item, err
}

// List returns the items stored directly inside dir, oldest first.
func (s *Store) List(ctx context.Context, dir string) ([]Item, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, kind, camera_id, width, height, orientation, size_bytes, created_at
		FROM media WHERE dir = ? ORDER BY created_at, path`, abs)
	if err != nil {
		return nil, fmt.Errorf("failed to query media: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (Item, error) {
	var item Item
	var kind string
	err := row.Scan(&item.Path, &kind, &item.CameraID, &item.Width, &item.Height,
		&item.Orientation, &item.SizeBytes, &item.CreatedAt)
	if err != nil {
		return Item{}, err
	}
	item.Kind = camera.MediaKind(kind)
	return item, nil
}

// MediaSaved records a picture or recording reported by a camera.
func (s *Store) MediaSaved(info camera.MediaInfo) {
	item := Item{
		Path:        info.Path,
		Kind:        info.Kind,
		CameraID:    info.CameraID,
		Width:       info.Size.Width,
		Height:      info.Size.Height,
		Orientation: info.Orientation,
		CreatedAt:   info.CreatedAt,
	}
	if st, err := os.Stat(info.Path); err == nil {
		item.SizeBytes = st.Size()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Add(ctx, item); err != nil {
		s.log.Error("[DB] Failed to catalog media", "path", info.Path, "err", err)
		return
	}
	s.log.Debug("[DB] Media catalogued", "path", info.Path, "kind", info.Kind)
}
