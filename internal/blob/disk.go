package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const diskSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	uuid TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes INTEGER NOT NULL CHECK(size_bytes >= 0),
	checksum TEXT NOT NULL,
	created_at_unix_ms INTEGER NOT NULL,
	expires_at_unix_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_blobs_expires_at ON blobs(expires_at_unix_ms);
`

// DiskStore writes blob bytes as UUID named files under a root directory
// and keeps their metadata in a SQLite database in the same directory.
type DiskStore struct {
	rootDir string
	db      *sql.DB
	log     *log.Logger
	now     func() time.Time
}

func NewDiskStore(rootDir string, logger *log.Logger) (*DiskStore, error) {
	rootDir = strings.TrimSpace(rootDir)
	if rootDir == "" {
		return nil, fmt.Errorf("blob root directory is required")
	}

	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(rootDir, "blobs.db"))
	if err != nil {
		return nil, fmt.Errorf("open blob metadata: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), diskSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate blob metadata: %w", err)
	}

	logger.Printf("blob store opened at %q", rootDir)
	return &DiskStore{
		rootDir: rootDir,
		db:      db,
		log:     logger,
		now:     time.Now,
	}, nil
}

func (s *DiskStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.rootDir, id)
}

func (s *DiskStore) Put(ctx context.Context, data []byte, meta Metadata) (Info, error) {
	info := newInfo(data, meta, s.now())

	tmp, err := os.CreateTemp(s.rootDir, ".blob-write-*")
	if err != nil {
		return Info{}, unavailable(fmt.Errorf("create temp blob file: %w", err))
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr, ctx.Err()); err != nil {
		os.Remove(tmpPath)
		return Info{}, unavailable(fmt.Errorf("write blob bytes: %w", err))
	}

	if err := os.Rename(tmpPath, s.path(info.UUID)); err != nil {
		os.Remove(tmpPath)
		return Info{}, unavailable(fmt.Errorf("move blob into place: %w", err))
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO blobs (uuid, display_name, content_type, size_bytes, checksum, created_at_unix_ms, expires_at_unix_ms) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?)",
		info.UUID,
		info.DisplayName,
		info.ContentType,
		info.Size,
		info.Checksum,
		unixMilli(info.CreatedAt),
		unixMilli(info.ExpiresAt),
	)
	if err != nil {
		os.Remove(s.path(info.UUID))
		return Info{}, unavailable(fmt.Errorf("persist blob metadata: %w", err))
	}

	return info, nil
}

func (s *DiskStore) Get(ctx context.Context, id string) (*Object, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT uuid, display_name, content_type, size_bytes, checksum, created_at_unix_ms, expires_at_unix_ms "+
			"FROM blobs WHERE uuid = ?",
		id,
	)

	var (
		info               Info
		createdMs, expires int64
	)
	err := row.Scan(
		&info.UUID,
		&info.DisplayName,
		&info.ContentType,
		&info.Size,
		&info.Checksum,
		&createdMs,
		&expires,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, unavailable(fmt.Errorf("query blob metadata: %w", err))
	}
	info.CreatedAt = fromUnixMilli(createdMs)
	info.ExpiresAt = fromUnixMilli(expires)

	if info.Expired(s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			s.log.Printf("delete expired blob %q: %v", id, err)
		}
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Printf("blob %q has metadata but no file, dropping", id)
			s.Delete(ctx, id)
			return nil, ErrNotFound
		}
		return nil, unavailable(fmt.Errorf("read blob file: %w", err))
	}

	return &Object{Info: info, Data: data}, nil
}

func (s *DiskStore) Delete(ctx context.Context, id string) error {
	if !ValidID(id) {
		return ErrNotFound
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE uuid = ?", id); err != nil {
		return unavailable(fmt.Errorf("delete blob metadata: %w", err))
	}

	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return unavailable(fmt.Errorf("remove blob file: %w", err))
	}

	return nil
}

func (s *DiskStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT uuid FROM blobs WHERE expires_at_unix_ms > 0 AND expires_at_unix_ms <= ?",
		now.UnixMilli(),
	)
	if err != nil {
		return 0, unavailable(fmt.Errorf("query expired blobs: %w", err))
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, unavailable(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, unavailable(err)
	}

	var n int
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return n, err
		}
		n++
	}

	return n, nil
}
