// Package blob stores uploaded file payloads under opaque UUIDs with an
// optional expiry. Stores know nothing about rooms or messages.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const defaultContentType = "application/octet-stream"

var (
	// ErrNotFound is returned for unknown and expired objects.
	ErrNotFound = errors.New("blob not found")
	// ErrStorageUnavailable wraps any failure of the backing storage.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Store is implemented by every blob backend. Implementations are safe for
// concurrent use by multiple rooms.
type Store interface {
	// Put stores data and returns the assigned UUID with the stored metadata.
	Put(ctx context.Context, data []byte, meta Metadata) (Info, error)
	// Get returns ErrNotFound for missing objects and for objects whose
	// expiry has passed; expired objects are deleted as a side effect.
	Get(ctx context.Context, id string) (*Object, error)
	// Delete succeeds when the object is already gone. Ids that are not
	// UUIDs never name an object and get ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// Sweeper is implemented by stores that can proactively drop expired objects.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type Metadata struct {
	ContentType string
	DisplayName string
	// TTL of zero means the object never expires.
	TTL time.Duration
}

type Info struct {
	UUID        string
	ContentType string
	DisplayName string
	Size        int64
	Checksum    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the object is past its expiry at now.
func (i Info) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !i.ExpiresAt.After(now)
}

type Object struct {
	Info
	Data []byte
}

// ValidID reports whether id is a UUID in the canonical form Put assigns.
func ValidID(id string) bool {
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.String() == id
}

// Checksum returns the hex encoded BLAKE2b-256 digest of data.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newInfo(data []byte, meta Metadata, now time.Time) Info {
	contentType := strings.TrimSpace(meta.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	info := Info{
		UUID:        uuid.NewString(),
		ContentType: contentType,
		DisplayName: strings.TrimSpace(meta.DisplayName),
		Size:        int64(len(data)),
		Checksum:    Checksum(data),
		CreatedAt:   now.UTC(),
	}
	if meta.TTL > 0 {
		info.ExpiresAt = info.CreatedAt.Add(meta.TTL)
	}

	return info
}

// unavailable tags err as a storage failure unless it already is one or is
// a lookup miss.
func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return errors.Join(ErrStorageUnavailable, err)
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
