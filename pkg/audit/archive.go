package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// ObjectStore receives archive files
type ObjectStore interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// ArchiveResult describes one archive run
type ArchiveResult struct {
	Key     string    `json:"key"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Bytes   int       `json:"bytes"`
	Skipped bool      `json:"skipped"`
}

// Archiver copies daily audit exports to an object store
type Archiver struct {
	store   Store
	objects ObjectStore
	prefix  string
	format  ExportFormat
}

// NewArchiver creates an archiver writing format exports under prefix
func NewArchiver(store Store, objects ObjectStore, prefix string, format ExportFormat) *Archiver {
	if format == "" {
		format = ExportFormatNDJSON
	}
	return &Archiver{
		store:   store,
		objects: objects,
		prefix:  strings.Trim(prefix, "/"),
		format:  format,
	}
}

// ArchiveKey returns the object key of the archive for the UTC day containing day
func (a *Archiver) ArchiveKey(day time.Time) string {
	key := day.UTC().Format("2006/01/02") + "." + string(a.format)
	if a.prefix == "" {
		return key
	}
	return a.prefix + "/" + key
}

// ArchiveDay exports every entry of the UTC day containing day, oldest first.
// An existing archive is left alone unless overwrite is set, so re-runs are
// idempotent.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time, overwrite bool) (*ArchiveResult, error) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1).Add(-time.Microsecond)
	result := &ArchiveResult{Key: a.ArchiveKey(start), Start: start, End: end}

	if !overwrite {
		exists, err := a.objects.ObjectExists(ctx, result.Key)
		if err != nil {
			return nil, err
		}
		if exists {
			result.Skipped = true
			return result, nil
		}
	}

	data, err := a.store.Export(ctx, Filter{StartTime: &start, EndTime: &end, SortOrder: "asc"}, a.format)
	if err != nil {
		return nil, fmt.Errorf("failed to export audit entries: %w", err)
	}

	if err := a.objects.PutObject(ctx, result.Key, bytes.NewReader(data), contentType(a.format)); err != nil {
		return nil, err
	}
	result.Bytes = len(data)
	return result, nil
}

func contentType(format ExportFormat) string {
	switch format {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}
