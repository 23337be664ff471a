package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/precog-trading/precog/internal/domain"
)

// ExitArchiver implements domain.Archiver. It copies exit attempts and events
// into monthly JSONL objects:
//
//	archive/exit_attempts/2025-01.jsonl
//	archive/exit_events/2025-01.jsonl
//
// Rows are never deleted from the database, so re-running a month rewrites
// its object with a superset of the previous contents.
type ExitArchiver struct {
	exits  domain.ExitStore
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewArchiver creates an ExitArchiver. reader and audit may be nil.
func NewArchiver(exits domain.ExitStore, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *ExitArchiver {
	return &ExitArchiver{exits: exits, writer: writer, reader: reader, audit: audit}
}

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold is the payload size above which uploads go through
	// the multipart manager.
	multipartThreshold = minPartSize
)

// ArchiveExitAttempts archives attempts completed before the cutoff. It covers
// the cutoff's month and the month before it; earlier months were finished
// by previous runs.
func (a *ExitArchiver) ArchiveExitAttempts(ctx context.Context, before time.Time) (int64, error) {
	return archiveMonths(ctx, a, "exit_attempts", before, a.exits.AttemptsBetween)
}

// ArchiveExitEvents archives exit events created before the cutoff.
func (a *ExitArchiver) ArchiveExitEvents(ctx context.Context, before time.Time) (int64, error) {
	return archiveMonths(ctx, a, "exit_events", before, a.exits.EventsBetween)
}

func archiveMonths[T any](ctx context.Context, a *ExitArchiver, kind string, before time.Time,
	query func(ctx context.Context, from, to time.Time) ([]T, error)) (int64, error) {
	before = before.UTC()
	cur := monthStart(before)
	var total int64

	for _, from := range []time.Time{cur.AddDate(0, -1, 0), cur} {
		to := from.AddDate(0, 1, 0)
		complete := !to.After(before)
		if !complete {
			to = before
		}
		path := archivePath(kind, from)

		// A finished month that already has an object is final.
		if complete && a.reader != nil {
			exists, err := a.reader.Exists(ctx, path)
			if err != nil {
				return total, fmt.Errorf("s3blob: archive %s: %w", kind, err)
			}
			if exists {
				continue
			}
		}

		rows, err := query(ctx, from, to)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
		}
		if len(rows) == 0 {
			continue
		}

		buf, err := marshalJSONL(rows)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		if err := a.upload(ctx, path, buf); err != nil {
			return total, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}

		count := int64(len(rows))
		total += count

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
				"path":     path,
				"count":    count,
				"from":     from.Format(time.RFC3339),
				"to":       to.Format(time.RFC3339),
				"complete": complete,
			}); err != nil {
				return total, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
			}
		}
	}
	return total, nil
}

func (a *ExitArchiver) upload(ctx context.Context, path string, buf []byte) error {
	var body io.Reader = bytes.NewReader(buf)
	if int64(len(buf)) > multipartThreshold {
		return a.writer.PutMultipart(ctx, path, body, minPartSize)
	}
	return a.writer.Put(ctx, path, body, jsonlContentType)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// archivePath builds the S3 key for an archive file, partitioned by month.
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ExitArchiver)(nil)
