package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/castlefield/tickbook/internal/domain"
)

// archiveBatchSize bounds how many fills one export object holds.
const archiveBatchSize = 5_000

// Archiver exports fills older than a cutoff to blob storage as JSONL.
// Deletion of archived rows from the primary store is intentionally not
// performed here; that is a separate step run after the archive is verified.
type Archiver struct {
	writer domain.BlobWriter
	fills  domain.FillStore
	audit  domain.AuditStore
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver reading from fills and writing through
// writer. The audit store may be nil.
func NewArchiver(writer domain.BlobWriter, fills domain.FillStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		fills:  fills,
		audit:  audit,
	}
}

// ArchiveBefore exports fills executed before cutoff and audit entries from
// the same window, returning the total number of records archived.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	fills, err := a.archiveFills(ctx, cutoff)
	if err != nil {
		return fills, err
	}
	entries, err := a.archiveAudit(ctx, cutoff)
	return fills + entries, err
}

// archiveFills pages through fills before cutoff, oldest first, uploading
// each batch as one JSONL object.
func (a *Archiver) archiveFills(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for part := 0; ; part++ {
		// ListBefore has no keyset cursor, so each round re-reads the prefix
		// and slices off what earlier batches already exported.
		rows, err := a.fills.ListBefore(ctx, cutoff, total+archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive query: %w", err)
		}
		if len(rows) <= total {
			return total, nil
		}
		fills := rows[total:]

		buf, err := marshalJSONL(fills)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive marshal: %w", err)
		}

		key := archiveKey(cutoff, part)
		if err := a.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive upload: %w", err)
		}
		total += len(fills)

		if a.audit != nil {
			if err := a.audit.Log(ctx, domain.EventFillsArchived, map[string]any{
				"key":    key,
				"count":  len(fills),
				"cutoff": cutoff.Format(time.RFC3339),
			}); err != nil {
				return total, fmt.Errorf("s3blob: archive audit log: %w", err)
			}
		}

		if len(fills) < archiveBatchSize {
			return total, nil
		}
	}
}

// archiveAudit pages through audit entries created before cutoff and uploads
// them as JSONL. The audit export is best-effort: a nil audit store archives
// nothing.
func (a *Archiver) archiveAudit(ctx context.Context, cutoff time.Time) (int, error) {
	if a.audit == nil {
		return 0, nil
	}

	total := 0
	for part := 0; ; part++ {
		entries, err := a.audit.List(ctx, domain.ListOpts{
			Limit:  archiveBatchSize,
			Offset: total,
			Until:  &cutoff,
		})
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(entries)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive audit marshal: %w", err)
		}

		key := fmt.Sprintf("archive/audit/%s/part-%04d.jsonl", cutoff.Format("2006-01-02"), part)
		if err := a.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive audit upload: %w", err)
		}
		total += len(entries)

		if len(entries) < archiveBatchSize {
			return total, nil
		}
	}
}

// archiveKey builds the object key, partitioned by the cutoff date.
//
//	archive/fills/2026-08-23/part-0000.jsonl
func archiveKey(cutoff time.Time, part int) string {
	return fmt.Sprintf("archive/fills/%s/part-%04d.jsonl", cutoff.Format("2006-01-02"), part)
}

// marshalJSONL serializes records as newline-delimited JSON.
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
