package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// archivePageSize is how many rows are read from the store per query.
const archivePageSize = 1000

// PriceHistorySource is the slice of domain.PriceHistoryStore the archiver reads.
type PriceHistorySource interface {
	ListBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.PriceHistoryRecord, error)
}

// ClosedPositionSource is the slice of domain.PositionStore the archiver reads.
type ClosedPositionSource interface {
	ListClosedBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.Position, error)
}

// ArchiveImpl implements domain.Archiver by paging rows out of the stores,
// serializing them to JSONL, and uploading one object per range.
//
// Rows are not deleted here. Price history is pruned by the refresh
// pipeline's retention step; closed positions stay in the database.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	history   PriceHistorySource
	positions ClosedPositionSource
	audit     domain.AuditStore
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	history PriceHistorySource,
	positions ClosedPositionSource,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		history:   history,
		positions: positions,
		audit:     audit,
	}
}

// ArchivePriceHistory uploads every price history record in [from, to) to
// archive/price_history/YYYY-MM-DD.jsonl keyed by from.
func (a *ArchiveImpl) ArchivePriceHistory(ctx context.Context, from, to time.Time) (int64, error) {
	records, err := collectPages(func(opts domain.ListOpts) ([]domain.PriceHistoryRecord, error) {
		opts.Since = &from
		return a.history.ListBefore(ctx, to, opts)
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price history query: %w", err)
	}
	return archive(ctx, a, "price_history", from, to, records)
}

// ArchiveClosedPositions uploads every position sold in [from, to) to
// archive/positions/YYYY-MM-DD.jsonl keyed by from.
func (a *ArchiveImpl) ArchiveClosedPositions(ctx context.Context, from, to time.Time) (int64, error) {
	positions, err := collectPages(func(opts domain.ListOpts) ([]domain.Position, error) {
		opts.Since = &from
		return a.positions.ListClosedBefore(ctx, to, opts)
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	return archive(ctx, a, "positions", from, to, positions)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, from, to time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, from)
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))

	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":  path,
		"count": count,
		"from":  from.Format(time.RFC3339),
		"to":    to.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}

	return count, nil
}

// collectPages calls list with increasing offsets until a short page.
func collectPages[T any](list func(domain.ListOpts) ([]T, error)) ([]T, error) {
	var all []T
	for offset := 0; ; offset += archivePageSize {
		page, err := list(domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < archivePageSize {
			return all, nil
		}
	}
}

// archivePath builds the S3 key for an archive file, partitioned by the
// UTC day the range starts on.
//
//	archive/price_history/2025-01-31.jsonl
//	archive/positions/2025-01-31.jsonl
func archivePath(kind string, from time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, from.UTC().Format("2006-01-02"))
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
