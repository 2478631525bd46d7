// Package provenance records the append-only audit trail of task
// transitions and computes the content hashes stored with each entry.
package provenance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Log appends entries to a ProvenanceStore. It never updates or removes
// an entry.
type Log struct {
	store  domain.ProvenanceStore
	logger *zap.Logger
}

func NewLog(store domain.ProvenanceStore, logger *zap.Logger) *Log {
	return &Log{store: store, logger: logger}
}

// Append stores e, assigning an id first if it has none. Appending the
// same entry twice is a no-op in every backend, so callers may retry.
func (l *Log) Append(ctx context.Context, e *domain.ProvenanceEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := l.store.Append(ctx, e); err != nil {
		return fmt.Errorf("append provenance for %s/%s: %w", e.RunID, e.TaskID, err)
	}
	l.logger.Debug("provenance appended",
		zap.String("run_id", e.RunID.String()),
		zap.String("task_id", e.TaskID),
		zap.String("state", e.State),
		zap.Int("attempt", e.Attempt))
	return nil
}

func (l *Log) ByRun(ctx context.Context, runID uuid.UUID) ([]domain.ProvenanceEntry, error) {
	return l.store.ListByRun(ctx, runID)
}

func (l *Log) ByTrace(ctx context.Context, traceID string) ([]domain.ProvenanceEntry, error) {
	return l.store.ListByTrace(ctx, traceID)
}

// InputHash digests what a task saw: the query, the output hashes of its
// dependencies and every memory record it read (id and content). Reads are
// ordered by id so the digest does not depend on recall order.
func InputHash(query string, dependencyHashes []string, reads []domain.MemoryRecord) string {
	h := sha256.New()
	writeField(h, "query", query)

	deps := append([]string(nil), dependencyHashes...)
	sort.Strings(deps)
	for _, d := range deps {
		writeField(h, "dep", d)
	}

	sorted := append([]domain.MemoryRecord(nil), reads...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID.String() < sorted[j].ID.String()
	})
	for _, r := range sorted {
		writeField(h, "read", r.ID.String())
		writeField(h, "content", r.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// OutputHash digests the JSON encoding of v. A nil value hashes to the
// empty string.
func OutputHash(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// writeField length-prefixes each field so adjacent values cannot collide.
func writeField(w io.Writer, name, value string) {
	fmt.Fprintf(w, "%s:%d:", name, len(value))
	_, _ = w.Write([]byte(value))
}
