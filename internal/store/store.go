package store

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

// classify wraps connection, timeout and retry-safe failures as
// TransientStoreError and returns everything else unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return domain.NewTransientStoreError(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.NewTransientStoreError(op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception, 40001: serialization failure, 40P01: deadlock, 57P01: admin shutdown
		if strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "57P01" {
			return domain.NewTransientStoreError(op, err)
		}
	}
	return err
}

// KeywordScore is the fraction of distinct query terms found in content.
func KeywordScore(query, content string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	seen := make(map[string]bool, len(terms))
	hits := 0
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(seen))
}
