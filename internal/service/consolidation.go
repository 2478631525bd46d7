package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultConsolidationInterval = 6 * time.Hour
	defaultConsolidationLookback = 7 * 24 * time.Hour
)

// mergeNamespace seeds deterministic ids for merged records.
var mergeNamespace = uuid.MustParse("6f1c2a8e-3d4b-5c6d-8e7f-9a0b1c2d3e4f")

type MergeGroup struct {
	MergedID uuid.UUID   `json:"merged_id"`
	Concepts []string    `json:"concepts"`
	Members  []uuid.UUID `json:"members"`
}

type ConsolidationReport struct {
	OwnerID         string            `json:"owner_id"`
	Window          domain.TimeWindow `json:"window"`
	Examined        int               `json:"examined"`
	Groups          []MergeGroup      `json:"groups"`
	Merged          int               `json:"merged"`
	LowPriority     []uuid.UUID       `json:"low_priority"`
	Flagged         int               `json:"flagged"`
	ConceptsUpdated []string          `json:"concepts_updated"`
	RanAt           time.Time         `json:"ran_at"`
}

type Thresholds struct {
	Stable float64
	Prune  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Stable: DefaultStableThreshold, Prune: DefaultPruneThreshold}
}

// ConsolidationService merges stable overlapping records, flags weak ones
// and advances concept mastery. It never deletes a record.
type ConsolidationService struct {
	memoryStore domain.MemoryStore
	graphStore  domain.GraphStore
	model       StrengthModel
	thresholds  Thresholds
	logger      *zap.Logger
	now         func() time.Time

	// Background worker fields
	interval time.Duration
	lookback time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewConsolidationService creates a consolidation service. graphStore may
// be nil, in which case only shared tags link records and concept
// evolution is skipped.
func NewConsolidationService(
	memoryStore domain.MemoryStore,
	graphStore domain.GraphStore,
	model StrengthModel,
	thresholds Thresholds,
	logger *zap.Logger,
) *ConsolidationService {
	return &ConsolidationService{
		memoryStore: memoryStore,
		graphStore:  graphStore,
		model:       model,
		thresholds:  thresholds,
		logger:      logger,
		now:         time.Now,
		interval:    defaultConsolidationInterval,
		lookback:    defaultConsolidationLookback,
		stopCh:      make(chan struct{}),
	}
}

// SetInterval sets the consolidation interval.
func (s *ConsolidationService) SetInterval(d time.Duration) {
	s.interval = d
}

func (s *ConsolidationService) SetClock(now func() time.Time) {
	s.now = now
}

// Start begins the background consolidation worker.
func (s *ConsolidationService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("consolidation worker started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
				s.runConsolidation(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("consolidation worker stopped")
				return
			}
		}
	}()
}

// Stop halts the background consolidation worker.
func (s *ConsolidationService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *ConsolidationService) runConsolidation(ctx context.Context) {
	owners, err := s.memoryStore.ListOwners(ctx)
	if err != nil {
		s.logger.Error("failed to list owners for consolidation", zap.Error(err))
		return
	}

	end := s.now()
	window := domain.TimeWindow{Start: end.Add(-s.lookback), End: end}
	for _, owner := range owners {
		report, err := s.Consolidate(ctx, owner, window)
		if err != nil {
			s.logger.Error("consolidation failed", zap.String("owner_id", owner), zap.Error(err))
			continue
		}
		if report.Merged > 0 || report.Flagged > 0 || len(report.ConceptsUpdated) > 0 {
			s.logger.Info("consolidation complete",
				zap.String("owner_id", owner),
				zap.Int("examined", report.Examined),
				zap.Int("merged", report.Merged),
				zap.Int("flagged", report.Flagged),
				zap.Int("concepts_updated", len(report.ConceptsUpdated)))
		}
	}
}

// Consolidate runs one cycle over the owner's records created inside
// window. Running it again over an unchanged window reports the same
// groups and performs no additional merges.
func (s *ConsolidationService) Consolidate(ctx context.Context, ownerID string, window domain.TimeWindow) (*ConsolidationReport, error) {
	now := s.now()
	if window.End.IsZero() {
		window.End = now
	}
	records, err := s.memoryStore.GetByTimeWindow(ctx, ownerID, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}

	report := &ConsolidationReport{
		OwnerID:     ownerID,
		Window:      window,
		Examined:    len(records),
		Groups:      []MergeGroup{},
		LowPriority: []uuid.UUID{},
		RanAt:       now,
	}

	byID := make(map[uuid.UUID]domain.MemoryRecord, len(records))
	existing := make(map[uuid.UUID][]uuid.UUID)
	var candidates []domain.MemoryRecord
	for _, r := range records {
		byID[r.ID] = r
		switch {
		case r.IsMerge():
		case r.Consolidated():
			existing[*r.ConsolidatedInto] = append(existing[*r.ConsolidatedInto], r.ID)
		default:
			candidates = append(candidates, r)
		}
	}

	for mergedID, members := range existing {
		report.Groups = append(report.Groups, newMergeGroup(mergedID, members, byID))
	}

	var stable []domain.MemoryRecord
	for _, r := range candidates {
		if s.model.Strength(r, now) >= s.thresholds.Stable {
			stable = append(stable, r)
		}
	}

	groups, err := s.groupStable(ctx, stable)
	if err != nil {
		return nil, err
	}
	merged := make(map[uuid.UUID]bool)
	for _, members := range groups {
		group, err := s.merge(ctx, ownerID, members)
		if err != nil {
			return nil, err
		}
		report.Groups = append(report.Groups, newMergeGroup(group.ID, group.MergedFrom, byID))
		report.Merged++
		for _, m := range members {
			merged[m.ID] = true
		}
	}
	sort.Slice(report.Groups, func(i, j int) bool {
		return report.Groups[i].MergedID.String() < report.Groups[j].MergedID.String()
	})

	for _, r := range candidates {
		if merged[r.ID] || s.model.Strength(r, now) >= s.thresholds.Prune {
			continue
		}
		report.LowPriority = append(report.LowPriority, r.ID)
		if r.LowPriority {
			continue
		}
		if err := s.memoryStore.SetLowPriority(ctx, r.ID, true); err != nil {
			return nil, fmt.Errorf("flag low priority %s: %w", r.ID, err)
		}
		report.Flagged++
	}

	updated, err := s.evolveConcepts(ctx, records)
	if err != nil {
		return nil, err
	}
	report.ConceptsUpdated = updated
	return report, nil
}

// groupStable links records that share a concept tag, or whose tags are
// joined by an affirming graph edge, and returns the connected groups of
// two or more records in deterministic order.
func (s *ConsolidationService) groupStable(ctx context.Context, stable []domain.MemoryRecord) ([][]domain.MemoryRecord, error) {
	uf := newUnionFind()
	tagged := make(map[string]bool)
	for _, r := range stable {
		tags := normalizedTags(r)
		for i, t := range tags {
			tagged[t] = true
			uf.add(t)
			if i > 0 {
				uf.union(tags[0], t)
			}
		}
	}

	if s.graphStore != nil {
		for _, t := range sortedSet(tagged) {
			edges, err := s.graphStore.EdgesOf(ctx, t)
			if err != nil {
				return nil, fmt.Errorf("load concept links for %s: %w", t, err)
			}
			for _, e := range edges {
				if e.Kind.Affirms() && tagged[e.From] && tagged[e.To] {
					uf.union(e.From, e.To)
				}
			}
		}
	}

	byRoot := make(map[string][]domain.MemoryRecord)
	for _, r := range stable {
		tags := normalizedTags(r)
		if len(tags) == 0 {
			continue
		}
		root := uf.find(tags[0])
		byRoot[root] = append(byRoot[root], r)
	}

	var groups [][]domain.MemoryRecord
	for _, root := range sortedKeysOf(byRoot) {
		members := byRoot[root]
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].ID.String() < members[j].ID.String() })
		groups = append(groups, members)
	}
	return groups, nil
}

// merge stores the merged record under a deterministic id and marks every
// member as consolidated into it.
func (s *ConsolidationService) merge(ctx context.Context, ownerID string, members []domain.MemoryRecord) (*domain.MemoryRecord, error) {
	ids := make([]string, len(members))
	mergedFrom := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.ID.String()
		mergedFrom[i] = m.ID
	}
	merged := &domain.MemoryRecord{
		ID:         uuid.NewSHA1(mergeNamespace, []byte(ownerID+":"+strings.Join(ids, ","))),
		Kind:       domain.MemoryKindSemantic,
		OwnerID:    ownerID,
		MergedFrom: mergedFrom,
	}

	var contents []string
	seenContent := make(map[string]bool)
	tags := make(map[string]bool)
	for i, m := range members {
		if !seenContent[m.Content] {
			seenContent[m.Content] = true
			contents = append(contents, m.Content)
		}
		for _, t := range normalizedTags(m) {
			tags[t] = true
		}
		if i == 0 || m.CreatedAt.Before(merged.CreatedAt) {
			merged.CreatedAt = m.CreatedAt
		}
		if m.LastAccessedAt.After(merged.LastAccessedAt) {
			merged.LastAccessedAt = m.LastAccessedAt
		}
		merged.AccessCount += m.AccessCount
		if b := baseStrength(m); b > merged.BaseStrength {
			merged.BaseStrength = b
		}
		if m.Metadata.Confidence > merged.Metadata.Confidence {
			merged.Metadata.Confidence = m.Metadata.Confidence
		}
	}
	merged.Content = strings.Join(contents, "\n")
	merged.Metadata.Tags = sortedSet(tags)

	if _, err := s.memoryStore.Store(ctx, merged); err != nil {
		return nil, fmt.Errorf("store merged record: %w", err)
	}
	for _, m := range members {
		if err := s.memoryStore.MarkConsolidated(ctx, m.ID, merged.ID); err != nil {
			return nil, fmt.Errorf("mark %s consolidated: %w", m.ID, err)
		}
	}
	s.logger.Debug("merged memory records",
		zap.String("owner_id", ownerID),
		zap.String("merged_id", merged.ID.String()),
		zap.Int("members", len(members)))
	return merged, nil
}

func (s *ConsolidationService) evolveConcepts(ctx context.Context, records []domain.MemoryRecord) ([]string, error) {
	updated := []string{}
	if s.graphStore == nil {
		return updated, nil
	}
	concepts := make(map[string]bool)
	for _, r := range records {
		for _, t := range normalizedTags(r) {
			concepts[t] = true
		}
	}
	for _, c := range sortedSet(concepts) {
		changed, err := promote(ctx, s.graphStore, c)
		if err != nil {
			return nil, fmt.Errorf("evolve concept %s: %w", c, err)
		}
		if changed {
			updated = append(updated, c)
		}
	}
	return updated, nil
}

func newMergeGroup(mergedID uuid.UUID, members []uuid.UUID, byID map[uuid.UUID]domain.MemoryRecord) MergeGroup {
	sorted := append([]uuid.UUID(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	concepts := make(map[string]bool)
	for _, id := range sorted {
		if r, ok := byID[id]; ok {
			for _, t := range normalizedTags(r) {
				concepts[t] = true
			}
		}
	}
	return MergeGroup{MergedID: mergedID, Concepts: sortedSet(concepts), Members: sorted}
}

// normalizedTags returns the record's distinct concept tags in stable order.
func normalizedTags(r domain.MemoryRecord) []string {
	seen := make(map[string]bool, len(r.Metadata.Tags))
	var out []string
	for _, t := range r.Metadata.Tags {
		n := domain.NormalizeConcept(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) add(x string) {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}
}

func (u *unionFind) find(x string) string {
	u.add(x)
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union keeps the lexicographically smaller root so results are stable.
func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
