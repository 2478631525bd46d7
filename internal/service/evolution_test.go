package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/store"
	"github.com/Harshitk-cp/scholae/internal/store/inmem"
	"go.uber.org/zap"
)

func TestDecayMastery(t *testing.T) {
	model := DefaultStrengthModel()
	n := domain.ConceptNode{Name: "optics", ExposureCount: 30, Mastery: domain.MasteryExpert, FirstSeenAt: epoch, LastSeenAt: epoch}

	if got := DecayMastery(n, epoch, model); got.Mastery != domain.MasteryExpert {
		t.Errorf("no elapsed time: mastery = %s", got.Mastery)
	}
	if got := DecayMastery(n, epoch.Add(2*365*24*time.Hour), model); got.Mastery.Rank() >= domain.MasteryExpert.Rank() {
		t.Errorf("two years unseen: mastery = %s, want lower than expert", got.Mastery)
	}
}

func TestConceptService(t *testing.T) {
	ctx := context.Background()
	g := inmem.NewGraphStore()
	svc := NewConceptService(g, DefaultStrengthModel(), zap.NewNop())
	now := epoch.Add(10 * 24 * time.Hour)
	svc.SetClock(func() time.Time { return now })

	if err := g.UpsertNode(ctx, &domain.ConceptNode{
		Name: "entropy", FirstSeenAt: epoch, LastSeenAt: epoch, ExposureCount: 5, Mastery: domain.MasteryFamiliar,
	}); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}

	ev, err := svc.Evolution(ctx, "  Entropy ")
	if err != nil {
		t.Fatalf("Evolution: %v", err)
	}
	if !floatEq(ev.DaysKnown, 10) || !floatEq(ev.DaysSinceLastSeen, 10) {
		t.Errorf("days known = %f, since last seen = %f", ev.DaysKnown, ev.DaysSinceLastSeen)
	}
	if ev.NextMastery != domain.MasteryProficient || ev.ExposuresToNext != 5 {
		t.Errorf("next = %s in %d", ev.NextMastery, ev.ExposuresToNext)
	}
	if ev.EffectiveExposures >= 5 || ev.EffectiveExposures <= 0 {
		t.Errorf("effective exposures = %f", ev.EffectiveExposures)
	}

	if _, err := svc.Evolution(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing concept err = %v, want ErrNotFound", err)
	}

	now = epoch.Add(400 * 24 * time.Hour)
	decayed, err := svc.Decay(ctx, "entropy")
	if err != nil {
		t.Fatalf("Decay: %v", err)
	}
	if decayed.Concept.Mastery != domain.MasteryNovice {
		t.Errorf("decayed mastery = %s, want novice", decayed.Concept.Mastery)
	}
	stored, err := g.GetNode(ctx, "entropy")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if stored.Mastery != domain.MasteryNovice {
		t.Errorf("decay not persisted: %s", stored.Mastery)
	}
}
