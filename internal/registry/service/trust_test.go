package service_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/resolutionconsent/digipin/internal/registry/model"
	"github.com/resolutionconsent/digipin/internal/registry/service"
)

func newTrustEngine(store *stubStore) *service.TrustEngine {
	return service.NewTrustEngine(store, model.DefaultPolicy(), zap.NewNop())
}

func TestFulfillmentFeedback_scoreSequence(t *testing.T) {
	store := newStubStore()
	e := newTrustEngine(store)
	a := store.seedAddress("asha@home", uuid.New(), 50)

	steps := []struct {
		status model.FulfillmentStatus
		want   float64
	}{
		{model.FulfillmentSuccess, 60},
		{model.FulfillmentFailure, 45},
		{model.FulfillmentNeutral, 40},
		{model.FulfillmentFailure, 25},
		{model.FulfillmentFailure, 10},
		{model.FulfillmentFailure, 0},
	}
	for i, step := range steps {
		change, addr, err := e.ApplyFulfillmentFeedback(ctx, a.ID, step.status)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if change.NewScore != step.want || addr.ConfidenceScore != step.want {
			t.Errorf("step %d (%s): score = %v, want %v", i, step.status, change.NewScore, step.want)
		}
		if change.TotalFulfillments != i+1 {
			t.Errorf("step %d: TotalFulfillments = %d, want %d", i, change.TotalFulfillments, i+1)
		}
	}

	stored, _ := store.GetByID(ctx, a.ID)
	if stored.ConfidenceScore != 0 || stored.TotalFulfillments != len(steps) {
		t.Errorf("stored state = %v / %d", stored.ConfidenceScore, stored.TotalFulfillments)
	}
}

func TestFulfillmentFeedback_scoreStaysInBounds(t *testing.T) {
	store := newStubStore()
	e := newTrustEngine(store)
	a := store.seedAddress("asha@home", uuid.New(), 95)

	for i := 0; i < 5; i++ {
		change, _, err := e.ApplyFulfillmentFeedback(ctx, a.ID, model.FulfillmentSuccess)
		if err != nil {
			t.Fatal(err)
		}
		if change.NewScore > model.MaxScore {
			t.Fatalf("score %v above maximum", change.NewScore)
		}
	}
	stored, _ := store.GetByID(ctx, a.ID)
	if stored.ConfidenceScore != 100 {
		t.Errorf("expected score capped at 100, got %v", stored.ConfidenceScore)
	}
}

func TestFulfillmentFeedback_tierFollowsTrustedThreshold(t *testing.T) {
	store := newStubStore()
	e := newTrustEngine(store)
	a := store.seedAddress("asha@home", uuid.New(), 65)

	change, _, err := e.ApplyFulfillmentFeedback(ctx, a.ID, model.FulfillmentSuccess)
	if err != nil {
		t.Fatal(err)
	}
	if change.PreviousTier != model.TierBasic || change.NewTier != model.TierBasicPlusScore {
		t.Errorf("tier %s -> %s, want BASIC -> BASIC_PLUS_SCORE", change.PreviousTier, change.NewTier)
	}

	change, _, err = e.ApplyFulfillmentFeedback(ctx, a.ID, model.FulfillmentFailure)
	if err != nil {
		t.Fatal(err)
	}
	if change.NewTier != model.TierBasic {
		t.Errorf("expected demotion to BASIC at score %v, got %s", change.NewScore, change.NewTier)
	}
}

func TestFulfillmentFeedback_unknownStatus(t *testing.T) {
	store := newStubStore()
	e := newTrustEngine(store)
	a := store.seedAddress("asha@home", uuid.New(), 50)

	_, _, err := e.ApplyFulfillmentFeedback(ctx, a.ID, model.FulfillmentStatus("LOST"))
	var ve *model.ErrValidation
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ErrValidation, got %v", err)
	}
}

func TestFulfillmentFeedback_notFound(t *testing.T) {
	e := newTrustEngine(newStubStore())
	_, _, err := e.ApplyFulfillmentFeedback(ctx, uuid.New(), model.FulfillmentSuccess)
	if !errors.Is(err, model.ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound, got %v", err)
	}
}

func TestFulfillmentFeedback_concurrentNoLostUpdates(t *testing.T) {
	store := newStubStore()
	e := newTrustEngine(store)
	a := store.seedAddress("asha@home", uuid.New(), 0)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := e.ApplyFulfillmentFeedback(ctx, a.ID, model.FulfillmentSuccess); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	stored, _ := store.GetByID(ctx, a.ID)
	if stored.TotalFulfillments != n {
		t.Errorf("TotalFulfillments = %d, want %d", stored.TotalFulfillments, n)
	}
	if stored.ConfidenceScore != 80 {
		t.Errorf("score = %v, want 80", stored.ConfidenceScore)
	}
}

func TestVerificationEvent_verifiedWithLocation(t *testing.T) {
	cases := []struct {
		start float64
		want  float64
	}{
		{55, 95},
		{30, 90},
		{10, 90},
		{54.5, 94.5},
		{99, 95},
	}
	for _, tc := range cases {
		store := newStubStore()
		e := newTrustEngine(store)
		a := store.seedAddress("asha@home", uuid.New(), tc.start)
		if _, err := e.FlagForVerification(ctx, a.ID); err != nil {
			t.Fatal(err)
		}

		at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
		change, addr, err := e.ApplyVerificationEvent(ctx, a.ID, model.VerificationEvent{
			Status:            model.VerificationVerified,
			LocationConfirmed: true,
			AgentID:           "agent-7",
			Notes:             "gate matches photo",
			At:                at,
		})
		if err != nil {
			t.Fatal(err)
		}
		if change.NewScore != tc.want {
			t.Errorf("start %v: score = %v, want %v", tc.start, change.NewScore, tc.want)
		}
		if addr.Tier != model.TierPhysicallyVerified {
			t.Errorf("start %v: tier = %s", tc.start, addr.Tier)
		}
		if addr.NeedsVerification {
			t.Error("verification flag should be cleared")
		}
		if addr.Verification.AgentID != "agent-7" || addr.Verification.VerifiedAt == nil || !addr.Verification.VerifiedAt.Equal(at) {
			t.Errorf("unexpected verification record %+v", addr.Verification)
		}
	}
}

func TestVerificationEvent_verifiedWithoutLocationIsNoop(t *testing.T) {
	store := newStubStore()
	e := newTrustEngine(store)
	a := store.seedAddress("asha@home", uuid.New(), 55)

	change, addr, err := e.ApplyVerificationEvent(ctx, a.ID, model.VerificationEvent{
		Status:  model.VerificationVerified,
		AgentID: "agent-7",
	})
	if err != nil {
		t.Fatal(err)
	}
	if change.NewScore != 55 || addr.Tier != model.TierBasic {
		t.Errorf("expected no change, got score %v tier %s", change.NewScore, addr.Tier)
	}
	stored, _ := store.GetByID(ctx, a.ID)
	if stored.Version != a.Version {
		t.Errorf("no-op event should not write, version %d -> %d", a.Version, stored.Version)
	}
}

func TestVerificationEvent_failedAndCorrection(t *testing.T) {
	store := newStubStore()
	e := newTrustEngine(store)
	a := store.seedAddress("asha@home", uuid.New(), 35)

	change, _, err := e.ApplyVerificationEvent(ctx, a.ID, model.VerificationEvent{
		Status:  model.VerificationFailed,
		AgentID: "agent-7",
	})
	if err != nil {
		t.Fatal(err)
	}
	if change.NewScore != 5 {
		t.Errorf("after failure: score = %v, want 5", change.NewScore)
	}

	change, addr, err := e.ApplyVerificationEvent(ctx, a.ID, model.VerificationEvent{
		Status: model.VerificationRequiresCorrection,
		Notes:  "house number missing",
	})
	if err != nil {
		t.Fatal(err)
	}
	if change.NewScore != 0 {
		t.Errorf("after correction: score = %v, want 0", change.NewScore)
	}
	if addr.Verification.Notes != "house number missing" {
		t.Errorf("notes = %q", addr.Verification.Notes)
	}
	if addr.Tier == model.TierPhysicallyVerified {
		t.Error("failed verification must not promote the tier")
	}
}

func TestTrust_feedbackThenFailedVerification(t *testing.T) {
	store := newStubStore()
	e := newTrustEngine(store)
	a := store.seedAddress("asha@home", uuid.New(), 50)

	change, _, err := e.ApplyFulfillmentFeedback(ctx, a.ID, model.FulfillmentSuccess)
	if err != nil || change.NewScore != 60 {
		t.Fatalf("after SUCCESS: score = %v, err = %v; want 60", scoreOf(change), err)
	}
	change, _, err = e.ApplyFulfillmentFeedback(ctx, a.ID, model.FulfillmentFailure)
	if err != nil || change.NewScore != 45 {
		t.Fatalf("after FAILURE: score = %v, err = %v; want 45", scoreOf(change), err)
	}
	change, addr, err := e.ApplyVerificationEvent(ctx, a.ID, model.VerificationEvent{
		Status:  model.VerificationFailed,
		AgentID: "agent-7",
	})
	if err != nil || change.NewScore != 15 {
		t.Fatalf("after VERIFICATION_FAILED: score = %v, err = %v; want 15", scoreOf(change), err)
	}
	if addr.Tier != model.TierBasic {
		t.Errorf("tier = %s, want %s", addr.Tier, model.TierBasic)
	}

	stored, _ := store.GetByID(ctx, a.ID)
	if stored.ConfidenceScore != 15 || stored.TotalFulfillments != 2 {
		t.Errorf("stored state = %v / %d, want 15 / 2", stored.ConfidenceScore, stored.TotalFulfillments)
	}
}

func scoreOf(c *model.ScoreChange) any {
	if c == nil {
		return nil
	}
	return c.NewScore
}

func TestFlagForVerification(t *testing.T) {
	store := newStubStore()
	e := newTrustEngine(store)
	a := store.seedAddress("asha@home", uuid.New(), 50)

	addr, err := e.FlagForVerification(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !addr.NeedsVerification {
		t.Fatal("expected NeedsVerification after flagging")
	}
	before, _ := store.GetByID(ctx, a.ID)
	if _, err := e.FlagForVerification(ctx, a.ID); err != nil {
		t.Fatalf("second flag: %v", err)
	}
	after, _ := store.GetByID(ctx, a.ID)
	if after.Version != before.Version {
		t.Error("flagging twice should not write again")
	}

	if _, _, err := e.ApplyVerificationEvent(ctx, a.ID, model.VerificationEvent{
		Status:            model.VerificationVerified,
		LocationConfirmed: true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.FlagForVerification(ctx, a.ID); !errors.Is(err, model.ErrAlreadyVerified) {
		t.Errorf("expected ErrAlreadyVerified, got %v", err)
	}
}

func TestFulfillmentFeedback_keepsVerifiedTier(t *testing.T) {
	store := newStubStore()
	e := newTrustEngine(store)
	a := store.seedAddress("asha@home", uuid.New(), 50)
	if _, _, err := e.ApplyVerificationEvent(ctx, a.ID, model.VerificationEvent{
		Status:            model.VerificationVerified,
		LocationConfirmed: true,
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 6; i++ {
		if _, _, err := e.ApplyFulfillmentFeedback(ctx, a.ID, model.FulfillmentFailure); err != nil {
			t.Fatal(err)
		}
	}
	stored, _ := store.GetByID(ctx, a.ID)
	if stored.Tier != model.TierPhysicallyVerified {
		t.Errorf("tier = %s, want PHYSICALLY_VERIFIED", stored.Tier)
	}
	if stored.ConfidenceScore != 0 {
		t.Errorf("score = %v, want 0", stored.ConfidenceScore)
	}
}
