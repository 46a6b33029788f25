package model_test

import (
	"testing"
	"time"

	"github.com/resolutionconsent/digipin/internal/registry/model"
)

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	in10 := now.Add(10*24*time.Hour + time.Hour)
	ago := now.Add(-time.Hour)

	cases := []struct {
		name   string
		c      *model.Consent
		status model.LinkStatus
		days   int
	}{
		{"nil", nil, model.LinkNone, -1},
		{"permanent", &model.Consent{Type: model.ConsentPermanent, Active: true, Token: "123456"}, model.LinkActive, -1},
		{"temporary", &model.Consent{Type: model.ConsentTemporary, Active: true, ExpiresAt: &in10}, model.LinkActive, 10},
		{"expired", &model.Consent{Type: model.ConsentTemporary, Active: true, ExpiresAt: &ago}, model.LinkExpired, -1},
		{"revoked", &model.Consent{Type: model.ConsentPermanent, Active: false}, model.LinkNone, -1},
	}
	for _, tc := range cases {
		s := model.Summarize(tc.c, now)
		if s.Status != tc.status {
			t.Errorf("%s: status = %s, want %s", tc.name, s.Status, tc.status)
		}
		switch {
		case tc.days < 0 && s.DaysRemaining != nil:
			t.Errorf("%s: unexpected DaysRemaining %d", tc.name, *s.DaysRemaining)
		case tc.days >= 0 && (s.DaysRemaining == nil || *s.DaysRemaining != tc.days):
			t.Errorf("%s: DaysRemaining = %v, want %d", tc.name, s.DaysRemaining, tc.days)
		}
		if s.Status != model.LinkActive && s.Token != "" {
			t.Errorf("%s: token leaked for non-active consent", tc.name)
		}
	}
}

func TestParseConsentType(t *testing.T) {
	if ct, err := model.ParseConsentType(""); err != nil || ct != model.ConsentPermanent {
		t.Errorf("empty: %v, %v", ct, err)
	}
	if _, err := model.ParseConsentType("permanent"); err == nil {
		t.Error("consent types are case-sensitive")
	}
}

func TestPolicyEvaluate(t *testing.T) {
	p := model.DefaultPolicy()

	low := &model.DigitalAddress{Handle: "a@b", ConfidenceScore: 45, Tier: model.TierBasic}
	e := p.Evaluate(low)
	if e.Trusted || e.UseCases["e_commerce"] || e.UseCases["emergency_services"] {
		t.Errorf("low score: %+v", e)
	}

	high := &model.DigitalAddress{Handle: "a@b", ConfidenceScore: 85, Tier: model.TierBasicPlusScore}
	e = p.Evaluate(high)
	if !e.Trusted || !e.UseCases["emergency_services"] || e.UseCases["property_records"] {
		t.Errorf("high score: %+v", e)
	}

	verified := &model.DigitalAddress{Handle: "a@b", ConfidenceScore: 20, Tier: model.TierPhysicallyVerified}
	e = p.Evaluate(verified)
	for _, name := range []string{"government_welfare", "property_records", "legal_notices", "emergency_services"} {
		if !e.UseCases[name] {
			t.Errorf("verified address should qualify for %s", name)
		}
	}
	if e.UseCases["food_delivery"] {
		t.Error("food_delivery is score-gated only")
	}
	if e.Recommendation == "" {
		t.Error("missing recommendation")
	}
}

func TestFulfillmentDeltas(t *testing.T) {
	want := map[model.FulfillmentStatus]float64{
		model.FulfillmentSuccess: 10,
		model.FulfillmentFailure: -15,
		model.FulfillmentNeutral: -5,
	}
	for st, d := range want {
		if got := st.Delta(); got != d {
			t.Errorf("%s: delta = %v, want %v", st, got, d)
		}
	}
	if _, err := model.ParseFulfillmentStatus("success"); err == nil {
		t.Error("expected error for lower-case status")
	}
}
