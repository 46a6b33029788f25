package model

// UseCaseRule gates one downstream use case on an address's trust state.
// An address qualifies when it is physically verified and AcceptVerified is
// set, or when MinScore is positive and its score reaches MinScore.
type UseCaseRule struct {
	Name           string  `json:"name"            mapstructure:"name"`
	MinScore       float64 `json:"min_score"       mapstructure:"min_score"`
	AcceptVerified bool    `json:"accept_verified" mapstructure:"accept_verified"`
}

// Allows reports whether addr qualifies for the rule.
func (r UseCaseRule) Allows(addr *DigitalAddress) bool {
	if r.AcceptVerified && addr.IsPhysicallyVerified() {
		return true
	}
	return r.MinScore > 0 && addr.ConfidenceScore >= r.MinScore
}

// Policy holds the thresholds that map scores and tiers to eligibility.
type Policy struct {
	TrustedThreshold float64       `mapstructure:"trusted_threshold"`
	UseCases         []UseCaseRule `mapstructure:"use_cases"`
}

// DefaultPolicy returns the thresholds used when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		TrustedThreshold: 70,
		UseCases: []UseCaseRule{
			{Name: "government_welfare", AcceptVerified: true},
			{Name: "property_records", AcceptVerified: true},
			{Name: "legal_notices", AcceptVerified: true},
			{Name: "emergency_services", AcceptVerified: true, MinScore: 80},
			{Name: "e_commerce", MinScore: 50},
			{Name: "food_delivery", MinScore: 50},
		},
	}
}

// Trusted reports whether addr meets the trusted threshold.
func (p Policy) Trusted(addr *DigitalAddress) bool {
	return addr.ConfidenceScore >= p.TrustedThreshold
}

// Eligibility is the read-only trust view of an address.
type Eligibility struct {
	Handle             string          `json:"digital_address"`
	ConfidenceScore    float64         `json:"confidence_score"`
	Tier               Tier            `json:"verification_tier"`
	Trusted            bool            `json:"is_trusted"`
	PhysicallyVerified bool            `json:"is_physically_verified"`
	NeedsVerification  bool            `json:"needs_verification"`
	Recommendation     string          `json:"recommendation"`
	UseCases           map[string]bool `json:"use_case_eligibility"`
}

// Evaluate maps addr to its eligibility under p.
func (p Policy) Evaluate(addr *DigitalAddress) Eligibility {
	e := Eligibility{
		Handle:             addr.Handle,
		ConfidenceScore:    addr.ConfidenceScore,
		Tier:               addr.Tier,
		Trusted:            p.Trusted(addr),
		PhysicallyVerified: addr.IsPhysicallyVerified(),
		NeedsVerification:  addr.NeedsVerification,
		UseCases:           make(map[string]bool, len(p.UseCases)),
	}
	for _, r := range p.UseCases {
		e.UseCases[r.Name] = r.Allows(addr)
	}
	switch {
	case e.PhysicallyVerified:
		e.Recommendation = "Address is physically verified and suitable for all use cases."
	case e.Trusted:
		e.Recommendation = "Address has a good confidence score but is not physically verified."
	default:
		e.Recommendation = "Address has a low confidence score; physical verification is recommended."
	}
	return e
}
