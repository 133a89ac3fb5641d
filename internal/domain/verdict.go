package domain

// ─── Verification Verdict ───────────────────────────────────────────────────

// Verdict is the classification service's structured answer for one photo.
// Produced once per verification call and immutable. It is never persisted
// on its own — confidence and reasoning are folded into the EcoAction when
// a claim is accepted.
type Verdict struct {
	IsEcoFriendly bool           `json:"is_eco_friendly"`
	Category      ActionCategory `json:"category"`
	Confidence    int            `json:"confidence"`
	Reasoning     string         `json:"reasoning"`
}

// ClampConfidence forces a confidence value into [0,100].
// Out-of-range values are a degraded but usable verdict, not a failure.
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
