package domain

import (
	"fmt"
	"time"
)

// ─── Cooldown Policy ────────────────────────────────────────────────────────
// A minimum waiting period between accepted claims of the same category,
// per user. Pure configuration, not user data.

// CooldownPolicy maps each category to its cooldown duration. Categories
// absent from the table fall back to Default.
type CooldownPolicy struct {
	Periods map[ActionCategory]time.Duration
	Default time.Duration
}

// DefaultCooldownPolicy returns the fixed policy table.
// The trash entry is unused by the current action set but retained for
// forward compatibility.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{
		Periods: map[ActionCategory]time.Duration{
			CategoryBottle:  30 * time.Minute,
			CategoryRecycle: 60 * time.Minute,
			CategoryBike:    4 * time.Hour,
			CategoryCompost: 24 * time.Hour,
			CategoryTrash:   15 * time.Minute,
			CategoryOther:   30 * time.Minute,
		},
		Default: 30 * time.Minute,
	}
}

// Duration returns the cooldown period for a category.
func (p CooldownPolicy) Duration(category ActionCategory) time.Duration {
	if d, ok := p.Periods[category]; ok {
		return d
	}
	return p.Default
}

// CooldownStatus is the result of a cooldown check.
type CooldownStatus struct {
	OnCooldown   bool          `json:"on_cooldown"`
	Remaining    time.Duration `json:"remaining,omitempty"`
	LastActionAt time.Time     `json:"last_action_at,omitempty"`
}

// CheckCooldown decides whether a new claim of the given category is
// currently rate-limited, given the user's action history.
//
// Pure function of its inputs — no side effects, no I/O. A claim is on
// cooldown iff elapsed < period, strictly: an action becomes eligible at
// the exact boundary, not after it.
func CheckCooldown(policy CooldownPolicy, category ActionCategory, history []EcoAction, now time.Time) CooldownStatus {
	period := policy.Duration(category)

	var last time.Time
	for _, a := range history {
		if a.Category != category {
			continue
		}
		if a.Timestamp.After(last) {
			last = a.Timestamp
		}
	}
	if last.IsZero() {
		return CooldownStatus{}
	}

	elapsed := now.Sub(last)
	if elapsed < period {
		return CooldownStatus{
			OnCooldown:   true,
			Remaining:    period - elapsed,
			LastActionAt: last,
		}
	}
	return CooldownStatus{}
}

// FormatCooldown renders a remaining duration for display:
// "2h 15m", "5m 30s", or "45s".
func FormatCooldown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int(d.Seconds())
	minutes := seconds / 60
	hours := minutes / 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
