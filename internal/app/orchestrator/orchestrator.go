// Package orchestrator drives a photo claim through its full lifecycle:
// receive, duplicate check, classify, apply the confidence policy, gate on
// cooldown, award.
//
// State machine per claim:
//
//	Idle → Submitted → Verifying → {Rejected | PendingConfirmation | Accepted}
//	     → Recorded → Idle
//
// Every path returns to Idle with local state intact; verification faults
// surface as errors the caller may retry, never as silent accepts or rejects.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/greenproof/greenproof/internal/domain"
	"github.com/greenproof/greenproof/internal/infra/catalog"
	"github.com/greenproof/greenproof/internal/infra/dedup"
	"github.com/greenproof/greenproof/internal/infra/observability"
	"github.com/greenproof/greenproof/internal/ledger"
)

// Outcome is the terminal result of one submission.
type Outcome string

const (
	OutcomeAccepted            Outcome = "accepted"
	OutcomeRejected            Outcome = "rejected"
	OutcomePendingConfirmation Outcome = "pending_confirmation"
	OutcomeOnCooldown          Outcome = "on_cooldown"
	OutcomeDuplicate           Outcome = "duplicate"
)

// Decision is what the caller gets back for a submission (or confirmation).
type Decision struct {
	Outcome Outcome        `json:"outcome"`
	Verdict domain.Verdict `json:"verdict"`
	Reason  string         `json:"reason,omitempty"`

	// On cooldown refusals.
	Cooldown          *domain.CooldownStatus `json:"cooldown,omitempty"`
	CooldownRemaining string                 `json:"cooldown_remaining,omitempty"`

	// On pending confirmation.
	ConfirmationToken string    `json:"confirmation_token,omitempty"`
	TokenExpiresAt    time.Time `json:"token_expires_at,omitempty"`

	// On acceptance.
	Action  *domain.EcoAction  `json:"action,omitempty"`
	Ledger  *domain.UserLedger `json:"ledger,omitempty"`
	Offline bool               `json:"offline,omitempty"`
}

// Config controls decision policy.
type Config struct {
	ConfidenceThreshold int           // below this, acceptance needs user confirmation (default: 60)
	ConfirmationTTL     time.Duration // how long a pending confirmation stays claimable (default: 5m)
	VerifyTimeout       time.Duration // per-submission classification deadline (default: 45s)
}

// DefaultConfig returns the default decision policy.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 60,
		ConfirmationTTL:     5 * time.Minute,
		VerifyTimeout:       45 * time.Second,
	}
}

// pendingClaim is a low-confidence verdict awaiting the user's say-so.
type pendingClaim struct {
	userID    string
	verdict   domain.Verdict
	imageRef  string
	expiresAt time.Time
}

// Orchestrator coordinates verifier, cooldown policy, duplicate guard, and
// reward ledger.
type Orchestrator struct {
	mu       sync.Mutex
	cfg      Config
	verifier domain.Verifier
	ledger   *ledger.Ledger
	policy   domain.CooldownPolicy
	guard    *dedup.Guard
	pending  map[string]pendingClaim // confirmation token → claim
	log      *logrus.Entry
	now      func() time.Time
}

// New creates a decision orchestrator. logger may be nil.
func New(cfg Config, verifier domain.Verifier, rl *ledger.Ledger, policy domain.CooldownPolicy, guard *dedup.Guard, logger *logrus.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.ConfirmationTTL <= 0 {
		cfg.ConfirmationTTL = def.ConfirmationTTL
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = def.VerifyTimeout
	}
	if guard == nil {
		guard = dedup.New(dedup.DefaultConfig())
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{
		cfg:      cfg,
		verifier: verifier,
		ledger:   rl,
		policy:   policy,
		guard:    guard,
		pending:  make(map[string]pendingClaim),
		log:      logger.WithField("component", "orchestrator"),
		now:      time.Now,
	}
}

// SetClock overrides the time source (tests).
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// ─── Submit ─────────────────────────────────────────────────────────────────

// Submit runs one photo claim through verification and policy. A non-nil
// error means the claim reached no decision (classification fault, retryable);
// every returned Decision is terminal for this submission.
func (o *Orchestrator) Submit(ctx context.Context, userID string, imageBytes []byte, imageRef string) (Decision, error) {
	o.sweepExpired()

	if o.guard.Seen(userID, imageRef) {
		observability.Decisions.WithLabelValues(string(OutcomeDuplicate)).Inc()
		o.log.WithFields(logrus.Fields{"user": userID, "image": imageRef}).Info("duplicate photo refused")
		return Decision{
			Outcome: OutcomeDuplicate,
			Reason:  domain.ErrDuplicateSubmission.Error(),
		}, nil
	}

	verdict, err := o.verify(ctx, imageBytes)
	if err != nil {
		return Decision{}, err
	}

	if !verdict.IsEcoFriendly {
		observability.Decisions.WithLabelValues(string(OutcomeRejected)).Inc()
		reason := verdict.Reasoning
		if reason == "" {
			reason = "no eco-friendly action detected"
		}
		return Decision{Outcome: OutcomeRejected, Verdict: verdict, Reason: reason}, nil
	}

	if verdict.Confidence < o.cfg.ConfidenceThreshold {
		token := uuid.NewString()
		expires := o.now().Add(o.cfg.ConfirmationTTL)

		o.mu.Lock()
		o.pending[token] = pendingClaim{userID: userID, verdict: verdict, imageRef: imageRef, expiresAt: expires}
		o.mu.Unlock()

		observability.Decisions.WithLabelValues(string(OutcomePendingConfirmation)).Inc()
		o.log.WithFields(logrus.Fields{"user": userID, "confidence": verdict.Confidence}).
			Info("low confidence, awaiting confirmation")
		return Decision{
			Outcome:           OutcomePendingConfirmation,
			Verdict:           verdict,
			ConfirmationToken: token,
			TokenExpiresAt:    expires,
		}, nil
	}

	return o.accept(ctx, userID, verdict, imageRef), nil
}

// verify calls the classifier under the configured deadline and records
// verification metrics.
func (o *Orchestrator) verify(ctx context.Context, imageBytes []byte) (domain.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.VerifyTimeout)
	defer cancel()

	start := time.Now()
	verdict, err := o.verifier.Verify(ctx, imageBytes)
	observability.VerificationLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		observability.VerificationRequests.WithLabelValues(verifyResult(err)).Inc()
		o.log.WithError(err).Warn("verification failed")
		return domain.Verdict{}, fmt.Errorf("verify photo: %w", err)
	}
	observability.VerificationRequests.WithLabelValues("ok").Inc()
	observability.VerdictConfidence.Observe(float64(verdict.Confidence))
	return verdict, nil
}

func verifyResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrService):
		return "service_error"
	case errors.Is(err, domain.ErrParse):
		return "parse_error"
	default:
		return "network_error"
	}
}

// ─── Confirm / Decline ──────────────────────────────────────────────────────

// Confirm accepts a pending low-confidence claim. An unknown or expired token
// returns ErrConfirmationNotFound.
func (o *Orchestrator) Confirm(ctx context.Context, token string) (Decision, error) {
	o.mu.Lock()
	claim, ok := o.pending[token]
	if ok {
		delete(o.pending, token)
	}
	o.mu.Unlock()

	if !ok || o.now().After(claim.expiresAt) {
		return Decision{}, domain.ErrConfirmationNotFound
	}
	return o.accept(ctx, claim.userID, claim.verdict, claim.imageRef), nil
}

// Decline discards a pending claim. Nothing is recorded.
func (o *Orchestrator) Decline(token string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[token]; !ok {
		return domain.ErrConfirmationNotFound
	}
	delete(o.pending, token)
	return nil
}

// PendingCount reports how many claims await confirmation.
func (o *Orchestrator) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// sweepExpired drops confirmation tokens past their TTL.
func (o *Orchestrator) sweepExpired() {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	for token, claim := range o.pending {
		if now.After(claim.expiresAt) {
			delete(o.pending, token)
		}
	}
}

// ─── Acceptance path ────────────────────────────────────────────────────────

// accept gates on cooldown, then synthesizes the ledger entry from the
// catalog and records it. The cooldown check runs against current history
// strictly before any ledger mutation: a refused claim leaves the ledger
// untouched.
func (o *Orchestrator) accept(ctx context.Context, userID string, verdict domain.Verdict, imageRef string) Decision {
	now := o.now()
	snapshot := o.ledger.Snapshot(userID)

	status := domain.CheckCooldown(o.policy, verdict.Category, snapshot.Actions, now)
	if status.OnCooldown {
		observability.Decisions.WithLabelValues(string(OutcomeOnCooldown)).Inc()
		o.log.WithFields(logrus.Fields{"user": userID, "category": verdict.Category, "remaining": status.Remaining}).
			Info("claim on cooldown")
		return Decision{
			Outcome:           OutcomeOnCooldown,
			Verdict:           verdict,
			Cooldown:          &status,
			CooldownRemaining: domain.FormatCooldown(status.Remaining),
			Reason:            fmt.Sprintf("wait %s before claiming another %s action", domain.FormatCooldown(status.Remaining), verdict.Category),
		}
	}

	entry := catalog.Lookup(verdict.Category)
	action := domain.EcoAction{
		ID:          uuid.NewString(),
		Category:    entry.Category,
		DisplayName: entry.DisplayName,
		Emoji:       entry.Emoji,
		Points:      entry.Points,
		CO2Grams:    entry.CO2Grams,
		Timestamp:   now,
		ImageRef:    imageRef,
		Confidence:  verdict.Confidence,
		Reasoning:   verdict.Reasoning,
	}

	result := o.ledger.RecordAction(ctx, userID, action)
	o.guard.Remember(userID, imageRef)

	observability.Decisions.WithLabelValues(string(OutcomeAccepted)).Inc()
	observability.PointsAwarded.Add(float64(action.Points))
	o.log.WithFields(logrus.Fields{
		"user": userID, "category": action.Category, "points": action.Points, "offline": result.Offline,
	}).Info("action recorded")

	updated := o.ledger.Snapshot(userID)
	return Decision{
		Outcome: OutcomeAccepted,
		Verdict: verdict,
		Action:  &action,
		Ledger:  &updated,
		Offline: result.Offline,
	}
}

// ─── Read helpers ───────────────────────────────────────────────────────────

// Cooldowns reports the per-category cooldown status for a user.
func (o *Orchestrator) Cooldowns(userID string) map[domain.ActionCategory]domain.CooldownStatus {
	snapshot := o.ledger.Snapshot(userID)
	now := o.now()

	out := make(map[domain.ActionCategory]domain.CooldownStatus, len(domain.Categories()))
	for _, cat := range domain.Categories() {
		out[cat] = domain.CheckCooldown(o.policy, cat, snapshot.Actions, now)
	}
	return out
}
