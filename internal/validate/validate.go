// Package validate assigns a final deliverability status to an email by
// combining free DNS checks with optional paid verification.
package validate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/emailcheck"
	"github.com/shpitdev/outreach-contact-pipeline/internal/metrics"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

const (
	MethodCache    = "cache"
	MethodSyntax   = "syntax"
	MethodMX       = "mx"
	MethodPaid     = "paid"
	MethodDNS      = "dns"
	MethodDNSError = "dns_error"
)

// DNS-only scoring.
const (
	dnsBaseScore       = 50
	dnsRolePenalty     = 20
	dnsFreeMailPenalty = 10
	dnsErrorScore      = 30
)

type MXChecker interface {
	HasMX(ctx context.Context, domain string) (bool, error)
}

type Verifier interface {
	Verify(ctx context.Context, email string) (provider.Verification, error)
}

// Cache stores verdicts keyed by email. *cache.ContactCache satisfies it.
type Cache interface {
	GetVerification(ctx context.Context, email string) (contact.EmailVerificationRecord, bool, error)
	SetVerification(ctx context.Context, rec contact.EmailVerificationRecord) error
}

type Result struct {
	Email        string                     `json:"email"`
	Status       contact.VerificationStatus `json:"status"`
	Score        int                        `json:"score"`
	Deliverable  bool                       `json:"deliverable"`
	APICostCents int                        `json:"api_cost_cents"`
	Method       string                     `json:"method"`
}

type Validator struct {
	mx          MXChecker
	verifier    Verifier
	verifyCost  int
	cache       Cache
	roleAliases []string
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Validator)

// WithVerifier enables paid verification at costCents per successful call.
func WithVerifier(v Verifier, costCents int) Option {
	return func(val *Validator) {
		val.verifier = v
		val.verifyCost = costCents
	}
}

func WithCache(c Cache) Option {
	return func(v *Validator) { v.cache = c }
}

func WithRoleAliases(aliases []string) Option {
	return func(v *Validator) { v.roleAliases = aliases }
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func New(mx MXChecker, opts ...Option) *Validator {
	v := &Validator{mx: mx, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// VerifyCostCents is what one paid verification is charged at.
func (v *Validator) VerifyCostCents() int { return v.verifyCost }

// CanVerify reports whether a paid verifier is configured.
func (v *Validator) CanVerify() bool { return v.verifier != nil }

// ValidateEmail never fails: provider and DNS errors degrade the verdict
// instead. allowPaid must already account for budget and candidate score.
func (v *Validator) ValidateEmail(ctx context.Context, email string, allowPaid bool) Result {
	email = contact.NormalizeEmail(email)
	logger := v.logger.With(zap.String("email_domain", contact.DomainOf(email)))

	if v.cache != nil && email != "" {
		rec, ok, err := v.cache.GetVerification(ctx, email)
		if err != nil {
			logger.Warn("validate: cache read failed", zap.String("error", redact.Secrets(err.Error())))
		} else if ok {
			return v.finish(Result{Email: email, Status: rec.Status, Score: rec.Score, Method: MethodCache})
		}
	}

	if !emailcheck.ValidSyntax(email) {
		return v.store(ctx, Result{Email: email, Status: contact.StatusInvalid, Score: 0, Method: MethodSyntax}, nil)
	}

	hasMX, err := v.mx.HasMX(ctx, contact.DomainOf(email))
	if err != nil {
		logger.Info("validate: mx lookup failed", zap.String("error", redact.Secrets(err.Error())))
		return v.finish(Result{Email: email, Status: contact.StatusUnknown, Score: dnsErrorScore, Method: MethodDNSError})
	}
	if !hasMX {
		return v.store(ctx, Result{Email: email, Status: contact.StatusInvalid, Score: 0, Method: MethodMX}, nil)
	}

	if allowPaid && v.verifier != nil {
		ver, err := v.verifier.Verify(ctx, email)
		switch {
		case err == nil:
			res := Result{Email: email, Status: ver.Status, Score: ver.Score, APICostCents: v.verifyCost, Method: MethodPaid}
			return v.store(ctx, res, map[string]any{"provider_status": ver.Raw})
		case errors.Is(err, provider.ErrDisabled):
			logger.Info("validate: paid verifier disabled")
		default:
			logger.Warn("validate: paid verification failed, using dns verdict",
				zap.String("error", redact.Secrets(err.Error())))
		}
	}

	res := Result{Email: email, Status: contact.StatusUnknown, Score: dnsBaseScore, Method: MethodDNS}
	if contact.IsGenericRoleLocal(contact.LocalPart(email), v.roleAliases) {
		res.Score -= dnsRolePenalty
		res.Status = contact.StatusRisky
	}
	if emailcheck.IsFreeProvider(contact.DomainOf(email)) {
		res.Score -= dnsFreeMailPenalty
	}
	if res.Score < 0 {
		res.Score = 0
	}
	return v.store(ctx, res, nil)
}

func (v *Validator) store(ctx context.Context, res Result, meta map[string]any) Result {
	if v.cache != nil && res.Email != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["method"] = res.Method
		err := v.cache.SetVerification(ctx, contact.EmailVerificationRecord{
			Email:      res.Email,
			Status:     res.Status,
			Score:      res.Score,
			Metadata:   meta,
			VerifiedAt: v.now().UTC(),
		})
		if err != nil {
			v.logger.Warn("validate: cache write failed", zap.String("error", redact.Secrets(err.Error())))
		}
	}
	return v.finish(res)
}

func (v *Validator) finish(res Result) Result {
	res.Deliverable = res.Status != contact.StatusInvalid
	metrics.Verifications.WithLabelValues(res.Method, string(res.Status)).Inc()
	return res
}
