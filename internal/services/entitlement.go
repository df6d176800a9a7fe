package services

import (
	"time"

	"github.com/Codetivate/social-trading-webapp-sub000/internal/clock"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/domain"
	"github.com/Codetivate/social-trading-webapp-sub000/internal/errs"
)

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allow        bool
	ResolvedType domain.SubscriptionType
	Code         errs.Code
	Reason       string
}

func deny(code errs.Code, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// EntitlementGate decides which ticket a follower may use against a master.
// The daily ticket resets at midnight in the fixed zone UTC+resetOffset.
type EntitlementGate struct {
	clock       clock.Clock
	resetOffset time.Duration
}

func NewEntitlementGate(c clock.Clock, resetOffset time.Duration) *EntitlementGate {
	return &EntitlementGate{clock: c, resetOffset: resetOffset}
}

// DailyAvailable treats a used daily ticket as fresh again once its
// activation predates the latest reset boundary. A used flag without an
// activation time cannot be attributed to today and counts as available.
func (g *EntitlementGate) DailyAvailable(e domain.Entitlement) bool {
	if !e.DailyUsed || e.DailyActivatedAt == nil {
		return true
	}
	boundary := clock.DailyBoundary(g.clock.Now(), g.resetOffset)
	return e.DailyActivatedAt.Before(boundary)
}

func (g *EntitlementGate) Status(e domain.Entitlement) domain.EntitlementStatus {
	return domain.EntitlementStatus{
		DailyAvailable:   g.DailyAvailable(e),
		WelcomeAvailable: !e.WelcomeTrialUsed,
	}
}

// CanSubscribe evaluates the ticket rules in order. An empty requested type
// is resolved to the cheapest ticket the follower still holds.
func (g *EntitlementGate) CanSubscribe(master domain.MasterProfile, e domain.Entitlement, requested domain.SubscriptionType) Decision {
	requested = g.Resolve(master, e, requested)
	if !requested.Valid() {
		return deny(errs.CodeValidation, "unknown subscription type "+string(requested))
	}

	switch requested {
	case domain.SubscriptionDaily:
		if master.IsPaid() {
			return deny(errs.CodeEntitlementDenied, "standard ticket cannot target a paid master")
		}
		if !g.DailyAvailable(e) {
			return deny(errs.CodeEntitlementDenied, "daily ticket already used today")
		}
	case domain.SubscriptionTrial:
		if e.WelcomeTrialUsed {
			return deny(errs.CodeEntitlementDenied, "welcome trial already used")
		}
	}
	return Decision{Allow: true, ResolvedType: requested}
}

// Resolve returns requested unchanged unless it is empty, in which case the
// cheapest ticket the follower still holds is picked.
func (g *EntitlementGate) Resolve(master domain.MasterProfile, e domain.Entitlement, requested domain.SubscriptionType) domain.SubscriptionType {
	if requested != "" {
		return requested
	}
	switch {
	case master.IsPaid():
		return domain.SubscriptionPaid
	case g.DailyAvailable(e):
		return domain.SubscriptionDaily
	case !e.WelcomeTrialUsed:
		return domain.SubscriptionTrial
	default:
		return domain.SubscriptionPaid
	}
}

// Consume returns the entitlement after a successful subscribe of type t and
// whether it changed. The trial flag is never cleared.
func (g *EntitlementGate) Consume(e domain.Entitlement, t domain.SubscriptionType, now time.Time) (domain.Entitlement, bool) {
	switch t {
	case domain.SubscriptionDaily:
		e.DailyUsed = true
		e.DailyActivatedAt = &now
		return e, true
	case domain.SubscriptionTrial:
		e.WelcomeTrialUsed = true
		e.WelcomeActivatedAt = &now
		return e, true
	default:
		return e, false
	}
}
