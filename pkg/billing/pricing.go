package billing

import "github.com/doorstep-crm/doorstep/pkg/orgs"

// PlanPricing is the monthly price card for one tier. All amounts in
// euro cents.
type PlanPricing struct {
	BaseCents           int64
	PerSeatCents        int64
	IncludedCallMinutes int64
	PerExtraMinuteCents int64
}

// PricingFor returns the price card for a plan tier. Unknown tiers
// price as starter, mirroring the quota defaults.
func PricingFor(tier orgs.PlanTier) PlanPricing {
	switch tier {
	case orgs.PlanGrowth:
		return PlanPricing{BaseCents: 14900, PerSeatCents: 1900, IncludedCallMinutes: 2000, PerExtraMinuteCents: 9}
	case orgs.PlanScale:
		return PlanPricing{BaseCents: 49900, PerSeatCents: 1500, IncludedCallMinutes: 20000, PerExtraMinuteCents: 6}
	default:
		return PlanPricing{BaseCents: 4900, PerSeatCents: 2400, IncludedCallMinutes: 300, PerExtraMinuteCents: 12}
	}
}

// MinutesFromSeconds rounds dialed seconds up to billable minutes
func MinutesFromSeconds(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}
