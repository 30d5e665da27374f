package tier

import "sort"

// UnlimitedQuota is the sentinel quota for tiers with no daily cap.
const UnlimitedQuota = -1

// Policy defines the service plan attached to a tier id. Policies are
// immutable at runtime; the table is built once at startup.
type Policy struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	DailyQuota   int      `json:"daily_quota"` // -1 = unlimited
	RatePerSec   float64  `json:"rate_per_sec"`
	Burst        int      `json:"burst"`
	PriceUSD     float64  `json:"price_usd"`
	Features     []string `json:"features"`
}

// Unlimited reports whether the tier has no daily cap.
func (p Policy) Unlimited() bool {
	return p.DailyQuota == UnlimitedQuota
}

// Table is a static tier id -> policy lookup.
type Table struct {
	policies map[string]Policy

	// mostRestrictive is the fallback for unknown tier ids: the known
	// tier with the smallest finite daily quota.
	mostRestrictive Policy
}

// Defaults returns the built-in GetComplical plans.
func Defaults() []Policy {
	return []Policy{
		{
			ID:          "free",
			DisplayName: "Free",
			DailyQuota:  1000,
			RatePerSec:  10,
			Burst:       20,
			PriceUSD:    0,
			Features:    []string{"tax-dates"},
		},
		{
			ID:          "starter",
			DisplayName: "Starter",
			DailyQuota:  10000,
			RatePerSec:  50,
			Burst:       100,
			PriceUSD:    29,
			Features:    []string{"tax-dates", "filters"},
		},
		{
			ID:          "pro",
			DisplayName: "Professional",
			DailyQuota:  100000,
			RatePerSec:  200,
			Burst:       400,
			PriceUSD:    99,
			Features:    []string{"tax-dates", "filters", "bulk"},
		},
		{
			ID:          "enterprise",
			DisplayName: "Enterprise",
			DailyQuota:  UnlimitedQuota,
			RatePerSec:  1000,
			Burst:       2000,
			PriceUSD:    499,
			Features:    []string{"tax-dates", "filters", "bulk", "sla"},
		},
	}
}

// NewTable builds a lookup table from the given policies. Later entries
// override earlier ones with the same id, so config overrides can be
// appended after Defaults().
func NewTable(policies []Policy) *Table {
	t := &Table{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		t.policies[p.ID] = p
	}

	ids := make([]string, 0, len(t.policies))
	for id := range t.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := t.policies[id]
		if p.Unlimited() {
			continue
		}
		if t.mostRestrictive.ID == "" || p.DailyQuota < t.mostRestrictive.DailyQuota {
			t.mostRestrictive = p
		}
	}
	return t
}

// Get returns the policy for the tier id. Unknown ids fall back to the
// most restrictive known tier; ok is false so the caller can log the
// configuration error.
func (t *Table) Get(id string) (Policy, bool) {
	if p, ok := t.policies[id]; ok {
		return p, true
	}
	return t.mostRestrictive, false
}

// IDs returns all known tier ids in sorted order.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.policies))
	for id := range t.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
