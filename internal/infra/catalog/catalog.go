// Package catalog holds the fixed table of rewardable eco-actions.
// Points, CO2 savings, display name, and emoji per category are product
// constants — the orchestrator synthesizes ledger entries from this table,
// never from classifier output.
package catalog

import "github.com/greenproof/greenproof/internal/domain"

// Entry describes the reward attached to one action category.
type Entry struct {
	Category    domain.ActionCategory
	DisplayName string
	Emoji       string
	Points      int
	CO2Grams    int
}

// Catalog is the fixed reward table.
var Catalog = []Entry{
	{domain.CategoryBottle, "Reusable Bottle", "♻️", 10, 50},
	{domain.CategoryRecycle, "Recycling", "🗑️", 15, 100},
	{domain.CategoryBike, "Bike Commute", "🚴", 25, 200},
	{domain.CategoryCompost, "Composting", "🌱", 20, 150},
	{domain.CategoryOther, "Eco-Friendly Action", "🌍", 10, 75},
}

// Lookup returns the catalog entry for a category. Unknown categories get
// the CategoryOther entry, so a lookup never fails.
func Lookup(category domain.ActionCategory) Entry {
	for _, e := range Catalog {
		if e.Category == category {
			return e
		}
	}
	return Lookup(domain.CategoryOther)
}

// All returns the entries shown on the dashboard grid (everything except
// the fallback entry).
func All() []Entry {
	out := make([]Entry, 0, len(Catalog)-1)
	for _, e := range Catalog {
		if e.Category != domain.CategoryOther {
			out = append(out, e)
		}
	}
	return out
}
