// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import "time"

// ─── Action Types ───────────────────────────────────────────────────────────

// ActionCategory is the closed set of eco-action categories the classifier
// may report. Anything else normalizes to CategoryOther.
type ActionCategory string

const (
	CategoryBottle  ActionCategory = "bottle"
	CategoryRecycle ActionCategory = "recycle"
	CategoryBike    ActionCategory = "bike"
	CategoryCompost ActionCategory = "compost"
	CategoryOther   ActionCategory = "other"

	// CategoryTrash is never produced by the classifier. It exists only as a
	// key in the cooldown policy table, retained for forward compatibility.
	CategoryTrash ActionCategory = "trash"
)

// Categories lists the categories the classifier may produce, in display order.
func Categories() []ActionCategory {
	return []ActionCategory{CategoryBottle, CategoryRecycle, CategoryBike, CategoryCompost, CategoryOther}
}

// NormalizeCategory maps a raw classifier string onto the closed enumeration.
// Unknown values (including "trash") coerce to CategoryOther.
func NormalizeCategory(raw string) ActionCategory {
	switch ActionCategory(raw) {
	case CategoryBottle, CategoryRecycle, CategoryBike, CategoryCompost, CategoryOther:
		return ActionCategory(raw)
	default:
		return CategoryOther
	}
}

// ─── Ledger Entries ─────────────────────────────────────────────────────────

// EcoAction is a single accepted claim in the reward ledger.
// Created exactly once at acceptance time and immutable thereafter;
// this core never deletes or edits entries.
type EcoAction struct {
	ID          string         `json:"id"`
	Category    ActionCategory `json:"category"`
	DisplayName string         `json:"display_name"`
	Emoji       string         `json:"emoji"`
	Points      int            `json:"points"`
	CO2Grams    int            `json:"co2_grams"`
	Timestamp   time.Time      `json:"timestamp"`
	ImageRef    string         `json:"image_ref,omitempty"`
	Confidence  int            `json:"confidence"`
	Reasoning   string         `json:"reasoning,omitempty"`
}
