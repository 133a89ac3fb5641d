package domain

import (
	"testing"
	"time"
)

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		raw  string
		want ActionCategory
	}{
		{"bottle", CategoryBottle},
		{"recycle", CategoryRecycle},
		{"bike", CategoryBike},
		{"compost", CategoryCompost},
		{"other", CategoryOther},
		{"trash", CategoryOther},   // policy-table key, not a classifier value
		{"solar", CategoryOther},   // unknown
		{"", CategoryOther},
		{"Bottle", CategoryOther},  // case sensitive on purpose
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := NormalizeCategory(tt.raw); got != tt.want {
				t.Errorf("NormalizeCategory(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-5, 0},
		{0, 0},
		{60, 60},
		{100, 100},
		{150, 100},
	}
	for _, tt := range tests {
		if got := ClampConfidence(tt.in); got != tt.want {
			t.Errorf("ClampConfidence(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMergeActions_UnionByID(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	local := []EcoAction{
		{ID: "a2", Points: 15, Timestamp: t0.Add(time.Hour)},
		{ID: "a1", Points: 10, Timestamp: t0},
	}
	remote := []EcoAction{
		{ID: "a1", Points: 10, Timestamp: t0}, // shared
		{ID: "a3", Points: 25, Timestamp: t0.Add(2 * time.Hour)},
	}

	merged := MergeActions(local, remote)
	if len(merged) != 3 {
		t.Fatalf("merged length = %d, want 3", len(merged))
	}
	// Newest first
	if merged[0].ID != "a3" || merged[1].ID != "a2" || merged[2].ID != "a1" {
		t.Errorf("merged order = %s,%s,%s, want a3,a2,a1", merged[0].ID, merged[1].ID, merged[2].ID)
	}
	// No double counting of the shared entry
	if got := SumPoints(merged); got != 50 {
		t.Errorf("SumPoints(merged) = %d, want 50", got)
	}
}

func TestMergeActions_NeverTruncates(t *testing.T) {
	a := []EcoAction{{ID: "x", Points: 10, Timestamp: time.Now()}}
	merged := MergeActions(a, nil)
	if len(merged) != 1 {
		t.Fatalf("merge with empty side dropped entries: %d", len(merged))
	}
	merged = MergeActions(nil, a)
	if len(merged) != 1 {
		t.Fatalf("merge with empty side dropped entries: %d", len(merged))
	}
}

func TestUserLedgerTotals(t *testing.T) {
	l := UserLedger{
		UserID: "u1",
		Actions: []EcoAction{
			{ID: "a1", Points: 15, CO2Grams: 100},
			{ID: "a2", Points: 25, CO2Grams: 200},
		},
	}
	l.TotalPoints = SumPoints(l.Actions)

	if l.TotalPoints != 40 {
		t.Errorf("TotalPoints = %d, want 40", l.TotalPoints)
	}
	if l.TotalCO2Grams() != 300 {
		t.Errorf("TotalCO2Grams = %d, want 300", l.TotalCO2Grams())
	}
}

func TestCO2CarKmEquivalent(t *testing.T) {
	if got := CO2CarKmEquivalent(411); got != 1 {
		t.Errorf("CO2CarKmEquivalent(411) = %d, want 1", got)
	}
	if got := CO2CarKmEquivalent(400); got != 0 {
		t.Errorf("CO2CarKmEquivalent(400) = %d, want 0", got)
	}
	if got := CO2CarKmEquivalent(1000); got != 2 {
		t.Errorf("CO2CarKmEquivalent(1000) = %d, want 2", got)
	}
}
