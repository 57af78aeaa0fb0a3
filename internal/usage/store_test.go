package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "usage_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testPricing returns a pricing table for tests.
func testPricing() map[string]Pricing {
	return map[string]Pricing{
		"gemini-3-pro-preview":   {InputPerMillion: 2.0, OutputPerMillion: 12.0},
		"gemini-3-flash-preview": {InputPerMillion: 0.3, OutputPerMillion: 2.5},
	}
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{
			Timestamp:    now,
			Project:      "promo",
			Model:        "gemini-3-pro-preview",
			InputTokens:  1000,
			OutputTokens: 500,
			CostUSD:      0.008, // 1000/1M*2 + 500/1M*12
			Role:         RoleInteractive,
		},
		{
			Timestamp:    now,
			Project:      "promo",
			Model:        "gemini-3-flash-preview",
			InputTokens:  2000,
			OutputTokens: 1000,
			CostUSD:      0.0031, // 2000/1M*0.3 + 1000/1M*2.5
			Role:         RoleAuxiliary,
			TaskName:     "summary_refresh",
		},
	}

	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start := now.Add(-1 * time.Minute)
	end := now.Add(1 * time.Minute)
	sum, err := s.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if sum.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 3000 {
		t.Errorf("TotalInputTokens = %d, want 3000", sum.TotalInputTokens)
	}
	if sum.TotalOutputTokens != 1500 {
		t.Errorf("TotalOutputTokens = %d, want 1500", sum.TotalOutputTokens)
	}
	// 0.008 + 0.0031 = 0.0111
	if diff := sum.TotalCostUSD - 0.0111; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("TotalCostUSD = %f, want ~0.0111", sum.TotalCostUSD)
	}
}

func TestSummaryByModel(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, Project: "promo", Model: "pro", InputTokens: 100, OutputTokens: 50, CostUSD: 1.0, Role: RoleInteractive},
		{Timestamp: now, Project: "promo", Model: "pro", InputTokens: 200, OutputTokens: 100, CostUSD: 2.0, Role: RoleInteractive},
		{Timestamp: now, Project: "docu", Model: "flash", InputTokens: 50, OutputTokens: 25, CostUSD: 0.5, Role: RoleAuxiliary},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start := now.Add(-1 * time.Minute)
	end := now.Add(1 * time.Minute)
	result, err := s.SummaryByModel(start, end)
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("got %d groups, want 2", len(result))
	}

	pro := result["pro"]
	if pro == nil {
		t.Fatal("missing 'pro' group")
	}
	if pro.TotalRecords != 2 {
		t.Errorf("pro.TotalRecords = %d, want 2", pro.TotalRecords)
	}
	if pro.TotalInputTokens != 300 {
		t.Errorf("pro.TotalInputTokens = %d, want 300", pro.TotalInputTokens)
	}
	if pro.TotalCostUSD != 3.0 {
		t.Errorf("pro.TotalCostUSD = %f, want 3.0", pro.TotalCostUSD)
	}

	flash := result["flash"]
	if flash == nil {
		t.Fatal("missing 'flash' group")
	}
	if flash.TotalRecords != 1 {
		t.Errorf("flash.TotalRecords = %d, want 1", flash.TotalRecords)
	}
}

func TestSummaryByRole(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, Project: "promo", Model: "m", InputTokens: 100, OutputTokens: 50, CostUSD: 1.0, Role: RoleInteractive},
		{Timestamp: now, Project: "promo", Model: "m", InputTokens: 200, OutputTokens: 100, CostUSD: 2.0, Role: RoleAuxiliary, TaskName: "summary_refresh"},
		{Timestamp: now, Project: "promo", Model: "m", InputTokens: 300, OutputTokens: 150, CostUSD: 3.0, Role: RoleAuxiliary, TaskName: "inspect_asset"},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start := now.Add(-1 * time.Minute)
	end := now.Add(1 * time.Minute)
	result, err := s.SummaryByRole(start, end)
	if err != nil {
		t.Fatalf("SummaryByRole: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("got %d groups, want 2", len(result))
	}
	if result[RoleInteractive] == nil || result[RoleAuxiliary] == nil {
		t.Fatal("missing role group")
	}
	if result[RoleAuxiliary].TotalCostUSD != 5.0 {
		t.Errorf("auxiliary cost = %f, want 5.0", result[RoleAuxiliary].TotalCostUSD)
	}
}

func TestSummaryByProject(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, Project: "promo", Model: "m", InputTokens: 100, OutputTokens: 50, CostUSD: 1.0, Role: RoleInteractive},
		{Timestamp: now, Project: "promo", Model: "m", InputTokens: 200, OutputTokens: 100, CostUSD: 2.0, Role: RoleInteractive},
		{Timestamp: now, Project: "docu", Model: "m", InputTokens: 300, OutputTokens: 150, CostUSD: 3.0, Role: RoleInteractive},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	start := now.Add(-1 * time.Minute)
	end := now.Add(1 * time.Minute)
	result, err := s.SummaryByProject(start, end)
	if err != nil {
		t.Fatalf("SummaryByProject: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("got %d groups, want 2", len(result))
	}
	promo := result["promo"]
	if promo == nil {
		t.Fatal("missing 'promo' group")
	}
	if promo.TotalRecords != 2 {
		t.Errorf("promo.TotalRecords = %d, want 2", promo.TotalRecords)
	}
	if promo.TotalCostUSD != 3.0 {
		t.Errorf("promo.TotalCostUSD = %f, want 3.0", promo.TotalCostUSD)
	}
}

func TestQueryByPeriod_Filters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	recs := []Record{
		{Timestamp: base.Add(-2 * time.Hour), Project: "promo", Model: "m", Role: RoleInteractive, CostUSD: 1.0},
		{Timestamp: base, Project: "promo", Model: "m", Role: RoleInteractive, CostUSD: 2.0},
		{Timestamp: base.Add(2 * time.Hour), Project: "promo", Model: "m", Role: RoleInteractive, CostUSD: 3.0},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	// Only the middle record should match.
	start := base.Add(-1 * time.Minute)
	end := base.Add(1 * time.Minute)
	sum, err := s.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 {
		t.Errorf("TotalRecords = %d, want 1 (only in-range)", sum.TotalRecords)
	}
	if sum.TotalCostUSD != 2.0 {
		t.Errorf("TotalCostUSD = %f, want 2.0", sum.TotalCostUSD)
	}
}

func TestSummary_EmptyDB(t *testing.T) {
	s := testStore(t)

	start := time.Now().Add(-24 * time.Hour)
	end := time.Now().Add(24 * time.Hour)
	sum, err := s.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum == nil {
		t.Fatal("Summary returned nil, want non-nil zero-value Summary")
	}
	if sum.TotalRecords != 0 {
		t.Errorf("TotalRecords = %d, want 0", sum.TotalRecords)
	}
	if sum.TotalCostUSD != 0 {
		t.Errorf("TotalCostUSD = %f, want 0", sum.TotalCostUSD)
	}
}

func TestSummaryByModel_EmptyDB(t *testing.T) {
	s := testStore(t)

	start := time.Now().Add(-24 * time.Hour)
	end := time.Now().Add(24 * time.Hour)
	result, err := s.SummaryByModel(start, end)
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if result == nil {
		t.Fatal("SummaryByModel returned nil, want empty map")
	}
	if len(result) != 0 {
		t.Errorf("got %d groups, want 0", len(result))
	}
}

func TestComputeCost(t *testing.T) {
	pricing := testPricing()

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   float64
	}{
		{"pro_normal", "gemini-3-pro-preview", 1_000_000, 100_000, 3.2},      // 2 + 1.2
		{"flash_normal", "gemini-3-flash-preview", 1_000_000, 100_000, 0.55}, // 0.3 + 0.25
		{"unknown_model", "local-experimental", 1_000_000, 1_000_000, 0},     // not in pricing
		{"zero_tokens", "gemini-3-pro-preview", 0, 0, 0},
		{"small_usage", "gemini-3-pro-preview", 1000, 500, 0.008}, // 0.002 + 0.006
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCost(tt.model, tt.input, tt.output, pricing)
			if diff := got - tt.want; diff > 0.0001 || diff < -0.0001 {
				t.Errorf("ComputeCost(%q, %d, %d) = %f, want %f", tt.model, tt.input, tt.output, got, tt.want)
			}
		})
	}
}

func TestComputeCost_NilPricing(t *testing.T) {
	got := ComputeCost("gemini-3-pro-preview", 1000, 500, nil)
	if got != 0 {
		t.Errorf("ComputeCost with nil pricing = %f, want 0", got)
	}
}

func TestRecord_AutoID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := Record{
		Timestamp: time.Now(),
		Project:   "promo",
		Model:     "m",
		Role:      RoleInteractive,
	}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	start := time.Now().Add(-1 * time.Minute)
	end := time.Now().Add(1 * time.Minute)
	sum, err := s.Summary(start, end)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 {
		t.Errorf("TotalRecords = %d, want 1", sum.TotalRecords)
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	_, err := NewStore("/nonexistent/path/usage.db")
	if err == nil {
		t.Error("NewStore() should fail for invalid path")
	}
}

func TestRecord_FillsCostFromPricing(t *testing.T) {
	s := testStore(t)
	s.SetPricing(testPricing())
	ctx := context.Background()

	now := time.Now().UTC()
	rec := Record{
		Timestamp:    now,
		Project:      "promo",
		Model:        "gemini-3-pro-preview",
		InputTokens:  1000,
		OutputTokens: 500,
		Role:         RoleInteractive,
	}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	sum, err := s.Summary(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	// 1000/1M*2 + 500/1M*12 = 0.008
	if diff := sum.TotalCostUSD - 0.008; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("TotalCostUSD = %f, want ~0.008", sum.TotalCostUSD)
	}
}

func TestRecord_UnknownModelIsFree(t *testing.T) {
	s := testStore(t)
	s.SetPricing(testPricing())
	ctx := context.Background()

	now := time.Now().UTC()
	rec := Record{
		Timestamp:    now,
		Project:      "promo",
		Model:        "gemini-experimental",
		InputTokens:  50_000,
		OutputTokens: 10_000,
		Role:         RoleInteractive,
	}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	sum, err := s.Summary(now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalCostUSD != 0 {
		t.Errorf("TotalCostUSD = %f, want 0 for unlisted model", sum.TotalCostUSD)
	}
}
