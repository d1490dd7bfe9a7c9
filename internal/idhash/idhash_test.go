package idhash

import "testing"

func TestRefs_Format(t *testing.T) {
	tests := []struct {
		name string
		got  string
	}{
		{"InvestmentRef", InvestmentRef(42)},
		{"TokenizeRef", TokenizeRef("asset-1")},
		{"FailedTxHash", FailedTxHash("ref")},
		{"EventTxHash", EventTxHash("asset-1", 100, "AssetTransferred")},
		{"DistributionJobID", DistributionJobID("asset-1", "2026-Q1")},
		{"PayoutKey", PayoutKey("asset-1", "2026-Q1", 7)},
		{"TransferRef", TransferRef("asset-1", "req-1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.got) != 64 {
				t.Errorf("len = %d, want 64", len(tt.got))
			}
			for _, c := range tt.got {
				if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
					t.Errorf("invalid hex character: %c", c)
				}
			}
		})
	}
}

func TestRefs_Determinism(t *testing.T) {
	for i := 0; i < 10; i++ {
		if PayoutKey("a", "p", 1) != PayoutKey("a", "p", 1) {
			t.Fatal("PayoutKey is not deterministic")
		}
		if InvestmentRef(5) != InvestmentRef(5) {
			t.Fatal("InvestmentRef is not deterministic")
		}
	}
}

func TestRefs_DifferentInputs(t *testing.T) {
	base := PayoutKey("asset-1", "2026-Q1", 1)

	if base == PayoutKey("asset-2", "2026-Q1", 1) {
		t.Error("Different asset should produce different key")
	}
	if base == PayoutKey("asset-1", "2026-Q2", 1) {
		t.Error("Different period should produce different key")
	}
	if base == PayoutKey("asset-1", "2026-Q1", 2) {
		t.Error("Different investment should produce different key")
	}

	// Namespaces never collide for the same inputs
	if DistributionJobID("asset-1", "2026-Q1") == PayoutKey("asset-1", "2026-Q1", 0) {
		t.Error("Job id and payout key collide")
	}
	if InvestmentRef(1) == FailedTxHash(InvestmentRef(1)) {
		t.Error("Failed hash equals its reference")
	}
}
