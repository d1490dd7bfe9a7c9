package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestInvestmentStatus_CanTransitionTo(t *testing.T) {
	all := []InvestmentStatus{
		InvestmentStatusPending,
		InvestmentStatusActive,
		InvestmentStatusCompleted,
		InvestmentStatusCancelled,
		InvestmentStatusDefaulted,
	}
	legal := map[[2]InvestmentStatus]bool{
		{InvestmentStatusPending, InvestmentStatusActive}:    true,
		{InvestmentStatusPending, InvestmentStatusCancelled}: true,
		{InvestmentStatusActive, InvestmentStatusCompleted}:  true,
		{InvestmentStatusActive, InvestmentStatusDefaulted}:  true,
	}

	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			want := legal[[2]InvestmentStatus{from, to}]
			if got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestInvestmentStatus_HoldsReservation(t *testing.T) {
	cases := map[InvestmentStatus]bool{
		InvestmentStatusPending:   true,
		InvestmentStatusActive:    true,
		InvestmentStatusCompleted: false,
		InvestmentStatusCancelled: false,
		InvestmentStatusDefaulted: false,
	}
	for status, want := range cases {
		if got := status.HoldsReservation(); got != want {
			t.Errorf("%s: got %v, want %v", status, got, want)
		}
	}
}

func TestAssetStatus_CanTransitionTo(t *testing.T) {
	if !AssetStatusPending.CanTransitionTo(AssetStatusActive) {
		t.Error("pending -> active should be legal")
	}
	if !AssetStatusPaused.CanTransitionTo(AssetStatusActive) {
		t.Error("paused -> active should be legal")
	}
	if AssetStatusEnded.CanTransitionTo(AssetStatusActive) {
		t.Error("ended -> active should be illegal")
	}
	if AssetStatusPending.CanTransitionTo(AssetStatusEnded) {
		t.Error("pending -> ended should be illegal")
	}
}

func TestInvestment_ValidateRequest(t *testing.T) {
	valid := Investment{InvestorID: "inv-1", AssetID: "asset-1", Amount: decimal.NewFromInt(100), Shares: 10}
	if err := valid.ValidateRequest(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]Investment{
		"zero amount":     {InvestorID: "inv-1", AssetID: "asset-1", Amount: decimal.Zero, Shares: 10},
		"negative amount": {InvestorID: "inv-1", AssetID: "asset-1", Amount: decimal.NewFromInt(-1), Shares: 10},
		"zero shares":     {InvestorID: "inv-1", AssetID: "asset-1", Amount: decimal.NewFromInt(100)},
		"missing asset":   {InvestorID: "inv-1", Amount: decimal.NewFromInt(100), Shares: 10},
	}
	for name, inv := range cases {
		err := inv.ValidateRequest()
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: expected ValidationError, got %v", name, err)
		}
	}
}

func TestAssetMetadata_Validate(t *testing.T) {
	if err := (AssetMetadata{SchemaVersion: 1, ExpectedYieldPct: 8}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (AssetMetadata{SchemaVersion: 2}).Validate(); err == nil {
		t.Error("expected error for unsupported schema version")
	}
	if err := (AssetMetadata{SchemaVersion: 1, AreaHectares: -3}).Validate(); err == nil {
		t.Error("expected error for negative area")
	}
}

func TestChainEvent_Validate(t *testing.T) {
	ev := ChainEvent{Type: EventAssetTransferred, AssetID: "a", BlockNumber: 105, PreviousBlock: 100}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev.PreviousBlock = 105
	if err := ev.Validate(); err == nil {
		t.Error("expected error when previousBlock is not before blockNumber")
	}

	ev = ChainEvent{Type: "Unknown", AssetID: "a", BlockNumber: 1}
	if err := ev.Validate(); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if IsRetryable(NewValidationError("x", "bad")) {
		t.Error("validation errors should not be retryable")
	}
	if IsRetryable(&ChainCallError{Op: "mint", Retryable: false, Err: errors.New("rejected")}) {
		t.Error("non-retryable chain error reported retryable")
	}
	if !IsRetryable(errors.New("connection reset")) {
		t.Error("transport errors should be retryable")
	}
}
