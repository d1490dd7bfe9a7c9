package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AssetStatus represents the lifecycle state of a tokenized asset.
type AssetStatus string

const (
	AssetStatusPending AssetStatus = "pending"
	AssetStatusActive  AssetStatus = "active"
	AssetStatusPaused  AssetStatus = "paused"
	AssetStatusEnded   AssetStatus = "ended"
)

// assetTransitions lists legal asset status transitions.
var assetTransitions = map[AssetStatus][]AssetStatus{
	AssetStatusPending: {AssetStatusActive},
	AssetStatusActive:  {AssetStatusPaused, AssetStatusEnded},
	AssetStatusPaused:  {AssetStatusActive, AssetStatusEnded},
}

// String returns the string representation of the status.
func (s AssetStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value.
func (s AssetStatus) IsValid() bool {
	switch s {
	case AssetStatusPending, AssetStatusActive, AssetStatusPaused, AssetStatusEnded:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s AssetStatus) CanTransitionTo(next AssetStatus) bool {
	for _, allowed := range assetTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MetadataSchemaVersion is the current version of AssetMetadata.
const MetadataSchemaVersion = 1

// AssetMetadata is the versioned descriptive payload of an asset.
type AssetMetadata struct {
	SchemaVersion    int      `json:"schemaVersion"`
	Description      string   `json:"description,omitempty"`
	AreaHectares     float64  `json:"areaHectares,omitempty"`
	Crop             string   `json:"crop,omitempty"`
	ExpectedYieldPct float64  `json:"expectedYieldPct,omitempty"`
	Certifications   []string `json:"certifications,omitempty"`
}

// Validate checks the metadata against the supported schema.
func (m AssetMetadata) Validate() error {
	if m.SchemaVersion < 1 || m.SchemaVersion > MetadataSchemaVersion {
		return NewValidationError("metadata.schemaVersion",
			fmt.Sprintf("unsupported schema version %d", m.SchemaVersion))
	}
	if m.AreaHectares < 0 {
		return NewValidationError("metadata.areaHectares", "must not be negative")
	}
	if m.ExpectedYieldPct < 0 || m.ExpectedYieldPct > 100 {
		return NewValidationError("metadata.expectedYieldPct", "must be within [0, 100]")
	}
	return nil
}

// AssetFinancials holds aggregate monetary state of an asset.
type AssetFinancials struct {
	TotalInvestment decimal.Decimal `json:"totalInvestment"`
	TotalShares     int64           `json:"totalShares"`
	CurrentValue    decimal.Decimal `json:"currentValue"`
	Returns         decimal.Decimal `json:"returns"`
}

// Asset is a tokenized agricultural asset split into fractional shares.
type Asset struct {
	ID              string `json:"id"`
	TokenID         string `json:"tokenId,omitempty"`
	ContractAddress string `json:"contractAddress,omitempty"`
	Owner           string `json:"owner"`
	Name            string `json:"name"`
	AssetType       string `json:"assetType"`
	Location        string `json:"location"`

	TotalSupply       int64 `json:"totalSupply"`
	ReservedShares    int64 `json:"reservedShares"`    // shares held by pending and active investments
	CirculatingShares int64 `json:"circulatingShares"` // minted minus burned on-chain

	Status     AssetStatus     `json:"status"`
	Financials AssetFinancials `json:"financials"`
	Metadata   AssetMetadata   `json:"metadata"`

	// LastProcessedBlock is the cursor for strictly ordered chain events.
	LastProcessedBlock uint64 `json:"lastProcessedBlock"`
	// MetadataBlock is the cursor for metadata updates.
	MetadataBlock uint64 `json:"metadataBlock"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AvailableShares returns shares that can still be reserved.
func (a *Asset) AvailableShares() int64 {
	return a.TotalSupply - a.ReservedShares
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	c := *a
	if a.Metadata.Certifications != nil {
		c.Metadata.Certifications = append([]string(nil), a.Metadata.Certifications...)
	}
	return &c
}
