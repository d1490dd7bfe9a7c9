package domain

import (
	"encoding/json"
	"fmt"
)

// EventType identifies a contract event.
type EventType string

const (
	EventAssetTokenized       EventType = "AssetTokenized"
	EventAssetTransferred     EventType = "AssetTransferred"
	EventAssetMetadataUpdated EventType = "AssetMetadataUpdated"
	EventAssetStatusChanged   EventType = "AssetStatusChanged"
	EventTransfer             EventType = "Transfer"
)

// ZeroAddress is the mint source and burn destination of Transfer events.
const ZeroAddress = "11111111111111111111111111111111"

// String returns the string representation of the type.
func (t EventType) String() string {
	return string(t)
}

// IsValid checks if the event type is known.
func (t EventType) IsValid() bool {
	switch t {
	case EventAssetTokenized, EventAssetTransferred, EventAssetMetadataUpdated,
		EventAssetStatusChanged, EventTransfer:
		return true
	}
	return false
}

// IsStrict reports whether events of this type must be applied in block order.
// Ownership, supply and status events are strict; metadata is last-writer-wins.
func (t EventType) IsStrict() bool {
	return t != EventAssetMetadataUpdated
}

// ChainEvent is an inbound contract event. It is consumed once per
// (AssetID, BlockNumber) and not persisted beyond the asset cursors.
type ChainEvent struct {
	Type        EventType `json:"type"`
	AssetID     string    `json:"assetId"`
	BlockNumber uint64    `json:"blockNumber"`
	// PreviousBlock is the block of the asset's preceding strict event, when
	// the emitter provides it. Zero means unknown.
	PreviousBlock uint64          `json:"previousBlock,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Signature     string          `json:"signature"`
	Signer        string          `json:"signer"`
}

// Validate checks the envelope fields of the event.
func (e *ChainEvent) Validate() error {
	if !e.Type.IsValid() {
		return NewValidationError("type", fmt.Sprintf("unknown event type %q", e.Type))
	}
	if e.AssetID == "" {
		return NewValidationError("assetId", "required")
	}
	if e.BlockNumber == 0 {
		return NewValidationError("blockNumber", "must be positive")
	}
	if e.PreviousBlock >= e.BlockNumber {
		return NewValidationError("previousBlock", "must precede blockNumber")
	}
	return nil
}

// TokenizedPayload is the payload of AssetTokenized.
type TokenizedPayload struct {
	TokenID         string `json:"tokenId"`
	ContractAddress string `json:"contractAddress"`
	Owner           string `json:"owner"`
	TotalSupply     int64  `json:"totalSupply"`
	Name            string `json:"name,omitempty"`
	AssetType       string `json:"assetType,omitempty"`
	Location        string `json:"location,omitempty"`
}

// TransferredPayload is the payload of AssetTransferred.
type TransferredPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// StatusChangedPayload is the payload of AssetStatusChanged.
type StatusChangedPayload struct {
	Status AssetStatus `json:"status"`
}

// TransferPayload is the payload of a share Transfer.
type TransferPayload struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Shares          int64  `json:"shares"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

// IsMint reports whether the transfer creates shares.
func (p TransferPayload) IsMint() bool {
	return p.From == ZeroAddress
}

// IsBurn reports whether the transfer destroys shares.
func (p TransferPayload) IsBurn() bool {
	return p.To == ZeroAddress
}
