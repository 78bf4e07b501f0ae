package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletProfile holds the two-tier token balance of a single user.
//
// VirtualBalance is the off-chain ledger balance accumulated from rewards
// before any mint; BlockchainBalance mirrors what has been minted on-chain
// for the user's wallet. A successful settlement moves value from the first
// to the second; their sum only decreases through withdrawals.
type WalletProfile struct {
	UserID            string          `json:"userId"`
	WalletAddress     *string         `json:"walletAddress,omitempty"`
	VirtualBalance    decimal.Decimal `json:"virtualBalance"`
	BlockchainBalance decimal.Decimal `json:"blockchainBalance"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// HasWallet reports whether the user has registered a wallet address.
func (p *WalletProfile) HasWallet() bool {
	return p.WalletAddress != nil && *p.WalletAddress != ""
}
