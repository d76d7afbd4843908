package models

import (
	"time"

	"github.com/alpaca-lotto/internal/types"
)

// Purchase represents a ticket purchase stored in ClickHouse
type Purchase struct {
	ID          string    `json:"id" ch:"id"`
	LotteryID   int64     `json:"lotteryId" ch:"lottery_id"`
	Buyer       string    `json:"buyer" ch:"buyer"`
	TicketCount int32     `json:"ticketCount" ch:"ticket_count"`
	GasToken    *string   `json:"gasToken,omitempty" ch:"gas_token"`
	CostUSD     *string   `json:"costUsd,omitempty" ch:"cost_usd"`
	TxHash      *string   `json:"txHash,omitempty" ch:"tx_hash"`
	PurchasedAt time.Time `json:"purchasedAt" ch:"purchased_at"`
}

// ToRecord converts the row to the service-level representation
func (p *Purchase) ToRecord() *types.PurchaseRecord {
	return &types.PurchaseRecord{
		ID:          p.ID,
		LotteryID:   p.LotteryID,
		Buyer:       p.Buyer,
		TicketCount: int(p.TicketCount),
		GasToken:    p.GasToken,
		CostUSD:     p.CostUSD,
		TxHash:      p.TxHash,
		PurchasedAt: p.PurchasedAt,
	}
}

// FromPurchaseRecord creates a row from the service-level representation
func FromPurchaseRecord(record *types.PurchaseRecord) *Purchase {
	return &Purchase{
		ID:          record.ID,
		LotteryID:   record.LotteryID,
		Buyer:       record.Buyer,
		TicketCount: int32(record.TicketCount),
		GasToken:    record.GasToken,
		CostUSD:     record.CostUSD,
		TxHash:      record.TxHash,
		PurchasedAt: record.PurchasedAt,
	}
}
