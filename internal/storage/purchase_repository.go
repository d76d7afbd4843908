package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpaca-lotto/internal/models"
)

// PurchaseRepository handles ticket purchase history in ClickHouse
type PurchaseRepository struct {
	db *ClickHouseDB
}

// NewPurchaseRepository creates a new purchase repository
func NewPurchaseRepository(db *ClickHouseDB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Insert inserts a single purchase record
func (r *PurchaseRepository) Insert(ctx context.Context, purchase *models.Purchase) error {
	if err := ValidateAddress(purchase.Buyer); err != nil {
		return err
	}
	purchase.Buyer = strings.ToLower(purchase.Buyer)

	query := `
		INSERT INTO purchases (
			id, lottery_id, buyer, ticket_count, gas_token, cost_usd, tx_hash, purchased_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Conn().Exec(ctx, query,
		purchase.ID,
		purchase.LotteryID,
		purchase.Buyer,
		purchase.TicketCount,
		purchase.GasToken,
		purchase.CostUSD,
		purchase.TxHash,
		purchase.PurchasedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}

	return nil
}

// BatchInsert inserts multiple purchase records in a batch
func (r *PurchaseRepository) BatchInsert(ctx context.Context, purchases []*models.Purchase) error {
	if len(purchases) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO purchases (
			id, lottery_id, buyer, ticket_count, gas_token, cost_usd, tx_hash, purchased_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, purchase := range purchases {
		if err := ValidateAddress(purchase.Buyer); err != nil {
			return fmt.Errorf("invalid buyer %s: %w", purchase.Buyer, err)
		}
		purchase.Buyer = strings.ToLower(purchase.Buyer)

		err = batch.Append(
			purchase.ID,
			purchase.LotteryID,
			purchase.Buyer,
			purchase.TicketCount,
			purchase.GasToken,
			purchase.CostUSD,
			purchase.TxHash,
			purchase.PurchasedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append purchase %s to batch: %w", purchase.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	return nil
}

// GetByLottery retrieves the most recent purchases for a lottery
func (r *PurchaseRepository) GetByLottery(ctx context.Context, lotteryID int64, limit int) ([]*models.Purchase, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, lottery_id, buyer, ticket_count, gas_token, cost_usd, tx_hash, purchased_at
		FROM purchases
		WHERE lottery_id = ?
		ORDER BY purchased_at DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, lotteryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*models.Purchase
	for rows.Next() {
		var p models.Purchase
		err := rows.Scan(
			&p.ID,
			&p.LotteryID,
			&p.Buyer,
			&p.TicketCount,
			&p.GasToken,
			&p.CostUSD,
			&p.TxHash,
			&p.PurchasedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}

	return purchases, nil
}

// GetByBuyer retrieves the most recent purchases for a buyer across lotteries
func (r *PurchaseRepository) GetByBuyer(ctx context.Context, buyer string, limit int) ([]*models.Purchase, error) {
	if err := ValidateAddress(buyer); err != nil {
		return nil, err
	}
	buyer = strings.ToLower(buyer)

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, lottery_id, buyer, ticket_count, gas_token, cost_usd, tx_hash, purchased_at
		FROM purchases
		WHERE buyer = ?
		ORDER BY purchased_at DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, buyer, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var purchases []*models.Purchase
	for rows.Next() {
		var p models.Purchase
		err := rows.Scan(
			&p.ID,
			&p.LotteryID,
			&p.Buyer,
			&p.TicketCount,
			&p.GasToken,
			&p.CostUSD,
			&p.TxHash,
			&p.PurchasedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}

	return purchases, nil
}

// CountByLottery counts purchases recorded for a lottery
func (r *PurchaseRepository) CountByLottery(ctx context.Context, lotteryID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM purchases WHERE lottery_id = ?`

	var count uint64
	row := r.db.Conn().QueryRow(ctx, query, lotteryID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count purchases: %w", err)
	}

	return int64(count), nil
}

// TicketTotals aggregates ticket counts per buyer, most tickets first.
// Backs the volume variant of the leaderboard.
func (r *PurchaseRepository) TicketTotals(ctx context.Context, limit int) ([]BuyerTotal, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT buyer, sum(ticket_count) AS total
		FROM purchases
		GROUP BY buyer
		ORDER BY total DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticket totals: %w", err)
	}
	defer rows.Close()

	var totals []BuyerTotal
	for rows.Next() {
		var buyer string
		var total uint64
		if err := rows.Scan(&buyer, &total); err != nil {
			return nil, fmt.Errorf("failed to scan ticket total: %w", err)
		}
		totals = append(totals, BuyerTotal{Buyer: buyer, Tickets: int64(total)})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticket totals: %w", err)
	}

	return totals, nil
}

// BuyerTotal is one row of the per-buyer ticket aggregation
type BuyerTotal struct {
	Buyer   string `json:"buyer"`
	Tickets int64  `json:"tickets"`
}
