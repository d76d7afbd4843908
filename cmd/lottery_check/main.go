package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"

	"github.com/alpaca-lotto/internal/adapter"
	"github.com/alpaca-lotto/internal/types"
)

var chConn clickhouse.Conn

// purchaseStats aggregates the recorded purchases for one lottery.
type purchaseStats struct {
	Tickets   int64
	Purchases uint64
	Buyers    uint64
	LastAt    time.Time
}

// directCaller satisfies adapter.MethodCaller with plain RPC calls. The
// check tool reads a handful of lotteries once, so it bypasses the call
// budget middleware the server routes reads through.
type directCaller struct {
	client *ethclient.Client
}

func (c *directCaller) Call(ctx context.Context, method string, msg ethereum.CallMsg) ([]byte, error) {
	return c.client.CallContract(ctx, msg, nil)
}

func main() {
	lotteryFlag := flag.Int64("lottery", 0, "Specific lottery id to check (optional)")
	allFlag := flag.Bool("all", false, "Check all lotteries")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: Could not load .env file: %v\n", err)
	}

	// Connect to ClickHouse
	var err error
	chConn, err = connectClickHouse()
	if err != nil {
		fmt.Printf("Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer chConn.Close()

	reader, closeChain, err := connectChain()
	if err != nil {
		fmt.Printf("Error connecting to chain: %v\n", err)
		os.Exit(1)
	}
	defer closeChain()

	if *allFlag {
		checkAllLotteries(reader)
		return
	}

	var selectedID int64
	if *lotteryFlag > 0 {
		selectedID = *lotteryFlag
		fmt.Printf("Checking lottery #%d\n\n", selectedID)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		ids, err := reader.GetActiveLotteryIDs(ctx)
		cancel()
		if err != nil {
			fmt.Printf("Error listing active lotteries: %v\n", err)
			os.Exit(1)
		}
		if len(ids) == 0 {
			fmt.Println("No active lotteries on chain; use -lottery or -all")
			os.Exit(1)
		}
		selectedID = ids[rand.Intn(len(ids))]
		fmt.Printf("Randomly selected active lottery #%d\n\n", selectedID)
	}

	checkSingleLottery(reader, selectedID)
}

func checkAllLotteries(reader adapter.LotteryReader) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	lotteries, err := reader.GetAllLotteries(ctx)
	cancel()
	if err != nil {
		fmt.Printf("Error listing lotteries: %v\n", err)
		os.Exit(1)
	}
	if len(lotteries) == 0 {
		fmt.Println("No lotteries on chain")
		return
	}

	fmt.Printf("Checking %d lotteries...\n\n", len(lotteries))

	var matched, external, mismatched, skipped int
	var mismatchedIDs []int64

	for i, lottery := range lotteries {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		stats, err := getDBPurchases(ctx, lottery.ID)
		cancel()
		if err != nil {
			fmt.Printf("[%d/%d] Lottery #%d - ERROR getting DB purchases: %v\n", i+1, len(lotteries), lottery.ID, err)
			skipped++
			continue
		}

		diff := lottery.TicketCount - stats.Tickets
		switch {
		case diff == 0:
			fmt.Printf("[%d/%d] Lottery #%d (%s) ✅ MATCH (DB: %d tickets, Chain: %d)\n",
				i+1, len(lotteries), lottery.ID, lottery.Status, stats.Tickets, lottery.TicketCount)
			matched++
		case diff > 0:
			// Purchases made without this backend never reach ClickHouse,
			// so the chain running ahead of the DB is normal.
			fmt.Printf("[%d/%d] Lottery #%d (%s) ⚠️  EXTERNAL (DB: %d, Chain: %d, %d bought outside backend)\n",
				i+1, len(lotteries), lottery.ID, lottery.Status, stats.Tickets, lottery.TicketCount, diff)
			external++
		default:
			fmt.Printf("[%d/%d] Lottery #%d (%s) ❌ MISMATCH (DB: %d, Chain: %d, DB exceeds chain by %d)\n",
				i+1, len(lotteries), lottery.ID, lottery.Status, stats.Tickets, lottery.TicketCount, -diff)
			mismatched++
			mismatchedIDs = append(mismatchedIDs, lottery.ID)
		}

		// Small delay to avoid RPC rate limits
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Printf("\n=== Summary ===\n")
	fmt.Printf("Total: %d, Matched: %d, External: %d, Mismatched: %d, Skipped: %d\n",
		len(lotteries), matched, external, mismatched, skipped)

	if len(mismatchedIDs) > 0 {
		fmt.Printf("\nMismatched lotteries:\n")
		for _, id := range mismatchedIDs {
			fmt.Printf("  #%d\n", id)
		}
	}
}

func checkSingleLottery(reader adapter.LotteryReader, lotteryID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	lottery, err := reader.GetLottery(ctx, lotteryID)
	if err != nil {
		fmt.Printf("Error reading lottery from chain: %v\n", err)
		os.Exit(1)
	}

	stats, err := getDBPurchases(ctx, lotteryID)
	if err != nil {
		fmt.Printf("Error getting DB purchases: %v\n", err)
	}

	fmt.Printf("=== Lottery #%d: %s ===\n\n", lottery.ID, lottery.Name)

	fmt.Printf("On-Chain State:\n")
	fmt.Printf("  Status:       %s\n", lottery.Status)
	fmt.Printf("  Ticket price: %s wei (%.6f)\n", lottery.TicketPrice, weiToEth(lottery.TicketPrice))
	fmt.Printf("  Prize pool:   %s wei (%.6f)\n", lottery.PrizePool, weiToEth(lottery.PrizePool))
	fmt.Printf("  Tickets sold: %d\n", lottery.TicketCount)
	fmt.Printf("  Draw time:    %s\n", lottery.DrawTime.Format(time.RFC3339))
	if lottery.Status == types.LotteryStatusDrawn && len(lottery.Winners) > 0 {
		fmt.Printf("  Winners:\n")
		for _, winner := range lottery.Winners {
			fmt.Printf("    %s\n", winner)
		}
	}
	fmt.Println()

	fmt.Printf("Recorded Purchases (ClickHouse):\n")
	if stats == nil || stats.Purchases == 0 {
		fmt.Printf("  No recorded purchases for this lottery\n\n")
	} else {
		fmt.Printf("  Tickets:   %d\n", stats.Tickets)
		fmt.Printf("  Purchases: %d\n", stats.Purchases)
		fmt.Printf("  Buyers:    %d\n", stats.Buyers)
		fmt.Printf("  Last at:   %s\n\n", stats.LastAt.Format(time.RFC3339))
	}

	var dbTickets int64
	if stats != nil {
		dbTickets = stats.Tickets
	}
	diff := lottery.TicketCount - dbTickets

	fmt.Printf("Ticket Count Comparison (Chain vs DB):\n")
	fmt.Printf("  Difference: %d\n\n", diff)

	switch {
	case diff == 0:
		fmt.Printf("✅ MATCH: recorded purchases account for every ticket sold!\n")
	case diff > 0:
		fmt.Printf("⚠️  %d ticket(s) bought outside this backend\n", diff)
		fmt.Printf("   (Expected: direct contract purchases never reach ClickHouse)\n")
	default:
		fmt.Printf("❌ MISMATCH: DB records %d more ticket(s) than the chain reports\n", -diff)
		fmt.Printf("   (Recorded purchases that never landed on chain, or a stale read)\n")
	}

	if contract := os.Getenv("LOTTERY_CONTRACT_ADDRESS"); contract != "" {
		fmt.Printf("\nVerify on the explorer: https://etherscan.io/address/%s#readContract\n", contract)
	}
}

func connectClickHouse() (clickhouse.Conn, error) {
	host := os.Getenv("CLICKHOUSE_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("CLICKHOUSE_PORT")
	if port == "" {
		port = "9000"
	}
	db := os.Getenv("CLICKHOUSE_DB")
	if db == "" {
		db = "alpaca_lotto"
	}
	user := os.Getenv("CLICKHOUSE_USER")
	if user == "" {
		user = "default"
	}
	password := os.Getenv("CLICKHOUSE_PASSWORD")

	return clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", host, port)},
		Auth: clickhouse.Auth{
			Database: db,
			Username: user,
			Password: password,
		},
	})
}

func connectChain() (adapter.LotteryReader, func(), error) {
	endpoints := os.Getenv("CHAIN_RPC_ENDPOINTS")
	if endpoints == "" {
		endpoints = "http://localhost:8545"
	}
	contractAddr := os.Getenv("LOTTERY_CONTRACT_ADDRESS")
	if contractAddr == "" {
		return nil, nil, fmt.Errorf("LOTTERY_CONTRACT_ADDRESS not configured")
	}

	rpcURL := strings.TrimSpace(strings.Split(endpoints, ",")[0])

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}

	reader, err := adapter.NewContractAdapter(&adapter.ContractAdapterConfig{
		ContractAddress: contractAddr,
		Caller:          &directCaller{client: client},
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	return reader, client.Close, nil
}

func getDBPurchases(ctx context.Context, lotteryID int64) (*purchaseStats, error) {
	query := `
		SELECT
			sum(ticket_count) as tickets,
			count(*) as purchases,
			uniqExact(buyer) as buyers,
			max(purchased_at) as last_at
		FROM purchases
		WHERE lottery_id = ?
	`

	var stats purchaseStats
	row := chConn.QueryRow(ctx, query, lotteryID)
	if err := row.Scan(&stats.Tickets, &stats.Purchases, &stats.Buyers, &stats.LastAt); err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}

	return &stats, nil
}

func weiToEth(wei string) float64 {
	weiInt, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return 0
	}
	ethWei := new(big.Float).SetInt(weiInt)
	divisor := new(big.Float).SetFloat64(1e18)
	result, _ := new(big.Float).Quo(ethWei, divisor).Float64()
	return result
}
