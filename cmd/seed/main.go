package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/spot/internal/config"
	"github.com/xtrntr/spot/internal/db"
	"github.com/xtrntr/spot/internal/exchange"
	"github.com/xtrntr/spot/internal/models"
	"github.com/xtrntr/spot/internal/money"

	"go.uber.org/zap"
)

// Seed the database with a demo buyer, a demo seller holding BTC, a
// resting sell and a crossing buy.
func main() {
	ctx := context.Background()
	cfg := config.Load()

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	var trades int
	if err := database.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM trades").Scan(&trades); err != nil {
		log.Fatalf("Failed to check trades: %v", err)
	}
	if trades > 0 {
		fmt.Printf("Database already has %d trades. No need to seed.\n", trades)
		os.Exit(0)
	}

	buyer := ensureAccount(ctx, database, "trader1", "2000.00000000")
	seller := ensureAccount(ctx, database, "trader2", "0")

	// Give the seller BTC to reserve against.
	_, err = database.Pool.Exec(ctx,
		`INSERT INTO assets (account_id, symbol, amount, locked_amount)
		 VALUES ($1, 'BTC', '0.050000000000000000', 0)
		 ON CONFLICT (account_id, symbol) DO UPDATE SET amount = EXCLUDED.amount`,
		seller.ID)
	if err != nil {
		log.Fatalf("Failed to seed seller wallet: %v", err)
	}

	logger := zap.NewNop()
	orders := exchange.NewOrderService(database, logger)

	sell, err := orders.CreateOrder(ctx, seller.ID, exchange.CreateOrderInput{
		Symbol: "BTC", Side: "sell", Price: "94900.00000000", Quantity: "0.01",
	})
	if err != nil {
		log.Fatalf("Failed to create sell order: %v", err)
	}
	buy, err := orders.CreateOrder(ctx, buyer.ID, exchange.CreateOrderInput{
		Symbol: "BTC", Side: "buy", Price: "95000.00000000", Quantity: "0.01",
	})
	if err != nil {
		log.Fatalf("Failed to create buy order: %v", err)
	}

	fmt.Printf("Seeded accounts trader1 (id=%d) and trader2 (id=%d)\n", buyer.ID, seller.ID)
	fmt.Printf("Resting sell order %d @ %s, crossing buy order %d @ %s\n",
		sell.ID, sell.Price, buy.ID, buy.Price)
}

func ensureAccount(ctx context.Context, database *db.DB, username, balance string) *models.Account {
	acct, err := database.GetAccountByUsername(ctx, username)
	if err == nil {
		return acct
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	acct, err = database.CreateAccount(ctx, username, string(hash), money.MustParse(balance, money.USDScale))
	if err != nil {
		log.Fatalf("Failed to create account %s: %v", username, err)
	}
	return acct
}
