package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtrntr/spot/internal/models"
	"github.com/xtrntr/spot/internal/money"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// txRetries bounds automatic retries on transient contention.
const txRetries = 3

// lockTimeout bounds FOR UPDATE waits so no transaction blocks forever.
const lockTimeout = "3s"

// RunInTx executes fn inside one serializable transaction with a bounded
// lock wait. Serialization conflicts (40001) and lock timeouts (55P03) are
// retried up to txRetries times; any other failure rolls back and returns
// immediately.
func (db *DB) RunInTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetries; attempt++ {
		err := db.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", txRetries, lastErr)
}

func (db *DB) runOnce(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '"+lockTimeout+"'"); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsTransient reports whether err is a serialization conflict or a lock
// timeout, the only failures worth retrying.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "55P03"
}

const orderCols = "id, account_id, symbol, side, status, price::text, quantity::text, locked_usd::text, filled_at, cancelled_at, created_at"

// scanOrder scans one orders row, parsing numeric columns at their ledger
// scales.
func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o                  models.Order
		price, qty, locked string
	)
	err := row.Scan(&o.ID, &o.AccountID, &o.Symbol, &o.Side, &o.Status,
		&price, &qty, &locked, &o.FilledAt, &o.CancelledAt, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if o.Price, err = money.Parse(price, money.USDScale); err != nil {
		return nil, fmt.Errorf("failed to parse order price: %w", err)
	}
	if o.Quantity, err = money.Parse(qty, money.AssetScale); err != nil {
		return nil, fmt.Errorf("failed to parse order quantity: %w", err)
	}
	if o.LockedUSD, err = money.Parse(locked, money.USDScale); err != nil {
		return nil, fmt.Errorf("failed to parse order locked_usd: %w", err)
	}
	return &o, nil
}

// CreateAccount inserts a new account with the given starting balance.
func (db *DB) CreateAccount(ctx context.Context, username, passwordHash string, balance money.Dec) (*models.Account, error) {
	acct := &models.Account{}
	var bal string
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO accounts (username, password_hash, balance_usd) VALUES ($1, $2, $3) RETURNING id, username, password_hash, balance_usd::text, created_at",
		username, passwordHash, balance.String()).Scan(&acct.ID, &acct.Username, &acct.PasswordHash, &bal, &acct.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	if acct.BalanceUSD, err = money.Parse(bal, money.USDScale); err != nil {
		return nil, err
	}
	return acct, nil
}

// GetAccountByUsername retrieves an account by username
func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return db.getAccount(ctx, "username = $1", username)
}

// GetAccount retrieves an account by id
func (db *DB) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	return db.getAccount(ctx, "id = $1", id)
}

func (db *DB) getAccount(ctx context.Context, where string, arg any) (*models.Account, error) {
	acct := &models.Account{}
	var bal string
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, balance_usd::text, created_at FROM accounts WHERE "+where,
		arg).Scan(&acct.ID, &acct.Username, &acct.PasswordHash, &bal, &acct.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if acct.BalanceUSD, err = money.Parse(bal, money.USDScale); err != nil {
		return nil, err
	}
	return acct, nil
}

// LockAccount acquires an exclusive row lock on the account for the
// duration of tx. The account must exist.
func (db *DB) LockAccount(ctx context.Context, tx pgx.Tx, id int64) (*models.Account, error) {
	acct := &models.Account{}
	var bal string
	err := tx.QueryRow(ctx,
		"SELECT id, username, password_hash, balance_usd::text, created_at FROM accounts WHERE id = $1 FOR UPDATE",
		id).Scan(&acct.ID, &acct.Username, &acct.PasswordHash, &bal, &acct.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %d: %w", id, err)
	}
	if acct.BalanceUSD, err = money.Parse(bal, money.USDScale); err != nil {
		return nil, err
	}
	return acct, nil
}

// UpdateAccountBalance persists a new balance for a locked account row.
func (db *DB) UpdateAccountBalance(ctx context.Context, tx pgx.Tx, id int64, balance money.Dec) error {
	_, err := tx.Exec(ctx, "UPDATE accounts SET balance_usd = $1 WHERE id = $2", balance.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	return nil
}

const assetCols = "id, account_id, symbol, amount::text, locked_amount::text"

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var (
		a              models.Asset
		amount, locked string
	)
	err := row.Scan(&a.ID, &a.AccountID, &a.Symbol, &amount, &locked)
	if err != nil {
		return nil, err
	}
	if a.Amount, err = money.Parse(amount, money.AssetScale); err != nil {
		return nil, fmt.Errorf("failed to parse asset amount: %w", err)
	}
	if a.LockedAmount, err = money.Parse(locked, money.AssetScale); err != nil {
		return nil, fmt.Errorf("failed to parse asset locked_amount: %w", err)
	}
	return &a, nil
}

// ListAssets retrieves every wallet owned by an account.
func (db *DB) ListAssets(ctx context.Context, accountID int64) ([]models.Asset, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+assetCols+" FROM assets WHERE account_id = $1 ORDER BY symbol", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// LockAsset locks the (account, symbol) wallet row, returning nil when no
// such wallet exists.
func (db *DB) LockAsset(ctx context.Context, tx pgx.Tx, accountID int64, symbol models.Symbol) (*models.Asset, error) {
	a, err := scanAsset(tx.QueryRow(ctx,
		"SELECT "+assetCols+" FROM assets WHERE account_id = $1 AND symbol = $2 FOR UPDATE",
		accountID, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock asset: %w", err)
	}
	return a, nil
}

// LockAssetByID locks a wallet row by primary key.
func (db *DB) LockAssetByID(ctx context.Context, tx pgx.Tx, id int64) (*models.Asset, error) {
	a, err := scanAsset(tx.QueryRow(ctx,
		"SELECT "+assetCols+" FROM assets WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock asset %d: %w", id, err)
	}
	return a, nil
}

// GetAssetID returns the wallet id for (account, symbol) without locking,
// or 0 when the wallet does not exist. Used to compute the global wallet
// lock order before any wallet lock is taken.
func (db *DB) GetAssetID(ctx context.Context, tx pgx.Tx, accountID int64, symbol models.Symbol) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		"SELECT id FROM assets WHERE account_id = $1 AND symbol = $2",
		accountID, symbol).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get asset id: %w", err)
	}
	return id, nil
}

// CreateAsset inserts a zero-balance wallet for (account, symbol).
func (db *DB) CreateAsset(ctx context.Context, tx pgx.Tx, accountID int64, symbol models.Symbol) (*models.Asset, error) {
	a, err := scanAsset(tx.QueryRow(ctx,
		"INSERT INTO assets (account_id, symbol, amount, locked_amount) VALUES ($1, $2, 0, 0) RETURNING "+assetCols,
		accountID, symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}
	return a, nil
}

// UpdateAssetBalances persists new available/locked amounts for a locked
// wallet row.
func (db *DB) UpdateAssetBalances(ctx context.Context, tx pgx.Tx, id int64, amount, locked money.Dec) error {
	_, err := tx.Exec(ctx,
		"UPDATE assets SET amount = $1, locked_amount = $2 WHERE id = $3",
		amount.String(), locked.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update asset balances: %w", err)
	}
	return nil
}

// InsertOrder inserts a new order and returns it with its id and creation
// timestamp.
func (db *DB) InsertOrder(ctx context.Context, tx pgx.Tx, o *models.Order) (*models.Order, error) {
	out, err := scanOrder(tx.QueryRow(ctx,
		"INSERT INTO orders (account_id, symbol, side, status, price, quantity, locked_usd) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+orderCols,
		o.AccountID, o.Symbol, o.Side, o.Status, o.Price.String(), o.Quantity.String(), o.LockedUSD.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return out, nil
}

// LockOrder locks an order row by id, returning nil when it does not exist.
func (db *DB) LockOrder(ctx context.Context, tx pgx.Tx, id int64) (*models.Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx,
		"SELECT "+orderCols+" FROM orders WHERE id = $1 FOR UPDATE", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order %d: %w", id, err)
	}
	return o, nil
}

// LockOrderOwned locks an order row by id and owner, returning nil when no
// such order exists for that account.
func (db *DB) LockOrderOwned(ctx context.Context, tx pgx.Tx, id, accountID int64) (*models.Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx,
		"SELECT "+orderCols+" FROM orders WHERE id = $1 AND account_id = $2 FOR UPDATE", id, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order %d: %w", id, err)
	}
	return o, nil
}

// LockBestCounterOrder selects and locks the single best-ranked open
// counter-order for target: same symbol, opposite side, price-compatible,
// ordered by best price, then earliest creation, then lowest id. Returns
// nil when no candidate exists.
func (db *DB) LockBestCounterOrder(ctx context.Context, tx pgx.Tx, target *models.Order) (*models.Order, error) {
	var query string
	if target.Side == models.SideBuy {
		// Search resting sells at or below the buy limit, cheapest first.
		query = "SELECT " + orderCols + " FROM orders WHERE symbol = $1 AND side = $2 AND status = $3 AND id <> $4 AND price <= $5 ORDER BY price ASC, created_at ASC, id ASC LIMIT 1 FOR UPDATE"
	} else {
		// Search resting buys at or above the sell limit, dearest first.
		query = "SELECT " + orderCols + " FROM orders WHERE symbol = $1 AND side = $2 AND status = $3 AND id <> $4 AND price >= $5 ORDER BY price DESC, created_at ASC, id ASC LIMIT 1 FOR UPDATE"
	}

	o, err := scanOrder(tx.QueryRow(ctx, query,
		target.Symbol, target.Side.Opposite(), models.StatusOpen, target.ID, target.Price.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock counter order: %w", err)
	}
	return o, nil
}

// MarkOrderFilled transitions a locked order to FILLED at the shared
// settlement timestamp and zeroes its remaining USD reservation.
func (db *DB) MarkOrderFilled(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error {
	_, err := tx.Exec(ctx,
		"UPDATE orders SET status = $1, filled_at = $2, locked_usd = 0 WHERE id = $3",
		models.StatusFilled, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark order filled: %w", err)
	}
	return nil
}

// MarkOrderCancelled transitions a locked order to CANCELLED and zeroes its
// USD reservation.
func (db *DB) MarkOrderCancelled(ctx context.Context, tx pgx.Tx, id int64, at time.Time) error {
	_, err := tx.Exec(ctx,
		"UPDATE orders SET status = $1, cancelled_at = $2, locked_usd = 0 WHERE id = $3",
		models.StatusCancelled, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark order cancelled: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by id without locking.
func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, err := scanOrder(db.Pool.QueryRow(ctx,
		"SELECT "+orderCols+" FROM orders WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// ListOpenOrders retrieves the OPEN orders for one symbol and side, ranked
// by the same priority key the matcher uses.
func (db *DB) ListOpenOrders(ctx context.Context, symbol models.Symbol, side models.Side) ([]models.Order, error) {
	dir := "ASC"
	if side == models.SideBuy {
		dir = "DESC"
	}
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderCols+" FROM orders WHERE symbol = $1 AND side = $2 AND status = $3 ORDER BY price "+dir+", created_at ASC, id ASC",
		symbol, side, models.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// OrderFilter narrows ListAccountOrders. Zero values mean no filter.
type OrderFilter struct {
	Symbol models.Symbol
	Side   models.Side
	Status models.Status
	Limit  int
}

// ListAccountOrders retrieves an account's orders, newest first.
func (db *DB) ListAccountOrders(ctx context.Context, accountID int64, f OrderFilter) ([]models.Order, error) {
	query := "SELECT " + orderCols + " FROM orders WHERE account_id = $1"
	args := []any{accountID}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if f.Side != 0 {
		args = append(args, f.Side)
		query += fmt.Sprintf(" AND side = $%d", len(args))
	}
	if f.Status != 0 {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list account orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

const tradeCols = "id, symbol, price::text, quantity::text, usd_volume::text, fee_usd::text, buy_order_id, sell_order_id, buyer_id, seller_id, created_at"

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var (
		t                       models.Trade
		price, qty, volume, fee string
	)
	err := row.Scan(&t.ID, &t.Symbol, &price, &qty, &volume, &fee,
		&t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.Price, err = money.Parse(price, money.USDScale); err != nil {
		return nil, err
	}
	if t.Quantity, err = money.Parse(qty, money.AssetScale); err != nil {
		return nil, err
	}
	if t.USDVolume, err = money.Parse(volume, money.USDScale); err != nil {
		return nil, err
	}
	if t.FeeUSD, err = money.Parse(fee, money.USDScale); err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTrade persists the immutable settlement record.
func (db *DB) InsertTrade(ctx context.Context, tx pgx.Tx, t *models.Trade) (*models.Trade, error) {
	out, err := scanTrade(tx.QueryRow(ctx,
		"INSERT INTO trades (symbol, price, quantity, usd_volume, fee_usd, buy_order_id, sell_order_id, buyer_id, seller_id) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING "+tradeCols,
		t.Symbol, t.Price.String(), t.Quantity.String(), t.USDVolume.String(), t.FeeUSD.String(),
		t.BuyOrderID, t.SellOrderID, t.BuyerID, t.SellerID))
	if err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}
	return out, nil
}

// ListAccountTrades retrieves the trades an account participated in,
// newest first.
func (db *DB) ListAccountTrades(ctx context.Context, accountID int64) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+tradeCols+" FROM trades WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC, id DESC",
		accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list account trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}
