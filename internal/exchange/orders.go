// Package exchange implements the order reservation service and the
// matching and settlement engine. Every mutating operation runs as one
// serializable transaction holding exclusive row locks, acquired in a
// single global order: order rows by id, then account rows by id, then
// wallet rows by id.
package exchange

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xtrntr/spot/internal/db"
	"github.com/xtrntr/spot/internal/fees"
	"github.com/xtrntr/spot/internal/models"
	"github.com/xtrntr/spot/internal/money"
)

// OrderService creates orders, reserving funds or assets up front, and
// cancels them, releasing the reservation. Reservations are what make a
// later settlement unable to double-spend.
type OrderService struct {
	db  *db.DB
	log *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(database *db.DB, log *zap.Logger) *OrderService {
	return &OrderService{db: database, log: log}
}

// CreateOrderInput carries the raw request fields. Price and quantity stay
// strings until the fixed-point parser has validated them.
type CreateOrderInput struct {
	Symbol   string
	Side     string
	Price    string
	Quantity string
}

// CreateOrder validates the input and creates an OPEN order, decrementing
// the buyer's balance or the seller's available asset amount inside one
// transaction.
func (s *OrderService) CreateOrder(ctx context.Context, accountID int64, in CreateOrderInput) (*models.Order, error) {
	symbol, err := models.ParseSymbol(in.Symbol)
	if err != nil {
		return nil, &ValidationError{Field: "symbol", Message: err.Error()}
	}
	side, err := models.ParseSide(in.Side)
	if err != nil {
		return nil, &ValidationError{Field: "side", Message: err.Error()}
	}
	price, err := money.Parse(in.Price, money.USDScale)
	if err != nil {
		return nil, &ValidationError{Field: "price", Message: "must be a numeric string"}
	}
	if price.Sign() <= 0 {
		return nil, invalidf("price", "must be positive")
	}
	quantity, err := money.Parse(in.Quantity, money.AssetScale)
	if err != nil {
		return nil, &ValidationError{Field: "quantity", Message: "must be a numeric string"}
	}
	if quantity.Sign() <= 0 {
		return nil, invalidf("quantity", "must be positive")
	}

	var order *models.Order
	err = s.db.RunInTx(ctx, func(tx pgx.Tx) error {
		var txErr error
		if side == models.SideBuy {
			order, txErr = s.createBuyOrder(ctx, tx, accountID, symbol, price, quantity)
		} else {
			order, txErr = s.createSellOrder(ctx, tx, accountID, symbol, price, quantity)
		}
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("account_id", accountID),
		zap.String("symbol", string(symbol)),
		zap.String("side", side.String()),
		zap.String("price", price.String()),
		zap.String("quantity", quantity.String()))
	return order, nil
}

// createBuyOrder reserves volume plus fee from the buyer's USD balance.
func (s *OrderService) createBuyOrder(ctx context.Context, tx pgx.Tx, accountID int64, symbol models.Symbol, price, quantity money.Dec) (*models.Order, error) {
	acct, err := s.db.LockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	lockTotal := fees.Total(price, quantity, money.USDScale)
	if !money.GTE(acct.BalanceUSD, lockTotal, money.USDScale) {
		return nil, invalidf("balance_usd", "insufficient USD balance")
	}

	newBalance := money.Sub(acct.BalanceUSD, lockTotal, money.USDScale)
	if err := s.db.UpdateAccountBalance(ctx, tx, acct.ID, newBalance); err != nil {
		return nil, err
	}

	return s.db.InsertOrder(ctx, tx, &models.Order{
		AccountID: accountID,
		Symbol:    symbol,
		Side:      models.SideBuy,
		Status:    models.StatusOpen,
		Price:     price,
		Quantity:  quantity,
		LockedUSD: lockTotal,
	})
}

// createSellOrder moves quantity from the seller's available amount to its
// locked amount. The wallet is created empty on first use, in which case
// the sufficiency check fails.
func (s *OrderService) createSellOrder(ctx context.Context, tx pgx.Tx, accountID int64, symbol models.Symbol, price, quantity money.Dec) (*models.Order, error) {
	asset, err := s.db.LockAsset(ctx, tx, accountID, symbol)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		created, err := s.db.CreateAsset(ctx, tx, accountID, symbol)
		if err != nil {
			return nil, err
		}
		if asset, err = s.db.LockAssetByID(ctx, tx, created.ID); err != nil {
			return nil, err
		}
	}

	if !money.GTE(asset.Amount, quantity, money.AssetScale) {
		return nil, invalidf("quantity", "insufficient %s balance", symbol)
	}

	newAmount := money.Sub(asset.Amount, quantity, money.AssetScale)
	newLocked := money.Add(asset.LockedAmount, quantity, money.AssetScale)
	if err := s.db.UpdateAssetBalances(ctx, tx, asset.ID, newAmount, newLocked); err != nil {
		return nil, err
	}

	return s.db.InsertOrder(ctx, tx, &models.Order{
		AccountID: accountID,
		Symbol:    symbol,
		Side:      models.SideSell,
		Status:    models.StatusOpen,
		Price:     price,
		Quantity:  quantity,
		LockedUSD: money.Zero(money.USDScale),
	})
}

// CancelOrder releases an OPEN order's reservation and transitions it to
// CANCELLED. Cancellation and matching on the same order are mutually
// exclusive: both start by locking the order row and checking it is still
// open, so whichever commits first invalidates the other.
func (s *OrderService) CancelOrder(ctx context.Context, accountID, orderID int64) (*models.Order, error) {
	var cancelled *models.Order
	err := s.db.RunInTx(ctx, func(tx pgx.Tx) error {
		order, err := s.db.LockOrderOwned(ctx, tx, orderID, accountID)
		if err != nil {
			return err
		}
		if order == nil {
			return invalidf("order", "not found")
		}
		if !order.IsOpen() {
			return invalidf("order", "is not open")
		}

		switch order.Side {
		case models.SideBuy:
			acct, err := s.db.LockAccount(ctx, tx, order.AccountID)
			if err != nil {
				return err
			}
			refunded := money.Add(acct.BalanceUSD, order.LockedUSD, money.USDScale)
			if err := s.db.UpdateAccountBalance(ctx, tx, acct.ID, refunded); err != nil {
				return err
			}
		case models.SideSell:
			asset, err := s.db.LockAsset(ctx, tx, order.AccountID, order.Symbol)
			if err != nil {
				return err
			}
			if asset == nil || !money.GTE(asset.LockedAmount, order.Quantity, money.AssetScale) {
				return &IntegrityError{Message: "seller locked amount does not cover open order"}
			}
			newLocked := money.Sub(asset.LockedAmount, order.Quantity, money.AssetScale)
			newAmount := money.Add(asset.Amount, order.Quantity, money.AssetScale)
			if err := s.db.UpdateAssetBalances(ctx, tx, asset.ID, newAmount, newLocked); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := s.db.MarkOrderCancelled(ctx, tx, order.ID, now); err != nil {
			return err
		}

		order.Status = models.StatusCancelled
		order.CancelledAt = &now
		order.LockedUSD = money.Zero(money.USDScale)
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order cancelled",
		zap.Int64("order_id", cancelled.ID),
		zap.Int64("account_id", accountID))
	return cancelled, nil
}
