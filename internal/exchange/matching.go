package exchange

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xtrntr/spot/internal/db"
	"github.com/xtrntr/spot/internal/fees"
	"github.com/xtrntr/spot/internal/models"
	"github.com/xtrntr/spot/internal/money"
	"github.com/xtrntr/spot/internal/notify"
)

// MatchingService settles a newly-submitted order against at most one
// resting counter-order. A match requires exactly equal quantities; the
// trade settles at the resting order's price.
type MatchingService struct {
	db       *db.DB
	notifier notify.Notifier
	log      *zap.Logger
}

// NewMatchingService creates a new matching service
func NewMatchingService(database *db.DB, notifier notify.Notifier, log *zap.Logger) *MatchingService {
	return &MatchingService{db: database, notifier: notifier, log: log}
}

// AttemptMatch tries to settle the order once. It is idempotent: invoked
// for a missing, filled or cancelled order it is a no-op, so the external
// scheduler may deliver the trigger more than once and out of order. A nil
// trade with a nil error means no eligible counter-order existed.
//
// Settlement notifications are handed off only after the transaction has
// committed.
func (s *MatchingService) AttemptMatch(ctx context.Context, orderID int64) (*models.Trade, error) {
	var trade *models.Trade
	err := s.db.RunInTx(ctx, func(tx pgx.Tx) error {
		t, err := s.attemptMatch(ctx, tx, orderID)
		trade = t
		return err
	})
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, nil
	}

	s.log.Info("orders matched",
		zap.Int64("trade_id", trade.ID),
		zap.Int64("buy_order_id", trade.BuyOrderID),
		zap.Int64("sell_order_id", trade.SellOrderID),
		zap.String("symbol", string(trade.Symbol)),
		zap.String("price", trade.Price.String()),
		zap.String("quantity", trade.Quantity.String()))

	s.notifyCounterparties(ctx, trade)
	return trade, nil
}

func (s *MatchingService) attemptMatch(ctx context.Context, tx pgx.Tx, orderID int64) (*models.Trade, error) {
	target, err := s.db.LockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if target == nil || !target.IsOpen() {
		return nil, nil
	}

	counter, err := s.db.LockBestCounterOrder(ctx, tx, target)
	if err != nil {
		return nil, err
	}
	if counter == nil || !counter.IsOpen() {
		return nil, nil
	}
	// No partial fills: a quantity mismatch is not a match, not an error.
	if money.Cmp(counter.Quantity, target.Quantity, money.AssetScale) != 0 {
		return nil, nil
	}

	buyOrder, sellOrder := target, counter
	if target.Side == models.SideSell {
		buyOrder, sellOrder = counter, target
	}

	// The resting order sets the price: the incoming order gets price
	// improvement whenever its limit was more generous.
	price := counter.Price
	quantity := buyOrder.Quantity

	volume := fees.Volume(price, quantity, money.USDScale)
	fee := fees.Fee(volume, money.USDScale)
	actualTotal := fees.Total(price, quantity, money.USDScale)

	accounts, err := s.lockAccounts(ctx, tx, buyOrder.AccountID, sellOrder.AccountID)
	if err != nil {
		return nil, err
	}
	buyer := accounts[buyOrder.AccountID]
	seller := accounts[sellOrder.AccountID]

	sellerWallet, buyerWallet, err := s.lockWallets(ctx, tx, sellOrder.AccountID, buyOrder.AccountID, buyOrder.Symbol)
	if err != nil {
		return nil, err
	}

	// Both invariants were established by the reservation service when the
	// orders were created; a violation here means the ledger is corrupt.
	if !money.GTE(sellerWallet.LockedAmount, quantity, money.AssetScale) {
		return nil, &IntegrityError{Message: "seller locked amount does not cover trade quantity"}
	}
	if !money.GTE(buyOrder.LockedUSD, actualTotal, money.USDScale) {
		return nil, &IntegrityError{Message: "buyer locked USD does not cover settlement total"}
	}

	sellerWallet.LockedAmount = money.Sub(sellerWallet.LockedAmount, quantity, money.AssetScale)
	buyerWallet.Amount = money.Add(buyerWallet.Amount, quantity, money.AssetScale)
	seller.BalanceUSD = money.Add(seller.BalanceUSD, volume, money.USDScale)

	// Refund the price-improvement overpayment, if any.
	refund := money.Sub(buyOrder.LockedUSD, actualTotal, money.USDScale)
	if refund.Sign() > 0 {
		buyer.BalanceUSD = money.Add(buyer.BalanceUSD, refund, money.USDScale)
	}

	for _, acct := range accounts {
		if err := s.db.UpdateAccountBalance(ctx, tx, acct.ID, acct.BalanceUSD); err != nil {
			return nil, err
		}
	}
	wallets := map[int64]*models.Asset{sellerWallet.ID: sellerWallet, buyerWallet.ID: buyerWallet}
	for _, w := range wallets {
		if err := s.db.UpdateAssetBalances(ctx, tx, w.ID, w.Amount, w.LockedAmount); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if err := s.db.MarkOrderFilled(ctx, tx, buyOrder.ID, now); err != nil {
		return nil, err
	}
	if err := s.db.MarkOrderFilled(ctx, tx, sellOrder.ID, now); err != nil {
		return nil, err
	}

	return s.db.InsertTrade(ctx, tx, &models.Trade{
		Symbol:      buyOrder.Symbol,
		Price:       price,
		Quantity:    quantity,
		USDVolume:   volume,
		FeeUSD:      fee,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		BuyerID:     buyer.ID,
		SellerID:    seller.ID,
	})
}

// lockAccounts locks the distinct account rows in ascending id order so no
// two settlements can deadlock on each other. A self-trade maps both sides
// to the same record.
func (s *MatchingService) lockAccounts(ctx context.Context, tx pgx.Tx, ids ...int64) (map[int64]*models.Account, error) {
	distinct := dedupeSorted(ids)
	out := make(map[int64]*models.Account, len(distinct))
	for _, id := range distinct {
		acct, err := s.db.LockAccount(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out[id] = acct
	}
	return out, nil
}

// lockWallets locks the seller's and buyer's wallet rows for the traded
// symbol in ascending wallet-id order. The seller wallet must exist (the
// reservation created it); the buyer wallet is created empty if absent and
// re-locked after creation. A fresh row takes the highest id, which keeps
// the lock order consistent.
func (s *MatchingService) lockWallets(ctx context.Context, tx pgx.Tx, sellerID, buyerID int64, symbol models.Symbol) (sellerWallet, buyerWallet *models.Asset, err error) {
	sellerWalletID, err := s.db.GetAssetID(ctx, tx, sellerID, symbol)
	if err != nil {
		return nil, nil, err
	}
	if sellerWalletID == 0 {
		return nil, nil, &IntegrityError{Message: "seller asset wallet not found"}
	}
	buyerWalletID, err := s.db.GetAssetID(ctx, tx, buyerID, symbol)
	if err != nil {
		return nil, nil, err
	}

	existing := []int64{sellerWalletID}
	if buyerWalletID != 0 && buyerWalletID != sellerWalletID {
		existing = append(existing, buyerWalletID)
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i] < existing[j] })

	locked := make(map[int64]*models.Asset, 2)
	for _, id := range existing {
		w, lockErr := s.db.LockAssetByID(ctx, tx, id)
		if lockErr != nil {
			return nil, nil, lockErr
		}
		locked[id] = w
	}

	if buyerWalletID == 0 {
		created, createErr := s.db.CreateAsset(ctx, tx, buyerID, symbol)
		if createErr != nil {
			return nil, nil, createErr
		}
		w, lockErr := s.db.LockAssetByID(ctx, tx, created.ID)
		if lockErr != nil {
			return nil, nil, lockErr
		}
		buyerWalletID = created.ID
		locked[buyerWalletID] = w
	}

	return locked[sellerWalletID], locked[buyerWalletID], nil
}

// notifyCounterparties builds one authoritative post-trade snapshot per
// counterparty and hands it to the notification port. Runs only after
// commit; a notification failure never affects the ledger.
func (s *MatchingService) notifyCounterparties(ctx context.Context, trade *models.Trade) {
	statuses := map[int64]models.Status{
		trade.BuyOrderID:  models.StatusFilled,
		trade.SellOrderID: models.StatusFilled,
	}

	for _, accountID := range dedupeSorted([]int64{trade.BuyerID, trade.SellerID}) {
		snapshot, err := s.accountSnapshot(ctx, accountID)
		if err != nil {
			s.log.Error("failed to build settlement snapshot",
				zap.Int64("account_id", accountID), zap.Error(err))
			continue
		}
		s.notifier.NotifySettlement(ctx, accountID, notify.Settlement{
			Trade:         trade,
			Account:       snapshot,
			OrderStatuses: statuses,
		})
	}
}

func (s *MatchingService) accountSnapshot(ctx context.Context, accountID int64) (notify.AccountSnapshot, error) {
	acct, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return notify.AccountSnapshot{}, err
	}
	assets, err := s.db.ListAssets(ctx, accountID)
	if err != nil {
		return notify.AccountSnapshot{}, err
	}
	wallets := make([]notify.Wallet, 0, len(assets))
	for _, a := range assets {
		wallets = append(wallets, notify.Wallet{
			Symbol:       a.Symbol,
			Amount:       a.Amount,
			LockedAmount: a.LockedAmount,
		})
	}
	return notify.AccountSnapshot{BalanceUSD: acct.BalanceUSD, Wallets: wallets}, nil
}

func dedupeSorted(ids []int64) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	var prev int64
	for i, id := range ids {
		if i == 0 || id != prev {
			out = append(out, id)
		}
		prev = id
	}
	return out
}
