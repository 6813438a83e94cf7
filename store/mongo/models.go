package mongo

import (
	"time"

	"github.com/xraph/market/account"
	"github.com/xraph/market/id"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// ==================== Item models ====================

type itemModel struct {
	ID           int64     `bson:"_id"`
	Name         string    `bson:"name"`
	Category     string    `bson:"category"`
	Image        string    `bson:"image"`
	CostAmount   int64     `bson:"cost_amount"`
	CostCurrency string    `bson:"cost_currency"`
	Rating       int       `bson:"rating"`
	Stock        int64     `bson:"stock"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toItemModel(it *item.Item) *itemModel {
	return &itemModel{
		ID:           it.ID,
		Name:         it.Name,
		Category:     it.Category,
		Image:        it.Image,
		CostAmount:   it.Cost.Amount,
		CostCurrency: it.Cost.Currency,
		Rating:       it.Rating,
		Stock:        it.Stock,
		CreatedAt:    it.CreatedAt,
		UpdatedAt:    it.UpdatedAt,
	}
}

func fromItemModel(m *itemModel) *item.Item {
	return &item.Item{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:       m.ID,
		Name:     m.Name,
		Category: m.Category,
		Image:    m.Image,
		Cost:     types.Money{Amount: m.CostAmount, Currency: m.CostCurrency},
		Rating:   m.Rating,
		Stock:    m.Stock,
	}
}

// ==================== Order models ====================

type orderModel struct {
	ID               string    `bson:"_id"`
	Buyer            string    `bson:"buyer"`
	Seq              int64     `bson:"seq"`
	PlacedAt         time.Time `bson:"placed_at"`
	Item             itemModel `bson:"item"`
	TenderedAmount   int64     `bson:"tendered_amount"`
	TenderedCurrency string    `bson:"tendered_currency"`
}

func toOrderModel(o *order.Order, seq int64) *orderModel {
	return &orderModel{
		ID:               o.ID.String(),
		Buyer:            o.Buyer.String(),
		Seq:              seq,
		PlacedAt:         o.Time,
		Item:             *toItemModel(&o.Item),
		TenderedAmount:   o.Tendered.Amount,
		TenderedCurrency: o.Tendered.Currency,
	}
}

func fromOrderModel(m *orderModel) (*order.Order, error) {
	orderID, err := id.ParseOrderID(m.ID)
	if err != nil {
		return nil, err
	}
	return &order.Order{
		ID:       orderID,
		Buyer:    account.Account(m.Buyer),
		Seq:      m.Seq,
		Time:     m.PlacedAt.UTC(),
		Item:     *fromItemModel(&m.Item),
		Tendered: types.Money{Amount: m.TenderedAmount, Currency: m.TenderedCurrency},
	}, nil
}

// counterModel hands out per-buyer order sequence numbers.
type counterModel struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// ==================== Treasury models ====================

type treasuryModel struct {
	Currency string `bson:"_id"`
	Balance  int64  `bson:"balance"`
}

type withdrawalModel struct {
	ID          string    `bson:"_id"`
	Recipient   string    `bson:"recipient"`
	Amount      int64     `bson:"amount"`
	Currency    string    `bson:"currency"`
	WithdrawnAt time.Time `bson:"withdrawn_at"`
	Reference   string    `bson:"reference"`
}

func toWithdrawalModel(w *treasury.Withdrawal) *withdrawalModel {
	return &withdrawalModel{
		ID:          w.ID.String(),
		Recipient:   w.To.String(),
		Amount:      w.Amount.Amount,
		Currency:    w.Amount.Currency,
		WithdrawnAt: w.Time,
		Reference:   w.Reference,
	}
}

func fromWithdrawalModel(m *withdrawalModel) (*treasury.Withdrawal, error) {
	withdrawalID, err := id.ParseWithdrawalID(m.ID)
	if err != nil {
		return nil, err
	}
	return &treasury.Withdrawal{
		ID:        withdrawalID,
		To:        account.Account(m.Recipient),
		Amount:    types.Money{Amount: m.Amount, Currency: m.Currency},
		Time:      m.WithdrawnAt.UTC(),
		Reference: m.Reference,
	}, nil
}
