// Package mongo implements store.Store on MongoDB.
//
// Purchases and withdrawals run inside multi-document transactions, so the
// server must be a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/market"
	"github.com/xraph/market/account"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	marketstore "github.com/xraph/market/store"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

// Collection name constants.
const (
	colItems       = "market_items"
	colOrders      = "market_orders"
	colCounters    = "market_counters"
	colTreasury    = "market_treasury"
	colWithdrawals = "market_withdrawals"
)

// compile-time interface check
var _ marketstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New creates a store on database dbName of a connected client.
func New(client *mongo.Client, dbName string) *Store {
	return &Store{
		client: client,
		db:     client.Database(dbName),
	}
}

// Open connects to uri and uses database dbName.
func Open(uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("market/mongo: connect: %w", err)
	}
	return New(client, dbName), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for all market collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("market/mongo: migrate %s indexes: %w", col, err)
		}
	}
	// Transactions cannot create collections on older servers.
	for _, col := range []string{colCounters, colTreasury} {
		err := s.db.CreateCollection(ctx, col)
		if err != nil && !isNamespaceExists(err) {
			return fmt.Errorf("market/mongo: create %s: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// ==================== Item Store ====================

func (s *Store) PutItem(ctx context.Context, it *item.Item) error {
	m := toItemModel(it)
	_, err := s.db.Collection(colItems).ReplaceOne(ctx,
		bson.M{"_id": m.ID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("market/mongo: put item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, itemID int64) (*item.Item, error) {
	var m itemModel
	err := s.db.Collection(colItems).FindOne(ctx, bson.M{"_id": itemID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, market.ErrItemNotFound
		}
		return nil, fmt.Errorf("market/mongo: get item: %w", err)
	}
	return fromItemModel(&m), nil
}

func (s *Store) ListItems(ctx context.Context, opts item.ListOpts) ([]*item.Item, error) {
	filter := bson.M{}
	if opts.Category != "" {
		filter["category"] = opts.Category
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colItems).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("market/mongo: list items: %w", err)
	}

	var models []itemModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("market/mongo: list items: %w", err)
	}

	result := make([]*item.Item, len(models))
	for i := range models {
		result[i] = fromItemModel(&models[i])
	}
	return result, nil
}

// ==================== Order Store ====================

// SettlePurchase decrements stock, appends the order and credits the
// treasury in one transaction. The stock guard is part of the update filter.
func (s *Store) SettlePurchase(ctx context.Context, o *order.Order) error {
	var seq int64
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		res, err := s.db.Collection(colItems).UpdateOne(ctx,
			bson.M{"_id": o.Item.ID, "stock": bson.M{"$gt": 0}},
			bson.M{"$inc": bson.M{"stock": -1}},
		)
		if err != nil {
			return fmt.Errorf("market/mongo: decrement stock: %w", err)
		}
		if res.MatchedCount == 0 {
			n, err := s.db.Collection(colItems).CountDocuments(ctx, bson.M{"_id": o.Item.ID})
			if err != nil {
				return fmt.Errorf("market/mongo: check item: %w", err)
			}
			if n == 0 {
				return market.ErrItemNotFound
			}
			return market.ErrInsufficientStock
		}

		var counter counterModel
		err = s.db.Collection(colCounters).FindOneAndUpdate(ctx,
			bson.M{"_id": "orders:" + o.Buyer.String()},
			bson.M{"$inc": bson.M{"seq": 1}},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&counter)
		if err != nil {
			return fmt.Errorf("market/mongo: next order seq: %w", err)
		}
		seq = counter.Seq

		if _, err := s.db.Collection(colOrders).InsertOne(ctx, toOrderModel(o, seq)); err != nil {
			return fmt.Errorf("market/mongo: insert order: %w", err)
		}

		_, err = s.db.Collection(colTreasury).UpdateOne(ctx,
			bson.M{"_id": o.Tendered.Currency},
			bson.M{"$inc": bson.M{"balance": o.Tendered.Amount}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("market/mongo: credit treasury: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.Seq = seq
	return nil
}

func (s *Store) GetOrder(ctx context.Context, buyer account.Account, seq int64) (*order.Order, error) {
	var m orderModel
	err := s.db.Collection(colOrders).FindOne(ctx, bson.M{"buyer": buyer.String(), "seq": seq}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, market.ErrNotFound
		}
		return nil, fmt.Errorf("market/mongo: get order: %w", err)
	}
	return fromOrderModel(&m)
}

func (s *Store) CountOrders(ctx context.Context, buyer account.Account) (int64, error) {
	n, err := s.db.Collection(colOrders).CountDocuments(ctx, bson.M{"buyer": buyer.String()})
	if err != nil {
		return 0, fmt.Errorf("market/mongo: count orders: %w", err)
	}
	return n, nil
}

func (s *Store) ListOrders(ctx context.Context, buyer account.Account) ([]*order.Order, error) {
	cursor, err := s.db.Collection(colOrders).Find(ctx,
		bson.M{"buyer": buyer.String()},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("market/mongo: list orders: %w", err)
	}

	var models []orderModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("market/mongo: list orders: %w", err)
	}

	result := make([]*order.Order, len(models))
	for i := range models {
		o, err := fromOrderModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("market/mongo: list orders: %w", err)
		}
		result[i] = o
	}
	return result, nil
}

// ==================== Treasury Store ====================

func (s *Store) TreasuryBalance(ctx context.Context, currency string) (types.Money, error) {
	var m treasuryModel
	err := s.db.Collection(colTreasury).FindOne(ctx, bson.M{"_id": currency}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return types.Zero(currency), nil
		}
		return types.Money{}, fmt.Errorf("market/mongo: treasury balance: %w", err)
	}
	return types.Money{Amount: m.Balance, Currency: currency}, nil
}

// DrainTreasury zeroes the balance only if it still equals w.Amount, and
// records w in the same transaction.
func (s *Store) DrainTreasury(ctx context.Context, w *treasury.Withdrawal) error {
	return s.inTransaction(ctx, func(ctx context.Context) error {
		res, err := s.db.Collection(colTreasury).UpdateOne(ctx,
			bson.M{"_id": w.Amount.Currency, "balance": w.Amount.Amount},
			bson.M{"$set": bson.M{"balance": int64(0)}},
		)
		if err != nil {
			return fmt.Errorf("market/mongo: drain treasury: %w", err)
		}
		if res.MatchedCount == 0 && !w.Amount.IsZero() {
			return market.ErrTreasuryChanged
		}

		if _, err := s.db.Collection(colWithdrawals).InsertOne(ctx, toWithdrawalModel(w)); err != nil {
			return fmt.Errorf("market/mongo: record withdrawal: %w", err)
		}
		return nil
	})
}

func (s *Store) ListWithdrawals(ctx context.Context) ([]*treasury.Withdrawal, error) {
	cursor, err := s.db.Collection(colWithdrawals).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "withdrawn_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("market/mongo: list withdrawals: %w", err)
	}

	var models []withdrawalModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("market/mongo: list withdrawals: %w", err)
	}

	result := make([]*treasury.Withdrawal, len(models))
	for i := range models {
		w, err := fromWithdrawalModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("market/mongo: list withdrawals: %w", err)
		}
		result[i] = w
	}
	return result, nil
}

// inTransaction runs fn in a session transaction, retrying on transient
// errors as the driver prescribes.
func (s *Store) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("market/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// isNoDocuments checks for the mongo no-documents sentinel.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// isNamespaceExists reports the "collection already exists" server error.
func isNamespaceExists(err error) bool {
	var ce mongo.CommandError
	return errors.As(err, &ce) && ce.Code == 48
}

// migrationIndexes returns the index definitions for all market collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colItems: {
			{Keys: bson.D{{Key: "category", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colOrders: {
			{
				Keys:    bson.D{{Key: "buyer", Value: 1}, {Key: "seq", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colWithdrawals: {
			{Keys: bson.D{{Key: "withdrawn_at", Value: 1}}},
		},
	}
}
