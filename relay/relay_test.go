package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/market"
	"github.com/xraph/market/id"
	"github.com/xraph/market/item"
	"github.com/xraph/market/order"
	"github.com/xraph/market/treasury"
	"github.com/xraph/market/types"
)

type message struct {
	topic string
	body  []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	msgs   []message
	err    error
	closed bool
}

func (f *fakePublisher) Publish(_ context.Context, topic string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{topic: topic, body: body})
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func decode(t *testing.T, body []byte, data any) Event {
	t.Helper()
	var evt Event
	require.NoError(t, json.Unmarshal(body, &evt))
	require.NoError(t, json.Unmarshal(evt.Data, data))
	return evt
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRelayEnvelopes(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := New(pub, WithLogger(quiet()))
	r.clock = func() time.Time { return fixed }

	it := item.Item{ID: 1, Name: "Shoes", Cost: types.ETH(100), Stock: 3}
	require.NoError(t, r.OnItemListed(ctx, it))
	o := &order.Order{ID: id.NewOrderID(), Buyer: "0xb", Seq: 1, Item: it, Tendered: types.ETH(120)}
	require.NoError(t, r.OnPurchaseSettled(ctx, "0xb", 1, o))
	require.NoError(t, r.OnPurchaseRejected(ctx, "0xb", 9, market.ErrUnknownItem))
	w := &treasury.Withdrawal{ID: id.NewWithdrawalID(), To: "0xo", Amount: types.ETH(120), Time: fixed}
	require.NoError(t, r.OnTreasuryWithdrawn(ctx, w))
	require.NoError(t, r.OnWithdrawalFailed(ctx, "0xo", types.ETH(120), errors.New("rail down")))

	require.Len(t, pub.msgs, 5)
	assert.Equal(t, []string{
		TopicItemListed, TopicPurchaseSettled, TopicPurchaseRejected,
		TopicTreasuryWithdrawn, TopicWithdrawalFailed,
	}, []string{pub.msgs[0].topic, pub.msgs[1].topic, pub.msgs[2].topic, pub.msgs[3].topic, pub.msgs[4].topic})

	var listed itemListed
	evt := decode(t, pub.msgs[0].body, &listed)
	assert.Equal(t, id.PrefixEvent, evt.ID.Prefix())
	assert.Equal(t, TopicItemListed, evt.Topic)
	assert.True(t, fixed.Equal(evt.OccurredAt))
	assert.Equal(t, "Shoes", listed.Item.Name)
	assert.Equal(t, types.ETH(100), listed.Item.Cost)

	var settled purchaseSettled
	decode(t, pub.msgs[1].body, &settled)
	require.NotNil(t, settled.Order)
	assert.Equal(t, int64(1), settled.Order.Seq)
	assert.Equal(t, o.ID.String(), settled.Order.ID.String())

	var rejected purchaseRejected
	decode(t, pub.msgs[2].body, &rejected)
	assert.Equal(t, int64(9), rejected.ItemID)
	assert.Equal(t, market.ErrUnknownItem.Error(), rejected.Reason)

	var failed withdrawalFailed
	decode(t, pub.msgs[4].body, &failed)
	assert.Equal(t, "rail down", failed.Reason)
	assert.Equal(t, types.ETH(120), failed.Amount)
}

func TestRelayPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker gone")}
	r := New(pub, WithLogger(quiet()), WithName("relay-test"))

	err := r.OnItemListed(context.Background(), item.Item{ID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), TopicItemListed)
	assert.Equal(t, "relay-test", r.Name())

	require.NoError(t, r.OnShutdown(context.Background()))
	assert.True(t, pub.closed)
}

type fakeRedis struct {
	channels []string
	payloads []any
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func TestRedisPublisher(t *testing.T) {
	fake := &fakeRedis{}
	p := &RedisPublisher{client: fake, prefix: "shop:"}

	require.NoError(t, p.Publish(context.Background(), TopicPurchaseSettled, []byte(`{}`)))
	assert.Equal(t, []string{"shop:market.purchase.settled"}, fake.channels)
	assert.Equal(t, []byte(`{}`), fake.payloads[0])
	assert.NoError(t, p.Close())
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
	closed        bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{channel: ch, exchange: DefaultExchange, now: time.Now}

	require.NoError(t, p.Publish(context.Background(), TopicTreasuryWithdrawn, []byte(`{"a":1}`)))
	assert.Equal(t, DefaultExchange, ch.exchange)
	assert.Equal(t, TopicTreasuryWithdrawn, ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
