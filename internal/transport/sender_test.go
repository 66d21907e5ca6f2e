package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/outbound"
	"github.com/ChuLiYu/beaver-migrate/internal/storage/wal"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Doubles
// ============================================================================

// fakeDeliverer records payloads and fails while fail > 0
type fakeDeliverer struct {
	mu       sync.Mutex
	fail     int
	next     int
	payloads map[types.Ticket][]byte
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{payloads: make(map[types.Ticket][]byte)}
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ string, payload []byte) (types.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return "", errors.New("connection refused")
	}
	f.next++
	ticket := types.Ticket(fmt.Sprintf("t%d", f.next))
	f.payloads[ticket] = append([]byte(nil), payload...)
	return ticket, nil
}

func (f *fakeDeliverer) failNext(n int) {
	f.mu.Lock()
	f.fail = n
	f.mu.Unlock()
}

// memJournal keeps appended events in memory
type memJournal struct {
	events []wal.Event
}

func (j *memJournal) Append(eventType wal.EventType, key string, data any, _ bool) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	j.events = append(j.events, wal.Event{Seq: uint64(len(j.events) + 1), Type: eventType, Key: key, Data: raw})
	return nil
}

func (j *memJournal) kinds() []wal.EventType {
	out := make([]wal.EventType, len(j.events))
	for i, e := range j.events {
		out[i] = e.Type
	}
	return out
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestSender(cfg SenderConfig) (*Sender, *fakeDeliverer, *memJournal, *testClock) {
	if cfg.Destination == "" {
		cfg.Destination = "dest"
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = time.Minute
	}
	d := newFakeDeliverer()
	j := &memJournal{}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	s := NewSender(cfg, d, outbound.NewTracker(), j)
	s.SetClock(clock.Now)
	return s, d, j, clock
}

func testBatch(n int) types.Batch {
	return types.Batch{Domain: types.DomainAccounts, Messages: accountMsgs(n)}
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestSendRegistersInFlight(t *testing.T) {
	s, d, j, clock := newTestSender(SenderConfig{MaxResend: 3})

	var events []types.Event
	s.OnEvent(func(ev types.Event) { events = append(events, ev) })

	ticket, err := s.Send(context.Background(), testBatch(3))
	require.NoError(t, err)
	assert.Equal(t, types.Ticket("t1"), ticket)

	rec, ok := s.Tracker().Get(ticket)
	require.True(t, ok)
	assert.Equal(t, types.OutboundInFlight, rec.Status)
	assert.Equal(t, 3, rec.Items)
	assert.Equal(t, clock.now.Add(time.Minute).UnixMilli(), rec.Deadline)
	assert.Equal(t, d.payloads[ticket], rec.Payload)
	assert.Equal(t, ContentHash(rec.Payload), rec.Hash)

	// 送出前先寫 unsent
	assert.Equal(t, []wal.EventType{wal.EventOutboundUnsent, wal.EventOutboundSent}, j.kinds())
	assert.Equal(t, outbound.Stats{InFlight: 1}, s.Tracker().Stats())

	require.Len(t, events, 1)
	assert.Equal(t, types.EventBatchSent, events[0].Type)
	assert.Equal(t, 3, events[0].Items)
}

func TestSendFailureKeepsPayload(t *testing.T) {
	s, d, _, _ := newTestSender(SenderConfig{MaxResend: 3})
	d.failNext(1)

	_, err := s.Send(context.Background(), testBatch(2))
	assert.ErrorIs(t, err, ErrTransportSend)

	unsent := s.Tracker().Unsent()
	require.Len(t, unsent, 1)
	held, _ := s.Tracker().Get(unsent[0])

	// 重送使用相同位元組
	assert.Equal(t, 1, s.RetryPending(context.Background(), time.Now()))
	assert.Equal(t, outbound.Stats{InFlight: 1}, s.Tracker().Stats())
	assert.Equal(t, held.Payload, d.payloads["t1"])
}

func TestAcknowledgeSuccess(t *testing.T) {
	s, _, j, _ := newTestSender(SenderConfig{MaxResend: 3})
	ticket, err := s.Send(context.Background(), testBatch(1))
	require.NoError(t, err)

	require.NoError(t, s.OnAcknowledge(context.Background(), ticket, types.Outcome{Success: true}))
	assert.Equal(t, 0, s.Tracker().Stats().Total())
	assert.Equal(t, wal.EventOutboundAcked, j.events[len(j.events)-1].Type)

	// 重複確認忽略
	require.NoError(t, s.OnAcknowledge(context.Background(), ticket, types.Outcome{Success: true}))
}

func TestAcknowledgeFailureResends(t *testing.T) {
	s, d, _, _ := newTestSender(SenderConfig{MaxResend: 3})
	ticket, err := s.Send(context.Background(), testBatch(2))
	require.NoError(t, err)

	require.NoError(t, s.OnAcknowledge(context.Background(), ticket, types.Outcome{Reason: "overweight"}))

	_, ok := s.Tracker().Get(ticket)
	assert.False(t, ok, "old ticket should be replaced")

	rec, ok := s.Tracker().Get("t2")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Attempt)
	assert.Equal(t, d.payloads["t1"], d.payloads["t2"])
}

func TestExpiredResendAndDead(t *testing.T) {
	s, d, j, clock := newTestSender(SenderConfig{MaxResend: 2})
	_, err := s.Send(context.Background(), testBatch(1))
	require.NoError(t, err)

	// 未逾時不重送
	assert.Equal(t, 0, s.RetryPending(context.Background(), clock.now))

	for i := 0; i < 2; i++ {
		clock.now = clock.now.Add(2 * time.Minute)
		assert.Equal(t, 1, s.RetryPending(context.Background(), clock.now))
	}
	assert.Equal(t, 3, d.next)

	// 超過重送次數成為死信並保留
	clock.now = clock.now.Add(2 * time.Minute)
	assert.Equal(t, 1, s.RetryPending(context.Background(), clock.now))
	assert.Equal(t, outbound.Stats{Dead: 1}, s.Tracker().Stats())
	assert.Equal(t, wal.EventOutboundDead, j.events[len(j.events)-1].Type)

	// 死信不再自動重送
	clock.now = clock.now.Add(2 * time.Minute)
	assert.Equal(t, 0, s.RetryPending(context.Background(), clock.now))

	// 管理者手動重送
	dead := s.Tracker().Dead()
	require.Len(t, dead, 1)
	ticket, err := s.Resend(context.Background(), dead[0])
	require.NoError(t, err)
	assert.Equal(t, types.Ticket("t4"), ticket)
	assert.Equal(t, outbound.Stats{InFlight: 1}, s.Tracker().Stats())
	assert.Equal(t, d.payloads["t1"], d.payloads["t4"])
}

func TestResendUnknownTicket(t *testing.T) {
	s, _, _, _ := newTestSender(SenderConfig{})
	_, err := s.Resend(context.Background(), "nope")
	assert.ErrorIs(t, err, outbound.ErrTicketNotFound)
}

func TestRetryPendingRateLimit(t *testing.T) {
	s, d, _, clock := newTestSender(SenderConfig{MaxResend: 5, ResendRate: 1, ResendBurst: 2})
	d.failNext(4)
	for i := 0; i < 4; i++ {
		_, err := s.Send(context.Background(), testBatch(1))
		require.ErrorIs(t, err, ErrTransportSend)
	}

	assert.Equal(t, 2, s.RetryPending(context.Background(), clock.now))
	assert.Equal(t, outbound.Stats{InFlight: 2, Unsent: 2}, s.Tracker().Stats())

	clock.now = clock.now.Add(2 * time.Second)
	assert.Equal(t, 2, s.RetryPending(context.Background(), clock.now))
	assert.Equal(t, outbound.Stats{InFlight: 4}, s.Tracker().Stats())
}

func TestApplyRebuildsTracker(t *testing.T) {
	s, d, j, clock := newTestSender(SenderConfig{MaxResend: 1})

	// t1 acked; t3 and t5 end dead; the unsent batch goes out as t6
	t1, err := s.Send(context.Background(), testBatch(1))
	require.NoError(t, err)
	require.NoError(t, s.OnAcknowledge(context.Background(), t1, types.Outcome{Success: true}))

	t2, err := s.Send(context.Background(), testBatch(2))
	require.NoError(t, err)
	require.NoError(t, s.OnAcknowledge(context.Background(), t2, types.Outcome{Reason: "retry"}))

	d.failNext(1)
	_, err = s.Send(context.Background(), testBatch(3))
	require.ErrorIs(t, err, ErrTransportSend)

	t4, err := s.Send(context.Background(), testBatch(4))
	require.NoError(t, err)
	require.NoError(t, s.OnAcknowledge(context.Background(), t4, types.Outcome{Reason: "retry"}))
	clock.now = clock.now.Add(time.Hour)
	s.RetryPending(context.Background(), clock.now)

	want := s.Tracker().Snapshot()

	replayed := NewSender(SenderConfig{Destination: "dest"}, d, outbound.NewTracker(), nil)
	for _, ev := range j.events {
		require.NoError(t, replayed.Apply(ev))
	}
	assert.Equal(t, want, replayed.Tracker().Snapshot())
	assert.Equal(t, outbound.Stats{InFlight: 1, Dead: 2}, replayed.Tracker().Stats())
}
