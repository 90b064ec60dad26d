package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGroup — sarama.ConsumerGroup, управляемый тестом.
type fakeGroup struct {
	consume  func(ctx context.Context, handler sarama.ConsumerGroupHandler) error
	errs     chan error
	closeErr error
	calls    atomic.Int32
}

func newFakeGroup() *fakeGroup {
	return &fakeGroup{errs: make(chan error, 1)}
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	g.calls.Add(1)
	if g.consume != nil {
		return g.consume(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (g *fakeGroup) Errors() <-chan error { return g.errs }

func (g *fakeGroup) Close() error {
	close(g.errs)
	return g.closeErr
}

func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func claimOf(messages ...*sarama.ConsumerMessage) *fakeClaim {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(messages))}
	for _, m := range messages {
		claim.messages <- m
	}
	close(claim.messages)
	return claim
}

func testConsumer(handler MessageHandler, opts ...ConsumerOption) *Consumer {
	opts = append([]ConsumerOption{WithRetryDelay(0), WithConsumerLogger(log.WithField("test", "consumer"))}, opts...)
	return newConsumer(newFakeGroup(), []string{TopicCartEvents}, handler, opts...)
}

func TestNewConsumer_UnreachableBrokers(t *testing.T) {
	_, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"},
		func(context.Context, *sarama.ConsumerMessage) error { return nil }, WithMaxRetries(1))
	assert.Error(t, err)
}

func TestConsumerOptions(t *testing.T) {
	publisher := NewProducerFromSync(mocks.NewSyncProducer(t, nil), nil)
	c := newConsumer(newFakeGroup(), nil, nil,
		WithMaxRetries(5), WithRetryDelay(time.Second), WithDeadLetterQueue(publisher), WithConsumerLogger(nil))

	assert.Equal(t, 5, c.maxRetries)
	assert.Equal(t, time.Second, c.retryDelay)
	assert.Same(t, publisher, c.dlq)
	assert.NotNil(t, c.logger)

	defaults := newConsumer(newFakeGroup(), nil, nil, WithMaxRetries(0))
	assert.Equal(t, defaultMaxRetries, defaults.maxRetries)
	assert.Equal(t, defaultRetryDelay, defaults.retryDelay)
}

func TestConsumer_StartStop(t *testing.T) {
	group := newFakeGroup()
	group.errs <- errors.New("background error")
	c := newConsumer(group, []string{TopicCartEvents}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	require.Eventually(t, func() bool { return group.calls.Load() > 0 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, c.Stop())
}

func TestConsumer_StopsOnClosedGroup(t *testing.T) {
	group := newFakeGroup()
	group.consume = func(context.Context, sarama.ConsumerGroupHandler) error { return sarama.ErrClosedConsumerGroup }
	c := newConsumer(group, nil, nil)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())
}

func TestConsumer_StopError(t *testing.T) {
	group := newFakeGroup()
	group.closeErr = errors.New("close failed")
	c := newConsumer(group, nil, nil)

	assert.Error(t, c.Stop())
}

func TestConsumeClaim_StopsBeforeUnprocessedMessage(t *testing.T) {
	var handled []int64
	c := testConsumer(func(_ context.Context, m *sarama.ConsumerMessage) error {
		handled = append(handled, m.Offset)
		if string(m.Value) == "bad" {
			return errors.New("failed")
		}
		return nil
	}, WithMaxRetries(1))

	session := &fakeSession{ctx: context.Background()}
	claim := claimOf(
		&sarama.ConsumerMessage{Topic: TopicCartEvents, Offset: 1, Value: []byte("ok")},
		&sarama.ConsumerMessage{Topic: TopicCartEvents, Offset: 2, Value: []byte("bad")},
		&sarama.ConsumerMessage{Topic: TopicCartEvents, Offset: 3, Value: []byte("ok")},
	)

	require.NoError(t, c.ConsumeClaim(session, claim))
	assert.Equal(t, []int64{1}, session.marked, "offset must not move past the failed message")
	assert.Equal(t, []int64{1, 2}, handled, "messages after the failed one wait for redelivery")
	require.NoError(t, c.Setup(session))
	require.NoError(t, c.Cleanup(session))
}

func TestConsumeClaim_DeadLetterKeepsClaimRunning(t *testing.T) {
	dlq := mocks.NewSyncProducer(t, nil)
	dlq.ExpectSendMessageAndSucceed()
	c := testConsumer(func(_ context.Context, m *sarama.ConsumerMessage) error {
		if string(m.Value) == "bad" {
			return errors.New("failed")
		}
		return nil
	}, WithMaxRetries(1), WithDeadLetterQueue(NewProducerFromSync(dlq, nil)))

	session := &fakeSession{ctx: context.Background()}
	claim := claimOf(
		&sarama.ConsumerMessage{Topic: TopicCartEvents, Offset: 1, Value: []byte("ok")},
		&sarama.ConsumerMessage{Topic: TopicCartEvents, Offset: 2, Value: []byte("bad")},
		&sarama.ConsumerMessage{Topic: TopicCartEvents, Offset: 3, Value: []byte("ok")},
	)

	require.NoError(t, c.ConsumeClaim(session, claim))
	assert.Equal(t, []int64{1, 2, 3}, session.marked)
	require.NoError(t, dlq.Close())
}

func TestConsumeClaim_StopsOnContextDone(t *testing.T) {
	c := testConsumer(func(context.Context, *sarama.ConsumerMessage) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan error, 1)
	go func() { done <- c.ConsumeClaim(&fakeSession{ctx: ctx}, claim) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func messageWithRetries(retries string) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{
		Topic: TopicCartEvents,
		Key:   []byte("session-1"),
		Value: []byte(`{"event_type":"cart.notification"}`),
	}
	if retries != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(retries)}}
	}
	return msg
}

func TestProcess(t *testing.T) {
	permanent := errors.New("permanent")

	dlqExpectingLetter := func(t *testing.T) *mocks.SyncProducer {
		p := mocks.NewSyncProducer(t, nil)
		p.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			if msg.Topic != TopicDeadLetterQueue {
				return fmt.Errorf("unexpected topic %s", msg.Topic)
			}
			raw, err := msg.Value.Encode()
			if err != nil {
				return err
			}
			var letter DeadLetter
			if err := json.Unmarshal(raw, &letter); err != nil {
				return err
			}
			if letter.OriginalTopic != TopicCartEvents || letter.ErrorMessage != permanent.Error() ||
				letter.OriginalType != EventTypeCartNotification || letter.RetryCount != 3 {
				return fmt.Errorf("unexpected dead letter: %+v", letter)
			}
			headers := map[string]string{}
			for _, h := range msg.Headers {
				headers[string(h.Key)] = string(h.Value)
			}
			if headers[HeaderEventType] != string(EventTypeDeadLetter) || headers[HeaderOriginalTopic] != TopicCartEvents {
				return fmt.Errorf("unexpected headers: %v", headers)
			}
			return nil
		})
		return p
	}

	tests := []struct {
		name         string
		retries      string
		failFirst    int
		dlq          func(t *testing.T) *mocks.SyncProducer
		wantErr      bool
		wantAttempts int
	}{
		{name: "first attempt succeeds", wantAttempts: 1},
		{name: "transient failure is retried", failFirst: 1, wantAttempts: 2},
		{name: "previous retries shorten attempts", retries: "1", failFirst: -1, wantErr: true, wantAttempts: 2},
		{name: "invalid retry header is ignored", retries: "bad", failFirst: -1, wantErr: true, wantAttempts: 3},
		{name: "exhausted still tries once", retries: "7", failFirst: -1, wantErr: true, wantAttempts: 1},
		{name: "dead letter accepted", failFirst: -1, dlq: dlqExpectingLetter, wantAttempts: 3},
		{
			name: "dead letter rejected", retries: "3", failFirst: -1, wantErr: true, wantAttempts: 1,
			dlq: func(t *testing.T) *mocks.SyncProducer {
				p := mocks.NewSyncProducer(t, nil)
				p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
				return p
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			handler := func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				if tt.failFirst < 0 || attempts <= tt.failFirst {
					return permanent
				}
				return nil
			}

			opts := []ConsumerOption{WithMaxRetries(3)}
			var dlq *mocks.SyncProducer
			if tt.dlq != nil {
				dlq = tt.dlq(t)
				opts = append(opts, WithDeadLetterQueue(NewProducerFromSync(dlq, nil)))
			}

			err := testConsumer(handler, opts...).process(context.Background(), messageWithRetries(tt.retries))

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
			if dlq != nil {
				require.NoError(t, dlq.Close())
			}
		})
	}
}

func TestProcess_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	c := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
		attempts++
		return errors.New("failing")
	}, WithMaxRetries(5), WithRetryDelay(time.Hour))

	err := c.process(ctx, messageWithRetries(""))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestParsers(t *testing.T) {
	cart, err := ParseCartEvent(&sarama.ConsumerMessage{
		Value: []byte(`{"event_type":"cart.notification","session_id":"s-1","kind":"info","message":"Корзина очищена"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "Корзина очищена", cart.Message)

	checkoutMsg := &sarama.ConsumerMessage{
		Value: []byte(`{"event_type":"cart.checkout_submitted","session_id":"s-1","total_price":250,"total_quantity":3}`),
	}
	checkout, err := ParseCheckoutEvent(checkoutMsg)
	require.NoError(t, err)
	assert.Equal(t, int64(250), checkout.TotalPrice)

	letter, err := ParseDeadLetter(&sarama.ConsumerMessage{
		Value: []byte(`{"event_type":"cart.dead_letter","original_topic":"t","retry_count":2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, letter.RetryCount)

	broken := &sarama.ConsumerMessage{Value: []byte("{")}
	_, err = ParseCartEvent(broken)
	assert.Error(t, err)
	_, err = ParseCheckoutEvent(broken)
	assert.Error(t, err)
	_, err = ParseDeadLetter(broken)
	assert.Error(t, err)

	eventType, err := PeekEventType(checkoutMsg)
	require.NoError(t, err)
	assert.Equal(t, EventTypeCheckoutSubmitted, eventType)

	_, err = PeekEventType(&sarama.ConsumerMessage{Value: []byte(`{}`)})
	assert.ErrorIs(t, err, errMissingEventType)
}

func TestRetryCount(t *testing.T) {
	tests := map[string]int{"": 0, "5": 5, "bad": 0, "-2": 0}
	for header, want := range tests {
		assert.Equal(t, want, retryCount(messageWithRetries(header)), "header %q", header)
	}
}
