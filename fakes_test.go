// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GwynCerbin/amqp_feed/pkg/broker"
)

type fakeMessage struct {
	body []byte
	tag  uint64
}

func (m *fakeMessage) Headers() map[string]interface{} { return nil }
func (m *fakeMessage) ContentType() string             { return "text/plain" }
func (m *fakeMessage) IsRedelivered() bool             { return false }
func (m *fakeMessage) Body() []byte                    { return m.body }
func (m *fakeMessage) RoutingKey() string              { return "" }
func (m *fakeMessage) DeliveryTag() uint64             { return m.tag }

type fakeSub struct {
	tag    string
	cancel chan struct{}
	lost   chan struct{}
	done   chan struct{}
	err    error
}

func (s *fakeSub) ConsumerTag() string { return s.tag }

func (s *fakeSub) Done() <-chan struct{} { return s.done }

func (s *fakeSub) Err() error { return s.err }

// fakeChannel emulates broker credit: a delivery takes one credit and only an
// ack gives it back. Without SetPrefetch the credit is effectively unlimited.
type fakeChannel struct {
	mu sync.Mutex

	verifyErr    error
	subscribeErr error
	ackErr       func(body string) error

	ops     []string
	acked   []string
	closed  bool
	credit  chan struct{}
	subs    map[string]*fakeSub
	nextTag uint64

	pending chan *fakeMessage
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		subs:    make(map[string]*fakeSub),
		pending: make(chan *fakeMessage, 64),
	}
}

func (f *fakeChannel) record(op string) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

// deliver queues messages on the broker side.
func (f *fakeChannel) deliver(bodies ...string) {
	for _, b := range bodies {
		f.mu.Lock()
		f.nextTag++
		tag := f.nextTag
		f.mu.Unlock()

		f.pending <- &fakeMessage{body: []byte(b), tag: tag}
	}
}

func (f *fakeChannel) SetPrefetch(n int) error {
	f.record(fmt.Sprintf("prefetch %d", n))

	f.mu.Lock()
	f.credit = make(chan struct{}, n)
	f.mu.Unlock()

	return nil
}

func (f *fakeChannel) VerifyQueue(name string) error {
	f.record("verify " + name)
	return f.verifyErr
}

func (f *fakeChannel) Subscribe(name string, handler func(broker.Message)) (broker.Subscription, error) {
	f.record("subscribe " + name)

	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}

	f.mu.Lock()
	if f.credit == nil {
		f.credit = make(chan struct{}, 1024)
	}
	credit := f.credit
	sub := &fakeSub{
		tag:    fmt.Sprintf("ctag-%d", len(f.subs)+1),
		cancel: make(chan struct{}),
		lost:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	f.subs[sub.tag] = sub
	f.mu.Unlock()

	go func() {
		defer close(sub.done)

		for {
			select {
			case credit <- struct{}{}:
			case <-sub.cancel:
				return
			case <-sub.lost:
				sub.err = broker.StreamClosedError{Queue: name, ReplyCode: 320, Reason: "CONNECTION_FORCED"}
				return
			}

			select {
			case m := <-f.pending:
				handler(m)
			case <-sub.cancel:
				<-credit
				return
			case <-sub.lost:
				<-credit
				sub.err = broker.StreamClosedError{Queue: name, ReplyCode: 320, Reason: "CONNECTION_FORCED"}
				return
			}
		}
	}()

	return sub, nil
}

// dropStreams ends every subscription the way a broker-side close does.
func (f *fakeChannel) dropStreams() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.subs {
		close(s.lost)
	}
}

func (f *fakeChannel) Ack(msg broker.Message) error {
	body := string(msg.Body())
	f.record("ack " + body)

	if f.ackErr != nil {
		if err := f.ackErr(body); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.acked = append(f.acked, body)
	credit := f.credit
	f.mu.Unlock()

	select {
	case <-credit:
	default:
	}

	return nil
}

func (f *fakeChannel) Cancel(ctx context.Context, sub broker.Subscription) error {
	f.record("cancel " + sub.ConsumerTag())

	f.mu.Lock()
	s, ok := f.subs[sub.ConsumerTag()]
	delete(f.subs, sub.ConsumerTag())
	f.mu.Unlock()

	if !ok {
		return nil
	}

	close(s.cancel)

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeChannel) Close() error {
	f.record("close")

	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	return nil
}

func (f *fakeChannel) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.ops...)
}

func (f *fakeChannel) Acked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.acked...)
}

func (f *fakeChannel) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

type fakeDialer struct {
	mu      sync.Mutex
	openErr error
	prepare func(*fakeChannel)
	targets []string
	tls     []broker.TLSMaterial
	opened  []*fakeChannel
}

func (d *fakeDialer) Open(_ context.Context, target string, tlsm broker.TLSMaterial) (broker.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.targets = append(d.targets, target)
	d.tls = append(d.tls, tlsm)

	if d.openErr != nil {
		return nil, d.openErr
	}

	ch := newFakeChannel()
	if d.prepare != nil {
		d.prepare(ch)
	}

	d.opened = append(d.opened, ch)

	return ch, nil
}

func (d *fakeDialer) Opened() []*fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]*fakeChannel(nil), d.opened...)
}

type firedEvent struct {
	id string
	ev Event
}

type disabledFeed struct {
	id      string
	code    *int
	message string
}

type fakeTriggers struct {
	mu        sync.Mutex
	fireErr   func(id string, ev Event) error
	onDisable func(ctx context.Context, id string)
	fired     []firedEvent
	disabled  []disabledFeed
}

func (tr *fakeTriggers) Fire(_ context.Context, id string, ev Event) error {
	tr.mu.Lock()
	tr.fired = append(tr.fired, firedEvent{id: id, ev: ev})
	fireErr := tr.fireErr
	tr.mu.Unlock()

	if fireErr != nil {
		return fireErr(id, ev)
	}

	return nil
}

func (tr *fakeTriggers) Disable(ctx context.Context, id string, code *int, message string) error {
	tr.mu.Lock()
	tr.disabled = append(tr.disabled, disabledFeed{id: id, code: code, message: message})
	onDisable := tr.onDisable
	tr.mu.Unlock()

	if onDisable != nil {
		onDisable(ctx, id)
	}

	return nil
}

func (tr *fakeTriggers) Fired() []firedEvent {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return append([]firedEvent(nil), tr.fired...)
}

func (tr *fakeTriggers) Disabled() []disabledFeed {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return append([]disabledFeed(nil), tr.disabled...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}

		time.Sleep(time.Millisecond)
	}
}

func indexOf(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}

	return -1
}
