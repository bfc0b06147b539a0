// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package broker implements the message broker abstraction: an
// in-process reference adapter plus a NATS-backed adapter, both
// satisfying pkg/runtime's BrokerService interface structurally so the
// interpreter never imports this package directly.
package broker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/quantumlang/core/pkg/logging"
	"github.com/quantumlang/core/pkg/obsv"
	"github.com/quantumlang/core/pkg/runtime"
)

type subscription struct {
	id      string
	segs    []string // pattern split on '.'; a "*" entry matches exactly one segment
	handler func(msg runtime.BrokerMessage)
}

type consumer struct {
	id      string
	handler func(msg runtime.BrokerMessage)
}

type queueBinding struct {
	name      string
	prefetch  int
	dlq       string
	consumers []*consumer
	rr        int                     // round-robin cursor over consumers
	backlog   []runtime.BrokerMessage // messages sent before a consumer existed
}

// MemoryBroker is the in-process reference adapter: topic pub/sub
// with single-segment `*` wildcard matching, a durable-in-name-only FIFO
// queue per name whose competing consumers are served round-robin, and
// correlation-ID request/reply implemented on top of the same pub/sub
// mechanism (see Request's doc comment). Dispatch is synchronous: a
// handler runs on the calling goroutine before Publish/Send returns,
// which keeps the reference adapter's behavior deterministic and trivial
// to unit test without a sleep.
type MemoryBroker struct {
	mu        sync.Mutex
	connected bool
	subs      []*subscription
	queues    map[string]*queueBinding
	dlqs      map[string][]runtime.BrokerMessage
	acked     map[string]bool // delivery (message ID) already given its terminal ack/nack decision
	logger    *logging.Logger
}

// NewMemoryBroker constructs an empty broker, already connected (the
// reference adapter has no transport to dial; Connect/Disconnect exist
// for interface parity with networked adapters).
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		connected: true,
		queues:    make(map[string]*queueBinding),
		dlqs:      make(map[string][]runtime.BrokerMessage),
		acked:     make(map[string]bool),
		logger:    logging.Default().WithComponent(logging.ComponentBroker),
	}
}

// Connect marks the broker usable again after a Disconnect. The config
// argument of the abstract contract has nothing to carry in-process, so
// Connect takes none.
func (b *MemoryBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

// Disconnect drops every subscription and consumer and refuses further
// publishes. Dispatch is synchronous, so by the time Disconnect acquires
// the lock no delivery is in flight — the drain the contract asks for is
// structural here.
func (b *MemoryBroker) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.subs = nil
	for _, q := range b.queues {
		q.consumers = nil
		q.rr = 0
	}
	return nil
}

// IsConnected reports whether the broker accepts operations.
func (b *MemoryBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SetLogger overrides the broker's logger (defaults to
// logging.Default().WithComponent(logging.ComponentBroker)).
func (b *MemoryBroker) SetLogger(l *logging.Logger) {
	if l != nil {
		b.logger = l.WithComponent(logging.ComponentBroker)
	}
}

// markDelivered reports whether this is the first ack/nack call seen for
// msg.ID ("a message ack may only be called once per
// delivery; subsequent ack/nack on the same delivery is a no-op"). It
// returns false for every call after the first.
func (b *MemoryBroker) markDelivered(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acked[id] {
		return false
	}
	b.acked[id] = true
	return true
}

func splitTopic(topic string) []string { return strings.Split(topic, ".") }

func matchTopic(pattern, topic string) bool {
	pSegs, tSegs := splitTopic(pattern), splitTopic(topic)
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, p := range pSegs {
		if p != "*" && p != tSegs[i] {
			return false
		}
	}
	return true
}

// Publish delivers body to every subscriber whose pattern matches topic.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, body any, headers map[string]string) (string, error) {
	msg := runtime.BrokerMessage{ID: uuid.NewString(), Topic: topic, Body: body, Headers: headers}
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return "", fmt.Errorf("broker: publish to %q: not connected", topic)
	}
	matched := make([]func(runtime.BrokerMessage), 0, len(b.subs))
	for _, s := range b.subs {
		if matchTopic(strings.Join(s.segs, "."), topic) {
			matched = append(matched, s.handler)
		}
	}
	b.mu.Unlock()
	for _, h := range matched {
		h(msg)
	}
	obsv.BrokerPublished(topic)
	return msg.ID, nil
}

// Send delivers body to the named queue's consumer, or buffers it until
// DeclareQueue registers one.
func (b *MemoryBroker) Send(ctx context.Context, queue string, body any, headers map[string]string) (string, error) {
	msg := runtime.BrokerMessage{ID: uuid.NewString(), Queue: queue, Body: body, Headers: headers}
	if err := b.dispatchToQueue(queue, msg); err != nil {
		return "", err
	}
	obsv.BrokerSent(queue)
	return msg.ID, nil
}

func (b *MemoryBroker) dispatchToQueue(queue string, msg runtime.BrokerMessage) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return fmt.Errorf("broker: send to %q: not connected", queue)
	}
	binding, ok := b.queues[queue]
	if !ok {
		binding = &queueBinding{name: queue, prefetch: 1}
		b.queues[queue] = binding
	}
	if len(binding.consumers) == 0 {
		binding.backlog = append(binding.backlog, msg)
		b.mu.Unlock()
		return nil
	}
	c := binding.consumers[binding.rr%len(binding.consumers)]
	binding.rr++
	b.mu.Unlock()
	c.handler(msg)
	return nil
}

// Request implements request/reply on top of Publish/Subscribe: it opens
// a temporary subscription on a correlation-scoped reply subject before
// dispatching to queue, and expects the consuming handler to answer with
// `q:message type="publish" topic="_reply.{message.correlationId}"`.
// timeoutMS is accepted for interface parity with networked adapters;
// the in-process adapter's dispatch is synchronous, so a reply (if any)
// is already known by the time the handler returns.
func (b *MemoryBroker) Request(ctx context.Context, queue string, body any, headers map[string]string, timeoutMS int) (any, error) {
	correlationID := uuid.NewString()
	replyTopic := "_reply." + correlationID
	var reply any
	gotReply := false
	subID, _ := b.Subscribe(replyTopic, func(m runtime.BrokerMessage) {
		reply = m.Body
		gotReply = true
	})
	defer func() { _ = b.Unsubscribe(subID) }()

	msg := runtime.BrokerMessage{ID: uuid.NewString(), Queue: queue, Body: body, Headers: headers, CorrelationID: correlationID}
	if err := b.dispatchToQueue(queue, msg); err != nil {
		return nil, err
	}
	if !gotReply {
		return nil, fmt.Errorf("broker: request to %q received no reply", queue)
	}
	return reply, nil
}

// Subscribe registers handler against topicPattern (dot-separated, `*`
// matching exactly one segment). Returns a subscription ID for Subscribe
// callers that want to unsubscribe later via internal bookkeeping (not
// yet exposed on BrokerService, since no statement currently drops
// a subscription mid-component-lifetime).
func (b *MemoryBroker) Subscribe(topicPattern string, handler func(msg runtime.BrokerMessage)) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	b.subs = append(b.subs, &subscription{id: id, segs: splitTopic(topicPattern), handler: handler})
	return id, nil
}

// Unsubscribe removes the subscription registered under id; unknown ids
// are a no-op.
func (b *MemoryBroker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Consume registers handler as one of queue's competing consumers and
// returns its consumer ID. Deliveries round-robin across the queue's
// consumers, so a message sent to the queue reaches exactly one of them.
// Any backlog accumulated while the queue had no consumer drains to the
// new consumer immediately. prefetch is recorded for interface parity;
// synchronous dispatch means at most one delivery is ever in flight per
// consumer regardless.
func (b *MemoryBroker) Consume(queue string, handler func(msg runtime.BrokerMessage), prefetch int) (string, error) {
	b.mu.Lock()
	binding, ok := b.queues[queue]
	if !ok {
		binding = &queueBinding{name: queue, prefetch: prefetch}
		b.queues[queue] = binding
	}
	if prefetch > 0 {
		binding.prefetch = prefetch
	}
	c := &consumer{id: uuid.NewString(), handler: handler}
	binding.consumers = append(binding.consumers, c)
	backlog := binding.backlog
	binding.backlog = nil
	b.mu.Unlock()

	for _, msg := range backlog {
		handler(msg)
	}
	return c.id, nil
}

// StopConsumer removes a consumer registered by Consume (or DeclareQueue)
// from its queue.
func (b *MemoryBroker) StopConsumer(queue, consumerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	binding, ok := b.queues[queue]
	if !ok {
		return nil
	}
	for i, c := range binding.consumers {
		if c.id == consumerID {
			binding.consumers = append(binding.consumers[:i], binding.consumers[i+1:]...)
			return nil
		}
	}
	return nil
}

// DeclareQueue registers name's prefetch/DLQ and (if non-nil) a consumer
// handler, immediately draining any backlog accumulated by Send/Request
// calls that arrived before a consumer existed.
func (b *MemoryBroker) DeclareQueue(name string, prefetch int, dlq string, handler func(msg runtime.BrokerMessage)) error {
	b.mu.Lock()
	binding, ok := b.queues[name]
	if !ok {
		binding = &queueBinding{name: name}
		b.queues[name] = binding
	}
	binding.prefetch = prefetch
	binding.dlq = dlq
	b.mu.Unlock()

	if handler != nil {
		if _, err := b.Consume(name, handler, prefetch); err != nil {
			return err
		}
	}
	return nil
}

// Ack acknowledges msg. The in-process adapter dispatches synchronously
// with no redelivery window, so beyond recording the delivery as settled
// (so a stray second Ack/Nack on the same delivery is a no-op, the at-most-once-ack
// invariant 9), Ack has nothing further to do.
func (b *MemoryBroker) Ack(msg runtime.BrokerMessage) error {
	if !b.markDelivered(msg.ID) {
		b.logger.Debug("ack ignored: delivery already settled", "message_id", msg.ID)
		return nil
	}
	return nil
}

// Nack routes msg to its queue's DLQ (dropping it if none is declared)
// unless requeue is true, in which case it is redelivered to the same
// queue's handler immediately. A second Nack (or a Nack after a prior
// Ack) on the same delivery is a no-op: it must not double-append to the
// DLQ and must not redispatch the message twice.
func (b *MemoryBroker) Nack(msg runtime.BrokerMessage, requeue bool) error {
	if !b.markDelivered(msg.ID) {
		b.logger.Debug("nack ignored: delivery already settled", "message_id", msg.ID, "requeue", requeue)
		return nil
	}
	obsv.BrokerNack(msg.Queue, requeue)
	if requeue {
		return b.dispatchToQueue(msg.Queue, msg)
	}
	b.mu.Lock()
	binding, ok := b.queues[msg.Queue]
	dlqName := ""
	if ok {
		dlqName = binding.dlq
	}
	if dlqName != "" {
		b.dlqs[dlqName] = append(b.dlqs[dlqName], msg)
		b.logger.Warn("message routed to dead-letter queue", "queue", msg.Queue, "dlq", dlqName, "message_id", msg.ID)
	}
	b.mu.Unlock()
	return nil
}

// QueueInfo reports a named queue's backlog depth, consumer count, and,
// if it has a DLQ, that DLQ's depth.
func (b *MemoryBroker) QueueInfo(name string) (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binding, ok := b.queues[name]
	if !ok {
		return map[string]any{"name": name, "messageCount": 0, "consumerCount": 0, "dlqDepth": 0}, nil
	}
	dlqDepth := 0
	if binding.dlq != "" {
		dlqDepth = len(b.dlqs[binding.dlq])
	}
	return map[string]any{
		"name": name, "messageCount": len(binding.backlog), "consumerCount": len(binding.consumers),
		"prefetch": binding.prefetch, "dlq": binding.dlq, "dlqDepth": dlqDepth,
	}, nil
}

// ListQueues returns the names of every declared or implicitly created
// queue, sorted for deterministic output.
func (b *MemoryBroker) ListQueues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTopics returns the distinct topic patterns currently subscribed,
// sorted for deterministic output.
func (b *MemoryBroker) ListTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]bool, len(b.subs))
	for _, s := range b.subs {
		seen[strings.Join(s.segs, ".")] = true
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// PurgeQueue drops a queue's undelivered backlog, returning how many
// messages were discarded.
func (b *MemoryBroker) PurgeQueue(name string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binding, ok := b.queues[name]
	if !ok {
		return 0, nil
	}
	n := len(binding.backlog)
	binding.backlog = nil
	return n, nil
}

// DeleteQueue removes a queue binding, its consumers, and any backlog.
func (b *MemoryBroker) DeleteQueue(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, name)
	return nil
}

// Reply answers a request-shaped delivery by publishing response on the
// incoming message's correlation-scoped reply topic. A delivery with no
// correlation ID was not a request, which is an error the handler author
// should see.
func (b *MemoryBroker) Reply(incoming runtime.BrokerMessage, response any) error {
	if incoming.CorrelationID == "" {
		return fmt.Errorf("broker: reply to message %q: no correlation id", incoming.ID)
	}
	_, err := b.Publish(context.Background(), "_reply."+incoming.CorrelationID, response, nil)
	return err
}
