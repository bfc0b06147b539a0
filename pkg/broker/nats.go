// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/quantumlang/core/pkg/runtime"
)

// NatsAdapter satisfies runtime.BrokerService over a real NATS
// connection: topic publish/subscribe maps directly onto NATS subjects
// (NATS subject wildcards already use the same single-segment `*` and
// multi-segment `>` tokens the in-process adapter's `*` emulates), and
// queues map onto NATS queue groups bound to a subject of the same name
// so multiple `q:queue` consumers across processes load-balance.
type NatsAdapter struct {
	mu   sync.Mutex
	addr string
	opts []nats.Option
	conn *nats.Conn
	dlqs map[string]string             // queue name -> DLQ subject, declared via DeclareQueue
	subs map[string]*nats.Subscription // subscription/consumer id -> live subscription
}

// NewNatsAdapter dials addr (e.g. "nats://localhost:4222") and returns
// a ready adapter.
func NewNatsAdapter(addr string, opts ...nats.Option) (*NatsAdapter, error) {
	conn, err := nats.Connect(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("broker: connect to nats %q: %w", addr, err)
	}
	return &NatsAdapter{
		addr: addr, opts: opts, conn: conn,
		dlqs: make(map[string]string),
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Connect re-dials the address the adapter was constructed with if the
// prior connection was closed; a live connection is left alone.
func (a *NatsAdapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil && !a.conn.IsClosed() {
		return nil
	}
	conn, err := nats.Connect(a.addr, a.opts...)
	if err != nil {
		return fmt.Errorf("broker: reconnect to nats %q: %w", a.addr, err)
	}
	a.conn = conn
	return nil
}

// Disconnect drains the connection, letting in-flight deliveries finish
// before the socket closes.
func (a *NatsAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = make(map[string]*nats.Subscription)
	return a.conn.Drain()
}

// IsConnected reports the live connection state.
func (a *NatsAdapter) IsConnected() bool {
	return a.conn != nil && a.conn.IsConnected()
}

func encodeBody(body any) ([]byte, error) {
	if b, ok := body.([]byte); ok {
		return b, nil
	}
	if s, ok := body.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(body)
}

func decodeBody(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err == nil {
		return v
	}
	return string(data)
}

func toBrokerMessage(m *nats.Msg) runtime.BrokerMessage {
	headers := make(map[string]string)
	for k := range m.Header {
		headers[k] = m.Header.Get(k)
	}
	return runtime.BrokerMessage{
		ID: m.Reply, Topic: m.Subject, Queue: m.Subject,
		Body: decodeBody(m.Data), Headers: headers,
		CorrelationID: headers["Correlation-Id"],
	}
}

// Publish publishes to a plain NATS subject.
func (a *NatsAdapter) Publish(ctx context.Context, topic string, body any, headers map[string]string) (string, error) {
	data, err := encodeBody(body)
	if err != nil {
		return "", err
	}
	if err := a.conn.Publish(topic, data); err != nil {
		return "", err
	}
	return "", nil
}

// Send publishes to the subject backing queue. Consumers registered via
// DeclareQueue bind a NATS queue group of the same name, so exactly one
// of them receives each message.
func (a *NatsAdapter) Send(ctx context.Context, queue string, body any, headers map[string]string) (string, error) {
	return a.Publish(ctx, queue, body, headers)
}

// Request issues a NATS request/reply round trip with the given timeout.
func (a *NatsAdapter) Request(ctx context.Context, queue string, body any, headers map[string]string, timeoutMS int) (any, error) {
	data, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
		defer cancel()
	}
	reply, err := a.conn.RequestWithContext(ctx, queue, data)
	if err != nil {
		return nil, fmt.Errorf("broker: nats request to %q: %w", queue, err)
	}
	return decodeBody(reply.Data), nil
}

// Subscribe binds an ordinary (non-queue-group) NATS subscription.
func (a *NatsAdapter) Subscribe(topicPattern string, handler func(msg runtime.BrokerMessage)) (string, error) {
	sub, err := a.conn.Subscribe(topicPattern, func(m *nats.Msg) { handler(toBrokerMessage(m)) })
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	a.mu.Lock()
	a.subs[id] = sub
	a.mu.Unlock()
	return id, nil
}

// Unsubscribe drops the subscription or consumer registered under id.
func (a *NatsAdapter) Unsubscribe(id string) error {
	a.mu.Lock()
	sub, ok := a.subs[id]
	delete(a.subs, id)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// Consume binds a queue-group subscription so handler load-balances with
// every other consumer of the same queue (in this process or any other),
// returning a consumer id usable with Unsubscribe. prefetch maps onto
// the subscription's pending limit.
func (a *NatsAdapter) Consume(queue string, handler func(msg runtime.BrokerMessage), prefetch int) (string, error) {
	sub, err := a.conn.QueueSubscribe(queue, queue, func(m *nats.Msg) { handler(toBrokerMessage(m)) })
	if err != nil {
		return "", err
	}
	if prefetch > 0 {
		_ = sub.SetPendingLimits(prefetch, -1)
	}
	id := uuid.NewString()
	a.mu.Lock()
	a.subs[id] = sub
	a.mu.Unlock()
	return id, nil
}

// Reply answers a request-shaped delivery on its NATS reply subject
// (carried through BrokerMessage.ID by toBrokerMessage).
func (a *NatsAdapter) Reply(incoming runtime.BrokerMessage, response any) error {
	if incoming.ID == "" {
		return fmt.Errorf("broker: reply: message has no reply subject")
	}
	data, err := encodeBody(response)
	if err != nil {
		return err
	}
	return a.conn.Publish(incoming.ID, data)
}

// DeclareQueue binds a NATS queue-group subscription so the handler
// load-balances with any other process declaring the same queue name.
// dlq, if set, is where Nack republishes rejected messages; NATS core
// pub/sub has no broker-side redelivery, so Ack/Nack are adapter-level
// conventions layered on top rather than JetStream ack semantics.
func (a *NatsAdapter) DeclareQueue(name string, prefetch int, dlq string, handler func(msg runtime.BrokerMessage)) error {
	a.mu.Lock()
	a.dlqs[name] = dlq
	a.mu.Unlock()
	if handler == nil {
		return nil
	}
	_, err := a.Consume(name, handler, prefetch)
	return err
}

// Ack is a no-op: core NATS pub/sub delivers at-most-once with no
// broker-tracked in-flight state to acknowledge.
func (a *NatsAdapter) Ack(msg runtime.BrokerMessage) error { return nil }

// Nack republishes msg to its queue (requeue=true) or to the queue's
// declared DLQ subject (requeue=false, if one was declared via
// DeclareQueue).
func (a *NatsAdapter) Nack(msg runtime.BrokerMessage, requeue bool) error {
	if requeue {
		_, err := a.Send(context.Background(), msg.Queue, msg.Body, msg.Headers)
		return err
	}
	a.mu.Lock()
	dlq := a.dlqs[msg.Queue]
	a.mu.Unlock()
	if dlq != "" {
		_, err := a.Publish(context.Background(), dlq, msg.Body, msg.Headers)
		return err
	}
	return nil
}

// QueueInfo reports what the NATS client exposes locally; true backlog
// depth requires JetStream stream/consumer introspection, which this
// adapter does not enable (core pub/sub only).
func (a *NatsAdapter) QueueInfo(name string) (map[string]any, error) {
	a.mu.Lock()
	dlq := a.dlqs[name]
	a.mu.Unlock()
	return map[string]any{
		"name": name, "dlq": dlq,
		"connectedUrl": a.conn.ConnectedUrl(),
		"status":       a.conn.Status().String(),
	}, nil
}

// ListQueues returns the queue names declared through this adapter;
// queues declared by other processes are not visible to core NATS.
func (a *NatsAdapter) ListQueues() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.dlqs))
	for name := range a.dlqs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTopics returns the subjects of this adapter's live subscriptions.
func (a *NatsAdapter) ListTopics() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := make(map[string]bool, len(a.subs))
	for _, sub := range a.subs {
		seen[sub.Subject] = true
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// PurgeQueue is a no-op on core NATS: undelivered messages live in the
// server only for the instant of publish, so there is no backlog to
// purge without JetStream.
func (a *NatsAdapter) PurgeQueue(name string) (int, error) { return 0, nil }

// DeleteQueue forgets the queue's DLQ binding. Consumers remain until
// individually unsubscribed; core NATS has no server-side queue object
// to delete.
func (a *NatsAdapter) DeleteQueue(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.dlqs, name)
	return nil
}

// Close drains and closes the underlying connection.
func (a *NatsAdapter) Close() error {
	return a.conn.Drain()
}
