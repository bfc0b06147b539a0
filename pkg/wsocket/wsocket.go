// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package wsocket implements the WebSocket service: a server-side
// registry of client connections addressed by logical name, satisfying
// pkg/runtime's WebSocketService. Multiple connections may share a name
// (q:websocket re-opened, or reconnected after a drop); Send/Broadcast
// fan out across every connection currently registered under that name.
package wsocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quantumlang/core/pkg/jobs"
	"github.com/quantumlang/core/pkg/logging"
)

// State is a connection's lifecycle stage.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// Event names dispatched to registered handlers.
const (
	EventConnect = "connect"
	EventMessage = "message"
	EventError   = "error"
	EventClose   = "close"
)

// historyLimit bounds the in-memory per-connection message history kept
// for inspection/debugging.
const historyLimit = 50

// maxReconnectAttempts bounds the reconnect-with-backoff loop; past this
// many consecutive failures a dropped connection is left closed rather
// than retried forever.
const maxReconnectAttempts = 8

// Connection is one logical-name's live socket plus its bookkeeping.
type Connection struct {
	ID            string
	Name          string
	URL           string
	State         State
	ConnectedAt   *time.Time
	LastMessageAt *time.Time
	MessageCount  int
	LastError     string
	Metadata      map[string]any

	mu         sync.Mutex
	conn       *websocket.Conn
	history    []any
	outbox     []any
	wantClosed bool // true once CloseWithReason was called for this connection
}

// HandlerFunc reacts to one lifecycle event. payload is the parsed JSON
// body for "message", the error text for "error", nil otherwise.
type HandlerFunc func(connName string, payload any)

// Dialer abstracts the outbound connection step so tests can stub it
// without a real network dial.
type Dialer func(url string) (*websocket.Conn, error)

// Service is the connection registry. Zero value is unusable;
// use New.
type Service struct {
	mu          sync.RWMutex
	conns       map[string][]*Connection // logical name -> connections
	byID        map[string]*Connection
	handlers    map[string][]HandlerFunc // "name|event" -> handlers
	dial        Dialer
	logger      *logging.Logger
	reconnectCh chan string
}

// New constructs an empty registry. dial defaults to a real
// gorilla/websocket dial when nil.
func New(dial Dialer, logger *logging.Logger) *Service {
	if dial == nil {
		dial = func(url string) (*websocket.Conn, error) {
			c, _, err := websocket.DefaultDialer.Dial(url, nil)
			return c, err
		}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		conns: make(map[string][]*Connection), byID: make(map[string]*Connection),
		handlers: make(map[string][]HandlerFunc), dial: dial, logger: logger,
	}
}

// Open satisfies runtime.WebSocketService: connects (or reconnects) a
// named logical connection and starts its read pump on a dedicated
// goroutine. Opening an already-connecting/open name under the exact
// same URL is a no-op; a different URL adds another connection to the
// group rather than replacing it, matching "many connections can share a
// name".
func (s *Service) Open(name, url string) error {
	s.mu.Lock()
	for _, c := range s.conns[name] {
		if c.URL == url && (c.State == StateOpen || c.State == StateConnecting) {
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	c := s.registerConnection(name, url)
	return s.dialAndPump(c, 0)
}

func (s *Service) registerConnection(name, url string) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Connection{ID: fmt.Sprintf("%s-%d", name, len(s.conns[name])+1), Name: name, URL: url, State: StateConnecting, Metadata: map[string]any{}}
	s.conns[name] = append(s.conns[name], c)
	s.byID[c.ID] = c
	return c
}

func (s *Service) dialAndPump(c *Connection, attempt int) error {
	conn, err := s.dial(c.URL)
	if err != nil {
		s.setState(c, StateClosed)
		c.mu.Lock()
		c.LastError = err.Error()
		c.mu.Unlock()
		s.dispatch(c.Name, EventError, err.Error())
		return err
	}
	now := time.Now()
	c.mu.Lock()
	c.conn = conn
	c.ConnectedAt = &now
	c.mu.Unlock()
	s.setState(c, StateOpen)
	s.dispatch(c.Name, EventConnect, nil)
	go s.readPump(c)
	return nil
}

// readPump reads frames until the connection drops, dispatching parsed
// JSON payloads to "message" handlers. An unsolicited drop (not caused by
// CloseWithReason) triggers the reconnect-with-backoff loop, spaced by
// jobs.Backoff, the same curve the job queue uses for retries.
func (s *Service) readPump(c *Connection) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			s.setState(c, StateClosed)
			s.dispatch(c.Name, EventClose, err.Error())
			c.mu.Lock()
			voluntary := c.wantClosed
			c.mu.Unlock()
			if !voluntary {
				go s.reconnect(c)
			}
			return
		}
		now := time.Now()
		var payload any
		if json.Valid(data) {
			_ = json.Unmarshal(data, &payload)
		} else {
			payload = string(data)
		}
		c.mu.Lock()
		c.LastMessageAt = &now
		c.MessageCount++
		c.history = append(c.history, payload)
		if len(c.history) > historyLimit {
			c.history = c.history[len(c.history)-historyLimit:]
		}
		c.mu.Unlock()
		s.dispatch(c.Name, EventMessage, payload)
	}
}

// reconnect retries c's dial with jobs.Backoff-spaced delays until it
// succeeds or maxReconnectAttempts is exhausted.
func (s *Service) reconnect(c *Connection) {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		time.Sleep(reconnectBackoff(attempt))
		c.mu.Lock()
		giveUp := c.wantClosed
		c.mu.Unlock()
		if giveUp {
			return
		}
		s.setState(c, StateConnecting)
		if err := s.dialAndPump(c, attempt); err == nil {
			return
		}
	}
	s.logger.Error("websocket reconnect exhausted attempts", "connection", c.Name, "attempts", maxReconnectAttempts)
}

func (s *Service) setState(c *Connection, st State) {
	c.mu.Lock()
	c.State = st
	c.mu.Unlock()
}

// Send satisfies runtime.WebSocketService: writes body to every open
// connection registered under name, queuing it ("sendMessage queues
// an outbound message") when no connection is currently open.
func (s *Service) Send(name string, body any) (bool, error) {
	s.mu.RLock()
	conns := append([]*Connection(nil), s.conns[name]...)
	s.mu.RUnlock()

	sent := false
	var lastErr error
	for _, c := range conns {
		c.mu.Lock()
		open := c.State == StateOpen && c.conn != nil
		if !open {
			c.outbox = append(c.outbox, body)
			c.mu.Unlock()
			continue
		}
		err := c.conn.WriteJSON(body)
		c.mu.Unlock()
		if err != nil {
			lastErr = err
			continue
		}
		sent = true
	}
	if !sent && lastErr == nil && len(conns) == 0 {
		return false, fmt.Errorf("wsocket: no connection registered for %q", name)
	}
	return sent, lastErr
}

// Broadcast is Send's explicit-fanout alias: every connection in the
// group receives body, so broadcasts target the whole group.
func (s *Service) Broadcast(name string, body any) (int, error) {
	s.mu.RLock()
	conns := append([]*Connection(nil), s.conns[name]...)
	s.mu.RUnlock()
	n := 0
	var lastErr error
	for _, c := range conns {
		c.mu.Lock()
		if c.State == StateOpen && c.conn != nil {
			if err := c.conn.WriteJSON(body); err == nil {
				n++
			} else {
				lastErr = err
			}
		}
		c.mu.Unlock()
	}
	return n, lastErr
}

// GetPendingMessages drains and returns the queued outbound messages for
// connections under name that were not open at Send time.
func (s *Service) GetPendingMessages(name string) []any {
	s.mu.RLock()
	conns := append([]*Connection(nil), s.conns[name]...)
	s.mu.RUnlock()
	var out []any
	for _, c := range conns {
		c.mu.Lock()
		out = append(out, c.outbox...)
		c.outbox = nil
		c.mu.Unlock()
	}
	return out
}

// Close satisfies runtime.WebSocketService: transitions every connection
// under name through closing -> closed and releases the socket.
func (s *Service) Close(name string) error {
	return s.CloseWithReason(name, websocket.CloseNormalClosure, "")
}

// CloseWithReason exposes the full closeConnection(name, code, reason)
// signature for callers that need a specific close frame.
func (s *Service) CloseWithReason(name string, code int, reason string) error {
	s.mu.RLock()
	conns := append([]*Connection(nil), s.conns[name]...)
	s.mu.RUnlock()
	var lastErr error
	for _, c := range conns {
		s.setState(c, StateClosing)
		c.mu.Lock()
		c.wantClosed = true
		if c.conn != nil {
			deadline := time.Now().Add(time.Second)
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			if err := c.conn.Close(); err != nil {
				lastErr = err
			}
		}
		c.mu.Unlock()
		s.setState(c, StateClosed)
	}
	s.dispatch(name, EventClose, reason)
	return lastErr
}

// ReceiveMessage feeds an externally-sourced payload through the same
// dispatch path readPump uses; it exists for adapters that receive
// frames off-band (e.g. a server-side upgrade handled outside this
// package) but still want this registry's handler fan-out.
func (s *Service) ReceiveMessage(name string, payload any) {
	s.dispatch(name, EventMessage, payload)
}

// RegisterHandler binds fn to one of a connection's lifecycle events.
func (s *Service) RegisterHandler(name, event string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name + "|" + event
	s.handlers[key] = append(s.handlers[key], fn)
}

// dispatch invokes every handler registered for (name, event); a
// handler that panics or is otherwise misbehaving is logged and must
// not prevent the remaining handlers from running.
func (s *Service) dispatch(name, event string, payload any) {
	s.mu.RLock()
	hs := append([]HandlerFunc(nil), s.handlers[name+"|"+event]...)
	s.mu.RUnlock()
	for _, h := range hs {
		s.safeInvoke(h, name, payload)
	}
}

func (s *Service) safeInvoke(h HandlerFunc, name string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("websocket handler panicked", "connection", name, "panic", r)
		}
	}()
	h(name, payload)
}

// Connections returns a snapshot of every connection registered under
// name, for diagnostics/tests.
func (s *Service) Connections(name string) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Connection(nil), s.conns[name]...)
}

// reconnectBackoff is exposed so tests can assert the curve matches
// pkg/jobs.Backoff without duplicating the formula.
func reconnectBackoff(attempt int) time.Duration {
	return jobs.Backoff(attempt, 1)
}
