package ast

// MessageHeaderNode is a single name/value header entry folded into the
// owning MessageNode's Headers map by the parser.
type MessageHeaderNode struct {
	base
	Name  string
	Value string
}

func (n *MessageHeaderNode) Kind() string { return "q:header" }

func (n *MessageHeaderNode) Validate() []error {
	var errs []error
	if err := requiredString("q:header", "name", n.Name); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *MessageHeaderNode) ToDict() map[string]any {
	return map[string]any{"kind": n.Kind(), "name": n.Name, "value": n.Value}
}

// MessageNode publishes to a topic or queue via the broker adapter.
// Exactly one of Topic/Queue is expected to be set; Validate reports a
// node with neither, and does not reject one that sets both.
type MessageNode struct {
	base
	Type      string // "publish" | "send" | "request"; "" infers from Topic/Queue
	Topic     string
	Queue     string
	Body      string
	Headers   map[string]string
	TimeoutMS int    // request only; 0 uses the broker adapter's default
	Result    string // "" if the publish outcome is not captured
}

func (n *MessageNode) Kind() string { return "q:message" }

// EffectiveType resolves Type, inferring "publish"/"send" from which of
// Topic/Queue is set when the attribute was omitted.
func (n *MessageNode) EffectiveType() string {
	if n.Type != "" {
		return n.Type
	}
	if n.Topic != "" {
		return "publish"
	}
	return "send"
}

func (n *MessageNode) Validate() []error {
	var errs []error
	if n.Topic == "" && n.Queue == "" {
		errs = append(errs, &ValidationError{Kind: "q:message", Field: "topic/queue", Message: "one of topic or queue is required"})
	}
	switch n.Type {
	case "", "publish", "send", "request":
	default:
		errs = append(errs, &ValidationError{Kind: "q:message", Field: "type", Message: "must be one of publish, send, request"})
	}
	return errs
}

func (n *MessageNode) ToDict() map[string]any {
	headers := make(map[string]any, len(n.Headers))
	for k, v := range n.Headers {
		headers[k] = v
	}
	return map[string]any{
		"kind": n.Kind(), "type": n.EffectiveType(), "topic": n.Topic, "queue": n.Queue, "body": n.Body,
		"headers": headers, "timeoutMs": n.TimeoutMS, "result": n.Result,
	}
}

// SubscribeNode registers a durable handler against a topic pattern
// (single-segment `*` wildcard). The handler is either a named
// q:function (Handler) or an inline statement list (Body) executed in a
// fresh context per delivery. Ack selects auto (settled after the
// handler returns) or manual (the body calls q:ack / q:nack itself).
type SubscribeNode struct {
	base
	Topic   string
	Handler string // name of a registered q:function; "" when Body is inline
	Body    []Node
	Ack     string // "auto" | "manual"
}

func (n *SubscribeNode) Kind() string { return "q:subscribe" }

func (n *SubscribeNode) Validate() []error {
	var errs []error
	if err := requiredString("q:subscribe", "topic", n.Topic); err != nil {
		errs = append(errs, err)
	}
	if n.Handler == "" && len(n.Body) == 0 {
		errs = append(errs, &ValidationError{Kind: "q:subscribe", Field: "handler", Message: "a handler attribute or an inline body is required"})
	}
	switch n.Ack {
	case "", "auto", "manual":
	default:
		errs = append(errs, &ValidationError{Kind: "q:subscribe", Field: "ack", Message: "must be one of auto, manual"})
	}
	return errs
}

func (n *SubscribeNode) ToDict() map[string]any {
	body := make([]any, len(n.Body))
	for i, s := range n.Body {
		body[i] = s.ToDict()
	}
	return map[string]any{"kind": n.Kind(), "topic": n.Topic, "handler": n.Handler, "body": body, "ack": n.Ack}
}

// QueueNode declares a named durable queue binding (prefetch, DLQ name);
// the interpreter passes it to the broker's DeclareQueue, wiring Handler
// as the queue's consumer when one is named.
type QueueNode struct {
	base
	Name     string
	Prefetch int
	DLQ      string
	Handler  string
}

func (n *QueueNode) Kind() string { return "q:queue" }

func (n *QueueNode) Validate() []error {
	var errs []error
	if err := requiredString("q:queue", "name", n.Name); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *QueueNode) ToDict() map[string]any {
	return map[string]any{
		"kind": n.Kind(), "name": n.Name, "prefetch": n.Prefetch, "dlq": n.DLQ, "handler": n.Handler,
	}
}

// MessageAckNode acknowledges a consumed message by its delivery handle.
type MessageAckNode struct {
	base
	Message string // raw expression text resolving to a delivery handle
}

func (n *MessageAckNode) Kind() string { return "q:ack" }

func (n *MessageAckNode) Validate() []error {
	var errs []error
	if err := requiredString("q:ack", "message", n.Message); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *MessageAckNode) ToDict() map[string]any {
	return map[string]any{"kind": n.Kind(), "message": n.Message}
}

// MessageNackNode negatively acknowledges a consumed message, optionally
// requeueing it instead of routing to the queue's DLQ.
type MessageNackNode struct {
	base
	Message string
	Requeue bool
}

func (n *MessageNackNode) Kind() string { return "q:nack" }

func (n *MessageNackNode) Validate() []error {
	var errs []error
	if err := requiredString("q:nack", "message", n.Message); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *MessageNackNode) ToDict() map[string]any {
	return map[string]any{"kind": n.Kind(), "message": n.Message, "requeue": n.Requeue}
}
