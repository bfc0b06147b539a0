package ast

// WebSocketNode opens (or references, if Name already exists in the
// connection registry) a named websocket connection.
type WebSocketNode struct {
	base
	Name string
	URL  string
}

func (n *WebSocketNode) Kind() string { return "q:websocket" }

func (n *WebSocketNode) Validate() []error {
	var errs []error
	if err := requiredString("q:websocket", "name", n.Name); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *WebSocketNode) ToDict() map[string]any {
	return map[string]any{"kind": n.Kind(), "name": n.Name, "url": n.URL}
}

// WebSocketHandlerNode binds a handler function to one of a connection's
// lifecycle events: "connect" | "message" | "error" | "close".
type WebSocketHandlerNode struct {
	base
	Connection string
	Event      string
	Handler    string
}

func (n *WebSocketHandlerNode) Kind() string { return "q:websocket-handler" }

func (n *WebSocketHandlerNode) Validate() []error {
	var errs []error
	if err := requiredString("q:websocket-handler", "connection", n.Connection); err != nil {
		errs = append(errs, err)
	}
	if err := requiredString("q:websocket-handler", "event", n.Event); err != nil {
		errs = append(errs, err)
	}
	if err := requiredString("q:websocket-handler", "handler", n.Handler); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *WebSocketHandlerNode) ToDict() map[string]any {
	return map[string]any{
		"kind": n.Kind(), "connection": n.Connection, "event": n.Event, "handler": n.Handler,
	}
}

// WebSocketSendNode writes a message to a named, open connection.
type WebSocketSendNode struct {
	base
	Connection string
	Body       string
	Result     string
}

func (n *WebSocketSendNode) Kind() string { return "q:websocket-send" }

func (n *WebSocketSendNode) Validate() []error {
	var errs []error
	if err := requiredString("q:websocket-send", "connection", n.Connection); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *WebSocketSendNode) ToDict() map[string]any {
	return map[string]any{
		"kind": n.Kind(), "connection": n.Connection, "body": n.Body, "result": n.Result,
	}
}

// WebSocketCloseNode closes a named connection, transitioning it to the
// closing -> closed states.
type WebSocketCloseNode struct {
	base
	Connection string
}

func (n *WebSocketCloseNode) Kind() string { return "q:websocket-close" }

func (n *WebSocketCloseNode) Validate() []error {
	var errs []error
	if err := requiredString("q:websocket-close", "connection", n.Connection); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *WebSocketCloseNode) ToDict() map[string]any {
	return map[string]any{"kind": n.Kind(), "connection": n.Connection}
}
