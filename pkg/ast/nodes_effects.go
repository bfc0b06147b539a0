package ast

// QueryNode runs a parameterized statement against a SQL-shaped
// datasource (the lowering target for q:query when the resolved
// datasource IsDatabase()).
type QueryNode struct {
	base
	Datasource string
	SQL        string
	Params     map[string]string // name -> raw expression text
	Result     string
}

func (n *QueryNode) Kind() string { return "q:query" }

func (n *QueryNode) Validate() []error {
	var errs []error
	if err := requiredString("q:query", "datasource", n.Datasource); err != nil {
		errs = append(errs, err)
	}
	if err := requiredString("q:query", "result", n.Result); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *QueryNode) ToDict() map[string]any {
	params := make(map[string]any, len(n.Params))
	for k, v := range n.Params {
		params[k] = v
	}
	return map[string]any{
		"kind":       n.Kind(),
		"datasource": n.Datasource,
		"sql":        n.SQL,
		"params":     params,
		"result":     n.Result,
	}
}

// ActionNode is a request-gated statement block: its body runs only
// when the external HTTP collaborator signals that the current request
// matches this action's name and method. Redirect, when set,
// leaves a `__redirect__` token in the context for the outer render
// layer to act on.
type ActionNode struct {
	base
	Name     string
	Method   string
	Redirect string // databound template ("/users/{id}"), "" if no redirect
	Body     []Node
}

func (n *ActionNode) Kind() string { return "q:action" }

func (n *ActionNode) Validate() []error {
	var errs []error
	if err := requiredString("q:action", "name", n.Name); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *ActionNode) ToDict() map[string]any {
	body := make([]any, len(n.Body))
	for i, s := range n.Body {
		body[i] = s.ToDict()
	}
	return map[string]any{
		"kind":     n.Kind(),
		"name":     n.Name,
		"method":   n.Method,
		"redirect": n.Redirect,
		"body":     body,
	}
}

// MailNode sends an email via the Email collaborator.
type MailNode struct {
	base
	To      string
	Subject string
	Body    string
	Result  string // "" if the outcome is not captured
}

func (n *MailNode) Kind() string { return "q:mail" }

func (n *MailNode) Validate() []error {
	var errs []error
	if err := requiredString("q:mail", "to", n.To); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *MailNode) ToDict() map[string]any {
	return map[string]any{
		"kind": n.Kind(), "to": n.To, "subject": n.Subject, "body": n.Body, "result": n.Result,
	}
}

// FileNode performs a filesystem-shaped operation (read/write/append/
// delete/exists) via the FileUpload/filesystem collaborator.
type FileNode struct {
	base
	Action string // "read" | "write" | "append" | "delete" | "exists"
	Path   string
	Data   string // raw expression text for write/append, "" otherwise
	Result string
}

func (n *FileNode) Kind() string { return "q:file" }

func (n *FileNode) Validate() []error {
	var errs []error
	if err := requiredString("q:file", "action", n.Action); err != nil {
		errs = append(errs, err)
	}
	if err := requiredString("q:file", "path", n.Path); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *FileNode) ToDict() map[string]any {
	return map[string]any{
		"kind": n.Kind(), "action": n.Action, "path": n.Path, "data": n.Data, "result": n.Result,
	}
}

// DumpNode renders a value's debug representation inline (diagnostic
// aid). Format selects the rendering (html, json, text); Depth bounds
// recursion into nested containers.
type DumpNode struct {
	base
	Value  string
	Format string // "html" | "json" | "text"
	Depth  int
	Label  string
}

func (n *DumpNode) Kind() string { return "q:dump" }

func (n *DumpNode) Validate() []error {
	var errs []error
	if err := requiredString("q:dump", "value", n.Value); err != nil {
		errs = append(errs, err)
	}
	switch n.Format {
	case "", "html", "json", "text":
	default:
		errs = append(errs, &ValidationError{Kind: "q:dump", Field: "format", Message: "must be one of html, json, text"})
	}
	return errs
}

func (n *DumpNode) ToDict() map[string]any {
	return map[string]any{"kind": n.Kind(), "value": n.Value, "format": n.Format, "depth": n.Depth, "label": n.Label}
}

// LogNode emits a structured log line through the ambient logger, at
// the given level.
type LogNode struct {
	base
	Level   string // "debug" | "info" | "warn" | "error"
	Message string
	Fields  map[string]string // name -> raw expression text
}

func (n *LogNode) Kind() string { return "q:log" }

func (n *LogNode) Validate() []error {
	var errs []error
	if err := requiredString("q:log", "message", n.Message); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *LogNode) ToDict() map[string]any {
	fields := make(map[string]any, len(n.Fields))
	for k, v := range n.Fields {
		fields[k] = v
	}
	return map[string]any{"kind": n.Kind(), "level": n.Level, "message": n.Message, "fields": fields}
}
