package ast

// AgentToolParamNode declares one parameter of an AgentToolNode's schema,
// surfaced to the LLM as part of the tool-call contract.
type AgentToolParamNode struct {
	base
	Name        string
	Type        string // "string" | "number" | "boolean" | "object" | "array"
	Description string
	Required    bool
}

func (n *AgentToolParamNode) Kind() string { return "q:agent-tool-param" }

func (n *AgentToolParamNode) Validate() []error {
	var errs []error
	if err := requiredString("q:agent-tool-param", "name", n.Name); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *AgentToolParamNode) ToDict() map[string]any {
	return map[string]any{
		"kind": n.Kind(), "name": n.Name, "type": n.Type,
		"description": n.Description, "required": n.Required,
	}
}

// AgentToolNode declares a callable tool the ReAct loop may dispatch to,
// bound to a registered q:function handler.
type AgentToolNode struct {
	base
	Name        string
	Description string
	Handler     string
	Params      []*AgentToolParamNode
}

func (n *AgentToolNode) Kind() string { return "q:agent-tool" }

func (n *AgentToolNode) Validate() []error {
	var errs []error
	if err := requiredString("q:agent-tool", "name", n.Name); err != nil {
		errs = append(errs, err)
	}
	if err := requiredString("q:agent-tool", "handler", n.Handler); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// Schema returns the tool's call contract as a JSON-schema-shaped map
// (type/properties/required), the form the agent engine embeds in its
// system prompt and a provider's native tool-call API would accept.
func (n *AgentToolNode) Schema() map[string]any {
	props := make(map[string]any, len(n.Params))
	var required []string
	for _, p := range n.Params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		props[p.Name] = map[string]any{"type": typ, "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"name":        n.Name,
		"description": n.Description,
		"parameters": map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

func (n *AgentToolNode) ToDict() map[string]any {
	params := make([]any, len(n.Params))
	for i, p := range n.Params {
		params[i] = p.ToDict()
	}
	return map[string]any{
		"kind": n.Kind(), "name": n.Name, "description": n.Description,
		"handler": n.Handler, "params": params,
	}
}

// AgentInstructionNode supplies (a fragment of) the agent's system
// prompt, concatenated in document order by the parser.
type AgentInstructionNode struct {
	base
	Text string
}

func (n *AgentInstructionNode) Kind() string { return "q:agent-instruction" }

func (n *AgentInstructionNode) Validate() []error { return nil }

func (n *AgentInstructionNode) ToDict() map[string]any {
	return map[string]any{"kind": n.Kind(), "text": n.Text}
}

// AgentNode declares a named ReAct agent: its LLM datasource, tool set,
// and bounds.
type AgentNode struct {
	base
	Name          string
	LLM           string
	Tools         []*AgentToolNode
	Instructions  []*AgentInstructionNode
	MaxIterations int
	TimeoutMS     int
}

func (n *AgentNode) Kind() string { return "q:agent" }

func (n *AgentNode) Validate() []error {
	var errs []error
	if err := requiredString("q:agent", "name", n.Name); err != nil {
		errs = append(errs, err)
	}
	if err := requiredString("q:agent", "llm", n.LLM); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *AgentNode) ToDict() map[string]any {
	tools := make([]any, len(n.Tools))
	for i, t := range n.Tools {
		tools[i] = t.ToDict()
	}
	instr := make([]any, len(n.Instructions))
	for i, t := range n.Instructions {
		instr[i] = t.ToDict()
	}
	return map[string]any{
		"kind": n.Kind(), "name": n.Name, "llm": n.LLM, "tools": tools,
		"instructions": instr, "maxIterations": n.MaxIterations, "timeoutMs": n.TimeoutMS,
	}
}

// AgentExecuteNode runs a declared agent against a prompt, capturing its
// final answer (and, optionally, its full transcript).
type AgentExecuteNode struct {
	base
	Agent      string
	Prompt     string
	Result     string
	Transcript string // "" if the transcript is not captured
}

func (n *AgentExecuteNode) Kind() string { return "q:agent-execute" }

func (n *AgentExecuteNode) Validate() []error {
	var errs []error
	if err := requiredString("q:agent-execute", "agent", n.Agent); err != nil {
		errs = append(errs, err)
	}
	if err := requiredString("q:agent-execute", "prompt", n.Prompt); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *AgentExecuteNode) ToDict() map[string]any {
	return map[string]any{
		"kind": n.Kind(), "agent": n.Agent, "prompt": n.Prompt,
		"result": n.Result, "transcript": n.Transcript,
	}
}
