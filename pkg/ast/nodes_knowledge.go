package ast

// KnowledgeSourceNode declares one ingestible source (file, URL, or raw
// text) folded into the owning KnowledgeNode by the parser.
type KnowledgeSourceNode struct {
	base
	Type string // "file" | "url" | "text"
	Ref  string // path, URL, or raw expression text depending on Type
}

func (n *KnowledgeSourceNode) Kind() string { return "q:knowledge-source" }

func (n *KnowledgeSourceNode) Validate() []error {
	var errs []error
	if err := requiredString("q:knowledge-source", "type", n.Type); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *KnowledgeSourceNode) ToDict() map[string]any {
	return map[string]any{"kind": n.Kind(), "type": n.Type, "ref": n.Ref}
}

// KnowledgeNode declares a named RAG collection: its vector-store
// datasource, embedding model binding, and chunking parameters.
type KnowledgeNode struct {
	base
	Name         string
	VectorStore  string
	Embeddings   string
	ChunkSize    int
	ChunkOverlap int
	Sources      []*KnowledgeSourceNode
}

func (n *KnowledgeNode) Kind() string { return "q:knowledge" }

func (n *KnowledgeNode) Validate() []error {
	var errs []error
	if err := requiredString("q:knowledge", "name", n.Name); err != nil {
		errs = append(errs, err)
	}
	if err := requiredString("q:knowledge", "vectorStore", n.VectorStore); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *KnowledgeNode) ToDict() map[string]any {
	sources := make([]any, len(n.Sources))
	for i, s := range n.Sources {
		sources[i] = s.ToDict()
	}
	return map[string]any{
		"kind": n.Kind(), "name": n.Name, "vectorStore": n.VectorStore,
		"embeddings": n.Embeddings, "chunkSize": n.ChunkSize,
		"chunkOverlap": n.ChunkOverlap, "sources": sources,
	}
}

// SearchNode is the q:query lowering target when the resolved datasource
// type is "knowledge": a similarity search, optionally composed
// into a RAG answer when Answer is true.
type SearchNode struct {
	base
	Knowledge string
	Query     string
	TopK      int
	Answer    bool // true => compose-and-answer instead of raw hits
	Result    string
}

func (n *SearchNode) Kind() string { return "q:search" }

func (n *SearchNode) Validate() []error {
	var errs []error
	if err := requiredString("q:search", "knowledge", n.Knowledge); err != nil {
		errs = append(errs, err)
	}
	if err := requiredString("q:search", "query", n.Query); err != nil {
		errs = append(errs, err)
	}
	if err := requiredString("q:search", "result", n.Result); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *SearchNode) ToDict() map[string]any {
	return map[string]any{
		"kind": n.Kind(), "knowledge": n.Knowledge, "query": n.Query,
		"topK": n.TopK, "answer": n.Answer, "result": n.Result,
	}
}
