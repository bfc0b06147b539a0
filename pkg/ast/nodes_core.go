package ast

// ApplicationType enumerates the render targets a q:application may
// declare via its `type` attribute.
type ApplicationType string

const (
	AppHTML          ApplicationType = "html"
	AppTerminal      ApplicationType = "terminal"
	AppDesktop       ApplicationType = "desktop"
	AppGame          ApplicationType = "game"
	AppAPI           ApplicationType = "api"
	AppMicroservices ApplicationType = "microservices"
	AppLibrary       ApplicationType = "library"
)

// ApplicationNode is the root of a full document (as opposed to a
// fragment rooted at ComponentNode).
type ApplicationNode struct {
	base
	ID          string
	Type        ApplicationType
	Engine      string // optional rendering engine hint, e.g. "ebiten", "raylib"
	Datasources map[string]*DatasourceNode
	Components  []*ComponentNode
	Scenes      []Node
	Screens     []Node
	Prefabs     []Node
	Behaviors   []Node
	Windows     []Node
}

func (n *ApplicationNode) Kind() string { return "q:application" }

func (n *ApplicationNode) Validate() []error {
	var errs []error
	if err := requiredString("q:application", "id", n.ID); err != nil {
		errs = append(errs, err)
	}
	if n.Type == "" {
		errs = append(errs, &ValidationError{Kind: "q:application", Field: "type", Message: "required attribute is missing or empty"})
	}
	return errs
}

func (n *ApplicationNode) ToDict() map[string]any {
	ds := make(map[string]any, len(n.Datasources))
	for id, d := range n.Datasources {
		ds[id] = d.ToDict()
	}
	comps := make([]any, len(n.Components))
	for i, c := range n.Components {
		comps[i] = c.ToDict()
	}
	return map[string]any{
		"kind":        n.Kind(),
		"id":          n.ID,
		"type":        string(n.Type),
		"engine":      n.Engine,
		"datasources": ds,
		"components":  comps,
		"scenes":      childDicts(n.Scenes),
		"screens":     childDicts(n.Screens),
		"prefabs":     childDicts(n.Prefabs),
		"behaviors":   childDicts(n.Behaviors),
		"windows":     childDicts(n.Windows),
	}
}

// DatasourceType enumerates the `type` attribute recognized on
// q:datasource.
type DatasourceType string

const (
	DSPostgres   DatasourceType = "postgres"
	DSMySQL      DatasourceType = "mysql"
	DSSQLite     DatasourceType = "sqlite"
	DSMSSQL      DatasourceType = "mssql"
	DSRedis      DatasourceType = "redis"
	DSLLM        DatasourceType = "llm"
	DSKnowledge  DatasourceType = "knowledge"
	DSQueue      DatasourceType = "queue"
	DSCache      DatasourceType = "cache"
	DSHTTP       DatasourceType = "http"
	DSFilesystem DatasourceType = "filesystem"
	DSUnknown    DatasourceType = ""
)

// IsDatabase reports whether t is one of the SQL-shaped database types
// that keep q:query lowered as *QueryNode.
func (t DatasourceType) IsDatabase() bool {
	switch t {
	case DSPostgres, DSMySQL, DSSQLite, DSMSSQL:
		return true
	default:
		return false
	}
}

// DatasourceNode declares a named external collaborator binding. Provider
// specific attributes beyond id/type are preserved verbatim in Attrs.
type DatasourceNode struct {
	base
	ID    string
	Type  DatasourceType
	Attrs Attrs
}

func (n *DatasourceNode) Kind() string { return "q:datasource" }

func (n *DatasourceNode) Validate() []error {
	var errs []error
	if err := requiredString("q:datasource", "id", n.ID); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *DatasourceNode) ToDict() map[string]any {
	d := map[string]any{
		"kind": n.Kind(),
		"id":   n.ID,
		"type": string(n.Type),
	}
	for k, v := range toDictAttrs(n.Attrs) {
		d[k] = v
	}
	return d
}

// ComponentNode is the root of a renderable unit: a named, ordered list
// of statements.
type ComponentNode struct {
	base
	Name       string
	Statements []Node
}

func (n *ComponentNode) Kind() string { return "q:component" }

func (n *ComponentNode) Validate() []error {
	var errs []error
	if err := requiredString("q:component", "name", n.Name); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (n *ComponentNode) ToDict() map[string]any {
	return map[string]any{
		"kind":       n.Kind(),
		"name":       n.Name,
		"statements": childDicts(n.Statements),
	}
}
