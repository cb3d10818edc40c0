package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindAction NodeKind = "action"
	NodeKindBranch NodeKind = "branch" // step whose success transition is conditional
	NodeKindStart  NodeKind = "start"
	NodeKindEnd    NodeKind = "end"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Model is the intermediate representation rendered by RenderMermaid.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is one step of the graph, or a virtual start/end node.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the latest recorded run of a step.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Visits     int
	Error      string
}

// Edge is a possible transition between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
