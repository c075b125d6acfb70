// Package tree records the append-only execution tree of one agent run:
// every LLM call and gadget call as a node, linked to its parent. Cost and
// token usage are summed over a subtree on request (SubtreeCostUSD,
// SubtreeUsage); media outputs are recorded per node and are not
// aggregated.
package tree

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gadgetrun/agentcore/gadget"
	"github.com/gadgetrun/agentcore/model"
)

// NodeKind distinguishes the two node shapes a run's tree holds.
type NodeKind string

const (
	NodeLLMCall    NodeKind = "llm_call"
	NodeGadgetCall NodeKind = "gadget_call"
)

// Node is one entry in the execution tree. Nodes are immutable once
// Complete is called; fields set before completion (Kind, ID, ParentID,
// StartedAt) never change afterward.
type Node struct {
	ID       string
	ParentID string // empty for a run's root node
	Kind     NodeKind

	StartedAt time.Time
	EndedAt   time.Time

	// GadgetName is set only for NodeGadgetCall nodes.
	GadgetName string

	// Usage is set only for NodeLLMCall nodes once complete.
	Usage model.TokenUsage

	// CostUSD is this node's own cost, excluding descendants.
	CostUSD float64
	Media   []gadget.MediaOutput

	Err error
}

// Elapsed returns EndedAt.Sub(StartedAt), or zero if the node has not
// completed yet.
func (n *Node) Elapsed() time.Duration {
	if n.EndedAt.IsZero() {
		return 0
	}
	return n.EndedAt.Sub(n.StartedAt)
}

// Tree is the append-only, mutex-serialized execution tree for one run.
// Safe for concurrent appends from parallel gadget dispatch.
type Tree struct {
	mu       sync.Mutex
	nodes    map[string]*Node
	children map[string][]string // parentID -> child IDs, insertion order
	rootID   string
}

// New builds an empty Tree.
func New() *Tree {
	return &Tree{
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
	}
}

// StartLLMCall appends a new, in-progress LLM-call node under parentID
// (empty for the run root) and returns its id.
func (t *Tree) StartLLMCall(parentID string) string {
	return t.start(parentID, &Node{Kind: NodeLLMCall})
}

// StartGadgetCall appends a new, in-progress gadget-call node under
// parentID and returns its id.
func (t *Tree) StartGadgetCall(parentID, gadgetName string) string {
	return t.start(parentID, &Node{Kind: NodeGadgetCall, GadgetName: gadgetName})
}

func (t *Tree) start(parentID string, n *Node) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	n.ID = uuid.NewString()
	n.ParentID = parentID
	n.StartedAt = time.Now()
	t.nodes[n.ID] = n
	t.children[parentID] = append(t.children[parentID], n.ID)
	if parentID == "" && t.rootID == "" {
		t.rootID = n.ID
	}
	return n.ID
}

// CompleteLLMCall finalizes an LLM-call node with its token usage and
// cost.
func (t *Tree) CompleteLLMCall(id string, usage model.TokenUsage, costUSD float64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	n.EndedAt = time.Now()
	n.Usage = usage
	n.CostUSD = costUSD
	n.Err = err
}

// CompleteGadgetCall finalizes a gadget-call node with its cost and any
// media it produced.
func (t *Tree) CompleteGadgetCall(id string, costUSD float64, media []gadget.MediaOutput, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	n.EndedAt = time.Now()
	n.CostUSD = costUSD
	n.Media = media
	n.Err = err
}

// Node returns a copy of the node with the given id, or nil if unknown.
func (t *Tree) Node(id string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	cp := *n
	return &cp
}

// Children returns the ids of id's direct children, in the order they
// were started.
func (t *Tree) Children(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	kids := t.children[id]
	out := make([]string, len(kids))
	copy(out, kids)
	return out
}

// SubtreeCostUSD sums CostUSD over id and every descendant.
func (t *Tree) SubtreeCostUSD(id string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subtreeCostLocked(id)
}

func (t *Tree) subtreeCostLocked(id string) float64 {
	n, ok := t.nodes[id]
	if !ok {
		return 0
	}
	total := n.CostUSD
	for _, childID := range t.children[id] {
		total += t.subtreeCostLocked(childID)
	}
	return total
}

// SubtreeUsage sums TokenUsage over id and every descendant LLM-call
// node.
func (t *Tree) SubtreeUsage(id string) model.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total model.TokenUsage
	t.accumulateUsageLocked(id, &total)
	return total
}

func (t *Tree) accumulateUsageLocked(id string, total *model.TokenUsage) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	if n.Kind == NodeLLMCall {
		total.InputTokens += n.Usage.InputTokens
		total.OutputTokens += n.Usage.OutputTokens
		total.TotalTokens += n.Usage.TotalTokens
		total.CacheReadTokens += n.Usage.CacheReadTokens
		total.CacheWriteTokens += n.Usage.CacheWriteTokens
		total.ReasoningTokens += n.Usage.ReasoningTokens
	}
	for _, childID := range t.children[id] {
		t.accumulateUsageLocked(childID, total)
	}
}

// RootID returns the first node started with no parent, or "" if the
// tree is empty.
func (t *Tree) RootID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootID
}

// TotalCostUSD sums CostUSD across every node in the tree.
func (t *Tree) TotalCostUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, n := range t.nodes {
		total += n.CostUSD
	}
	return total
}

// Size returns the number of nodes in the tree.
func (t *Tree) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}
