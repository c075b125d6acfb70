package tree

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gadgetrun/agentcore/model"
)

func TestTreeStartAndCompleteLLMCall(t *testing.T) {
	tr := New()
	id := tr.StartLLMCall("")
	require.Equal(t, id, tr.RootID())

	tr.CompleteLLMCall(id, model.TokenUsage{InputTokens: 10, OutputTokens: 5}, 0.01, nil)

	n := tr.Node(id)
	require.Equal(t, NodeLLMCall, n.Kind)
	require.Equal(t, 10, n.Usage.InputTokens)
	require.Equal(t, 0.01, n.CostUSD)
	require.False(t, n.EndedAt.IsZero())
}

func TestTreeParentChildLinks(t *testing.T) {
	tr := New()
	root := tr.StartLLMCall("")
	g1 := tr.StartGadgetCall(root, "search")
	g2 := tr.StartGadgetCall(root, "fetch")
	tr.CompleteGadgetCall(g1, 0.001, nil, nil)
	tr.CompleteGadgetCall(g2, 0.002, nil, nil)

	kids := tr.Children(root)
	require.Equal(t, []string{g1, g2}, kids, "children preserve registration order")
}

func TestTreeSubtreeCostAggregatesDescendants(t *testing.T) {
	tr := New()
	root := tr.StartLLMCall("")
	tr.CompleteLLMCall(root, model.TokenUsage{}, 0.10, nil)
	child := tr.StartGadgetCall(root, "search")
	tr.CompleteGadgetCall(child, 0.05, nil, nil)
	grandchild := tr.StartLLMCall(child)
	tr.CompleteLLMCall(grandchild, model.TokenUsage{}, 0.02, nil)

	require.InDelta(t, 0.17, tr.SubtreeCostUSD(root), 1e-9)
	require.InDelta(t, 0.07, tr.SubtreeCostUSD(child), 1e-9)
	require.InDelta(t, 0.17, tr.TotalCostUSD(), 1e-9)
}

func TestTreeSubtreeUsageOnlyCountsLLMNodes(t *testing.T) {
	tr := New()
	root := tr.StartLLMCall("")
	tr.CompleteLLMCall(root, model.TokenUsage{InputTokens: 100}, 0, nil)
	g := tr.StartGadgetCall(root, "search")
	tr.CompleteGadgetCall(g, 0, nil, nil)
	leaf := tr.StartLLMCall(g)
	tr.CompleteLLMCall(leaf, model.TokenUsage{InputTokens: 20}, 0, nil)

	usage := tr.SubtreeUsage(root)
	require.Equal(t, 120, usage.InputTokens)
}

func TestTreeConcurrentAppendsAreSafe(t *testing.T) {
	tr := New()
	root := tr.StartLLMCall("")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := tr.StartGadgetCall(root, "search")
			tr.CompleteGadgetCall(id, 0.001, nil, nil)
		}()
	}
	wg.Wait()

	require.Len(t, tr.Children(root), 50)
	require.InDelta(t, 0.05, tr.SubtreeCostUSD(root), 1e-9)
}
