package fixtures

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexander-manley/ray"
)

// MockNodeHandler implements a mock nodes.NodeHandler from github.com/alexander-manley/ray/pkg/cluster/nodes
type MockNodeHandler struct {
	TB testing.TB

	FnOnNodeAdded   func(node ray.Node)
	FnOnNodeRemoved func(nodeID ray.NodeID)
}

func (m *MockNodeHandler) OnNodeAdded(node ray.Node) {
	if m.FnOnNodeAdded != nil {
		m.FnOnNodeAdded(node)
	} else {
		assert.Fail(m.TB, "NodeHandler.OnNodeAdded must not be called")
	}
}

func (m *MockNodeHandler) OnNodeRemoved(nodeID ray.NodeID) {
	if m.FnOnNodeRemoved != nil {
		m.FnOnNodeRemoved(nodeID)
	} else {
		assert.Fail(m.TB, "NodeHandler.OnNodeRemoved must not be called")
	}
}
