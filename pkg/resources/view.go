// Package resources maintains the coordinator's view of per-node resource
// availability, folded together from pulled resource reports.
package resources

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/alexander-manley/ray"
	"github.com/alexander-manley/ray/pkg/pubsub"
)

// NodeResources is the last known resource state of one node.
type NodeResources struct {
	Total     map[string]float64 `json:"total"`
	Available map[string]float64 `json:"available"`
}

// Publisher receives a message for every applied report.
type Publisher interface {
	Publish(message pubsub.Message)
}

// ClusterView implements ray.ReportHandler.  A full report replaces the
// node's state, an incremental report overlays only the resources it names.
// Every applied report is published on the node-resources channel.
type ClusterView struct {
	logger    logrus.FieldLogger
	publisher Publisher

	mu    sync.RWMutex
	nodes map[ray.NodeID]NodeResources
}

func NewClusterView(logger logrus.FieldLogger, publisher Publisher) *ClusterView {
	return &ClusterView{
		logger:    logger,
		publisher: publisher,
		nodes:     make(map[ray.NodeID]NodeResources),
	}
}

// HandleResourceReport folds one pulled report into the view.  It may be
// called from any goroutine.
func (cv *ClusterView) HandleResourceReport(report *ray.ResourceReport) {
	cv.mu.Lock()
	current, known := cv.nodes[report.NodeID]
	if report.Incremental && known {
		current = NodeResources{
			Total:     overlay(current.Total, report.TotalResources),
			Available: overlay(current.Available, report.AvailableResources),
		}
	} else {
		if report.Incremental {
			// An incremental report for an unknown node can only be applied
			// as if it were full, the rest of the state was never seen.
			cv.logger.WithField("node", report.NodeID).Info("Incremental report for unknown node, applying as full")
		}
		current = NodeResources{
			Total:     copyResources(report.TotalResources),
			Available: copyResources(report.AvailableResources),
		}
	}
	cv.nodes[report.NodeID] = current
	cv.mu.Unlock()

	cv.publisher.Publish(pubsub.Message{
		Channel: pubsub.ChannelNodeResources,
		Key:     string(report.NodeID),
		Payload: current,
	})
}

// OnNodeRemoved forgets everything known about the node.
func (cv *ClusterView) OnNodeRemoved(nodeID ray.NodeID) {
	cv.mu.Lock()
	delete(cv.nodes, nodeID)
	cv.mu.Unlock()
}

// Node returns the last known resource state of a node.
func (cv *ClusterView) Node(nodeID ray.NodeID) (NodeResources, bool) {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	nr, ok := cv.nodes[nodeID]
	return nr, ok
}

// Snapshot returns a copy of the whole view.  Intended for admin interfaces,
// not performance critical code.
func (cv *ClusterView) Snapshot() map[ray.NodeID]NodeResources {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	snapshot := make(map[ray.NodeID]NodeResources, len(cv.nodes))
	for nodeID, nr := range cv.nodes {
		snapshot[nodeID] = NodeResources{
			Total:     copyResources(nr.Total),
			Available: copyResources(nr.Available),
		}
	}
	return snapshot
}

func copyResources(resources map[string]float64) map[string]float64 {
	copied := make(map[string]float64, len(resources))
	for name, quantity := range resources {
		copied[name] = quantity
	}
	return copied
}

func overlay(base, update map[string]float64) map[string]float64 {
	merged := copyResources(base)
	for name, quantity := range update {
		merged[name] = quantity
	}
	return merged
}
