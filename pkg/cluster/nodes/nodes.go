package nodes

import (
	"context"
	"net"

	"github.com/alexander-manley/ray"
)

// NodeHandler receives node lifecycle events from a NodeTracker.
// Implementations must be thread safe, events arrive on the tracker's
// goroutine.  A tracker never reports the same node as added twice without
// an intervening removal.
type NodeHandler interface {
	// OnNodeAdded is invoked when a node joins the cluster.
	OnNodeAdded(node ray.Node)

	// OnNodeRemoved is invoked when a node leaves the cluster or its
	// presence expires.
	OnNodeRemoved(nodeID ray.NodeID)
}

// NodeTracker tracks cluster membership, and is responsible for passing life
// cycle updates on to a NodeHandler.
type NodeTracker interface {
	// Run will run the node tracker until the context is closed.  The caller must
	// ensure that Run returns, and not just cancel the context, as the NodeTracker
	// may have cleanup.
	Run(ctx context.Context)
}

// LocalAddress is a helper function to return the local IP address that would
// be used to connect to a specified target.  Useful to get the IP that should
// be advertised externally.
func LocalAddress(target string) (net.IP, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return nil, err
	}

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	_ = conn.Close()
	return localAddr.IP, nil
}
