package ray

import (
	"context"
	"errors"
)

// NodeID is the opaque unique identifier of a worker node in the cluster.
type NodeID string

// UnknownNodeID is the id of an unknown node.
const UnknownNodeID NodeID = ""

// Address is the dial target of a node's resource-report endpoint.  The
// NodeID is carried alongside the network location because the remote side
// identifies itself by it.
type Address struct {
	NodeID NodeID
	IP     string
	Port   int
}

// Node pairs a node identifier with its dial address.
type Node struct {
	ID      NodeID
	Address Address
}

// ResourceReport is the parsed form of a resource report pulled from a node.
// When Incremental is false the report is a full snapshot and replaces
// everything previously known about the node.
type ResourceReport struct {
	NodeID             NodeID
	TotalResources     map[string]float64
	AvailableResources map[string]float64
	Incremental        bool
}

// ErrResourcesUnchanged is returned by a ReportFetcher when the node reports
// that nothing changed since the last pull.  It is a normal outcome, not a
// failure, and carries no payload.
var ErrResourcesUnchanged = errors.New("resources not changed")

// ReportFetcher issues asynchronous resource-report requests.  Issuing a
// request must not block; the callback is invoked exactly once when the
// request completes, potentially on an arbitrary goroutine owned by the
// network layer.  A nil error means the report is valid, ErrResourcesUnchanged
// means the node had nothing new to say, anything else is a failure.
type ReportFetcher interface {
	RequestResourceReport(ctx context.Context, addr Address, fullReport bool, callback func(*ResourceReport, error))
}

// ReportHandler folds a pulled resource report into coordinator-side cluster
// state.  It is never invoked for unchanged or failed pulls.  Implementations
// must be thread safe, the caller may be any network goroutine.
type ReportHandler interface {
	HandleResourceReport(report *ResourceReport)
}

// Runnable is a long running function intended to be launched in a goroutine.
type Runnable func(context.Context)

// Runner exposes a Runnable through an interface
type Runner interface {
	Run(context.Context)
}

func MaybeAppendRunnable(runnables []Runnable, maybeRunner interface{}) []Runnable {
	if r, ok := maybeRunner.(Runner); ok {
		runnables = append(runnables, r.Run)
	}
	return runnables
}
