package poller

import (
	"context"
	"sync"

	"github.com/alexander-manley/ray"
)

// fetchCall is a single request captured by the capturingFetcher, with the
// callback held so tests can complete pulls in any order they like.
type fetchCall struct {
	addr       ray.Address
	fullReport bool
	callback   func(*ray.ResourceReport, error)
}

type capturingFetcher struct {
	mu    sync.Mutex
	calls []fetchCall
}

func (f *capturingFetcher) RequestResourceReport(ctx context.Context, addr ray.Address, fullReport bool, callback func(*ray.ResourceReport, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{addr: addr, fullReport: fullReport, callback: callback})
}

func (f *capturingFetcher) snapshot() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := make([]fetchCall, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// countingHandler records every report it is handed.
type countingHandler struct {
	mu      sync.Mutex
	reports []*ray.ResourceReport
}

func (h *countingHandler) HandleResourceReport(report *ray.ResourceReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, report)
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reports)
}

func testNode(id string) ray.Node {
	return ray.Node{
		ID: ray.NodeID(id),
		Address: ray.Address{
			NodeID: ray.NodeID(id),
			IP:     "10.0.0.1",
			Port:   7077,
		},
	}
}

func (p *ResourceReportPoller) queuedNodes() []ray.NodeID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]ray.NodeID, 0, len(p.toPull))
	for _, state := range p.toPull {
		ids = append(ids, state.nodeID)
	}
	return ids
}

func (p *ResourceReportPoller) inflight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflightPulls
}

func (p *ResourceReportPoller) registered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes)
}
