package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/alexander-manley/ray"
	"github.com/alexander-manley/ray/pkg/healthcheck"
)

// pullNow is the nextPullTime sentinel marking a node as due immediately.
// A pull dispatched with the sentinel requests a full report rather than an
// incremental one.
const pullNow = int64(-1)

// pullState is the authoritative per-node polling record.  The registry map
// and the pull queue both hold pointers to the same record, so deleting the
// registry entry makes the node invisible to every later lookup without
// touching the queue.
type pullState struct {
	nodeID  ray.NodeID
	address ray.Address

	// nextPullTime is epoch milliseconds, or pullNow.  Only mutated while
	// the state is not in the queue (at creation and on completion).
	nextPullTime int64
}

// completion is the result of an in-flight pull, handed back to the Run
// goroutine through the completions channel.
type completion struct {
	state          *pullState
	needFullReport bool
}

// ResourceReportPoller continuously pulls resource reports from every node in
// the cluster, keeping at most Options.MaxConcurrentPulls requests in flight.
// A node is never polled concurrently with itself, and never polled after it
// has been removed.
type ResourceReportPoller struct {
	logger  logrus.FieldLogger
	fetcher ray.ReportFetcher
	handler ray.ReportHandler
	opts    Options

	// completions has capacity MaxConcurrentPulls and every in-flight pull
	// owns exactly one slot, so sends never block.
	completions chan completion
	// wake nudges the Run goroutine to schedule ahead of the next tick.
	wake chan struct{}

	// mu guards nodes, toPull and inflightPulls.  Scheduling passes run on
	// the Run goroutine, but the lifecycle handlers arrive on the membership
	// component's goroutines.
	mu            sync.Mutex
	nodes         map[ray.NodeID]*pullState
	toPull        []*pullState
	inflightPulls int
}

// NewResourceReportPoller creates a poller which reports pulled reports to
// handler.  It does nothing until Run is started.
func NewResourceReportPoller(logger logrus.FieldLogger, fetcher ray.ReportFetcher, handler ray.ReportHandler, opts Options) (*ResourceReportPoller, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &ResourceReportPoller{
		logger:      logger,
		fetcher:     fetcher,
		handler:     handler,
		opts:        opts,
		completions: make(chan completion, opts.MaxConcurrentPulls),
		wake:        make(chan struct{}, 1),
		nodes:       make(map[ray.NodeID]*pullState),
	}, nil
}

// Run owns the periodic tick and performs all scheduling in response to
// ticks, wake signals and completion notifications, until the context is
// closed.  The clock is taken from the context so tests can drive it.
func (p *ResourceReportPoller) Run(ctx context.Context) {
	clck := clock.FromContext(ctx)
	ticker := clck.NewTicker(p.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		case c := <-p.completions:
			p.handleReportReceived(clck, c)
		}
		p.tryPullResourceReports(ctx, clck)
	}
}

// Bootstrap registers every node of the known cluster membership, in
// arbitrary order.  Intended to be called once at startup.
func (p *ResourceReportPoller) Bootstrap(nodes []ray.Node) {
	for _, node := range nodes {
		p.OnNodeAdded(node)
	}
}

// OnNodeAdded registers a node and queues it ahead of routine rescheduling.
// Adding a node id which is already registered is a bug in the caller's
// lifecycle bookkeeping and panics.
func (p *ResourceReportPoller) OnNodeAdded(node ray.Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.nodes[node.ID]; ok {
		p.logger.WithField("node", node.ID).Panic("Node was added twice")
	}
	state := &pullState{
		nodeID:       node.ID,
		address:      node.Address,
		nextPullTime: pullNow,
	}
	p.nodes[node.ID] = state
	p.pushFront(state)
	p.logger.WithField("node", node.ID).Debug("Node added")
	p.scheduleWake()
}

// OnNodeRemoved deregisters a node.  Removing an unknown node is a no-op.
// Any queue entry or in-flight pull for the node is not cancelled here, it is
// discovered and dropped the next time it is touched.
func (p *ResourceReportPoller) OnNodeRemoved(nodeID ray.NodeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, nodeID)
	p.logger.WithFields(logrus.Fields{
		"node":      nodeID,
		"remaining": len(p.nodes),
	}).Debug("Node removed")
}

// tryPullResourceReports drains the front of the pull queue through the
// admission ceiling.  The queue is not a strict priority order: it only ever
// inspects the front and stops at the first entry which is not yet due.
func (p *ResourceReportPoller) tryPullResourceReports(ctx context.Context, clck clock.Clock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := clck.Now().UnixMilli()

	for p.inflightPulls < p.opts.MaxConcurrentPulls && len(p.toPull) > 0 {
		next := p.toPull[0]
		if now < next.nextPullTime {
			break
		}
		p.toPull[0] = nil
		p.toPull = p.toPull[1:]

		if _, ok := p.nodes[next.nodeID]; !ok {
			// The node left the cluster while queued.  Dropping it here does
			// not consume an admission slot.
			p.logger.WithField("node", next.nodeID).Debug("Pull was queued, but node was already removed from the cluster. Ignoring.")
			continue
		}

		p.pullResourceReport(ctx, next)
	}
}

// pullResourceReport dispatches one pull.  Called with mu held.
func (p *ResourceReportPoller) pullResourceReport(ctx context.Context, state *pullState) {
	p.inflightPulls++
	fullReport := state.nextPullTime == pullNow

	p.fetcher.RequestResourceReport(ctx, state.address, fullReport, func(report *ray.ResourceReport, err error) {
		// Runs on a network layer goroutine.  Interpret the outcome here,
		// then hand the scheduling mutation off to the Run goroutine.
		needFullReport := false
		switch {
		case err == nil:
			p.handler.HandleResourceReport(report)
		case errors.Is(err, ray.ErrResourcesUnchanged):
			p.logger.WithField("node", state.nodeID).Debug("Resources unchanged")
		default:
			// Request a full report next time so a missed update can not
			// leave the coordinator permanently out of sync with the node.
			needFullReport = true
			p.logger.WithField("node", state.nodeID).WithError(err).Info("Failed to pull resource report")
		}
		select {
		case p.completions <- completion{state: state, needFullReport: needFullReport}:
		case <-ctx.Done():
		}
	})
}

// handleReportReceived reschedules a node after its pull completed.  Runs on
// the Run goroutine.  Liveness is not checked here, the scheduling loop
// validates the node is still in the cluster before the next dispatch.
func (p *ResourceReportPoller) handleReportReceived(clck clock.Clock, c completion) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflightPulls--

	if c.needFullReport {
		c.state.nextPullTime = pullNow
	} else {
		c.state.nextPullTime = clck.Now().UnixMilli() + p.opts.PollPeriod.Milliseconds()
	}
	p.toPull = append(p.toPull, c.state)
}

// pushFront inserts a state at the front of the pull queue.  Called with mu
// held.
func (p *ResourceReportPoller) pushFront(state *pullState) {
	p.toPull = append(p.toPull, nil)
	copy(p.toPull[1:], p.toPull)
	p.toPull[0] = state
}

// scheduleWake nudges the Run goroutine without blocking.  The channel has
// capacity 1, a wake is already pending when the send would block.
func (p *ResourceReportPoller) scheduleWake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *ResourceReportPoller) HealthChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{
		func() (string, healthcheck.HealthyStatus) {
			p.mu.Lock()
			nodes := len(p.nodes)
			inflight := p.inflightPulls
			p.mu.Unlock()
			return fmt.Sprintf("polling %d nodes, %d pulls in flight", nodes, inflight), healthcheck.Healthy
		},
	}
}
