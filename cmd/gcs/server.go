package main

import (
	"context"

	"github.com/ash2k/stager/wait"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/alexander-manley/ray"
	"github.com/alexander-manley/ray/internal/util"
	"github.com/alexander-manley/ray/pkg/cluster/nodes"
	"github.com/alexander-manley/ray/pkg/fetcher"
	"github.com/alexander-manley/ray/pkg/healthcheck"
	"github.com/alexander-manley/ray/pkg/poller"
	"github.com/alexander-manley/ray/pkg/pubsub"
	"github.com/alexander-manley/ray/pkg/resources"
	"github.com/alexander-manley/ray/pkg/transport"
	"github.com/alexander-manley/ray/pkg/web"
)

// Server is a fully wired coordinator.
type Server struct {
	logger    logrus.FieldLogger
	runnables []ray.Runnable
}

func constructServer(v *viper.Viper, logger logrus.FieldLogger) (*Server, error) {
	// HTTP client pool
	pool := transport.NewTransportPool(logger, v)

	limiter := rate.NewLimiter(rate.Limit(v.GetInt(ray.ParamMaxReportRequests)), v.GetInt(ray.ParamBurstReportRequests))
	reportFetcher, err := fetcher.NewHttpFetcher(logger, pool, limiter, v.GetDuration(ray.ParamMaxRetryElapsed))
	if err != nil {
		return nil, err
	}

	publisher := pubsub.NewPublisher(logger, v.GetInt(ray.ParamMaxBufferedMessages))
	view := resources.NewClusterView(logger, publisher)

	opts := poller.NewOptionsFromViper(util.GetSubViper(v, "poller"))
	reportPoller, err := poller.NewResourceReportPoller(logger, reportFetcher, view, opts)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: v.GetString(ray.ParamRedisAddr),
		DB:   0,
	})
	lifecycle := &lifecycleHandler{poller: reportPoller, view: view}
	// The coordinator only listens for node presence, it never announces itself.
	nodeTracker := nodes.NewRedisNodeTracker(
		logger,
		lifecycle,
		redisClient,
		v.GetString(ray.ParamNamespace),
		ray.Node{},
		v.GetDuration(ray.ParamUpdateInterval),
		v.GetDuration(ray.ParamExpiryInterval),
	)

	var healthChecks []healthcheck.HealthcheckFunc
	healthChecks = healthcheck.MaybeAppendHealthChecks(healthChecks, reportPoller)
	healthChecks = healthcheck.MaybeAppendHealthChecks(healthChecks, nodeTracker)

	subscriberHandler := pubsub.NewHttpHandler(logger, publisher, v.GetDuration(ray.ParamSubscriberPollTimeout))
	resourcesHandler := web.NewResourcesHandler(logger, view)
	httpServer, err := web.NewHttpServerFromViper(logger, v, healthChecks, subscriberHandler, resourcesHandler)
	if err != nil {
		return nil, err
	}

	// Ordered so lifecycle events from the tracker land on a live poller.
	var runnables []ray.Runnable
	runnables = ray.MaybeAppendRunnable(runnables, httpServer)
	runnables = ray.MaybeAppendRunnable(runnables, reportPoller)
	runnables = ray.MaybeAppendRunnable(runnables, nodeTracker)

	return &Server{
		logger:    logger,
		runnables: runnables,
	}, nil
}

// Run runs the coordinator until the context is closed.
func (s *Server) Run(ctx context.Context) error {
	var g wait.Group
	defer g.Wait()

	for _, runnable := range s.runnables {
		g.StartWithContext(ctx, runnable)
	}

	<-ctx.Done()
	return ctx.Err()
}

// lifecycleHandler fans node lifecycle events out to the components that keep
// per-node state.
type lifecycleHandler struct {
	poller *poller.ResourceReportPoller
	view   *resources.ClusterView
}

func (h *lifecycleHandler) OnNodeAdded(node ray.Node) {
	h.poller.OnNodeAdded(node)
}

func (h *lifecycleHandler) OnNodeRemoved(nodeID ray.NodeID) {
	h.poller.OnNodeRemoved(nodeID)
	h.view.OnNodeRemoved(nodeID)
}
