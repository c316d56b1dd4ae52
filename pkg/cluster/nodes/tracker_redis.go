package nodes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/alexander-manley/ray"
)

type redisNodeTracker struct {
	logger logrus.FieldLogger

	handler NodeHandler

	client    RedisClient
	namespace string
	self      ray.Node // zero ID = listen only, never announced
	nodes     map[ray.NodeID]trackedNode

	updateInterval time.Duration
	expiryInterval time.Duration
}

type trackedNode struct {
	node    ray.Node
	expires time.Time
}

type RedisClient interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NewRedisNodeTracker returns a NodeTracker which tracks worker nodes in a
// Redis, and feeds lifecycle events to the provided NodeHandler.  The
// coordinator runs with a zero-value self node and only listens.
//
// Note that we're not trying to solve the CAP theorem here, if Redis has a bad
// time, then so do we.
func NewRedisNodeTracker(
	logger logrus.FieldLogger,
	handler NodeHandler,
	redisClient RedisClient,
	namespace string,
	self ray.Node,
	updateInterval, expiryInterval time.Duration,
) NodeTracker {
	return &redisNodeTracker{
		logger: logger,

		handler: handler,

		client:    redisClient,
		namespace: namespace,
		self:      self,
		nodes:     make(map[ray.NodeID]trackedNode),

		updateInterval: updateInterval,
		expiryInterval: expiryInterval,
	}
}

// Run will track nodes via Redis PubSub until the context is closed.
func (rnt *redisNodeTracker) Run(ctx context.Context) {
	clck := clock.FromContext(ctx)

	pubsub := rnt.client.Subscribe(ctx, rnt.namespace)
	defer pubsub.Close()

	psChan := pubsub.Channel() // Closed when pubsub is Closed

	// Send an immediate heartbeat, this will also solicit other nodes to respond.
	if err := rnt.sendIntroductionRequest(ctx); err != nil {
		rnt.logger.WithError(err).Warning("Initial redis check in failed")
	}

	// Starting the ticker is how we signal to tests that everything is ready to go.
	ticker := clck.NewTicker(rnt.updateInterval)
	defer ticker.Stop()

	defer func() {
		// On shutdown, remove ourselves from other hosts + the NodeHandler.
		ctxExit, cancel := clck.TimeoutContext(context.Background(), 1*time.Second)
		rnt.sendDrop(ctxExit)
		cancel()
		if rnt.self.ID != ray.UnknownNodeID {
			rnt.dropNode(rnt.self.ID)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rnt.expireNodes(clck.Now())
			if err := rnt.sendHeartbeat(ctx); err != nil {
				rnt.logger.WithError(err).Warning("Failed to check in to redis")
			}
		case msg := <-psChan:
			rnt.handleMessage(ctx, msg.Payload, clck.Now())
		}
	}
}

func (rnt *redisNodeTracker) handleMessage(ctx context.Context, message string, now time.Time) {
	if message == "" {
		return
	}
	node, err := parsePresence(message[1:])
	if err != nil {
		rnt.logger.WithError(err).WithField("payload", message).Warning("Dropping malformed presence message")
		return
	}
	switch message[0] {
	case '-':
		rnt.dropNode(node.ID)
	case '?':
		rnt.refreshNode(node, now)
		if node.ID != rnt.self.ID {
			// It's not us, and it wants to know about us, send a broadcast out to let it know we exist.
			if err := rnt.sendHeartbeat(ctx); err != nil {
				rnt.logger.WithError(err).WithField("newNode", node.ID).Warning("Failed to send introduction reply")
			}
		}
	case '+':
		rnt.refreshNode(node, now)
	}
}

// refreshNode will attempt to update the expiry on an existing node, if it
// doesn't exist, it will be reported to the NodeHandler.  Returns true if
// this is a new node.
func (rnt *redisNodeTracker) refreshNode(node ray.Node, now time.Time) bool {
	// Does not talk to Redis

	// Only report it if it wasn't already being tracked, the handler treats a
	// duplicate add as a fatal bookkeeping error.
	_, existingNode := rnt.nodes[node.ID]
	if !existingNode {
		rnt.logger.WithField("node", node.ID).Info("Added node")
		rnt.handler.OnNodeAdded(node)
	}

	rnt.nodes[node.ID] = trackedNode{node: node, expires: now.Add(rnt.expiryInterval)}
	return !existingNode
}

// dropNode will drop the node from the tracked nodes.
func (rnt *redisNodeTracker) dropNode(nodeID ray.NodeID) {
	// Does not talk to Redis

	_, ok := rnt.nodes[nodeID]
	if ok {
		rnt.logger.WithField("node", nodeID).Info("Removing node")
		rnt.handler.OnNodeRemoved(nodeID)
		delete(rnt.nodes, nodeID)
	}
}

// expireNodes will expire nodes which have not updated recently enough.
func (rnt *redisNodeTracker) expireNodes(now time.Time) {
	// Does not talk to Redis
	for nodeID, tracked := range rnt.nodes {
		if now.After(tracked.expires) {
			rnt.logger.WithField("node", nodeID).Info("Expired node")
			rnt.handler.OnNodeRemoved(nodeID)
			delete(rnt.nodes, nodeID)
		}
	}
}

// sendIntroductionRequest will announce the presence of this node to the PubSub endpoint, if a self node is configured.
//
// It is different to sendHeartbeat in that it is an explicit request for everyone else to respond with a heartbeat.
func (rnt *redisNodeTracker) sendIntroductionRequest(ctx context.Context) error {
	// Talks to redis
	if rnt.self.ID != ray.UnknownNodeID {
		cmd := rnt.client.Publish(ctx, rnt.namespace, "?"+formatPresence(rnt.self))
		return cmd.Err()
	}
	return nil
}

// sendHeartbeat will announce the presence of this node to the PubSub endpoint, if a self node is configured.
func (rnt *redisNodeTracker) sendHeartbeat(ctx context.Context) error {
	// Talks to redis
	if rnt.self.ID != ray.UnknownNodeID {
		cmd := rnt.client.Publish(ctx, rnt.namespace, "+"+formatPresence(rnt.self))
		return cmd.Err()
	}
	return nil
}

// sendDrop will announce to the PubSub endpoint that this node is going away, if a self node is configured.
func (rnt *redisNodeTracker) sendDrop(ctx context.Context) {
	// Talks to redis
	if rnt.self.ID != ray.UnknownNodeID {
		rnt.client.Publish(ctx, rnt.namespace, "-"+formatPresence(rnt.self))
	}
}

// formatPresence renders a node as id|ip|port, the payload carried behind the
// +/-/? opcode on the presence channel.
func formatPresence(node ray.Node) string {
	return fmt.Sprintf("%s|%s|%d", node.ID, node.Address.IP, node.Address.Port)
}

func parsePresence(payload string) (ray.Node, error) {
	parts := strings.Split(payload, "|")
	if len(parts) != 3 || parts[0] == "" {
		return ray.Node{}, fmt.Errorf("presence payload must be id|ip|port, got %q", payload)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return ray.Node{}, fmt.Errorf("invalid presence port %q: %v", parts[2], err)
	}
	nodeID := ray.NodeID(parts[0])
	return ray.Node{
		ID: nodeID,
		Address: ray.Address{
			NodeID: nodeID,
			IP:     parts[1],
			Port:   port,
		},
	}, nil
}
