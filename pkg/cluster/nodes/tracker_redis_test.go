package nodes

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ash2k/stager/wait"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"

	"github.com/alexander-manley/ray"
	"github.com/alexander-manley/ray/internal/fixtures"
)

func TestParsePresence(t *testing.T) {
	t.Parallel()

	node, err := parsePresence("worker-1|10.1.2.3|7077")
	require.NoError(t, err)
	assert.Equal(t, ray.Node{
		ID: "worker-1",
		Address: ray.Address{
			NodeID: "worker-1",
			IP:     "10.1.2.3",
			Port:   7077,
		},
	}, node)
	assert.Equal(t, "worker-1|10.1.2.3|7077", formatPresence(node))

	_, err = parsePresence("worker-1|10.1.2.3")
	assert.Error(t, err)
	_, err = parsePresence("|10.1.2.3|7077")
	assert.Error(t, err)
	_, err = parsePresence("worker-1|10.1.2.3|not-a-port")
	assert.Error(t, err)
}

func TestRedisNodeTrackerLifecycle(t *testing.T) {
	t.Parallel()

	ctxTest, cancelTest := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTest()

	clck := clock.NewMock(time.Unix(10, 0))
	ctxClock := clock.Context(ctxTest, clck)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 0})

	added := make(chan ray.Node, 10)
	removed := make(chan ray.NodeID, 10)
	rnt := NewRedisNodeTracker(
		fixtures.NewTestLogger(t),
		&fixtures.MockNodeHandler{TB: t,
			FnOnNodeAdded:   func(node ray.Node) { added <- node },
			FnOnNodeRemoved: func(nodeID ray.NodeID) { removed <- nodeID },
		},
		redisClient,
		"cluster",
		ray.Node{}, // the coordinator only listens
		1*time.Second,
		2*time.Second,
	)

	ctxRunner, cancel := context.WithCancel(ctxClock)
	defer cancel()
	var wg wait.Group
	defer wg.Wait()
	defer cancel()
	wg.StartWithContext(ctxRunner, rnt.Run)

	publisher := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 0})

	// The subscription is established asynchronously, keep announcing until heard.
	var node ray.Node
	require.Eventually(t, func() bool {
		publisher.Publish(ctxTest, "cluster", "+worker-1|10.1.2.3|7077")
		select {
		case node = <-added:
			return true
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, ray.NodeID("worker-1"), node.ID)
	assert.Equal(t, "10.1.2.3", node.Address.IP)
	assert.Equal(t, 7077, node.Address.Port)

	// Repeated announcements only refresh, they must not re-add.
	publisher.Publish(ctxTest, "cluster", "+worker-1|10.1.2.3|7077")

	publisher.Publish(ctxTest, "cluster", "-worker-1|10.1.2.3|7077")
	select {
	case nodeID := <-removed:
		assert.Equal(t, ray.NodeID("worker-1"), nodeID)
	case <-ctxTest.Done():
		require.FailNow(t, "timed out waiting for node removal")
	}
	assert.Empty(t, added)
}

func TestRedisNodeTrackerExpiresSilentNodes(t *testing.T) {
	t.Parallel()

	ctxTest, cancelTest := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTest()

	clck := clock.NewMock(time.Unix(10, 0))
	ctxClock := clock.Context(ctxTest, clck)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 0})

	added := make(chan ray.Node, 10)
	removed := make(chan ray.NodeID, 10)
	rnt := NewRedisNodeTracker(
		fixtures.NewTestLogger(t),
		&fixtures.MockNodeHandler{TB: t,
			FnOnNodeAdded:   func(node ray.Node) { added <- node },
			FnOnNodeRemoved: func(nodeID ray.NodeID) { removed <- nodeID },
		},
		redisClient,
		"cluster",
		ray.Node{},
		1*time.Second,
		2*time.Second,
	)

	ctxRunner, cancel := context.WithCancel(ctxClock)
	defer cancel()
	var wg wait.Group
	defer wg.Wait()
	defer cancel()
	wg.StartWithContext(ctxRunner, rnt.Run)

	publisher := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 0})
	require.Eventually(t, func() bool {
		publisher.Publish(ctxTest, "cluster", "+worker-1|10.1.2.3|7077")
		select {
		case <-added:
			return true
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	// The node never checks in again, advancing past the expiry interval
	// must drop it.
	require.Eventually(t, func() bool {
		clck.Add(time.Second)
		select {
		case nodeID := <-removed:
			assert.Equal(t, ray.NodeID("worker-1"), nodeID)
			return true
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRedisNodeTrackerAnnouncesSelf(t *testing.T) {
	t.Parallel()

	ctxTest, cancelTest := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTest()

	clck := clock.NewMock(time.Unix(10, 0))
	ctxClock := clock.Context(ctxTest, clck)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	listener := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 0})
	sub := listener.Subscribe(ctxTest, "cluster")
	defer sub.Close()
	// Wait for the subscription before starting the tracker, the introduction
	// is sent once at startup.
	_, err = sub.Receive(ctxTest)
	require.NoError(t, err)
	psChan := sub.Channel()

	self := ray.Node{
		ID: "worker-9",
		Address: ray.Address{
			NodeID: "worker-9",
			IP:     "10.9.9.9",
			Port:   7077,
		},
	}
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr(), DB: 0})
	rnt := NewRedisNodeTracker(
		fixtures.NewTestLogger(t),
		&fixtures.MockNodeHandler{TB: t,
			// The tracker hears its own announcements.
			FnOnNodeAdded:   func(node ray.Node) { assert.Equal(t, self.ID, node.ID) },
			FnOnNodeRemoved: func(nodeID ray.NodeID) { assert.Equal(t, self.ID, nodeID) },
		},
		redisClient,
		"cluster",
		self,
		1*time.Second,
		2*time.Second,
	)

	ctxRunner, cancel := context.WithCancel(ctxClock)
	defer cancel()
	var wg wait.Group
	defer wg.Wait()
	defer cancel()
	wg.StartWithContext(ctxRunner, rnt.Run)

	select {
	case msg := <-psChan:
		assert.Equal(t, "?worker-9|10.9.9.9|7077", msg.Payload)
	case <-ctxTest.Done():
		require.FailNow(t, "timed out waiting for the introduction request")
	}
}
