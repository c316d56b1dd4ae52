package ray

import (
	"time"

	"github.com/spf13/pflag"
)

const (
	// DefaultRedisAddr is the default address of the Redis used for cluster membership.
	DefaultRedisAddr = "127.0.0.1:6379"
	// DefaultNamespace is the default Redis namespace for membership traffic.
	DefaultNamespace = "ray"
	// DefaultUpdateInterval is the default node presence heartbeat interval.
	DefaultUpdateInterval = 1 * time.Second
	// DefaultExpiryInterval is how long a silent node is kept before being expired.
	DefaultExpiryInterval = 4 * time.Second
	// DefaultMaxReportRequests is the default maximum report requests per second.
	DefaultMaxReportRequests = 100
	// DefaultBurstReportRequests is the default burst of report requests.
	DefaultBurstReportRequests = 150
	// DefaultMaxRetryElapsed is how long a single report pull is retried before
	// it is reported as failed.
	DefaultMaxRetryElapsed = 10 * time.Second
	// DefaultSubscriberPollTimeout is how long a subscriber long poll is held
	// open before returning empty.
	DefaultSubscriberPollTimeout = 30 * time.Second
	// DefaultMaxBufferedMessages is how many messages are buffered per
	// subscriber between polls.
	DefaultMaxBufferedMessages = 100
)

const (
	// ParamRedisAddr is the name of the parameter with the Redis address.
	ParamRedisAddr = "redis-addr"
	// ParamNamespace is the name of the parameter with the membership namespace.
	ParamNamespace = "namespace"
	// ParamUpdateInterval is the name of the parameter with the heartbeat interval.
	ParamUpdateInterval = "update-interval"
	// ParamExpiryInterval is the name of the parameter with the node expiry interval.
	ParamExpiryInterval = "expiry-interval"
	// ParamMaxReportRequests is the name of the parameter with the maximum report requests per second.
	ParamMaxReportRequests = "max-report-requests"
	// ParamBurstReportRequests is the name of the parameter with the burst of report requests.
	ParamBurstReportRequests = "burst-report-requests"
	// ParamMaxRetryElapsed is the name of the parameter with the per-pull retry budget.
	ParamMaxRetryElapsed = "max-retry-elapsed"
	// ParamSubscriberPollTimeout is the name of the parameter with the subscriber poll timeout.
	ParamSubscriberPollTimeout = "subscriber-poll-timeout"
	// ParamMaxBufferedMessages is the name of the parameter with the per-subscriber buffer size.
	ParamMaxBufferedMessages = "max-buffered-messages"
)

// AddFlags adds flags to the specified FlagSet.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(ParamRedisAddr, DefaultRedisAddr, "Redis address used for cluster membership")
	fs.String(ParamNamespace, DefaultNamespace, "Namespace for cluster membership traffic")
	fs.Duration(ParamUpdateInterval, DefaultUpdateInterval, "Node presence heartbeat interval")
	fs.Duration(ParamExpiryInterval, DefaultExpiryInterval, "How long a silent node is kept before expiry")
	fs.Int(ParamMaxReportRequests, DefaultMaxReportRequests, "Maximum number of resource report requests per second")
	fs.Int(ParamBurstReportRequests, DefaultBurstReportRequests, "Burst number of resource report requests")
	fs.Duration(ParamMaxRetryElapsed, DefaultMaxRetryElapsed, "How long a single report pull is retried before failing")
	fs.Duration(ParamSubscriberPollTimeout, DefaultSubscriberPollTimeout, "How long a subscriber poll is held open")
	fs.Int(ParamMaxBufferedMessages, DefaultMaxBufferedMessages, "Messages buffered per subscriber between polls")
}
