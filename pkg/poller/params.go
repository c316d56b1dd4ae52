package poller

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultMaxConcurrentPulls is the default admission ceiling across all nodes.
	DefaultMaxConcurrentPulls = 100
	// DefaultPollPeriod is the default delay between successful pulls for a node.
	DefaultPollPeriod = 100 * time.Millisecond
	// DefaultTickInterval is the default period of the scheduling tick.  It is
	// deliberately short and independent of the poll period, event driven
	// wake-ups cover the latency sensitive cases.
	DefaultTickInterval = 10 * time.Millisecond
)

const (
	// ParamMaxConcurrentPulls is the name of the parameter with the admission ceiling.
	ParamMaxConcurrentPulls = "max-concurrent-pulls"
	// ParamPollPeriod is the name of the parameter with the per-node poll period.
	ParamPollPeriod = "poll-period"
	// ParamTickInterval is the name of the parameter with the scheduling tick period.
	ParamTickInterval = "tick-interval"
)

// Options configures a ResourceReportPoller.  It is passed at construction,
// the poller never reads ambient configuration.
type Options struct {
	// MaxConcurrentPulls bounds the number of pulls outstanding at once.
	MaxConcurrentPulls int
	// PollPeriod is how long after a successful pull a node becomes due again.
	PollPeriod time.Duration
	// TickInterval is the period of the scheduling tick.
	TickInterval time.Duration
}

func (o Options) Validate() error {
	if o.MaxConcurrentPulls <= 0 {
		return errors.New(ParamMaxConcurrentPulls + " must be positive")
	}
	if o.PollPeriod <= 0 {
		return errors.New(ParamPollPeriod + " must be positive")
	}
	if o.TickInterval <= 0 {
		return errors.New(ParamTickInterval + " must be positive")
	}
	return nil
}

// NewOptionsFromViper reads poller options from the provided viper.Viper,
// applying defaults.
func NewOptionsFromViper(v *viper.Viper) Options {
	v.SetDefault(ParamMaxConcurrentPulls, DefaultMaxConcurrentPulls)
	v.SetDefault(ParamPollPeriod, DefaultPollPeriod)
	v.SetDefault(ParamTickInterval, DefaultTickInterval)
	return Options{
		MaxConcurrentPulls: v.GetInt(ParamMaxConcurrentPulls),
		PollPeriod:         v.GetDuration(ParamPollPeriod),
		TickInterval:       v.GetDuration(ParamTickInterval),
	}
}
