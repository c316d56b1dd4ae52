package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const paramClientTimeout = "client-timeout"
const paramDialerKeepAlive = "dialer-keep-alive"
const paramDialerTimeout = "dialer-timeout"
const paramIdleConnectionTimeout = "idle-connection-timeout"
const paramMaxIdleConnections = "max-idle-connections"
const paramNetwork = "network"
const paramTLSHandshakeTimeout = "tls-handshake-timeout"

const defaultClientTimeout = 10 * time.Second
const defaultDialerKeepAlive = 30 * time.Second
const defaultDialerTimeout = 5 * time.Second
const defaultIdleConnectionTimeout = 1 * time.Minute
const defaultMaxIdleConnections = 50
const defaultNetwork = "tcp"
const defaultTLSHandshakeTimeout = 3 * time.Second

// Client is a holder of an http.Client.  The underlying Client is exposed so
// that callers which need a real http.Client can still share the pool.
type Client struct {
	Client *http.Client
}

// TransportPool creates http.Clients as required, using the provided
// viper.Viper for configuration.  Clients are cached by name.
type TransportPool struct {
	config *viper.Viper
	logger logrus.FieldLogger

	mu      sync.Mutex
	clients map[string]*Client
}

func NewTransportPool(logger logrus.FieldLogger, config *viper.Viper) *TransportPool {
	config.SetDefault("transport.default", viper.New())
	return &TransportPool{
		logger:  logger,
		clients: map[string]*Client{},
		config:  config,
	}
}

func (tp *TransportPool) Get(name string) (*Client, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if hc, ok := tp.clients[name]; ok {
		return hc, nil
	}

	hc, err := tp.newClient(name)
	if err == nil {
		tp.clients[name] = hc
	}
	return hc, err
}

func (tp *TransportPool) newClient(name string) (*Client, error) {
	sub := tp.config.Sub("transport." + name)
	if sub == nil {
		tp.logger.WithField("name", name).Warn("request for non-configured transport, using transport.default")
		sub = tp.config.Sub("transport.default")
	}

	sub.SetDefault(paramClientTimeout, defaultClientTimeout)
	sub.SetDefault(paramDialerKeepAlive, defaultDialerKeepAlive)
	sub.SetDefault(paramDialerTimeout, defaultDialerTimeout)
	sub.SetDefault(paramIdleConnectionTimeout, defaultIdleConnectionTimeout)
	sub.SetDefault(paramMaxIdleConnections, defaultMaxIdleConnections)
	sub.SetDefault(paramNetwork, defaultNetwork)
	sub.SetDefault(paramTLSHandshakeTimeout, defaultTLSHandshakeTimeout)

	clientTimeout := sub.GetDuration(paramClientTimeout)
	dialerKeepAlive := sub.GetDuration(paramDialerKeepAlive)
	dialerTimeout := sub.GetDuration(paramDialerTimeout)
	idleConnectionTimeout := sub.GetDuration(paramIdleConnectionTimeout)
	maxIdleConnections := sub.GetInt(paramMaxIdleConnections)
	network := sub.GetString(paramNetwork)
	tlsHandshakeTimeout := sub.GetDuration(paramTLSHandshakeTimeout)

	if clientTimeout < 0 {
		return nil, errors.New(paramClientTimeout + " must not be negative") // 0 = no timeout
	}
	if dialerKeepAlive < -1 {
		return nil, errors.New(paramDialerKeepAlive + " must be -1, 0, or positive") // -1 = disabled, 0 = enabled, not configured
	}
	if dialerTimeout < 0 {
		return nil, errors.New(paramDialerTimeout + " must not be negative") // 0 = no timeout, but OS may impose a limit
	}
	if idleConnectionTimeout < 0 {
		return nil, errors.New(paramIdleConnectionTimeout + " must not be negative") // 0 = no timeout
	}
	if maxIdleConnections < 0 {
		return nil, errors.New(paramMaxIdleConnections + " must not be negative") // 0 = no limit
	}
	if tlsHandshakeTimeout < 0 {
		return nil, errors.New(paramTLSHandshakeTimeout + " must not be negative") // 0 = no timeout
	}

	dialer := &net.Dialer{
		Timeout:   dialerTimeout,
		KeepAlive: dialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: func(ctx context.Context, _, address string) (net.Conn, error) {
			// replace the network with our own
			return dialer.DialContext(ctx, network, address)
		},
		MaxIdleConns:    maxIdleConnections,
		IdleConnTimeout: idleConnectionTimeout,
	}

	tp.logger.WithFields(logrus.Fields{
		"name":           name,
		"client-timeout": clientTimeout,
	}).Info("created transport")

	return &Client{
		Client: &http.Client{
			Transport: transport,
			Timeout:   clientTimeout,
		},
	}, nil
}
