// Package fetcher provides the network client used to pull resource reports
// from nodes.  Retry and timeout policy live here, the polling scheduler
// deliberately has neither.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/alexander-manley/ray"
	"github.com/alexander-manley/ray/pkg/transport"
)

// TransportName is the name of the transport pool entry used for report requests.
const TransportName = "report-fetcher"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HttpFetcher pulls resource reports over HTTP.  It implements
// ray.ReportFetcher: every request runs on its own goroutine and reports its
// outcome through the callback.
type HttpFetcher struct {
	logger  logrus.FieldLogger
	client  *http.Client
	limiter *rate.Limiter

	// maxRetryElapsed bounds the exponential retry of a single pull.  The
	// scheduler retries failed nodes forever anyway, there is no point
	// hammering an unresponsive node within one pull.
	maxRetryElapsed time.Duration
}

func NewHttpFetcher(logger logrus.FieldLogger, pool *transport.TransportPool, limiter *rate.Limiter, maxRetryElapsed time.Duration) (*HttpFetcher, error) {
	client, err := pool.Get(TransportName)
	if err != nil {
		return nil, err
	}
	return &HttpFetcher{
		logger:          logger,
		client:          client.Client,
		limiter:         limiter,
		maxRetryElapsed: maxRetryElapsed,
	}, nil
}

// RequestResourceReport issues one asynchronous pull and returns immediately.
// The callback runs on the request's goroutine.
func (f *HttpFetcher) RequestResourceReport(ctx context.Context, addr ray.Address, fullReport bool, callback func(*ray.ResourceReport, error)) {
	go func() {
		report, err := f.fetch(ctx, addr, fullReport)
		callback(report, err)
	}()
}

func (f *HttpFetcher) fetch(ctx context.Context, addr ray.Address, fullReport bool) (*ray.ResourceReport, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s:%d/v1/resource-report?full=%t", addr.IP, addr.Port, fullReport)

	var report *ray.ResourceReport
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch resp.StatusCode {
		case http.StatusOK:
			r := &ray.ResourceReport{}
			if err := json.NewDecoder(resp.Body).Decode(r); err != nil {
				return fmt.Errorf("failed to decode resource report: %v", err)
			}
			if r.NodeID != addr.NodeID {
				return backoff.Permanent(fmt.Errorf("resource report from %s names node %s", addr.NodeID, r.NodeID))
			}
			report = r
			return nil
		case http.StatusNotModified:
			return backoff.Permanent(ray.ErrResourcesUnchanged)
		default:
			return fmt.Errorf("node returned %s", resp.Status)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = f.maxRetryElapsed
	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return report, nil
}
