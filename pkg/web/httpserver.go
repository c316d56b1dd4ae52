// Package web exposes the coordinator's admin surface: healthchecks, expvar,
// the subscriber long-poll endpoints and the cluster resource view.
package web

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/alexander-manley/ray/pkg/healthcheck"
)

const (
	paramAddress           = "address"
	paramEnableExpvar      = "enable-expvar"
	paramEnableHealthcheck = "enable-healthcheck"
	paramEnableProf        = "enable-prof"
)

// RouteRegistrant is implemented by components which contribute routes to the
// admin server.
type RouteRegistrant interface {
	RegisterRoutes(router *mux.Router)
}

type route struct {
	path    string
	handler http.HandlerFunc
	method  string
	name    string
}

type HttpServer struct {
	logger  logrus.FieldLogger
	address string
	Router  *mux.Router
}

// NewHttpServerFromViper reads the http server configuration from the "http"
// subtree of the provided viper.Viper.
func NewHttpServerFromViper(logger logrus.FieldLogger, v *viper.Viper, healthChecks []healthcheck.HealthcheckFunc, registrants ...RouteRegistrant) (*HttpServer, error) {
	v.SetDefault("http."+paramAddress, "127.0.0.1:8080")
	v.SetDefault("http."+paramEnableExpvar, false)
	v.SetDefault("http."+paramEnableHealthcheck, true)
	v.SetDefault("http."+paramEnableProf, false)

	return NewHttpServer(
		logger,
		v.GetString("http."+paramAddress),
		v.GetBool("http."+paramEnableExpvar),
		v.GetBool("http."+paramEnableHealthcheck),
		v.GetBool("http."+paramEnableProf),
		healthChecks,
		registrants...,
	)
}

func NewHttpServer(
	logger logrus.FieldLogger,
	address string,
	enableExpVar,
	enableHealthcheck,
	enableProf bool,
	healthChecks []healthcheck.HealthcheckFunc,
	registrants ...RouteRegistrant,
) (*HttpServer, error) {
	var routes []route

	server := &HttpServer{
		logger:  logger,
		address: address,
	}

	if enableExpVar {
		routes = append(routes,
			route{path: "/expvar", handler: expvar.Handler().ServeHTTP, method: "GET", name: "expvar_get"},
		)
	}

	if enableHealthcheck {
		hc := &healthChecker{logger: logger, healthChecks: healthChecks}
		routes = append(routes,
			route{path: "/healthcheck", handler: hc.healthCheck, method: "GET", name: "healthcheck_get"},
		)
	}

	if enableProf {
		routes = append(routes,
			route{path: "/debug/pprof/profile", handler: pprof.Profile, method: "GET", name: "pprof_profile_get"},
			route{path: "/debug/pprof/trace", handler: pprof.Trace, method: "GET", name: "pprof_trace_get"},
		)
	}

	if len(routes) == 0 && len(registrants) == 0 {
		return nil, fmt.Errorf("must enable at least one of expvar, healthcheck, prof, or provide routes")
	}

	router, err := createRoutes(routes)
	if err != nil {
		return nil, err
	}
	for _, registrant := range registrants {
		registrant.RegisterRoutes(router)
	}
	router.NotFoundHandler = server.logRequest(http.HandlerFunc(server.notFound))
	router.Use(server.logRequest)
	server.Router = router

	logger.WithFields(logrus.Fields{
		"address":            address,
		"enable-expvar":      enableExpVar,
		"enable-healthcheck": enableHealthcheck,
		"enable-prof":        enableProf,
	}).Info("Created server")

	return server, nil
}

func (hs *HttpServer) notFound(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("not found"))
}

func createRoutes(routes []route) (*mux.Router, error) {
	router := mux.NewRouter()

	for _, route := range routes {
		r := router.HandleFunc(route.path, route.handler).Methods(route.method).Name(route.name)
		if err := r.GetError(); err != nil {
			return nil, fmt.Errorf("error creating route %s: %v", route.name, err)
		}
	}

	return router, nil
}

func (hs *HttpServer) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logFields := logrus.Fields{
			"srcip": strings.Split(req.RemoteAddr, ":")[0],
			"path":  req.URL.Path,
		}
		if route := mux.CurrentRoute(req); route != nil {
			logFields["route"] = route.GetName()
		} else {
			logFields["method"] = req.Method
		}

		start := time.Now()
		handler.ServeHTTP(w, req)
		dur := time.Since(start)

		logFields["duration"] = float64(dur) / float64(time.Millisecond)
		hs.logger.WithFields(logFields).Debug("request")
	})
}

// Run serves until the context is closed.
func (hs *HttpServer) Run(ctx context.Context) {
	server := &http.Server{
		Addr:    hs.address,
		Handler: hs.Router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		hs.logger.WithError(err).Error("Http server failed")
	}
}
