package web

import (
	"net/http"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/alexander-manley/ray/pkg/resources"
)

// ResourcesHandler serves the cluster resource view for admin inspection.
type ResourcesHandler struct {
	logger logrus.FieldLogger
	view   *resources.ClusterView
}

func NewResourcesHandler(logger logrus.FieldLogger, view *resources.ClusterView) *ResourcesHandler {
	return &ResourcesHandler{
		logger: logger,
		view:   view,
	}
}

func (rh *ResourcesHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/cluster/resources", rh.clusterResources).Methods(http.MethodGet).Name("cluster_resources_get")
}

func (rh *ResourcesHandler) clusterResources(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := jsoniter.NewEncoder(w)
	if err := enc.Encode(rh.view.Snapshot()); err != nil {
		rh.logger.WithError(err).Warn("Failed to write cluster resources")
	}
}
