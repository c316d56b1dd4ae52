package pubsub

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultPollTimeout is how long a subscriber poll is held open before
// completing empty.
const DefaultPollTimeout = 30 * time.Second

// HttpHandler is a thin pass-through exposing a Publisher over HTTP long
// polls.  It holds no state of its own.
type HttpHandler struct {
	logger      logrus.FieldLogger
	publisher   *Publisher
	pollTimeout time.Duration
}

func NewHttpHandler(logger logrus.FieldLogger, publisher *Publisher, pollTimeout time.Duration) *HttpHandler {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &HttpHandler{
		logger:      logger,
		publisher:   publisher,
		pollTimeout: pollTimeout,
	}
}

// RegisterRoutes attaches the subscriber endpoints to the router.
func (h *HttpHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/subscriber/poll", h.SubscriberPoll).Methods(http.MethodPost).Name("subscriber_poll")
	router.HandleFunc("/v1/subscriber/commands", h.SubscriberCommandBatch).Methods(http.MethodPost).Name("subscriber_commands")
}

type pollRequest struct {
	SubscriberID SubscriberID `json:"subscriber_id"`
}

type pollReply struct {
	Messages []Message `json:"messages"`
}

// SubscriberPoll parks the request on the publisher until messages arrive or
// the poll times out, then replies with whatever was collected.
func (h *HttpHandler) SubscriberPoll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubscriberID == "" {
		http.Error(w, "subscriber_id is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.pollTimeout)
	defer cancel()

	messages, err := h.publisher.ConnectToSubscriber(ctx, req.SubscriberID)
	if err != nil && len(messages) == 0 {
		// Timed out polls complete empty, that is the long-poll contract.
		messages = nil
	}

	w.Header().Set("Content-Type", "application/json")
	if messages == nil {
		messages = []Message{}
	}
	if err := json.NewEncoder(w).Encode(pollReply{Messages: messages}); err != nil {
		h.logger.WithError(err).Warn("Failed to write poll reply")
	}
}

type command struct {
	Subscribe   *subscribeCommand `json:"subscribe,omitempty"`
	Unsubscribe *subscribeCommand `json:"unsubscribe,omitempty"`
}

type subscribeCommand struct {
	Channel Channel `json:"channel"`
}

type commandBatchRequest struct {
	SubscriberID SubscriberID `json:"subscriber_id"`
	Commands     []command    `json:"commands"`
}

// SubscriberCommandBatch applies a batch of subscribe/unsubscribe commands.
func (h *HttpHandler) SubscriberCommandBatch(w http.ResponseWriter, r *http.Request) {
	var req commandBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubscriberID == "" {
		http.Error(w, "subscriber_id is required", http.StatusBadRequest)
		return
	}

	for _, cmd := range req.Commands {
		switch {
		case cmd.Subscribe != nil:
			h.publisher.RegisterSubscription(req.SubscriberID, cmd.Subscribe.Channel)
		case cmd.Unsubscribe != nil:
			h.publisher.UnregisterSubscription(req.SubscriberID, cmd.Unsubscribe.Channel)
		default:
			h.logger.WithField("subscriber", req.SubscriberID).Warn("Invalid command received")
			http.Error(w, "command must be subscribe or unsubscribe", http.StatusBadRequest)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
