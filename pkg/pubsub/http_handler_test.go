package pubsub

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexander-manley/ray/internal/fixtures"
)

func newTestServer(t *testing.T, publisher *Publisher, pollTimeout time.Duration) *httptest.Server {
	router := mux.NewRouter()
	NewHttpHandler(fixtures.NewTestLogger(t), publisher, pollTimeout).RegisterRoutes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func postJson(t *testing.T, url, body string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

func TestHttpHandlerCommandBatchThenPoll(t *testing.T) {
	t.Parallel()
	publisher := NewPublisher(fixtures.NewTestLogger(t), 10)
	server := newTestServer(t, publisher, time.Second)

	resp, err := postJson(t, server.URL+"/v1/subscriber/commands",
		`{"subscriber_id": "sub-1", "commands": [{"subscribe": {"channel": "node-resources"}}]}`)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	publisher.Publish(Message{Channel: ChannelNodeResources, Key: "node-a", Payload: map[string]interface{}{"CPU": 4.0}})

	resp, err = postJson(t, server.URL+"/v1/subscriber/poll", `{"subscriber_id": "sub-1"}`)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply pollReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	require.Len(t, reply.Messages, 1)
	assert.Equal(t, ChannelNodeResources, reply.Messages[0].Channel)
	assert.Equal(t, "node-a", reply.Messages[0].Key)
}

func TestHttpHandlerPollTimesOutEmpty(t *testing.T) {
	t.Parallel()
	publisher := NewPublisher(fixtures.NewTestLogger(t), 10)
	server := newTestServer(t, publisher, 20*time.Millisecond)

	resp, err := postJson(t, server.URL+"/v1/subscriber/poll", `{"subscriber_id": "sub-1"}`)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply pollReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Empty(t, reply.Messages)
}

func TestHttpHandlerRejectsBadRequests(t *testing.T) {
	t.Parallel()
	publisher := NewPublisher(fixtures.NewTestLogger(t), 10)
	server := newTestServer(t, publisher, time.Second)

	resp, err := postJson(t, server.URL+"/v1/subscriber/poll", `{}`)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = postJson(t, server.URL+"/v1/subscriber/commands",
		`{"subscriber_id": "sub-1", "commands": [{}]}`)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
