package tasks_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsrmk/skystack/internal/logger"
	"github.com/hsrmk/skystack/internal/tasks"
)

func TestEnqueue_SubmitsJob(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := tasks.NewClient(tasks.Config{
		Environment:   "production",
		BaseEndpoint:  "https://skystack.example.com",
		QueueEndpoint: server.URL,
		ServiceToken:  "sekret",
	}, logger.NewNopLogger())

	status, err := client.Enqueue(context.Background(), tasks.Job{
		Name:       "createNewsletter_techletters_1754040000",
		QueueName:  "create-and-build",
		TargetPath: "/newsletter/create-dormant",
		Payload:    map[string]string{"url": "https://techletters.substack.com"},
		Delay:      45 * time.Second,
	})

	require.NoError(t, err)
	assert.Equal(t, tasks.StatusSubmitted, status)
	assert.Equal(t, "createNewsletter_techletters_1754040000", received["name"])
	assert.Equal(t, "https://skystack.example.com/newsletter/create-dormant", received["url"])
	assert.Equal(t, float64(45), received["delay_seconds"])

	headers, ok := received["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Bearer sekret", headers["Authorization"])
}

func TestEnqueue_DuplicateName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := tasks.NewClient(tasks.Config{
		Environment:   "production",
		QueueEndpoint: server.URL,
	}, logger.NewNopLogger())

	status, err := client.Enqueue(context.Background(), tasks.Job{Name: "dup"})
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusDuplicate, status)
}

func TestEnqueue_QueueErrorIsFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := tasks.NewClient(tasks.Config{
		Environment:   "production",
		QueueEndpoint: server.URL,
	}, logger.NewNopLogger())

	status, err := client.Enqueue(context.Background(), tasks.Job{Name: "boom"})
	require.Error(t, err)
	assert.Equal(t, tasks.StatusFailed, status)
}

func TestEnqueue_LocalEnvironmentSkips(t *testing.T) {
	// Environment matching is case-insensitive, same as config validation.
	for _, env := range []string{"local", "Local", "LOCAL", ""} {
		client := tasks.NewClient(tasks.Config{Environment: env}, logger.NewNopLogger())

		status, err := client.Enqueue(context.Background(), tasks.Job{Name: "anything"})
		require.NoError(t, err)
		assert.Equal(t, tasks.StatusSkipped, status)
	}
}
