package eventapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventapp-telegram-bot/internal/common/errors"
)

type recordedRequest struct {
	status int
}

type fakeRecorder struct {
	upstream []recordedRequest
}

func (f *fakeRecorder) RecordUpdate(string)        {}
func (f *fakeRecorder) RecordLinkOutcome(string)   {}
func (f *fakeRecorder) RecordSessionEvictions(int) {}
func (f *fakeRecorder) RecordDroppedEvent(string)  {}
func (f *fakeRecorder) RecordUpstreamRequest(status int, _ time.Duration) {
	f.upstream = append(f.upstream, recordedRequest{status: status})
}

func TestGetMyEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/events/my-events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events":[{"id":1,"title":"Meetup","date":"2025-03-01T18:00:00Z","location":"Berlin"}]}`))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	c := NewClient(srv.Client(), srv.URL+"/", rec)
	events, err := c.GetMyEvents(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Meetup", events[0].Title)
	assert.Equal(t, "Berlin", events[0].Location)

	at, ok := events[0].StartsAt()
	require.True(t, ok)
	assert.Equal(t, 2025, at.Year())

	require.Len(t, rec.upstream, 1)
	assert.Equal(t, http.StatusOK, rec.upstream[0].status)
}

func TestGetMyEvents_EmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	events, err := NewClient(srv.Client(), srv.URL, nil).GetMyEvents(context.Background(), "tok")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestGetMyEvents_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid token"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), srv.URL, nil).GetMyEvents(context.Background(), "tok")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUpstreamAPI, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "Invalid token")

	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, appErr.Details["status"])
}

func TestGetMyEvents_NoBaseURL(t *testing.T) {
	_, err := NewClient(nil, "", nil).GetMyEvents(context.Background(), "tok")
	assert.Equal(t, errors.ErrCodeUpstreamAPI, errors.CodeOf(err))
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.Client(), srv.URL, nil).Health(context.Background()))
}
