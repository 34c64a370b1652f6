package ws

import (
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	received [][]byte
	failNext bool
	closed   bool
	got      chan struct{}
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{got: make(chan struct{}, 16)}
}

func (s *recordingSubscriber) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		return errors.New("broken pipe")
	}
	s.received = append(s.received, payload)
	s.got <- struct{}{}
	return nil
}

func (s *recordingSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestHubRoutesByService(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	a := newRecordingSubscriber()
	b := newRecordingSubscriber()
	hub.Register("svc-a", a)
	hub.Register("svc-b", b)

	if err := hub.Publish("svc-a", map[string]string{"to": "RUNNING"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, a.got)

	if hub.Subscribers("svc-a") != 1 || hub.Subscribers("svc-b") != 1 {
		t.Fatal("unexpected subscriber counts")
	}
	a.mu.Lock()
	payload := string(a.received[0])
	a.mu.Unlock()
	if payload != `{"to":"RUNNING"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
	b.mu.Lock()
	if len(b.received) != 0 {
		t.Fatal("svc-b must not receive svc-a events")
	}
	b.mu.Unlock()
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	sub := newRecordingSubscriber()
	sub.failNext = true
	hub.Register("svc", sub)
	hub.Broadcast("svc", []byte("x"))

	deadline := time.Now().Add(time.Second)
	for hub.Subscribers("svc") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("failing subscriber was not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !sub.isClosed() {
		t.Fatal("failing subscriber must be closed")
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	hub := NewHub()
	sub := newRecordingSubscriber()
	hub.Register("svc", sub)
	if hub.Subscribers("svc") != 1 {
		t.Fatal("expected subscriber")
	}
	hub.Close()
	hub.Close()

	deadline := time.Now().Add(time.Second)
	for !sub.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Broadcast("svc", []byte("ignored"))
	if hub.Subscribers("svc") != 0 {
		t.Fatal("closed hub reports no subscribers")
	}
}

func TestSSEClientFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	client := NewSSEClient(rec, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := client.Send([]byte(`{"to":"STOPPED"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := client.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: transition\ndata: {\"to\":\"STOPPED\"}\n\n") || !strings.HasSuffix(body, ": ping\n\n") {
		t.Fatalf("unexpected body %q", body)
	}

	client.Close()
	select {
	case <-client.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}
	if err := client.Send([]byte("x")); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after close, got %v", err)
	}
}
