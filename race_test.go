/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestManager() *SessionManager {
	return &SessionManager{
		hubs:      make(map[string]*Hub),
		tickEvery: time.Hour,
		newSpeeds: func() SpeedSource { return speedsOf(2) },
		done:      make(chan struct{}),
	}
}

func hubIDs(sm *SessionManager) []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ids := make([]string, 0, len(sm.hubs))
	for id := range sm.hubs {
		ids = append(ids, id)
	}
	return ids
}

func waitClosed(t *testing.T, c *Client) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("client channel never closed")
		}
	}
}

func TestSessionManager_ReapsIdleHubs(t *testing.T) {
	cfg := &Config{}
	sm := newTestManager()

	stale, fresh := sm.getHub(cfg, "stale"), sm.getHub(cfg, "fresh")
	t.Cleanup(fresh.close)

	staleClient, freshClient := newTestClient(), newTestClient()
	stale.join(staleClient)
	fresh.join(freshClient)
	nextState(t, staleClient)
	nextState(t, freshClient)

	stale.mu.Lock()
	stale.lastActive = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	sm.reap(cfg, time.Now().Add(-time.Hour))

	if ids := hubIDs(sm); len(ids) != 1 || ids[0] != "fresh" {
		t.Fatalf("hubs after reap = %q, want [fresh]", ids)
	}

	waitClosed(t, staleClient)
	if stale.join(newTestClient()) {
		t.Fatal("join succeeded on a reaped hub")
	}

	if !fresh.join(newTestClient()) {
		t.Fatal("fresh hub stopped accepting clients")
	}
	select {
	case _, ok := <-freshClient.send:
		if !ok {
			t.Fatal("fresh client was disconnected")
		}
	default:
	}
}

func TestSessionManager_ReaperLoopRunsOnTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &Config{sessionTimeout: 20 * time.Millisecond, tick: time.Hour}
	sm := newSessionManager(ctx, cfg, nil)

	c := newTestClient()
	sm.getHub(cfg, "abcd1234").join(c)
	nextState(t, c)

	waitClosed(t, c)
	if ids := hubIDs(sm); len(ids) != 0 {
		t.Fatalf("hubs after timeout = %q", ids)
	}
}

func TestSessionManager_ClosesAllWhenCancelled(t *testing.T) {
	for _, idle := range []time.Duration{0, time.Hour} {
		ctx, cancel := context.WithCancel(context.Background())

		cfg := &Config{sessionTimeout: idle, tick: time.Millisecond}
		sm := newSessionManager(ctx, cfg, nil)

		h := sm.getHub(cfg, "abcd1234")
		c := newTestClient()
		h.join(c)
		nextState(t, c)
		h.submit(c, ClientMessage{Type: "add_bulk", Text: "A, B"})
		h.submit(c, ClientMessage{Type: "start"})

		cancel()

		select {
		case <-sm.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("idle timeout %s: manager never finished", idle)
		}

		if ids := hubIDs(sm); len(ids) != 0 {
			t.Fatalf("idle timeout %s: hubs after cancel = %q", idle, ids)
		}
		if h.ticker != nil {
			t.Fatalf("idle timeout %s: ticker outlived the hub", idle)
		}
		waitClosed(t, c)
		if h.join(newTestClient()) {
			t.Fatalf("idle timeout %s: join succeeded after cancel", idle)
		}
	}
}

func TestWebsocketRoute_OnlyUpgradesCreateSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mux, sm := newRouter(ctx, &Config{tick: time.Millisecond}, nil, make(chan error, 64))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp, _ := get(t, srv.Client(), srv.URL+"/race/abcd1234/ws")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("plain GET status = %d", resp.StatusCode)
	}
	if ids := hubIDs(sm); len(ids) != 0 {
		t.Fatalf("plain GET created sessions %q", ids)
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/race/abcd1234/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var s RaceStateMessage
	if err := conn.ReadJSON(&s); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ids := hubIDs(sm); len(ids) != 1 || ids[0] != "abcd1234" {
		t.Fatalf("sessions after upgrade = %q", ids)
	}
}

func TestWebsocketRoute_OversizedMessageDisconnects(t *testing.T) {
	srv := newTestServer(t, &Config{tick: time.Millisecond}, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/race/abcd1234/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var s RaceStateMessage
	if err := conn.ReadJSON(&s); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}

	msg := ClientMessage{Type: "set_input", Field: inputBulk, Text: strings.Repeat("x", maxMessageSize)}
	// The server may hang up before the whole frame is written.
	_ = conn.WriteJSON(msg)

	for {
		if err := conn.ReadJSON(&s); err != nil {
			return
		}
		if s.BulkInput != "" {
			t.Fatal("oversized input was accepted")
		}
	}
}
