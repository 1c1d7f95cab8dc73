// Namerace
//
// Everyone who opens the same race URL shares one session: the list of
// entrants, the input fields, and the race itself. The server owns the race
// clock and pushes a full snapshot to every browser after each change.
//
// Features:
// - WebSockets per race ID: /path/:raceid and /path/:raceid/ws
// - Names added one at a time or in bulk (newline or comma separated)
// - Duplicate names are ignored; the list is frozen while a race runs
// - Random per-car speeds, fixed tick, first car over the line wins
// - Winner can be removed from the list between races
// - Finished races are recorded and listed at /path/:raceid/results
// - Sessions auto-reaped after configurable idle timeout
// - Random 8-char race IDs via crypto/rand, with server-side collision check
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	mrand "math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// maxMessageSize leaves room for a full input buffer after JSON escaping.
const maxMessageSize = 8 * maxInputLen

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionManager holds a set of hubs keyed by race ID, so each $path/$raceid
// is its own isolated session.
type SessionManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	idleTimeout time.Duration
	tickEvery   time.Duration
	results     ResultStore
	newSpeeds   func() SpeedSource
	done        chan struct{}
}

func newSessionManager(ctx context.Context, cfg *Config, results ResultStore) *SessionManager {
	sm := &SessionManager{
		hubs:        make(map[string]*Hub),
		idleTimeout: cfg.sessionTimeout,
		tickEvery:   cfg.tick,
		results:     results,
		newSpeeds: func() SpeedSource {
			return mrand.New(mrand.NewPCG(mrand.Uint64(), mrand.Uint64()))
		},
		done: make(chan struct{}),
	}
	go sm.reaperLoop(ctx, cfg)
	return sm
}

// Done is closed once ctx is cancelled and every hub has stopped.
func (sm *SessionManager) Done() <-chan struct{} {
	return sm.done
}

func (sm *SessionManager) getHub(cfg *Config, raceID string) *Hub {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if hub, ok := sm.hubs[raceID]; ok {
		return hub
	}

	hub := newHub(raceID, sm.tickEvery, sm.newSpeeds(), sm.results)
	sm.hubs[raceID] = hub
	go hub.run(cfg)
	return hub
}

// newRaceID generates a crypto-random race ID and ensures it doesn't
// collide with existing sessions.
func (sm *SessionManager) newRaceID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		sm.mu.Lock()
		_, exists := sm.hubs[id]
		sm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically closes hubs that have been idle longer than
// idleTimeout, and closes all of them once ctx is done.
func (sm *SessionManager) reaperLoop(ctx context.Context, cfg *Config) {
	defer close(sm.done)

	if sm.idleTimeout <= 0 {
		<-ctx.Done()
		sm.closeAll()
		return
	}

	ticker := time.NewTicker(sm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sm.closeAll()
			return
		case <-ticker.C:
			sm.reap(cfg, time.Now().Add(-sm.idleTimeout))
		}
	}
}

// reap closes every hub last active before cutoff and waits for them to stop.
func (sm *SessionManager) reap(cfg *Config, cutoff time.Time) {
	var stale []*Hub

	sm.mu.Lock()
	for id, hub := range sm.hubs {
		if hub.idleSince().Before(cutoff) {
			delete(sm.hubs, id)
			stale = append(stale, hub)
			logf(cfg, "RACES: Reaped idle session %s", id)
		}
	}
	sm.mu.Unlock()

	for _, hub := range stale {
		hub.close()
	}
}

func (sm *SessionManager) closeAll() {
	sm.mu.Lock()
	hubs := sm.hubs
	sm.hubs = make(map[string]*Hub)
	sm.mu.Unlock()

	for _, hub := range hubs {
		hub.close()
	}
}

// WebSocket handler that picks the hub based on :raceid
func serveWSForManager(cfg *Config, sm *SessionManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		raceID := ps.ByName("raceid")
		if raceID == "" {
			http.Error(w, "missing race id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errorf("RACES: Websocket upgrade for %s from %s failed: %v", raceID, realIP(r), err)
			return
		}

		hub := sm.getHub(cfg, raceID)

		client := &Client{
			conn: conn,
			send: make(chan any, 64),
		}

		if !hub.join(client) {
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if !h.submit(c, msg) {
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current race URL using go-qrcode.
func qrHandler(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if ps.ByName("raceid") == "" {
			http.Error(w, "missing race id", http.StatusBadRequest)
			return
		}

		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:raceid/qr; strip trailing "/qr" to get the race URL.
		url := scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)

		if _, err := w.Write(png); err != nil {
			errs <- err
		}
	}
}

func serveResults(cfg *Config, sm *SessionManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		raceID := ps.ByName("raceid")

		results := []Result{}
		if sm.results != nil {
			var err error
			results, err = sm.results.List(r.Context(), raceID)
			if err != nil {
				errorf("RACES: %v", err)
				http.Error(w, "unable to load results", http.StatusInternalServerError)
				return
			}
		}

		body, err := json.Marshal(results)
		if err != nil {
			errs <- err
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		written, err := w.Write(body)
		if err != nil {
			errs <- err
			return
		}

		logf(cfg, "SERVE: %d results for %s (%s) to %s in %s",
			len(results),
			raceID,
			formatSize(written),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveRaceClient(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		data, err := assets.ReadFile("assets/race/index.html")
		if err != nil {
			errs <- err
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		if _, err := w.Write(data); err != nil {
			errs <- err
		}
	}
}

// redirectNewRace handles GET /path by generating a new random race ID
// (with server-side collision detection) and redirecting to /path/:raceid.
func redirectNewRace(cfg *Config, path string, sm *SessionManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		raceID := sm.newRaceID()
		logf(cfg, "RACES: Created session %s/%s", path, raceID)
		http.Redirect(w, r, cfg.prefix+path+"/"+raceID, http.StatusTemporaryRedirect)
	}
}

// registerRaceGame sets up routes so that:
//   - $path                  → redirects to new random session (8-char ID)
//   - $path/:raceid          → HTML client
//   - $path/:raceid/ws       → WebSocket for that session
//   - $path/:raceid/qr       → PNG QR code for that session URL
//   - $path/:raceid/results  → JSON list of finished races
func registerRaceGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router, results ResultStore, errs chan<- error) *SessionManager {
	sm := newSessionManager(ctx, cfg, results)

	mux.GET(cfg.prefix+path, redirectNewRace(cfg, path, sm))

	mux.GET(cfg.prefix+path+"/:raceid", serveRaceClient(cfg, errs))

	mux.GET(cfg.prefix+"/assets/race/*file", serveAssets(cfg, errs))

	mux.GET(cfg.prefix+path+"/:raceid/ws", serveWSForManager(cfg, sm))

	mux.GET(cfg.prefix+path+"/:raceid/qr", qrHandler(cfg, errs))

	mux.GET(cfg.prefix+path+"/:raceid/results", serveResults(cfg, sm, errs))

	return sm
}
