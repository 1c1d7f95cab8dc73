/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Messages coming from clients
type ClientMessage struct {
	Type  string `json:"type"`            // "add_bulk", "add_name", "remove_name", "clear_names", "clear_input", "set_input", "start", "reset", "remove_winner"
	Text  string `json:"text,omitempty"`  // add_bulk / set_input
	Name  string `json:"name,omitempty"`  // add_name / remove_name
	Field string `json:"field,omitempty"` // set_input: "bulk" or "single"
}

type NameEntry struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
}

type RacerView struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Position        float64 `json:"position"`
	DisplayPosition float64 `json:"display_position"`
	Speed           float64 `json:"speed"`
	Color           string  `json:"color"`
	Icon            string  `json:"icon"`
}

// RaceStateMessage is the full read-only view of a session, sent on
// connect and after every change.
type RaceStateMessage struct {
	Type        string      `json:"type"` // "race_state"
	State       RaceState   `json:"state"`
	Names       []NameEntry `json:"names"`
	Racers      []RacerView `json:"racers"`
	Winner      string      `json:"winner,omitempty"`
	BulkInput   string      `json:"bulk_input"`
	SingleInput string      `json:"single_input"`
	CanStart    bool        `json:"can_start"`
	FinishLine  float64     `json:"finish_line"`
	Ticks       int         `json:"ticks"`
}

func (r *Race) snapshot() RaceStateMessage {
	names := r.names.list()
	entries := make([]NameEntry, len(names))
	for i, name := range names {
		entries[i] = NameEntry{Name: name, Icon: iconFor(i)}
	}

	racers := make([]RacerView, len(r.racers))
	for i, racer := range r.racers {
		racers[i] = RacerView{
			ID:              racer.ID,
			Name:            racer.Name,
			Position:        racer.Position,
			DisplayPosition: displayPosition(racer.Position),
			Speed:           racer.Speed,
			Color:           racer.Color,
			Icon:            racer.Icon,
		}
	}

	return RaceStateMessage{
		Type:        "race_state",
		State:       r.state,
		Names:       entries,
		Racers:      racers,
		Winner:      r.winner,
		BulkInput:   r.names.bulkInput,
		SingleInput: r.names.singleInput,
		CanStart:    r.canStart(),
		FinishLine:  finishLine,
		Ticks:       r.ticks,
	}
}

type Client struct {
	conn *websocket.Conn
	send chan any
}

type command struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id      string
	race    *Race
	clients map[*Client]bool
	results ResultStore

	register chan *Client
	unreg    chan *Client
	commands chan command
	quit     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	tickEvery time.Duration
	ticker    *time.Ticker

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time
}

func newHub(id string, tickEvery time.Duration, speeds SpeedSource, results ResultStore) *Hub {
	now := time.Now()
	return &Hub{
		id:         id,
		race:       newRace(speeds),
		clients:    make(map[*Client]bool),
		results:    results,
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		commands:   make(chan command),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		tickEvery:  tickEvery,
		createdAt:  now,
		lastActive: now,
	}
}

func (h *Hub) run(cfg *Config) {
	defer close(h.stopped)
	defer h.stopTicker()

	for {
		var tick <-chan time.Time
		if h.ticker != nil {
			tick = h.ticker.C
		}

		select {
		case <-h.quit:
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.touch()
			h.clients[c] = true
			h.sendTo(c, h.race.snapshot())

		case c := <-h.unreg:
			h.touch()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case cmd := <-h.commands:
			h.touch()
			if h.apply(cfg, cmd.msg) {
				h.syncTicker()
				h.broadcast()
			}

		case <-tick:
			if !h.race.tick() {
				continue
			}
			if h.race.state == StateFinished {
				h.stopTicker()
				h.recordResult(cfg)
			}
			h.broadcast()
		}
	}
}

// apply performs one client command, reporting whether anything changed.
func (h *Hub) apply(cfg *Config, msg ClientMessage) bool {
	r := h.race

	switch msg.Type {
	case "add_bulk":
		return r.addBulk(msg.Text)
	case "add_name":
		return r.addSingle(msg.Name)
	case "remove_name":
		return r.removeName(msg.Name)
	case "clear_names":
		return r.clearNames()
	case "clear_input":
		return r.clearInput()
	case "set_input":
		return r.setInput(msg.Field, msg.Text)
	case "start":
		if !r.start() {
			return false
		}
		logf(cfg, "RACES: Started race in %s with %d entrants", h.id, len(r.racers))
		return true
	case "reset":
		return r.reset()
	case "remove_winner":
		winner := r.winner
		if !r.removeWinner() {
			return false
		}
		logf(cfg, "RACES: Removed winner %q from %s", winner, h.id)
		return true
	}

	return false
}

// syncTicker keeps the tick timer alive exactly while a race is running.
func (h *Hub) syncTicker() {
	switch {
	case h.race.state == StateRacing && h.ticker == nil:
		h.ticker = time.NewTicker(h.tickEvery)
	case h.race.state != StateRacing:
		h.stopTicker()
	}
}

func (h *Hub) stopTicker() {
	if h.ticker == nil {
		return
	}
	h.ticker.Stop()
	h.ticker = nil
}

func (h *Hub) recordResult(cfg *Config) {
	logf(cfg, "RACES: %q won in %s after %d ticks", h.race.winner, h.id, h.race.ticks)

	if h.results == nil {
		return
	}

	entrants := make([]string, len(h.race.racers))
	for i, racer := range h.race.racers {
		entrants[i] = racer.Name
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res := newResult(h.id, h.race.winner, entrants, h.race.ticks)
	if err := h.results.Record(ctx, res); err != nil {
		errorf("RACES: Failed to record result for %s: %v", h.id, err)
	}
}

func (h *Hub) broadcast() {
	msg := h.race.snapshot()
	for c := range h.clients {
		h.sendTo(c, msg)
	}
}

// sendTo never blocks the hub; a client that cannot keep up is dropped.
func (h *Hub) sendTo(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *Hub) idleSince() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastActive
}

// join hands c to the hub, failing if the session has already been closed.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unreg <- c:
	case <-h.quit:
	}
}

func (h *Hub) submit(c *Client, msg ClientMessage) bool {
	select {
	case h.commands <- command{client: c, msg: msg}:
		return true
	case <-h.quit:
		return false
	}
}

// close stops the hub goroutine and its ticker, and disconnects every client.
func (h *Hub) close() {
	h.once.Do(func() {
		close(h.quit)
	})
	<-h.stopped
}
