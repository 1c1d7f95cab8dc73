/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

type RaceState string

const (
	StateIdle     RaceState = "idle"
	StateRacing   RaceState = "racing"
	StateFinished RaceState = "finished"
)

const (
	finishLine  float64 = 90
	displayCap  float64 = 85
	minSpeed    float64 = 1
	maxSpeed    float64 = 4
	minEntrants int     = 2
)

var carColors = []string{
	"red",
	"blue",
	"green",
	"yellow",
	"purple",
	"pink",
	"orange",
	"cyan",
}

var carIcons = []string{"🏎️", "🚗", "🚙", "🚕", "🚐", "🏁"}

// SpeedSource yields values in [0, 1). *rand.Rand from math/rand/v2 satisfies it.
type SpeedSource interface {
	Float64() float64
}

type Racer struct {
	ID       int
	Name     string
	Position float64
	Speed    float64
	Color    string
	Icon     string
}

// Race is the state of one race session. It is not safe for concurrent
// use; the owning Hub serializes every call.
type Race struct {
	names  NameRegistry
	racers []Racer
	state  RaceState
	winner string
	ticks  int
	speeds SpeedSource
}

func newRace(speeds SpeedSource) *Race {
	return &Race{
		state:  StateIdle,
		speeds: speeds,
	}
}

func iconFor(index int) string {
	return carIcons[index%len(carIcons)]
}

func colorFor(index int) string {
	return carColors[index%len(carColors)]
}

func (r *Race) canStart() bool {
	return r.state != StateRacing && r.names.size() >= minEntrants
}

func (r *Race) start() bool {
	if !r.canStart() {
		return false
	}

	names := r.names.list()
	racers := make([]Racer, len(names))
	for i, name := range names {
		racers[i] = Racer{
			ID:    i,
			Name:  name,
			Speed: minSpeed + r.speeds.Float64()*(maxSpeed-minSpeed),
			Color: colorFor(i),
			Icon:  iconFor(i),
		}
	}

	r.racers = racers
	r.winner = ""
	r.ticks = 0
	r.state = StateRacing

	return true
}

// tick advances every racer by its speed, then checks the finish line in
// registry order. Simultaneous crossings go to the earlier entrant.
func (r *Race) tick() bool {
	if r.state != StateRacing {
		return false
	}

	for i := range r.racers {
		r.racers[i].Position += r.racers[i].Speed
	}
	r.ticks++

	for _, racer := range r.racers {
		if racer.Position >= finishLine {
			r.winner = racer.Name
			r.state = StateFinished
			break
		}
	}

	return true
}

func (r *Race) reset() bool {
	if r.state == StateIdle {
		return false
	}

	r.racers = nil
	r.winner = ""
	r.ticks = 0
	r.state = StateIdle

	return true
}

func (r *Race) removeWinner() bool {
	if r.state != StateFinished || r.winner == "" {
		return false
	}

	r.names.remove(r.winner)

	return r.reset()
}

func (r *Race) editable() bool {
	return r.state != StateRacing
}

func (r *Race) addBulk(text string) bool {
	return r.editable() && r.names.addBulk(text)
}

func (r *Race) addSingle(name string) bool {
	return r.editable() && r.names.addSingle(name)
}

func (r *Race) removeName(name string) bool {
	return r.editable() && r.names.remove(name)
}

func (r *Race) clearNames() bool {
	return r.editable() && r.names.clearAll()
}

func (r *Race) clearInput() bool {
	return r.names.clearInput()
}

func (r *Race) setInput(field, text string) bool {
	return r.names.setInput(field, text)
}

func displayPosition(position float64) float64 {
	return min(position, displayCap)
}
