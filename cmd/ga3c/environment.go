package main

import (
	"github.com/chewxy/math32"
	"math/rand/v2"
)

// Discrete moves of the agent: the index is the categorical action.
var moves = [][2]float32{
	{0, 0},  // Stay.
	{-1, 0}, // Up.
	{1, 0},  // Down.
	{0, -1}, // Left.
	{0, 1},  // Right.
}

const (
	// continuousActions is the dimension of the continuous actions: the (dy, dx) displacement.
	continuousActions = 2

	// Pixel values of the agent and of the target in the observations.
	agentPixel, targetPixel = 1.0, 0.5

	// catchDistance from the target that counts as catching it.
	catchDistance = 0.5
)

// Environment is a toy "chase" game on a height×width grid: the agent moves towards a target,
// and each time it catches it (reward 1) the target jumps to a new random position.
// Moving closer is rewarded (and moving away penalized) in proportion to the distance change.
//
// Observations are the last frames images of the grid, flat [height, width, frames], with the
// most recent frame last.
type Environment struct {
	height, width, frames int
	continuous            bool
	maxSteps              int
	rng                   *rand.Rand

	agentY, agentX, targetY, targetX float32
	numSteps                         int
	history                          [][]float32
}

// NewEnvironment creates an Environment. With continuous actions the agent moves by the given
// (dy, dx), each clipped to [-1, 1]. Otherwise actions are one of the moves, one-hot encoded.
// Episodes finish after maxSteps.
func NewEnvironment(height, width, frames int, continuous bool, maxSteps int, seed uint64) *Environment {
	e := &Environment{
		height: height, width: width, frames: frames,
		continuous: continuous,
		maxSteps:   maxSteps,
		rng:        rand.New(rand.NewPCG(seed, seed+1)),
		history:    make([][]float32, frames),
	}
	for ii := range e.history {
		e.history[ii] = make([]float32, height*width)
	}
	return e
}

// NumActions of the environment: the number of moves for discrete actions, or the dimension of
// the displacement for continuous ones.
func (e *Environment) NumActions() int {
	if e.continuous {
		return continuousActions
	}
	return len(moves)
}

// Reset starts a new episode, and returns the first observation.
func (e *Environment) Reset() []float32 {
	e.numSteps = 0
	e.agentY, e.agentX = e.randomPosition()
	e.moveTarget()
	for _, frame := range e.history {
		clear(frame)
	}
	e.render()
	return e.Observation()
}

// Step moves the agent with the given action, and returns the new observation, the reward and
// whether the episode finished.
func (e *Environment) Step(action []float32) (observation []float32, reward float32, done bool) {
	var dy, dx float32
	if e.continuous {
		dy = clip(action[0], -1, 1)
		dx = clip(action[1], -1, 1)
	} else {
		move := moves[argMax(action)]
		dy, dx = move[0], move[1]
	}
	before := e.distance()
	e.agentY = clip(e.agentY+dy, 0, float32(e.height-1))
	e.agentX = clip(e.agentX+dx, 0, float32(e.width-1))
	after := e.distance()
	reward = (before - after) / float32(e.height+e.width)
	if after <= catchDistance {
		reward += 1
		e.moveTarget()
	}
	e.numSteps++
	e.render()
	return e.Observation(), reward, e.numSteps >= e.maxSteps
}

// Observation returns the stacked frames, flat [height, width, frames].
func (e *Environment) Observation() []float32 {
	obs := make([]float32, e.height*e.width*e.frames)
	for f, frame := range e.history {
		for pos, v := range frame {
			obs[pos*e.frames+f] = v
		}
	}
	return obs
}

// render a new frame, dropping the oldest one.
func (e *Environment) render() {
	frame := e.history[0]
	copy(e.history, e.history[1:])
	e.history[len(e.history)-1] = frame
	clear(frame)
	frame[e.pixel(e.targetY, e.targetX)] = targetPixel
	frame[e.pixel(e.agentY, e.agentX)] = agentPixel
}

func (e *Environment) pixel(y, x float32) int {
	row := int(math32.Round(y))
	col := int(math32.Round(x))
	return row*e.width + col
}

func (e *Environment) distance() float32 {
	return math32.Hypot(e.agentY-e.targetY, e.agentX-e.targetX)
}

func (e *Environment) randomPosition() (y, x float32) {
	return float32(e.rng.IntN(e.height)), float32(e.rng.IntN(e.width))
}

// moveTarget to a random position away from the agent, if the grid has room for it.
func (e *Environment) moveTarget() {
	for range 100 {
		e.targetY, e.targetX = e.randomPosition()
		if e.distance() > catchDistance {
			return
		}
	}
}

func clip(v, low, high float32) float32 {
	return min(max(v, low), high)
}

func argMax(values []float32) int {
	best := 0
	for ii, v := range values {
		if v > values[best] {
			best = ii
		}
	}
	return best
}
