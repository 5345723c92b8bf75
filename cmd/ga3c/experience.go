package main

import (
	"github.com/etienne87/GA3C/internal/network"
	"sync"
)

// Rewards are clipped to [rewardMin, rewardMax] before accumulating the returns.
const rewardMin, rewardMax = -1, 1

// Segment of consecutive experiences of one agent, used for training.
type Segment struct {
	// Observations, flat, and Actions, numActions per step, as given to network.Batch.
	Observations, Actions []float32

	// Rewards received after each step. Converted to the discounted returns by Discount.
	Rewards []float32

	// State is the recurrent state before the first step of the segment, if recurrence is used.
	State network.RecurrentState
}

// Len returns the number of steps in the segment.
func (s *Segment) Len() int { return len(s.Rewards) }

// Append one experience to the segment.
func (s *Segment) Append(observation, action []float32, reward float32) {
	s.Observations = append(s.Observations, observation...)
	s.Actions = append(s.Actions, action...)
	s.Rewards = append(s.Rewards, reward)
}

// Discount converts the rewards to discounted returns, bootstrapped with terminalValue: the
// estimated value after the last step, or 0 if the episode finished.
func (s *Segment) Discount(discount, terminalValue float32) {
	ret := terminalValue
	for ii := len(s.Rewards) - 1; ii >= 0; ii-- {
		ret = clip(s.Rewards[ii], rewardMin, rewardMax) + discount*ret
		s.Rewards[ii] = ret
	}
}

// BuildBatch joins the discounted segments into a training batch.
//
// With recurrence each segment is one sequence, padded to the longest segment: padding steps have
// zero observations, actions and returns. Otherwise segments are simply concatenated.
func BuildBatch(segments []*Segment, recurrent bool, obsSize, numActions int) *network.Batch {
	batch := &network.Batch{}
	if !recurrent {
		for _, s := range segments {
			batch.Observations = append(batch.Observations, s.Observations...)
			batch.Actions = append(batch.Actions, s.Actions...)
			batch.Returns = append(batch.Returns, s.Rewards...)
		}
		return batch
	}

	var numSteps int
	for _, s := range segments {
		numSteps = max(numSteps, s.Len())
	}
	rows := len(segments) * numSteps
	batch.Observations = make([]float32, rows*obsSize)
	batch.Actions = make([]float32, rows*numActions)
	batch.Returns = make([]float32, rows)
	batch.StepSizes = make([]int32, len(segments))
	for seq, s := range segments {
		row := seq * numSteps
		copy(batch.Observations[row*obsSize:], s.Observations)
		copy(batch.Actions[row*numActions:], s.Actions)
		copy(batch.Returns[row:], s.Rewards)
		batch.StepSizes[seq] = int32(s.Len())
		batch.State.Cell = append(batch.State.Cell, s.State.Cell...)
		batch.State.Hidden = append(batch.State.Hidden, s.State.Hidden...)
	}
	return batch
}

// Stats of the finished episodes, safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	// Episodes and Steps finished.
	Episodes, Steps int

	// rewards of the last episodes, a ring buffer of the window size.
	rewards []float32
	next    int
}

// NewStats creates Stats that averages the rewards over the last window episodes.
func NewStats(window int) *Stats {
	return &Stats{rewards: make([]float32, 0, max(window, 1))}
}

// Add a finished episode with its total reward and number of steps. It returns the number of
// episodes finished so far.
func (s *Stats) Add(reward float32, steps int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Episodes++
	s.Steps += steps
	if len(s.rewards) < cap(s.rewards) {
		s.rewards = append(s.rewards, reward)
	} else {
		s.rewards[s.next] = reward
		s.next = (s.next + 1) % len(s.rewards)
	}
	return s.Episodes
}

// AverageReward over the last episodes, or 0 if there were none.
func (s *Stats) AverageReward() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rewards) == 0 {
		return 0
	}
	var sum float32
	for _, r := range s.rewards {
		sum += r
	}
	return sum / float32(len(s.rewards))
}
