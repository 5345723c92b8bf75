package main

import (
	"context"
	"github.com/etienne87/GA3C/internal/network"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
	"sync"
	"time"
)

// Config of the GA3C Server.
type Config struct {
	// NumAgents playing simultaneously, and NumPredictors serving their prediction requests.
	NumAgents, NumPredictors int

	// PredictionBatch is the maximum number of prediction requests handled together.
	PredictionBatch int

	// TrainingBatch is the minimum number of steps used in each training step.
	TrainingBatch int

	// MaxSegment is the maximum number of steps of a training segment (t_max): beyond it the
	// returns are bootstrapped from the estimated value.
	MaxSegment int

	// Discount factor of the rewards.
	Discount float32

	// EpisodeSteps is the length of the episodes.
	EpisodeSteps int

	// Episodes to play before stopping. If <= 0 plays until the context is cancelled.
	Episodes int

	// SummaryEvery training steps LogSummaries is called, and SaveEvery episodes a checkpoint is
	// saved. Disabled if <= 0.
	SummaryEvery, SaveEvery int

	// ReportEvery episodes the statistics are logged, averaged over the last StatsWindow ones.
	ReportEvery, StatsWindow int

	// Seed for the environments: each agent uses Seed plus its index.
	Seed uint64
}

// predictionRequest from an agent, answered by a predictor.
type predictionRequest struct {
	observation []float32

	// state before the step, nil for the zero state.
	state *network.RecurrentState

	reply chan predictionReply
}

type predictionReply struct {
	action []float32
	value  float32
	state  network.RecurrentState
	err    error
}

// Server runs GA3C: agents play episodes in their own environments and send the observations to
// the predictors, which batch them to sample the actions from the network. The experiences are
// split in segments and sent to the trainer, which batches them to train the network.
type Server struct {
	net    *network.Network
	hp     network.Hyperparameters
	config Config
	Stats  *Stats

	// FirstEpisode is the number of episodes played before this run, e.g. loaded from a checkpoint.
	FirstEpisode int

	predictions chan *predictionRequest
	training    chan *Segment

	// stop is set during Run.
	stop func()

	muTrainer  sync.Mutex
	trainSteps int
}

// NewServer creates a Server that trains net with its default hyperparameters.
func NewServer(net *network.Network, config Config) *Server {
	return &Server{
		net:          net,
		hp:           net.DefaultHyperparameters(),
		config:       config,
		Stats:        NewStats(config.StatsWindow),
		FirstEpisode: net.LoadedEpisode,
		predictions:  make(chan *predictionRequest, config.NumAgents),
		training:     make(chan *Segment, config.NumAgents),
	}
}

// Episode returns the number of episodes played, including the ones before this run.
func (s *Server) Episode() int {
	s.Stats.mu.Lock()
	defer s.Stats.mu.Unlock()
	return s.FirstEpisode + s.Stats.Episodes
}

// TrainSteps returns the number of training steps performed by this run.
func (s *Server) TrainSteps() int {
	s.muTrainer.Lock()
	defer s.muTrainer.Unlock()
	return s.trainSteps
}

// Run until the configured number of episodes is played, ctx is cancelled, or an error happens.
// Cancelling ctx is not an error.
func (s *Server) Run(ctx context.Context) error {
	if s.config.NumAgents <= 0 || s.config.NumPredictors <= 0 || s.config.MaxSegment <= 0 {
		return errors.Errorf("invalid configuration: %+v", s.config)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.stop = cancel
	g, gCtx := errgroup.WithContext(ctx)
	for range s.config.NumPredictors {
		g.Go(func() error { return s.predictor(gCtx) })
	}
	g.Go(func() error { return s.trainer(gCtx) })
	for agentIdx := range s.config.NumAgents {
		g.Go(func() error { return s.agent(gCtx, agentIdx) })
	}
	return g.Wait()
}

// agent plays episodes until ctx is done.
func (s *Server) agent(ctx context.Context, agentIdx int) error {
	height, width, frames := s.net.ObservationDims()
	env := NewEnvironment(height, width, frames, !s.net.Categorical(), s.config.EpisodeSteps, s.config.Seed+uint64(agentIdx))
	reply := make(chan predictionReply, 1)
	for ctx.Err() == nil {
		if err := s.runEpisode(ctx, env, reply); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.WithMessagef(err, "agent #%d", agentIdx)
		}
	}
	return nil
}

// runEpisode plays one episode of env, sending the segments of experiences to the trainer.
func (s *Server) runEpisode(ctx context.Context, env *Environment, reply chan predictionReply) error {
	start := time.Now()
	observation := env.Reset()
	var state *network.RecurrentState
	segment := s.newSegment(state)
	var totalReward float32
	var steps int
	for {
		pred, err := s.predict(ctx, observation, state, reply)
		if err != nil {
			return err
		}
		if segment.Len() == s.config.MaxSegment {
			segment.Discount(s.config.Discount, pred.value)
			if err = s.submit(ctx, segment); err != nil {
				return err
			}
			segment = s.newSegment(state)
		}

		next, reward, done := env.Step(pred.action)
		segment.Append(observation, pred.action, reward)
		totalReward += reward
		steps++
		observation = next
		if s.net.Recurrent() {
			state = &pred.state
		}
		if done {
			segment.Discount(s.config.Discount, 0)
			if err = s.submit(ctx, segment); err != nil {
				return err
			}
			return s.endEpisode(totalReward, steps, time.Since(start))
		}
	}
}

// newSegment starting from the given recurrent state (nil for the zero state).
func (s *Server) newSegment(state *network.RecurrentState) *Segment {
	segment := &Segment{}
	if !s.net.Recurrent() {
		return segment
	}
	if state == nil {
		segment.State = s.net.ZeroState(1)
	} else {
		segment.State = *state
	}
	return segment
}

func (s *Server) predict(ctx context.Context, observation []float32, state *network.RecurrentState, reply chan predictionReply) (predictionReply, error) {
	request := &predictionRequest{observation: observation, state: state, reply: reply}
	select {
	case <-ctx.Done():
		return predictionReply{}, ctx.Err()
	case s.predictions <- request:
	}
	select {
	case <-ctx.Done():
		return predictionReply{}, ctx.Err()
	case r := <-reply:
		return r, r.err
	}
}

func (s *Server) submit(ctx context.Context, segment *Segment) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.training <- segment:
		return nil
	}
}

// endEpisode records the episode statistics, saves the network and stops the run when due.
func (s *Server) endEpisode(reward float32, steps int, elapsed time.Duration) error {
	count := s.Stats.Add(reward, steps)
	klog.V(1).Infof("Episode %d: reward %.3f in %d steps (%s)", s.FirstEpisode+count, reward, steps, elapsed)
	if s.config.ReportEvery > 0 && count%s.config.ReportEvery == 0 {
		klog.Infof("Episode %d: average reward %.3f over the last %d episodes, %d training steps",
			s.FirstEpisode+count, s.Stats.AverageReward(), min(count, s.config.StatsWindow), s.TrainSteps())
	}
	if s.config.SaveEvery > 0 && count%s.config.SaveEvery == 0 {
		if err := s.net.Save(s.FirstEpisode + count); err != nil {
			return err
		}
	}
	if s.config.Episodes > 0 && count >= s.config.Episodes {
		s.stop()
	}
	return nil
}

// predictor serves batches of prediction requests until ctx is done.
func (s *Server) predictor(ctx context.Context) error {
	requests := make([]*predictionRequest, 0, s.config.PredictionBatch)
	for {
		requests = requests[:0]
		select {
		case <-ctx.Done():
			return nil
		case r := <-s.predictions:
			requests = append(requests, r)
		}
	collect:
		for len(requests) < s.config.PredictionBatch {
			select {
			case r := <-s.predictions:
				requests = append(requests, r)
			default:
				break collect
			}
		}
		s.predictBatch(requests)
	}
}

// predictBatch sends to each request its prediction, or the error.
func (s *Server) predictBatch(requests []*predictionRequest) {
	height, width, frames := s.net.ObservationDims()
	observations := make([]float32, 0, len(requests)*height*width*frames)
	for _, r := range requests {
		observations = append(observations, r.observation...)
	}
	var state *network.RecurrentState
	cells := s.net.Cells()
	if s.net.Recurrent() {
		state = &network.RecurrentState{}
		for _, r := range requests {
			if r.state == nil {
				zeros := make([]float32, cells)
				state.Cell = append(state.Cell, zeros...)
				state.Hidden = append(state.Hidden, zeros...)
				continue
			}
			state.Cell = append(state.Cell, r.state.Cell...)
			state.Hidden = append(state.Hidden, r.state.Hidden...)
		}
	}

	pred, err := s.net.PredictActionAndValue(observations, state)
	numActions := s.net.NumActions
	for ii, r := range requests {
		if err != nil {
			r.reply <- predictionReply{err: err}
			continue
		}
		reply := predictionReply{
			action: pred.Actions[ii*numActions : (ii+1)*numActions],
			value:  pred.Values[ii],
		}
		if state != nil {
			reply.state = network.RecurrentState{
				Cell:   pred.State.Cell[ii*cells : (ii+1)*cells],
				Hidden: pred.State.Hidden[ii*cells : (ii+1)*cells],
			}
		}
		r.reply <- reply
	}
}

// trainer trains the network on batches of segments until ctx is done.
func (s *Server) trainer(ctx context.Context) error {
	height, width, frames := s.net.ObservationDims()
	obsSize := height * width * frames
	var segments []*Segment
	var rows int
	for {
		select {
		case <-ctx.Done():
			return nil
		case segment := <-s.training:
			segments = append(segments, segment)
			rows += segment.Len()
		}
		if rows < s.config.TrainingBatch {
			continue
		}
		batch := BuildBatch(segments, s.net.Recurrent(), obsSize, s.net.NumActions)
		segments, rows = nil, 0
		loss, err := s.net.Train(batch, s.hp)
		if err != nil {
			return err
		}
		s.muTrainer.Lock()
		s.trainSteps++
		step := s.trainSteps
		s.muTrainer.Unlock()
		klog.V(2).Infof("Training step %d: loss %.4f", step, loss)
		if s.config.SummaryEvery > 0 && step%s.config.SummaryEvery == 0 {
			if err = s.net.LogSummaries(batch, s.hp, s.Stats.AverageReward()); err != nil {
				return err
			}
		}
	}
}
