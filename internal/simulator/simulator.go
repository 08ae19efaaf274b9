// Package simulator runs debounced what-if risk simulations and derives recommendations.
package simulator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/jobwatch/internal/backend"
	"github.com/kiranshivaraju/jobwatch/internal/metrics"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

var (
	ErrNoContext  = errors.New("simulation context is not set")
	ErrSuperseded = errors.New("simulation superseded by newer input")
)

// Options configures a Simulator.
type Options struct {
	Debounce      time.Duration
	RiskThreshold float64
	MinReduction  float64
	Scenarios     []Scenario
}

// State is what the what-if panel displays.
type State struct {
	ModelID         string                   `json:"model_id"`
	AthleteID       string                   `json:"athlete_id"`
	Date            string                   `json:"date"`
	Overrides       models.Overrides         `json:"overrides"`
	Result          *models.SimulationResult `json:"result,omitempty"`
	Recommendations []models.Recommendation  `json:"recommendations"`
	Error           string                   `json:"error,omitempty"`
	Pending         bool                     `json:"pending"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// Simulator holds the override inputs for one model/athlete/date context.
type Simulator struct {
	client    backend.Client
	opts      Options
	debouncer *Debouncer
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	hasContext     bool
	epoch          uint64
	reqSeq         uint64
	inflight       int
	cancelInflight context.CancelFunc
}

func New(client backend.Client, opts Options, log zerolog.Logger) *Simulator {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Scenarios == nil {
		opts.Scenarios = DefaultScenarios
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		client:    client,
		opts:      opts,
		debouncer: NewDebouncer(opts.Debounce),
		log:       log.With().Str("component", "simulator").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		state:     State{Overrides: models.Overrides{}, Recommendations: []models.Recommendation{}},
	}
}

// SetContext switches to a new model/athlete/date. Overrides reset to baseline and any pending
// or in-flight simulation for the previous context is dropped.
func (s *Simulator) SetContext(modelID, athleteID, date string, baseline models.Overrides) {
	s.debouncer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	if s.cancelInflight != nil {
		s.cancelInflight()
		s.cancelInflight = nil
	}
	s.hasContext = true
	s.state = State{
		ModelID:         modelID,
		AthleteID:       athleteID,
		Date:            date,
		Overrides:       baseline.Clone(),
		Recommendations: []models.Recommendation{},
		UpdatedAt:       time.Now().UTC(),
	}
}

// SetOverride updates one input and re-arms the debounce timer.
func (s *Simulator) SetOverride(key string, value float64) error {
	return s.SetOverrides(models.Overrides{key: value})
}

// SetOverrides merges values into the inputs and re-arms the debounce timer.
func (s *Simulator) SetOverrides(values models.Overrides) error {
	s.mu.Lock()
	if !s.hasContext {
		s.mu.Unlock()
		return ErrNoContext
	}
	for k, v := range values {
		s.state.Overrides[k] = v
	}
	s.state.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.debouncer.Trigger(func() {
		if _, err := s.simulate(s.ctx); err != nil && !errors.Is(err, ErrSuperseded) {
			s.log.Debug().Err(err).Msg("debounced simulation failed")
		}
	})
	return nil
}

// Flush runs the simulation now instead of waiting for the debounce timer.
func (s *Simulator) Flush(ctx context.Context) (State, error) {
	s.debouncer.Stop()
	return s.simulate(ctx)
}

// State returns a copy of the displayed state.
func (s *Simulator) State() State {
	pending := s.debouncer.Pending()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(pending)
}

// Close cancels the pending timer and any in-flight request.
func (s *Simulator) Close() {
	s.debouncer.Stop()
	s.cancel()
}

func (s *Simulator) simulate(ctx context.Context) (State, error) {
	s.mu.Lock()
	if !s.hasContext {
		s.mu.Unlock()
		return State{}, ErrNoContext
	}
	if s.cancelInflight != nil {
		s.cancelInflight()
	}
	rctx, cancel := context.WithCancel(ctx)
	s.cancelInflight = cancel
	s.reqSeq++
	epoch, seq := s.epoch, s.reqSeq
	s.inflight++
	req := models.SimulationRequest{
		ModelID:   s.state.ModelID,
		AthleteID: s.state.AthleteID,
		Date:      s.state.Date,
		Overrides: s.state.Overrides.Clone(),
	}
	s.mu.Unlock()

	defer cancel()

	res, err := s.client.Simulate(rctx, req)
	if err != nil {
		metrics.SimulationCount.WithLabelValues("simulate", metrics.OutcomeFailure).Inc()
	} else {
		metrics.SimulationCount.WithLabelValues("simulate", metrics.OutcomeSuccess).Inc()
	}

	var recs []models.Recommendation
	if err == nil && res.NewRisk > s.opts.RiskThreshold {
		var scenErr error
		recs, scenErr = s.recommend(rctx, req, res)
		if scenErr != nil {
			s.log.Warn().Err(scenErr).Msg("some scenarios failed")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight--
	if epoch != s.epoch || seq != s.reqSeq {
		return s.snapshotLocked(false), ErrSuperseded
	}
	s.cancelInflight = nil
	s.state.UpdatedAt = time.Now().UTC()
	if err != nil {
		s.state.Error = err.Error()
		return s.snapshotLocked(false), err
	}
	s.state.Result = res
	s.state.Error = ""
	if recs == nil {
		recs = []models.Recommendation{}
	}
	s.state.Recommendations = recs
	return s.snapshotLocked(false), nil
}

// recommend runs every applicable scenario in parallel. A failed scenario is dropped; the
// others are kept.
func (s *Simulator) recommend(ctx context.Context, base models.SimulationRequest, current *models.SimulationResult) ([]models.Recommendation, error) {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		recs []models.Recommendation
		errs *multierror.Error
	)

	for _, sc := range s.opts.Scenarios {
		overrides, ok := sc.Apply(base.Overrides)
		if !ok {
			continue
		}
		sc := sc
		g.Go(func() error {
			req := base
			req.Overrides = overrides
			res, err := s.client.Simulate(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.SimulationCount.WithLabelValues("scenario", metrics.OutcomeFailure).Inc()
				errs = multierror.Append(errs, err)
				return nil
			}
			metrics.SimulationCount.WithLabelValues("scenario", metrics.OutcomeSuccess).Inc()

			reduction := current.NewRisk - res.NewRisk
			if reduction > s.opts.MinReduction {
				recs = append(recs, models.Recommendation{
					Scenario:      sc.Name,
					Description:   sc.Description,
					Overrides:     overrides,
					NewRisk:       res.NewRisk,
					RiskReduction: reduction,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].RiskReduction > recs[j].RiskReduction
	})
	return recs, errs.ErrorOrNil()
}

// snapshotLocked must be called with mu held.
func (s *Simulator) snapshotLocked(debouncePending bool) State {
	st := s.state
	st.Overrides = s.state.Overrides.Clone()
	st.Recommendations = append([]models.Recommendation{}, s.state.Recommendations...)
	st.Pending = debouncePending || s.inflight > 0
	return st
}
