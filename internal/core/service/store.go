package service

import (
	"sync"
	"time"

	"github.com/berfenger/eosconnect/internal/core/domain"
)

// Store is the single guarded home of the control loop state. The cycle,
// the mode controller and the query surfaces all go through its mutex.
type Store struct {
	mu sync.Mutex

	override     domain.OverrideState
	lastDuration time.Duration
	auto         domain.AutoDecision
	hasAuto      bool
	target       domain.EffectiveTarget
	hasTarget    bool
	battery      domain.BatteryState
	cycle        domain.CyclePointer
	schema       domain.SchemaVariant
	backend      string
	telemetry    *domain.DeviceTelemetry
	evCharging   bool

	lastRequest      *domain.OptimizationRequest
	lastResponse     *domain.OptimizationResponse
	previousResponse *domain.OptimizationResponse
}

func NewStore(backend string) *Store {
	return &Store{
		backend:      backend,
		lastDuration: time.Hour,
		cycle:        domain.CyclePointer{State: domain.CycleStateOK},
	}
}

// Snapshot returns a consistent copy of the state.
func (s *Store) Snapshot(now time.Time) domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := domain.Status{
		Target:           s.target,
		HasTarget:        s.hasTarget,
		Override:         s.override,
		OverrideDuration: s.lastDuration,
		Battery:          s.battery,
		Cycle:            s.cycle,
		Schema:           s.schema,
		Backend:          s.backend,
		EVCharging:       s.evCharging,
		LastRequest:      s.lastRequest,
		LastResponse:     s.lastResponse,
		Timestamp:        now,
	}
	if s.telemetry != nil {
		telemetry := *s.telemetry
		status.Telemetry = &telemetry
	}
	return status
}

func (s *Store) LastRequest() *domain.OptimizationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRequest
}

func (s *Store) LastResponse() *domain.OptimizationResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

// LastOverrideDuration is the duration used when a mode is set without one.
func (s *Store) LastOverrideDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDuration
}

func (s *Store) SetLastOverrideDuration(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.lastDuration = d
	}
}

func (s *Store) SetNextRun(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycle.NextRun = t
}

func (s *Store) Cycle() domain.CyclePointer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle
}

func (s *Store) SetTelemetry(t *domain.DeviceTelemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry = t
}

// SetEVCharging stores the EVCC charging flag and reports whether it changed.
func (s *Store) SetEVCharging(charging bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.evCharging != charging
	s.evCharging = charging
	return changed
}

func (s *Store) EVCharging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evCharging
}
