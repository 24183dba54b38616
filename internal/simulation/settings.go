package simulation

import (
	"sync"
	"time"
)

// ObservationMode controls how market observables are refreshed during a
// run.
type ObservationMode int

const (
	// ObservationNone re-evaluates observables on every access.
	ObservationNone ObservationMode = iota
	// ObservationDefer batches observable updates until a run phase ends.
	ObservationDefer
	// ObservationDisable freezes observables for the whole run.
	ObservationDisable
)

// Settings holds process-wide evaluation settings. They are mutable on
// the orchestrating thread only; worker threads must never read them
// directly. Instead the orchestrator takes a Snapshot before spawning
// workers and passes it into each worker explicitly.
type Settings struct {
	mu              sync.RWMutex
	evaluationDate  time.Time
	observationMode ObservationMode
}

var globalSettings = &Settings{}

// GlobalSettings returns the process-wide settings instance.
func GlobalSettings() *Settings { return globalSettings }

// SetEvaluationDate sets the global evaluation date.
func (s *Settings) SetEvaluationDate(d time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluationDate = d
}

// EvaluationDate returns the global evaluation date.
func (s *Settings) EvaluationDate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluationDate
}

// SetObservationMode sets the global observation mode.
func (s *Settings) SetObservationMode(m ObservationMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observationMode = m
}

// ObservationMode returns the global observation mode.
func (s *Settings) ObservationMode() ObservationMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observationMode
}

// SettingsSnapshot is an immutable copy of the settings taken on the
// orchestrating thread and handed to worker threads at spawn time.
type SettingsSnapshot struct {
	EvaluationDate  time.Time
	ObservationMode ObservationMode
}

// Snapshot captures the current settings.
func (s *Settings) Snapshot() SettingsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SettingsSnapshot{
		EvaluationDate:  s.evaluationDate,
		ObservationMode: s.observationMode,
	}
}
