package domain

import "time"

// Variation is one arm of an experiment. Index 0 is the baseline/control.
type Variation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}

// ExperimentPhase describes one traffic-allocation period of an experiment.
type ExperimentPhase struct {
	DateStarted      time.Time  `json:"dateStarted"`
	DateEnded        *time.Time `json:"dateEnded,omitempty"`
	VariationWeights []float64  `json:"variationWeights"`
}

// Experiment is the configuration an analysis runs against. Only the fields
// the query-orchestration pipeline needs are modeled here.
type Experiment struct {
	ID              string
	Organization    string
	Datasource      string
	TrackingKey     string
	Name            string
	Variations      []Variation
	Phases          []ExperimentPhase
	Metrics         []string
	AutoRefresh     bool
	RefreshSchedule string // cron expression, empty when AutoRefresh is false
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Phase returns the phase at the given index.
func (e *Experiment) Phase(index int) (*ExperimentPhase, error) {
	if index < 0 || index >= len(e.Phases) {
		return nil, ErrValidation("experiment %q has no phase %d", e.ID, index)
	}
	return &e.Phases[index], nil
}
