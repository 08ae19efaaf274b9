package models

// Overrides maps a daily feature (sleep_hours, actual_tss, stress, ...) to its what-if value.
type Overrides map[string]float64

// Clone returns an independent copy of o.
func (o Overrides) Clone() Overrides {
	c := make(Overrides, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// SimulationRequest is the body of POST /analytics/simulate.
type SimulationRequest struct {
	ModelID   string    `json:"model_id"`
	AthleteID string    `json:"athlete_id"`
	Date      string    `json:"date"`
	Overrides Overrides `json:"overrides"`
}

// SimulationResult is the response of POST /analytics/simulate.
type SimulationResult struct {
	OriginalRisk  float64 `json:"original_risk"`
	NewRisk       float64 `json:"new_risk"`
	RiskReduction float64 `json:"risk_reduction"`
}

// Recommendation is a scenario that lowers predicted risk relative to the current inputs.
type Recommendation struct {
	Scenario      string    `json:"scenario"`
	Description   string    `json:"description"`
	Overrides     Overrides `json:"overrides"`
	NewRisk       float64   `json:"new_risk"`
	RiskReduction float64   `json:"risk_reduction"`
}
