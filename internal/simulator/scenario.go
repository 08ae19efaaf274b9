package simulator

import (
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// Scenario is a canned intervention tried when the simulated risk is high.
type Scenario struct {
	Name        string
	Description string
	// Apply derives the scenario's overrides from the current ones. It reports false when the
	// inputs it needs are missing.
	Apply func(current models.Overrides) (models.Overrides, bool)
}

// DefaultScenarios are the interventions offered as recommendations.
var DefaultScenarios = []Scenario{
	{
		Name:        "extra_sleep",
		Description: "Sleep two more hours",
		Apply:       adjust("sleep_hours", func(v float64) float64 { return v + 2 }),
	},
	{
		Name:        "reduced_intensity",
		Description: "Reduce training load by 20%",
		Apply:       adjust("actual_tss", func(v float64) float64 { return v * 0.8 }),
	},
	{
		Name:        "full_rest",
		Description: "Take a full rest day",
		Apply: func(current models.Overrides) (models.Overrides, bool) {
			o := current.Clone()
			o["actual_tss"] = 0
			return o, true
		},
	},
	{
		Name:        "reduced_stress",
		Description: "Lower stress by 30%",
		Apply:       adjust("stress", func(v float64) float64 { return v * 0.7 }),
	},
}

func adjust(key string, fn func(float64) float64) func(models.Overrides) (models.Overrides, bool) {
	return func(current models.Overrides) (models.Overrides, bool) {
		v, ok := current[key]
		if !ok {
			return nil, false
		}
		o := current.Clone()
		o[key] = fn(v)
		return o, true
	}
}
