package models

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Dataset is a generated synthetic dataset summary from GET /data/datasets.
type Dataset struct {
	ID         string `json:"id"`
	NAthletes  int    `json:"n_athletes,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
	Simulation int    `json:"simulation_year,omitempty"`
}

// Split is a preprocessed train/test split from GET /preprocessing/splits.
type Split struct {
	ID            string `json:"id"`
	DatasetID     string `json:"dataset_id,omitempty"`
	SplitStrategy string `json:"split_strategy,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// Model is a trained model summary from GET /training/models.
type Model struct {
	ID        string             `json:"id"`
	ModelType string             `json:"model_type,omitempty"`
	SplitID   string             `json:"split_id,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	CreatedAt string             `json:"created_at,omitempty"`
}

// DataGenerationResult is the typed form of a completed data_generation job result.
type DataGenerationResult struct {
	DatasetID string `mapstructure:"dataset_id"`
	NAthletes int    `mapstructure:"n_athletes"`
}

// PreprocessingResult is the typed form of a completed preprocessing job result.
type PreprocessingResult struct {
	SplitID   string `mapstructure:"split_id"`
	DatasetID string `mapstructure:"dataset_id"`
}

// TrainingResult is the typed form of a completed training job result.
type TrainingResult struct {
	Models []struct {
		ID        string `mapstructure:"id"`
		ModelType string `mapstructure:"model_type"`
	} `mapstructure:"models"`
}

// DecodeResult decodes a free-form job result into out. Unknown keys are ignored
// and numeric strings are converted.
func DecodeResult(result map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("building result decoder: %w", err)
	}
	if err := dec.Decode(result); err != nil {
		return fmt.Errorf("decoding job result: %w", err)
	}
	return nil
}
