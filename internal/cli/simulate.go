package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/jobwatch/internal/simulator"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

func newSimulateCmd(o *rootOptions) *cobra.Command {
	var (
		modelID   string
		athleteID string
		date      string
		set       []string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a what-if injury risk simulation",
		Example: `  jobwatch simulate --model m_01 --athlete a_07 --date 2024-03-14 \
      --set sleep_hours=8.5 --set stress=3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer o.close()

			if _, err := time.Parse("2006-01-02", date); err != nil {
				return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
			}
			overrides, err := parseOverrides(set)
			if err != nil {
				return err
			}

			cfg := o.rt.cfg.Simulator
			sim := simulator.New(o.rt.client, simulator.Options{
				Debounce:      cfg.Debounce,
				RiskThreshold: cfg.RiskThreshold,
				MinReduction:  cfg.MinReduction,
			}, o.rt.log)
			defer sim.Close()

			sim.SetContext(modelID, athleteID, date, models.Overrides{})
			if len(overrides) > 0 {
				if err := sim.SetOverrides(overrides); err != nil {
					return err
				}
			}

			state, err := sim.Flush(cmd.Context())
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), state)
		},
	}

	cmd.Flags().StringVar(&modelID, "model", "", "Trained model id")
	cmd.Flags().StringVar(&athleteID, "athlete", "", "Athlete id")
	cmd.Flags().StringVar(&date, "date", "", "Day to simulate (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&set, "set", nil, "Feature override as name=value; repeatable")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("athlete")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
