package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/jobwatch/internal/cache"
	"github.com/kiranshivaraju/jobwatch/internal/validation"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

func newValidateCmd(o *rootOptions) *cobra.Command {
	var (
		track     string
		recompute bool
	)

	cmd := &cobra.Command{
		Use:   "validate <dataset-id>",
		Short: "Show validation results for a dataset, running jobs where nothing is cached",
		Long: `Show the validation, methodology_validation and scientific_validation
results for a dataset.

Each track is served from the result memo (Redis when REDIS_URL is set),
then from the backend cache, and only then computed by a new job.
--recompute skips both caches and always runs a job.`,
		Example: `  jobwatch validate ds_2024_01
  jobwatch validate ds_2024_01 --track scientific_validation --recompute`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer o.close()

			tracks, err := selectTracks(track)
			if err != nil {
				return err
			}

			memo, closeMemo, err := o.memoCache(cmd)
			if err != nil {
				return err
			}
			defer closeMemo()

			orch := validation.NewOrchestrator(o.rt.client, o.rt.controller, memo, o.rt.cfg.Validation.MemoTTL, o.rt.log)
			defer orch.Close()
			orch.SelectDataset(args[0])

			ctx := cmd.Context()
			states := make([]validation.TrackState, 0, len(tracks))
			for _, tr := range tracks {
				var st validation.TrackState
				if recompute {
					st, err = orch.Recompute(ctx, tr)
				} else {
					st, err = orch.Load(ctx, tr)
				}
				if err != nil {
					return fmt.Errorf("%s: %w", tr, err)
				}
				if st.Running {
					fmt.Fprintf(cmd.ErrOrStderr(), "No cached %s result, running job %s\n", tr, st.JobID)
				}
				states = append(states, st)
			}

			// Jobs run concurrently on the backend; wait for them in order.
			for i, st := range states {
				if !st.Running {
					continue
				}
				if _, err := o.watchJob(ctx, st.JobID, o.progressWriter(cmd)); err != nil {
					return fmt.Errorf("%s: %w", st.Track, err)
				}
				states[i] = orch.State(st.Track)
			}

			if err := printJSON(cmd.OutOrStdout(), states); err != nil {
				return err
			}
			var failed []string
			for _, st := range states {
				if st.Error != "" {
					failed = append(failed, string(st.Track))
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("validation failed for %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&track, "track", "all", "Track to show: all, validation, methodology_validation or scientific_validation")
	cmd.Flags().BoolVar(&recompute, "recompute", false, "Drop cached results and run new jobs")
	return cmd
}

func selectTracks(name string) ([]models.JobType, error) {
	if name == "" || name == "all" {
		return validation.Tracks, nil
	}
	tr, err := validation.ParseTrack(name)
	if err != nil {
		return nil, err
	}
	return []models.JobType{tr}, nil
}

// memoCache returns the Redis cache when REDIS_URL is set so results are shared with the server.
func (o *rootOptions) memoCache(cmd *cobra.Command) (cache.Cache, func(), error) {
	if o.rt.cfg.Redis.URL == "" {
		return cache.NewMemoryCache(), func() {}, nil
	}
	rc, err := cache.NewRedisCache(o.rt.cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := rc.Ping(cmd.Context()); err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}
