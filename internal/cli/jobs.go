package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	var (
		params      []string
		description string
		detach      bool
	)

	cmd := &cobra.Command{
		Use:   "run <type>",
		Short: "Start a pipeline job and follow it until it finishes",
		Example: `  jobwatch run data_generation -p n_athletes=50 -p simulation_year=2024
  jobwatch run training -p split_id=split_01 -p model_type=lightgbm --description nightly`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: jobTypeNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer o.close()

			jobType, err := parseJobType(args[0])
			if err != nil {
				return err
			}
			p, err := parseParams(params)
			if err != nil {
				return err
			}

			id, err := o.rt.controller.Start(cmd.Context(), jobType, description, p)
			if err != nil {
				return fmt.Errorf("starting %s job: %w", jobType, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Started %s job %s\n", jobType, id)

			if detach {
				o.rt.controller.Detach(id)
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}
			return o.follow(cmd, id)
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Job parameter as key=value; values are parsed as JSON when possible")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Human readable description")
	cmd.Flags().BoolVar(&detach, "detach", false, "Print the job id and exit without following the job")
	return cmd
}

func newWatchCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <type> <job-id>",
		Short: "Follow an existing job until it finishes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer o.close()

			jobType, err := parseJobType(args[0])
			if err != nil {
				return err
			}
			if err := o.rt.controller.Track(jobType, args[1], ""); err != nil {
				return err
			}
			return o.follow(cmd, args[1])
		},
	}
}

func newCancelCmd(o *rootOptions) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "cancel <type> <job-id>",
		Short: "Cancel a running job",
		Long: `Ask the backend to cancel a job.

With the reconcile policy (default) jobwatch keeps polling until the
backend confirms a terminal status. With --cancel-policy optimistic the
job is reported cancelled as soon as the request was sent.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer o.close()

			jobType, err := parseJobType(args[0])
			if err != nil {
				return err
			}
			id := args[1]
			if err := o.rt.controller.Track(jobType, id, ""); err != nil {
				return err
			}
			if err := o.rt.controller.Cancel(cmd.Context(), id); err != nil {
				return fmt.Errorf("cancelling %s: %w", id, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Cancel requested for %s job %s\n", jobType, id)

			if noWait {
				o.rt.controller.Detach(id)
				return nil
			}
			return o.follow(cmd, id)
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return right after the cancel request")
	return cmd
}

// follow waits for the job and prints its final state. A failed job is an error.
func (o *rootOptions) follow(cmd *cobra.Command, id string) error {
	job, err := o.watchJob(cmd.Context(), id, o.progressWriter(cmd))
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), job); err != nil {
		return err
	}
	if job.Status == models.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return nil
}

// watchJob draws a progress bar from registry events until the job reaches a terminal state.
func (o *rootOptions) watchJob(ctx context.Context, id string, w io.Writer) (models.Job, error) {
	events, unsubscribe := o.rt.registry.Subscribe(16)
	defer unsubscribe()

	type outcome struct {
		job models.Job
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		job, err := o.rt.controller.Wait(ctx, id)
		done <- outcome{job, err}
	}()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(id),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(w, "\n") }),
	)
	if job, ok := o.rt.registry.Get(id); ok {
		_ = bar.Set(job.Progress)
	}

	for {
		select {
		case ev := <-events:
			if ev.Job.ID != id {
				continue
			}
			_ = bar.Set(ev.Job.Progress)
			if ev.Job.CurrentStep != "" {
				bar.Describe(fmt.Sprintf("%s: %s", id, ev.Job.CurrentStep))
			}
		case res := <-done:
			if res.err != nil {
				return res.job, res.err
			}
			if res.job.Status == models.JobStatusCompleted {
				_ = bar.Set(100)
				_ = bar.Finish()
			} else {
				bar.Describe(fmt.Sprintf("%s: %s", id, res.job.Status))
				_ = bar.Exit()
				fmt.Fprint(w, "\n")
			}
			return res.job, nil
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
