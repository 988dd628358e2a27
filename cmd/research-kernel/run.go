package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/manthysbr/deep-research/internal/adapters/report"
	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/internal/core/ports"
	"github.com/manthysbr/deep-research/internal/core/services"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		output string
		mode   string
	)
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one research job and save the report as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			researchMode, err := domain.ParseResearchMode(mode)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			k, err := buildApp(ctx, logger, cfg)
			if err != nil {
				return err
			}
			path, err := runOnce(ctx, k, report.NewMarkdownWriter(output), domain.ResearchRequest{Prompt: args[0], Mode: researchMode}, func(line string) {
				fmt.Fprintln(cmd.ErrOrStderr(), line)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved report to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", report.DefaultOutputPath, "report file or directory")
	cmd.Flags().StringVar(&mode, "mode", string(domain.ResearchModeDeep), "research mode: deep or quick")
	return cmd
}

// runOnce submits one job, relays its log until it settles and writes the report.
func runOnce(ctx context.Context, k *app, writer ports.ReportWriter, req domain.ResearchRequest, progress func(string)) (string, error) {
	jobsCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		k.executor.Wait()
	}()
	k.executor.Start(jobsCtx)

	job, err := k.executor.Submit(req)
	if err != nil {
		return "", err
	}
	events, unsub := k.executor.Subscribe(job.ID)
	defer unsub()
	done, err := k.executor.Done(job.ID)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	started := time.Now()
	relayed := 0

wait:
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev := <-events:
			if ev.Type == services.EventTypeLog {
				progress(ev.Data)
				relayed++
			}
		case <-ticker.C:
			progress(fmt.Sprintf("still researching (%s)", time.Since(started).Round(time.Second)))
		case <-done:
			break wait
		}
	}

	final, err := k.executor.Job(job.ID)
	if err != nil {
		return "", err
	}
	// Nothing streamed: the job settled before the subscription existed.
	if relayed == 0 {
		for _, line := range final.Log {
			progress(line)
		}
	}
	if final.Status != domain.JobStatusDone || final.Result == nil {
		reason := "unknown error"
		if final.Error != nil {
			reason = *final.Error
		}
		return "", errors.New("research failed: " + reason)
	}
	return writer.WriteReport(ctx, final.ID, *final.Result)
}
