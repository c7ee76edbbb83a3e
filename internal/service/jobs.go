package service

import (
	"context"
	"fmt"

	"github.com/cliffng14/accountably/internal/scheduler"
)

// Job names shared by the scheduler, the CLI and the HTTP trigger.
const (
	JobIssue             = "issue"
	JobValidate          = "validate"
	JobExpire            = "expire"
	JobExpirePrizeFights = "expire-prizefights"
	JobRemindMorning     = "remind-morning"
	JobRemindEvening     = "remind-evening"
	JobSweepPrompts      = "sweep-prompts"
)

// RegisterJobs adds every batch entry point to reg.
func (e *Engine) RegisterJobs(reg *scheduler.Registry) error {
	jobs := map[string]scheduler.Job{
		JobIssue:             e.IssueChallenges,
		JobValidate:          e.ValidateCompleted,
		JobExpire:            e.ExpireOverdue,
		JobExpirePrizeFights: e.ExpirePrizeFights,
		JobRemindMorning:     e.RemindMorning,
		JobRemindEvening:     e.RemindEvening,
		JobSweepPrompts:      e.SweepPrompts,
	}
	for name, job := range jobs {
		if err := reg.Register(name, e.instrument(name, job)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) instrument(name string, job scheduler.Job) scheduler.Job {
	return func(ctx context.Context) error {
		err := job(ctx)
		e.metrics.JobRun(ctx, name, err)
		return err
	}
}

// SweepPrompts deletes suggestion prompts nobody answered in time.
func (e *Engine) SweepPrompts(ctx context.Context) error {
	n, err := e.repo.DeleteExpiredPrompts(ctx, e.now())
	if err != nil {
		return fmt.Errorf("delete expired prompts: %w", err)
	}
	if n > 0 {
		e.log.Info("Expired prompts removed", "count", n)
	}
	return nil
}
