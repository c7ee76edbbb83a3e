package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cliffng14/accountably/internal/models"
	"github.com/cliffng14/accountably/internal/repository"
)

// ExpireOverdue fails every accepted response whose challenge is past due,
// tells each group, and sends the admin a count. Rows already moved on by a
// concurrent action are skipped.
func (e *Engine) ExpireOverdue(ctx context.Context) error {
	overdue, err := e.repo.ListExpiredPending(ctx, e.now())
	if err != nil {
		return fmt.Errorf("list overdue responses: %w", err)
	}
	if len(overdue) == 0 {
		e.alertAdmin(ctx, "No expiring challenges found, everyone completed their challenges today! 🎉")
		return nil
	}

	var expired, failed int
	for _, detail := range overdue {
		_, err := e.repo.MutateResponse(ctx, repository.ResponseSelector{ID: detail.ID},
			func(cur *models.ChallengeResponse) (map[string]interface{}, error) {
				if cur.Status != models.ResponsePending {
					return nil, fmt.Errorf("%w: expire from %s", ErrInvalidTransition, cur.Status)
				}
				return map[string]interface{}{"status": models.ResponseFailed}, nil
			})
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, repository.ErrStale) {
			continue
		}
		if err != nil {
			failed++
			e.log.Error("Expire response failed", "response_id", detail.ID, "error", err)
			continue
		}
		expired++
		e.metrics.ResponseTransition(ctx, string(models.ResponseFailed))

		if _, err := e.send(ctx, detail.GroupID, fmt.Sprintf(
			"%s failed to complete challenge <b>%s</b> on time. Try again tomorrow! 💪",
			esc(detail.UserName), esc(detail.Description),
		)); err != nil {
			failed++
		}
	}

	e.alertAdmin(ctx, fmt.Sprintf("%d challenges were marked as failed today.", expired))
	e.log.Info("Expire sweep finished", "expired", expired, "failed", failed)
	return batchResult(JobExpire, failed, len(overdue))
}
