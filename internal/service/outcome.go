package service

import (
	"errors"
	"fmt"

	"github.com/cliffng14/accountably/internal/repository"
)

var (
	ErrNotParticipant    = errors.New("not a participant")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyValidated  = errors.New("already validated")
	ErrNotFound          = repository.ErrNotFound
)

// Kind classifies the result of a user-triggered operation.
type Kind int

const (
	OK Kind = iota
	NotParticipant
	InvalidTransition
	StoreFailure
	Malformed
	NoValidator
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case NotParticipant:
		return "not_participant"
	case InvalidTransition:
		return "invalid_transition"
	case StoreFailure:
		return "store_failure"
	case Malformed:
		return "malformed"
	case NoValidator:
		return "no_validator"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is what public engine operations return instead of an error. Text,
// when set, overrides the default user-facing message for the kind.
type Outcome struct {
	Kind Kind
	Text string
}

func ok(text string) Outcome { return Outcome{Kind: OK, Text: text} }

func fail(kind Kind, text string) Outcome { return Outcome{Kind: kind, Text: text} }

func (o Outcome) OK() bool { return o.Kind == OK || o.Kind == NoValidator }

// Message is the short acknowledgment shown to the user.
func (o Outcome) Message() string {
	if o.Text != "" {
		return o.Text
	}
	switch o.Kind {
	case NotParticipant:
		return "You're not part of this one!"
	case InvalidTransition:
		return "That has already been taken care of."
	case StoreFailure:
		return "❌ Something went wrong. Please try again later."
	case Malformed:
		return "Something went wrong."
	default:
		return ""
	}
}

// classify maps store and transition errors to an outcome. Only store
// failures are worth an error log.
func (e *Engine) classify(err error, op string, kv ...interface{}) Outcome {
	switch {
	case err == nil:
		return ok("")
	case errors.Is(err, ErrNotParticipant):
		return fail(NotParticipant, "")
	case errors.Is(err, ErrAlreadyValidated):
		return fail(InvalidTransition, "This challenge was already validated.")
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, repository.ErrStale),
		errors.Is(err, repository.ErrConflict):
		e.log.Debug("invalid transition", append([]interface{}{"op", op, "error", err}, kv...)...)
		return fail(InvalidTransition, "")
	case errors.Is(err, repository.ErrNotFound):
		return fail(Malformed, "")
	default:
		e.log.Error("store failure", append([]interface{}{"op", op, "error", err}, kv...)...)
		return fail(StoreFailure, "")
	}
}

// BatchError reports the rows a sweep could not process.
type BatchError struct {
	Job    string
	Failed int
	Total  int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s: %d of %d items failed", e.Job, e.Failed, e.Total)
}

func batchResult(job string, failed, total int) error {
	if failed == 0 {
		return nil
	}
	return &BatchError{Job: job, Failed: failed, Total: total}
}
