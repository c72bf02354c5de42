// Package service implements the standings workflow, eligibility rules and the contact-sync engine.
package service

import (
	"context"
	"log/slog"
	"slices"

	"standings/internal/models"
)

// Outcome is the structured result of a workflow action. Bulk actions return one per id.
type Outcome struct {
	ID        uint   `json:"id"`
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func succeeded(id uint, message string) Outcome {
	return Outcome{ID: id, OK: true, Message: message}
}

// failed builds the outcome for err and returns err unchanged so callers can still map status.
func failed(id uint, err error) (Outcome, error) {
	return Outcome{ID: id, Message: publicMessage(err), ErrorKind: models.ErrorKind(err)}, err
}

// publicMessage hides the details of unexpected errors.
func publicMessage(err error) string {
	if models.IsDomainError(err) {
		return err.Error()
	}
	return "Internal server error"
}

// bulk runs action once per distinct id, in input order. Failures never stop the batch.
func bulk(ctx context.Context, op string, ids []uint, action func(context.Context, uint) (Outcome, error)) []Outcome {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		outcome, err := action(ctx, id)
		if err != nil && !models.IsDomainError(err) {
			slog.ErrorContext(ctx, "bulk action failed", "op", op, "id", id, "err", err)
		}
		out = append(out, outcome)
	}
	return out
}

// CountOK returns how many outcomes succeeded.
func CountOK(outcomes []Outcome) int {
	return len(slices.DeleteFunc(slices.Clone(outcomes), func(o Outcome) bool { return !o.OK }))
}
