// Package notify delivers workflow notifications. Delivery is fire-and-forget
// from the engine's point of view: errors are reported to the caller for
// logging and never undo a committed transition.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Notification kinds.
const (
	KindNewAssignment = "new_assignment"
	KindMoved         = "moved"
	KindFinalized     = "finalized"
)

type Notification struct {
	Kind         string   `json:"kind"`
	ProcessID    string   `json:"process_id"`
	ProcessTitle string   `json:"process_title"`
	DepartmentID string   `json:"department_id,omitempty"`
	Recipients   []string `json:"recipients"`
	ActorID      string   `json:"actor_id"`
	Message      string   `json:"message"`
	At           string   `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	Log *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	logger := l.Log
	if logger == nil {
		return nil
	}
	logger.Info("notification",
		zap.String("kind", n.Kind),
		zap.String("process_id", n.ProcessID),
		zap.String("department_id", n.DepartmentID),
		zap.Strings("recipients", n.Recipients),
		zap.String("actor_id", n.ActorID),
		zap.String("message", n.Message),
	)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for i, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Recipients merges id lists, dropping blanks, duplicates and the excluded id.
func Recipients(exclude string, groups ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, g := range groups {
		for _, id := range g {
			if id == "" || id == exclude {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
