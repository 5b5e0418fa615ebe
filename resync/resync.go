// Package resync runs named tasks when the connectivity-restored signal fires.
package resync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// BackgroundSync is the trigger fired when connectivity is restored.
const BackgroundSync = "background-sync"

var ErrUnknownTrigger = errors.New("unknown sync trigger")

type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Runner maps trigger names to tasks.
type Runner struct {
	mu    sync.RWMutex
	tasks map[string]Task
	log   zerolog.Logger
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{tasks: make(map[string]Task), log: log}
}

// Register binds a task to a trigger, replacing any task bound before.
func (r *Runner) Register(name string, task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = task
}

// Triggers returns the registered trigger names in order.
func (r *Runner) Triggers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Trigger runs the task bound to name. Task failures and panics are logged
// and never returned: the trigger is retried by whoever fires it.
// The only error is ErrUnknownTrigger.
func (r *Runner) Trigger(ctx context.Context, name string) error {
	r.mu.RLock()
	task, ok := r.tasks[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, name)
	}

	log := r.log.With().Str("trigger", name).Logger()
	if err := run(ctx, task); err != nil {
		log.Warn().Err(err).Msg("Sync task failed")
		return nil
	}
	log.Debug().Msg("Sync task completed")
	return nil
}

func run(ctx context.Context, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sync task panic: %v", p)
		}
	}()
	return task.Run(ctx)
}
