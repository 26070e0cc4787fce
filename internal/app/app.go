package app

import (
	"context"
	"fmt"

	"pqsession/internal/communication"
	"pqsession/internal/dispatcher"
	"pqsession/internal/domain"
	"pqsession/internal/executor"
	"pqsession/internal/identityresolver"
	"pqsession/internal/localdelegate"
	"pqsession/internal/queue"
	"pqsession/internal/ratchetdriver"
)

// App gathers the running engine a cmd/sessionctl command drives: the job
// queue commands feed, plus the collaborators commands query directly
// (identity resolution for "identities", the store for "register", ...).
type App struct {
	Store     domain.SessionStore
	Transport domain.SessionTransport

	DatabaseKey []byte
	Me          domain.SessionUser

	Executor   *executor.Executor
	Queue      *queue.Processor
	Resolver   *identityresolver.Resolver
	Driver     *ratchetdriver.Driver
	Dispatcher *dispatcher.Dispatcher
	Comms      *communication.Bookkeeper
	Delegate   *localdelegate.Delegate
}

// Close stops the job queue and the executor behind it, in that order so
// no in-flight job is dropped mid-run.
func (a *App) Close() {
	a.Queue.Cancel()
	a.Executor.Close()
}

// Start loads persisted jobs into the queue and kicks off draining it.
func (a *App) Start(ctx context.Context) error {
	if err := a.Queue.LoadTasks(ctx); err != nil {
		return fmt.Errorf("app: load tasks: %w", err)
	}
	return nil
}
