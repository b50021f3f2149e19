// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"context"
	"log/slog"

	"github.com/flowcore/runtime/internal/store"
	"github.com/flowcore/runtime/internal/telemetry"
	"github.com/flowcore/runtime/pkg/ids"
	"github.com/flowcore/runtime/pkg/value"
)

// pollLoop is the worker's main poll loop (spec.md §4.8 item 3): every
// PollInterval, while the pool has capacity, it resolves the current
// handleable name set, claims one task per free slot, and submits each
// claimed task for execution. It returns when ctx is cancelled.
func (w *Worker) pollLoop(ctx context.Context) {
	g, gctx := w.newSlotGroup(ctx)

	for {
		if err := w.limiter.Wait(ctx); err != nil {
			break // ctx cancelled
		}
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return
		default:
		}

		names, err := w.handlers(ctx)
		if err != nil {
			w.logger.Warn("scheduler: failed to resolve handleable names", slog.Any("error", err))
			continue
		}
		if len(names) == 0 {
			continue
		}

		// Claim until the queue is empty or the pool is saturated;
		// claim_task never blocks (spec.md §4.6), so an empty-queue
		// return just ends this poll's claim burst.
		for {
			task, err := w.store.ClaimTask(ctx, names, w.cfg.TaskList, string(w.id))
			if err != nil {
				w.logger.Warn("scheduler: claim_task failed", slog.Any("error", err))
				break
			}
			if task == nil {
				break
			}
			t := task
			g.Go(func() error {
				w.runSlot(gctx, t)
				return nil
			})
		}
	}
	_ = g.Wait()
}

// runSlot executes one claimed task (spec.md §4.8 item 4): dispatch
// the handler, then feed the result back through continue_step/resume
// on success or fail_step on failure.
func (w *Worker) runSlot(ctx context.Context, task *store.Task) {
	log := w.logger.With(slog.String("task_id", string(task.ID)), slog.String("facet", task.Name), slog.String("step_id", string(task.StepID)))

	out, err := w.disp.Dispatch(ctx, task.Name, task.Data)
	if err != nil {
		w.failTask(ctx, task, err)
		log.Warn("scheduler: handler failed", slog.Any("error", err))
		return
	}

	if err := w.completeTask(ctx, task, out); err != nil {
		w.failTask(ctx, task, err)
		log.Warn("scheduler: post-handler resume failed", slog.Any("error", err))
		return
	}
	log.Info("scheduler: task completed")
}

func (w *Worker) completeTask(ctx context.Context, task *store.Task, result value.Map) error {
	if err := w.eval.ContinueStep(ctx, task.StepID, result); err != nil {
		return err
	}

	task.State = store.TaskCompleted
	task.RunnerID = string(w.id)
	if err := w.store.SaveTask(ctx, task); err != nil {
		return err
	}
	w.sink.RecordTransition(telemetry.Transition{
		WorkflowID: task.WorkflowID,
		StepID:     string(task.StepID),
		ObjectType: "task",
		ToState:    string(store.TaskCompleted),
	})

	w.resume(ctx, task.WorkflowID)
	return nil
}

func (w *Worker) failTask(ctx context.Context, task *store.Task, cause error) {
	message := cause.Error()
	if err := w.eval.FailStep(ctx, task.StepID, message); err != nil {
		w.logger.Error("scheduler: fail_step failed", slog.String("task_id", string(task.ID)), slog.Any("error", err))
	}

	task.State = store.TaskFailed
	task.Error = message
	task.RunnerID = string(w.id)
	if err := w.store.SaveTask(ctx, task); err != nil {
		w.logger.Error("scheduler: failed to persist task failure", slog.String("task_id", string(task.ID)), slog.Any("error", err))
	}
	w.sink.RecordTransition(telemetry.Transition{
		WorkflowID: task.WorkflowID,
		StepID:     string(task.StepID),
		ObjectType: "task",
		ToState:    string(store.TaskFailed),
	})

	w.resume(ctx, task.WorkflowID)
}

// resume drives the paused workflow back through the evaluator, under
// the per-workflow non-blocking resume lock (spec.md §4.8, §5, §9): if
// another goroutine already holds the lock for this workflow, this
// call is skipped entirely — the holder will observe the new step's
// completed state on its own next iteration, so no work is lost.
func (w *Worker) resume(ctx context.Context, wfID ids.WorkflowID) {
	if !w.locks.tryLock(wfID) {
		w.logger.Debug("scheduler: resume skipped, workflow already being driven", slog.String("workflow_id", string(wfID)))
		return
	}
	defer w.locks.unlock(wfID)

	program, err := w.programFor(ctx, wfID)
	if err != nil {
		w.logger.Error("scheduler: could not load program for resume", slog.String("workflow_id", string(wfID)), slog.Any("error", err))
		return
	}

	if _, err := w.eval.Resume(ctx, wfID, program); err != nil {
		w.logger.Error("scheduler: resume failed", slog.String("workflow_id", string(wfID)), slog.Any("error", err))
	}
}
