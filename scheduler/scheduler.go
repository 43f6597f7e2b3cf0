// Package scheduler owns one data source's lifecycle: arming its
// periodic timer, coalescing the various triggers that can kick off a
// fan-out, and guaranteeing single-flight execution — a source never
// runs two fan-outs concurrently with itself.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/nodefleet/dsengine/datasource"
	"github.com/nodefleet/dsengine/logging"
	"github.com/robfig/cron/v3"
)

// State is the scheduler's lifecycle state.
type State int32

const (
	// Idle: not armed, no timer pending, no run in flight.
	Idle State = iota
	// Armed: a periodic timer is pending (if the source is scheduled).
	Armed
	// Running: a fan-out is currently executing.
	Running
)

// RunFunc executes one fan-out and reports which nodes were updated.
type RunFunc func(ctx context.Context, ds datasource.DataSource, work datasource.PartialNodeUpdate) (map[string]bool, error)

// WorkProvider resolves the node set a trigger applies to. An empty
// nodeID means "all nodes the source governs"; a non-empty nodeID
// scopes the run to that single node (OnNewNode, operator
// refresh-for-node).
type WorkProvider interface {
	Work(ctx context.Context, sourceID, nodeID string) (datasource.PartialNodeUpdate, error)
}

// Scheduler is one data source's state machine.
type Scheduler struct {
	ds     datasource.DataSource
	run    RunFunc
	work   WorkProvider
	logger logging.Logger

	mu        sync.Mutex
	state     State
	timer     *time.Timer
	cancelRun context.CancelFunc
	schedule  cron.Schedule

	// pending/pendingAction record a reset-kind trigger that arrived
	// while a run was already in flight. A fire-and-forget trigger
	// arriving during Running is simply dropped; a reset-kind trigger
	// instead queues exactly one follow-up run so the reset it asked
	// for isn't lost.
	pending       bool
	pendingAction string
}

// New builds a Scheduler for ds. It starts Idle; call Arm to enter
// Armed and start its periodic timer, if any.
func New(ds datasource.DataSource, run RunFunc, work WorkProvider, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	s := &Scheduler{ds: ds, run: run, work: work, logger: logger, state: Idle}
	if ds.RunParam.Schedule.Scheduled && ds.RunParam.Schedule.Period > 0 {
		s.schedule = cron.Every(ds.RunParam.Schedule.Period)
	}
	return s
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Arm transitions Idle -> Armed and starts the periodic timer, if the
// source is scheduled. Arming an already-armed or running scheduler is
// a no-op.
func (s *Scheduler) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return
	}
	s.state = Armed
	s.armTimerLocked()
}

// armTimerLocked must be called with s.mu held. It (re)starts the
// periodic timer using the next fire time computed by the cron
// schedule built from Every(period). cron.Every rounds the period down
// to whole seconds (with a one-second minimum) and Next aligns the fire
// time to a second boundary, so the first delay after arming lies
// between period-1s and period.
func (s *Scheduler) armTimerLocked() {
	if s.schedule == nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	now := time.Now()
	delay := s.schedule.Next(now).Sub(now)
	s.timer = time.AfterFunc(delay, s.onPeriodicTick)
}

func (s *Scheduler) onPeriodicTick() {
	s.doActionAndSchedule(context.Background(), "", "periodic")
}

// OnGenerationStarted runs the source's fan-out if it opted into
// generation-start triggers, resetting the periodic timer like the
// timer firing on its own would.
func (s *Scheduler) OnGenerationStarted(ctx context.Context) {
	if !s.ds.RunParam.OnGeneration {
		return
	}
	s.doActionAndSchedule(ctx, "", "generationStarted")
}

// RefreshAll runs the source's fan-out for every node it governs,
// resetting the periodic timer, as an operator-initiated
// refresh-all-sources request does.
func (s *Scheduler) RefreshAll(ctx context.Context) {
	s.doActionAndSchedule(ctx, "", "refreshAll")
}

// OnNewNode runs the source's fan-out scoped to one freshly-arrived
// node, if the source opted into new-node triggers. It does not reset
// the periodic timer.
func (s *Scheduler) OnNewNode(ctx context.Context, nodeID string) {
	if !s.ds.RunParam.OnNewNode {
		return
	}
	s.runScopedNoRearm(ctx, nodeID, "newNode")
}

// RefreshNode runs the source's fan-out scoped to one node, as an
// operator-initiated refresh-node request does. It does not reset the
// periodic timer.
func (s *Scheduler) RefreshNode(ctx context.Context, nodeID string) {
	s.runScopedNoRearm(ctx, nodeID, "refreshNode")
}

// doActionAndSchedule runs the source's fan-out (all nodes when
// nodeID is empty) and, on completion, re-arms the periodic timer. It
// is a reset-kind trigger: if a run is already in flight, this trigger
// is coalesced into exactly one follow-up run performed immediately
// after the in-flight run finishes, rather than dropped.
func (s *Scheduler) doActionAndSchedule(ctx context.Context, nodeID, action string) {
	s.runLoop(nodeID, action, true)
}

// runScopedNoRearm runs a single-node fan-out without disturbing the
// periodic timer's schedule. It is a fire-and-forget trigger: if a run
// is already in flight, this trigger is simply dropped.
func (s *Scheduler) runScopedNoRearm(ctx context.Context, nodeID, action string) {
	s.runLoop(nodeID, action, false)
}

// runLoop drives one run to completion and then, if a reset-kind
// trigger arrived while it was running, immediately performs exactly
// one coalesced follow-up run (which always re-arms on completion,
// since only reset-kind triggers ever set pending).
func (s *Scheduler) runLoop(nodeID, action string, rearm bool) {
	runCtx, ok := s.beginRun(rearm, action)
	if !ok {
		return
	}
	for {
		s.execute(runCtx, nodeID, action)

		nextCtx, again, nextAction := s.endRun(rearm)
		if !again {
			return
		}
		runCtx, nodeID, action, rearm = nextCtx, "", nextAction, true
	}
}

// beginRun moves the scheduler to Running from any other state (Armed,
// or Idle when it was never armed or was cancelled). A reset-kind
// trigger (coalesce == true) stops the pending periodic timer; a
// fire-and-forget trigger leaves it running. If a run is already in
// flight, a reset-kind trigger queues itself as the pending follow-up
// instead of starting a second concurrent run; a fire-and-forget
// trigger is dropped outright.
func (s *Scheduler) beginRun(coalesce bool, action string) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		if coalesce {
			s.pending = true
			s.pendingAction = action
		}
		return nil, false
	}
	if coalesce && s.timer != nil {
		s.timer.Stop()
	}
	s.state = Running
	s.pending = false
	s.pendingAction = ""
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel
	return runCtx, true
}

// execute resolves the trigger's work and runs the fan-out, emitting
// one summary log line with the source id/name, the action that
// triggered the run, and its elapsed time, whether it succeeded or
// failed.
func (s *Scheduler) execute(ctx context.Context, nodeID, action string) {
	start := time.Now()

	work, err := s.work.Work(ctx, s.ds.ID, nodeID)
	if err == nil {
		_, err = s.run(ctx, s.ds, work)
	}

	fields := map[string]interface{}{
		"source_id":   s.ds.ID,
		"source_name": s.ds.Name,
		"action":      action,
		"elapsed_ms":  time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger.Info("scheduler: fan-out run completed", fields)
}

// endRun completes the current run. If a reset-kind trigger queued a
// follow-up while this run was executing, it starts that follow-up
// immediately (staying Running) and returns its context, action, and
// true; otherwise it returns to Armed, re-arming the periodic timer
// when rearm is set.
func (s *Scheduler) endRun(rearm bool) (context.Context, bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRun = nil
	if s.state != Running {
		// Cancel() already moved us to Idle while the run was in flight.
		return nil, false, ""
	}

	if s.pending {
		if s.timer != nil {
			s.timer.Stop()
		}
		action := s.pendingAction
		s.pending = false
		s.pendingAction = ""
		runCtx, cancel := context.WithCancel(context.Background())
		s.cancelRun = cancel
		return runCtx, true, action
	}

	s.state = Armed
	if rearm {
		s.armTimerLocked()
	}
	return nil, false, ""
}

// Cancel transitions the scheduler to Idle, stopping any pending timer
// and cancelling a run currently in flight. A cancelled run's partial
// writes already committed stand; Cancel only stops further progress.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.pending = false
	s.pendingAction = ""
	s.state = Idle
}
