// Package orchestrator drives one live interview: it owns the turn-taking
// state machine, gates audio in both directions, and moves the session from
// question to question.
//
// An Orchestrator is not safe for concurrent use. Every method must be called
// from the connection's event loop, and timers re-enter that loop through the
// dispatch function given in Options.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/intervue/internal/clock"
	"github.com/yoockh/intervue/internal/interview/fsm"
	"github.com/yoockh/intervue/internal/logger"
	"github.com/yoockh/intervue/internal/metrics"
	"github.com/yoockh/intervue/internal/models"
	"github.com/yoockh/intervue/internal/utils"
)

type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerAuto    Trigger = "auto"
	TriggerExpired Trigger = "expired"
)

// TransitionResult reports the outcome of TransitionQuestion. When Complete is
// true QuestionIndex is the last question's index and Question is nil.
type TransitionResult struct {
	Complete      bool
	QuestionIndex int
	Question      *models.Question
}

// Store is the subset of the record store the orchestrator reads and writes.
type Store interface {
	FindByID(ctx context.Context, sessionID string) (*models.InterviewSession, error)
	UpdateByID(ctx context.Context, sessionID string, upd models.SessionUpdate) (*models.InterviewSession, error)
}

// Queue accepts background evaluation jobs.
type Queue interface {
	Enqueue(ctx context.Context, job models.EvaluationJob) error
}

// Model redirects the connected speech model to a new question.
type Model interface {
	SendContextUpdate(sessionID string, q *models.Question, profile, assessment string) bool
}

// Notifier receives the client-visible consequences of orchestrator work.
type Notifier interface {
	StateChanged(state fsm.State, c fsm.Context)
	QuestionChanged(index int, q *models.Question)
	InterviewComplete()
}

type Deps struct {
	SessionID string
	Store     Store
	Queue     Queue
	Model     Model
	Notifier  Notifier
}

type Options struct {
	Clock             clock.Clock
	Dispatch          func(func())
	ProcessingTimeout time.Duration
	AutoAdvanceDelay  time.Duration
	StoreTimeout      time.Duration
	Logger            *logrus.Logger
	Metrics           *metrics.Metrics
}

type Orchestrator struct {
	deps Deps
	opts Options
	log  *logrus.Entry

	state         fsm.State
	fctx          fsm.Context
	lastBroadcast fsm.State

	profile    string
	assessment string

	processing    clock.Timer
	processingGen uint64
	autoAdvance   clock.Timer
	autoGen       uint64

	pendingJob *models.EvaluationJob
	stopped    bool
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Dispatch == nil {
		opts.Dispatch = func(f func()) { f() }
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = 5 * time.Second
	}
	if opts.AutoAdvanceDelay <= 0 {
		opts.AutoAdvanceDelay = 10 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	o := &Orchestrator{
		deps:  deps,
		opts:  opts,
		log:   logger.OrDefault(opts.Logger).WithField("session_id", deps.SessionID),
		state: fsm.Idle,
	}
	opts.Metrics.SessionOpened(context.Background())
	return o
}

func (o *Orchestrator) State() fsm.State { return o.state }

func (o *Orchestrator) Context() fsm.Context { return o.fctx }

func (o *Orchestrator) HasUserResponded() bool { return o.fctx.HasUserResponse }

// SetQuestionIndex aligns the in-memory index with the record at connect time.
func (o *Orchestrator) SetQuestionIndex(i int) { o.fctx.QuestionIndex = i }

// SetMemory replaces the free-text context reinjected on question change.
func (o *Orchestrator) SetMemory(profile, assessment string) {
	o.profile, o.assessment = profile, assessment
}

// AcceptUserAudio reports whether a candidate audio frame may be forwarded to
// the model. Rejected frames are counted as dropped.
func (o *Orchestrator) AcceptUserAudio() bool {
	if fsm.AcceptsUserAudio(o.state) {
		return true
	}
	o.drop(metrics.DirectionUser)
	return false
}

// AllowAIOutput reports whether a model audio chunk may be delivered to the
// candidate. Rejected chunks are counted as dropped.
func (o *Orchestrator) AllowAIOutput() bool {
	if fsm.AllowsAIOutput(o.state) {
		return true
	}
	o.drop(metrics.DirectionAI)
	return false
}

func (o *Orchestrator) drop(direction string) {
	o.opts.Metrics.AudioDrop(context.Background(), direction)
	o.log.WithFields(logrus.Fields{"direction": direction, "state": o.state}).Trace("audio dropped")
}

// Dispatch feeds one event to the state machine and performs the resulting
// actions. It reports whether the event was accepted.
func (o *Orchestrator) Dispatch(ev fsm.Event) bool {
	if o.stopped {
		return false
	}
	from := o.state
	next, c, actions, ok := fsm.Transition(o.state, ev, o.fctx)
	if !ok {
		o.log.WithFields(logrus.Fields{"state": from, "event": ev.Type}).Debug("event ignored")
		return false
	}
	o.state, o.fctx = next, c
	if from != next {
		o.opts.Metrics.StateTransition(context.Background(), string(from), string(next))
	}
	for _, a := range actions {
		o.apply(a)
	}
	o.broadcast()
	return true
}

func (o *Orchestrator) broadcast() {
	if o.state == o.lastBroadcast {
		return
	}
	o.lastBroadcast = o.state
	o.log.WithFields(logrus.Fields{
		"state":             o.state,
		"question_index":    o.fctx.QuestionIndex,
		"has_user_response": o.fctx.HasUserResponse,
	}).Info("state changed")
	if o.deps.Notifier != nil {
		o.deps.Notifier.StateChanged(o.state, o.fctx)
	}
}

func (o *Orchestrator) apply(a fsm.Action) {
	switch a {
	case fsm.StartProcessingTimer:
		o.armProcessing()
	case fsm.CancelProcessingTimer:
		o.cancelProcessing()
	case fsm.EnqueueEvaluation:
		o.enqueuePending()
	}
	// Input and output locks are enforced by AcceptUserAudio and AllowAIOutput.
}

func (o *Orchestrator) armProcessing() {
	o.cancelProcessing()
	gen := o.processingGen
	o.processing = o.opts.Clock.AfterFunc(o.opts.ProcessingTimeout, func() {
		o.opts.Dispatch(func() {
			if gen != o.processingGen || o.stopped {
				return
			}
			o.processing = nil
			o.log.Debug("no model response after candidate turn, back to ready")
			o.Dispatch(fsm.Event{Type: fsm.EventProcessingTimeout})
		})
	})
}

func (o *Orchestrator) cancelProcessing() {
	o.processingGen++
	if o.processing != nil {
		o.processing.Stop()
		o.processing = nil
	}
}

func (o *Orchestrator) enqueuePending() {
	job := o.pendingJob
	o.pendingJob = nil
	if job == nil || o.deps.Queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.StoreTimeout)
	defer cancel()
	log := o.log.WithFields(logrus.Fields{"job_id": job.ID, "question_id": job.QuestionID})
	if err := o.deps.Queue.Enqueue(ctx, *job); err != nil {
		o.opts.Metrics.EvaluationJob(ctx, "failed")
		log.WithError(err).Warn("enqueue evaluation failed")
		return
	}
	o.opts.Metrics.EvaluationJob(ctx, "enqueued")
	log.Info("evaluation enqueued")
}

// OnAISpeakingEnded ends the model's turn and arms the auto-advance timer when
// the candidate already answered a question that is not a coding question. It
// does nothing unless the model's turn was still open.
func (o *Orchestrator) OnAISpeakingEnded(ctx context.Context) {
	if !o.Dispatch(fsm.Event{Type: fsm.EventAISpeakingEnded}) {
		return
	}
	if o.stopped || !o.fctx.HasUserResponse {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
	defer cancel()
	sess, err := o.deps.Store.FindByID(ctx, o.deps.SessionID)
	if err != nil {
		o.log.WithError(err).Warn("auto-advance: load session failed")
		return
	}
	if q := sess.CurrentQuestion(); q != nil && q.Type == models.QuestionCoding {
		o.log.Debug("coding question, no auto-advance")
		return
	}
	o.armAutoAdvance()
}

func (o *Orchestrator) armAutoAdvance() {
	o.CancelAutoAdvance()
	gen := o.autoGen
	o.log.WithField("delay", o.opts.AutoAdvanceDelay).Debug("auto-advance armed")
	o.autoAdvance = o.opts.Clock.AfterFunc(o.opts.AutoAdvanceDelay, func() {
		o.opts.Dispatch(func() {
			if gen != o.autoGen || o.stopped {
				return
			}
			o.autoAdvance = nil
			if o.state != fsm.Ready {
				o.log.WithField("state", o.state).Debug("auto-advance skipped")
				return
			}
			if _, err := o.TransitionQuestion(context.Background(), TriggerAuto); err != nil {
				o.log.WithError(err).Warn("auto-advance failed")
			}
		})
	})
}

// CancelAutoAdvance disarms a pending auto-advance. Safe to call when none is
// armed.
func (o *Orchestrator) CancelAutoAdvance() {
	o.autoGen++
	if o.autoAdvance != nil {
		o.autoAdvance.Stop()
		o.autoAdvance = nil
		o.log.Debug("auto-advance cancelled")
	}
}

// AutoAdvancePending reports whether an auto-advance timer is armed.
func (o *Orchestrator) AutoAdvancePending() bool { return o.autoAdvance != nil }

// TransitionQuestion finishes the current question and moves to the next one,
// or completes the interview after the last question. TriggerExpired bypasses
// the has-responded guard.
func (o *Orchestrator) TransitionQuestion(ctx context.Context, trigger Trigger) (TransitionResult, error) {
	const op = "Orchestrator.TransitionQuestion"

	if o.stopped {
		return TransitionResult{}, utils.E(utils.CodeConflict, op, "interview is not running", nil)
	}
	o.CancelAutoAdvance()

	from := o.state
	if !o.Dispatch(fsm.Event{Type: fsm.EventNextQuestion, Forced: trigger == TriggerExpired}) {
		o.opts.Metrics.QuestionTransition(ctx, string(trigger), "rejected")
		if (from == fsm.Ready || from == fsm.Processing) && !o.fctx.HasUserResponse {
			return TransitionResult{}, utils.E(utils.CodeConflict, op, "answer the current question before moving on", nil)
		}
		return TransitionResult{}, utils.E(utils.CodeConflict, op, "cannot change question while "+string(from), nil)
	}

	res, err := o.advance(ctx)
	if err != nil {
		o.Dispatch(fsm.Event{Type: fsm.EventTransitionFailed})
		o.opts.Metrics.QuestionTransition(ctx, string(trigger), "failed")
		o.log.WithError(err).WithField("trigger", trigger).Error("question transition failed")
		return TransitionResult{}, err
	}

	outcome := "advanced"
	if res.Complete {
		outcome = "complete"
	}
	o.opts.Metrics.QuestionTransition(ctx, string(trigger), outcome)
	o.log.WithFields(logrus.Fields{"trigger": trigger, "question_index": res.QuestionIndex, "complete": res.Complete}).
		Info("question transition")
	return res, nil
}

func (o *Orchestrator) advance(ctx context.Context) (TransitionResult, error) {
	const op = "Orchestrator.advance"

	ctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
	defer cancel()

	sess, err := o.deps.Store.FindByID(ctx, o.deps.SessionID)
	if err != nil {
		return TransitionResult{}, err
	}
	idx := sess.CurrentQuestionIndex
	cur := sess.CurrentQuestion()
	if cur == nil {
		return TransitionResult{}, utils.E(utils.CodeNotFound, op, "current question not found", nil)
	}

	o.pendingJob = &models.EvaluationJob{
		ID:         uuid.NewString(),
		SessionID:  o.deps.SessionID,
		QuestionID: cur.ID,
		CreatedAt:  o.opts.Clock.Now().UTC(),
	}
	o.Dispatch(fsm.Event{Type: fsm.EventEvaluationStarted})

	if idx+1 >= len(sess.Questions) {
		o.Dispatch(fsm.Event{Type: fsm.EventInterviewComplete})
		if o.deps.Notifier != nil {
			o.deps.Notifier.InterviewComplete()
		}
		return TransitionResult{Complete: true, QuestionIndex: idx}, nil
	}

	nextIdx := idx + 1
	next := sess.Questions[nextIdx]
	phase := models.PhaseForQuestionType(next.Type)
	if _, err := o.deps.Store.UpdateByID(ctx, o.deps.SessionID, models.SessionUpdate{
		CurrentQuestionIndex: &nextIdx,
		Phase:                &phase,
	}); err != nil {
		return TransitionResult{}, err
	}

	if o.deps.Model != nil && !o.deps.Model.SendContextUpdate(o.deps.SessionID, &next, o.profile, o.assessment) {
		o.log.WithField("question_index", nextIdx).Warn("context update not delivered")
	}

	o.Dispatch(fsm.Event{Type: fsm.EventQuestionChanged, QuestionIndex: nextIdx})
	if o.deps.Notifier != nil {
		o.deps.Notifier.QuestionChanged(nextIdx, &next)
	}
	return TransitionResult{QuestionIndex: nextIdx, Question: &next}, nil
}

// Stop cancels every timer and detaches the orchestrator. Later calls are
// no-ops.
func (o *Orchestrator) Stop() {
	if o.stopped {
		return
	}
	o.CancelAutoAdvance()
	o.cancelProcessing()
	o.stopped = true
	o.opts.Metrics.SessionClosed(context.Background())
	o.log.WithField("state", o.state).Info("orchestrator stopped")
}
