// Package rally implements the orchestration engine: a bounded sequence of
// reviewer/reviewee rounds over a single pull request, driven through agent
// adapters and reported as an ordered event stream.
package rally

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/volleyhq/rally/internal/core"
	"github.com/volleyhq/rally/internal/prompt"
)

const (
	DefaultMaxRounds   = 3
	DefaultCallTimeout = 10 * time.Minute
	defaultEventBuffer = 256
)

// Options tune a single rally. The zero value gets sensible defaults.
type Options struct {
	// MaxRounds caps full reviewer/reviewee rounds.
	MaxRounds int

	// CallTimeout bounds every individual adapter call. Expiry is an agent
	// failure and fails the rally.
	CallTimeout time.Duration

	// EventBuffer sizes the event stream before back-pressure starts
	// dropping informational events.
	EventBuffer int

	// CustomInstructions are repository-specific lines appended to both
	// agents' opening prompts.
	CustomInstructions []string
}

func (o Options) withDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	return o
}

// decision is an inbound resolution for an outstanding permission or
// clarification request.
type decision struct {
	kind      core.EventKind
	requestID string
	granted   bool
	answer    string
}

// Orchestrator owns one rally: the round counter, the event stream, and
// the pair of agent sessions. It is not reusable; build a new one per
// rally.
type Orchestrator struct {
	reviewer core.AgentAdapter
	reviewee core.AgentAdapter
	rc       *core.ReviewContext
	prompts  *prompt.Manager
	logger   *slog.Logger
	opts     Options

	sink      *core.EventSink
	decisions chan decision
}

// New wires both adapters to a fresh event stream and returns an
// orchestrator ready to Run. Binding the sink before any session starts is
// what guarantees no early activity is lost.
func New(reviewer, reviewee core.AgentAdapter, rc *core.ReviewContext, prompts *prompt.Manager, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()

	o := &Orchestrator{
		reviewer:  reviewer,
		reviewee:  reviewee,
		rc:        rc,
		prompts:   prompts,
		logger:    logger,
		opts:      opts,
		sink:      core.NewEventSink(opts.EventBuffer),
		decisions: make(chan decision, 8),
	}
	reviewer.BindEventSink(o.sink)
	reviewee.BindEventSink(o.sink)
	return o
}

// Events returns the rally's ordered event stream. It is closed once the
// terminal event has been published.
func (o *Orchestrator) Events() <-chan core.RallyEvent {
	return o.sink.Events()
}

// ResolvePermission records the permission authority's decision for an
// outstanding request. Decisions that match no outstanding request are
// ignored.
func (o *Orchestrator) ResolvePermission(requestID string, granted bool) {
	o.offer(decision{kind: core.EventPermissionRequested, requestID: requestID, granted: granted})
}

// AnswerClarification supplies the answer to an outstanding clarification
// question. Answers that match no outstanding request are ignored.
func (o *Orchestrator) AnswerClarification(requestID, answer string) {
	o.offer(decision{kind: core.EventClarificationRequested, requestID: requestID, answer: answer})
}

func (o *Orchestrator) offer(d decision) {
	select {
	case o.decisions <- d:
	default:
		o.logger.Warn("discarding decision, no capacity for it", "request_id", d.requestID)
	}
}

// Run drives the rally to its terminal outcome. It blocks until the
// reviewer approves, the round limit is exhausted, the rally fails, or ctx
// is canceled. The returned error is nil for approved and exhausted
// rallies.
func (o *Orchestrator) Run(ctx context.Context) (*core.RallyResult, error) {
	defer o.sink.Close()

	o.logger.Info("rally started",
		"repo", o.rc.RepoFullName,
		"pr", o.rc.PRNumber,
		"reviewer", o.reviewer.Identify(),
		"reviewee", o.reviewee.Identify(),
		"max_rounds", o.opts.MaxRounds,
	)

	var (
		lastReview   *core.ReviewerOutput
		lastReviewee *core.RevieweeOutput
	)

	for round := 1; ; round++ {
		o.sink.Publish(core.RallyEvent{Kind: core.EventRoundStarted, Round: round})

		review, err := o.reviewerTurn(ctx, round, lastReviewee)
		if err != nil {
			return o.finish(ctx, round, lastReview, err)
		}
		lastReview = review
		o.sink.Publish(core.RallyEvent{
			Kind:     core.EventReviewerResult,
			Round:    round,
			Agent:    o.reviewer.Identify(),
			Reviewer: review,
		})

		if review.Action == core.ActionApprove {
			o.logger.Info("reviewer approved", "round", round)
			return o.complete(core.OutcomeApproved, round, review)
		}

		reviewee, err := o.revieweeTurn(ctx, round, review, lastReviewee != nil)
		if err != nil {
			return o.finish(ctx, round, lastReview, err)
		}
		lastReviewee = reviewee

		if round >= o.opts.MaxRounds {
			o.logger.Info("round limit reached without approval", "rounds", round)
			return o.complete(core.OutcomeExhausted, round, review)
		}
	}
}

// reviewerTurn produces the reviewer's verdict for a round: a fresh session
// on round one, a resumed one with the reviewee's report afterwards.
func (o *Orchestrator) reviewerTurn(ctx context.Context, round int, lastReviewee *core.RevieweeOutput) (*core.ReviewerOutput, error) {
	variant := prompt.AgentVariant(o.reviewer.Identify())

	if round == 1 {
		p, err := o.prompts.Render(prompt.ReviewerOpening, variant, prompt.ReviewerOpeningData{
			Title:              o.rc.Title,
			Body:               o.rc.Body,
			Diff:               o.rc.Diff,
			ExternalComments:   o.rc.ExternalComments,
			CustomInstructions: o.opts.CustomInstructions,
			MaxRounds:          o.opts.MaxRounds,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render reviewer prompt: %w", err)
		}
		callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		defer cancel()
		return o.reviewer.RunReviewer(callCtx, p, o.rc)
	}

	p, err := o.prompts.Render(prompt.ReviewerRevision, variant, prompt.ReviewerRevisionData{
		Round:         round,
		Summary:       lastReviewee.Summary,
		ModifiedFiles: lastReviewee.ModifiedFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render reviewer prompt: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()
	return o.reviewer.ContinueReviewer(callCtx, p)
}

// revieweeTurn has the reviewee address a verdict, looping through any
// clarification or permission exchanges until the reviewee completes or
// errors. These exchanges pause the rally but never consume rounds.
func (o *Orchestrator) revieweeTurn(ctx context.Context, round int, review *core.ReviewerOutput, started bool) (*core.RevieweeOutput, error) {
	variant := prompt.AgentVariant(o.reviewee.Identify())

	var (
		out *core.RevieweeOutput
		err error
	)
	if !started {
		var p string
		p, err = o.prompts.Render(prompt.RevieweeOpening, variant, prompt.RevieweeOpeningData{
			Title:              o.rc.Title,
			Summary:            review.Summary,
			Comments:           review.Comments,
			BlockingIssues:     review.BlockingIssues,
			CustomInstructions: o.opts.CustomInstructions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render reviewee prompt: %w", err)
		}
		out, err = o.runReviewee(ctx, p)
	} else {
		var p string
		p, err = o.prompts.Render(prompt.RevieweeRound, variant, prompt.RevieweeRoundData{
			Round:          round,
			Summary:        review.Summary,
			Comments:       review.Comments,
			BlockingIssues: review.BlockingIssues,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render reviewee prompt: %w", err)
		}
		out, err = o.continueReviewee(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	o.emitReviewee(round, out)

	for {
		switch out.Status {
		case core.StatusCompleted:
			return out, nil

		case core.StatusNeedsClarification:
			out, err = o.clarify(ctx, round, out)

		case core.StatusNeedsPermission:
			out, err = o.negotiatePermission(ctx, round, out)

		case core.StatusError:
			return nil, fmt.Errorf("reviewee %s could not proceed: %s", o.reviewee.Identify(), out.ErrorDetails)
		}
		if err != nil {
			return nil, err
		}
		o.emitReviewee(round, out)
	}
}

// clarify surfaces the reviewee's question, waits for an answer, and
// resumes the session with it.
func (o *Orchestrator) clarify(ctx context.Context, round int, out *core.RevieweeOutput) (*core.RevieweeOutput, error) {
	requestID := uuid.NewString()
	o.sink.Publish(core.RallyEvent{
		Kind:      core.EventClarificationRequested,
		Round:     round,
		Agent:     o.reviewee.Identify(),
		RequestID: requestID,
		Question:  out.Question,
	})
	o.logger.Info("reviewee asked for clarification", "round", round, "request_id", requestID)

	d, err := o.awaitDecision(ctx, requestID, core.EventClarificationRequested)
	if err != nil {
		return nil, err
	}

	p, err := o.prompts.Render(prompt.RevieweeAnswer, prompt.AgentVariant(o.reviewee.Identify()), prompt.AnswerData{
		Question: out.Question,
		Answer:   d.answer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render answer prompt: %w", err)
	}
	return o.continueReviewee(ctx, p)
}

// negotiatePermission surfaces the reviewee's permission request, waits for
// the authority's decision, applies a grant to the adapter, and resumes the
// session with the outcome.
func (o *Orchestrator) negotiatePermission(ctx context.Context, round int, out *core.RevieweeOutput) (*core.RevieweeOutput, error) {
	requestID := uuid.NewString()
	perm := out.Permission
	o.sink.Publish(core.RallyEvent{
		Kind:       core.EventPermissionRequested,
		Round:      round,
		Agent:      o.reviewee.Identify(),
		RequestID:  requestID,
		Permission: perm,
	})
	o.logger.Info("reviewee requested permission", "round", round, "action", perm.Action, "request_id", requestID)

	d, err := o.awaitDecision(ctx, requestID, core.EventPermissionRequested)
	if err != nil {
		return nil, err
	}

	o.sink.Publish(core.RallyEvent{
		Kind:       core.EventPermissionResolved,
		Round:      round,
		Agent:      o.reviewee.Identify(),
		RequestID:  requestID,
		Permission: perm,
		Granted:    d.granted,
	})

	variant := prompt.AgentVariant(o.reviewee.Identify())
	var p string
	if d.granted {
		o.reviewee.GrantRevieweeTool(perm.Action)
		p, err = o.prompts.Render(prompt.RevieweeGranted, variant, prompt.PermissionData{Action: perm.Action})
	} else {
		p, err = o.prompts.Render(prompt.RevieweeDenied, variant, prompt.PermissionData{Action: perm.Action, Reason: perm.Reason})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render permission prompt: %w", err)
	}
	return o.continueReviewee(ctx, p)
}

// awaitDecision blocks until the matching resolution arrives or ctx ends.
// Resolutions keyed to anything other than the outstanding request are
// logged and ignored.
func (o *Orchestrator) awaitDecision(ctx context.Context, requestID string, kind core.EventKind) (decision, error) {
	for {
		select {
		case <-ctx.Done():
			return decision{}, ctx.Err()
		case d := <-o.decisions:
			if d.requestID != requestID || d.kind != kind {
				o.logger.Warn("ignoring resolution for unknown request", "request_id", d.requestID)
				continue
			}
			return d, nil
		}
	}
}

func (o *Orchestrator) runReviewee(ctx context.Context, p string) (*core.RevieweeOutput, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()
	return o.reviewee.RunReviewee(callCtx, p, o.rc)
}

func (o *Orchestrator) continueReviewee(ctx context.Context, p string) (*core.RevieweeOutput, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()
	return o.reviewee.ContinueReviewee(callCtx, p)
}

func (o *Orchestrator) emitReviewee(round int, out *core.RevieweeOutput) {
	o.sink.Publish(core.RallyEvent{
		Kind:     core.EventRevieweeResult,
		Round:    round,
		Agent:    o.reviewee.Identify(),
		Reviewee: out,
	})
}

// complete publishes the terminal event for an approved or exhausted rally.
func (o *Orchestrator) complete(outcome core.Outcome, rounds int, review *core.ReviewerOutput) (*core.RallyResult, error) {
	o.sink.PublishTerminal(core.RallyEvent{
		Kind:     core.EventRallyCompleted,
		Round:    rounds,
		Outcome:  outcome,
		Reviewer: review,
	})
	return &core.RallyResult{Outcome: outcome, Rounds: rounds, Review: review}, nil
}

// finish classifies a mid-rally error: cooperative cancellation gets its
// own terminal event, everything else fails the rally.
func (o *Orchestrator) finish(ctx context.Context, round int, lastReview *core.ReviewerOutput, err error) (*core.RallyResult, error) {
	if ctx.Err() != nil {
		o.logger.Info("rally canceled", "round", round)
		o.sink.PublishTerminal(core.RallyEvent{
			Kind:    core.EventRallyCanceled,
			Round:   round,
			Outcome: core.OutcomeCanceled,
		})
		return &core.RallyResult{Outcome: core.OutcomeCanceled, Rounds: round, Review: lastReview}, ctx.Err()
	}

	o.logger.Error("rally failed", "round", round, "error", err)
	o.sink.PublishTerminal(core.RallyEvent{
		Kind:    core.EventRallyFailed,
		Round:   round,
		Outcome: core.OutcomeFailed,
		Err:     err.Error(),
	})
	return &core.RallyResult{Outcome: core.OutcomeFailed, Rounds: round, Review: lastReview}, err
}
