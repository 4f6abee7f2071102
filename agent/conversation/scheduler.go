package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/chatflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Reason explains why a conversation ended.
type Reason string

const (
	ReasonPolicyStop  Reason = "policy_stop"
	ReasonTermination Reason = "termination_message"
	ReasonMaxRounds   Reason = "max_rounds"
	ReasonError       Reason = "error"
)

// DefaultIntroductionTemplate is sent as context when introductions are on.
const DefaultIntroductionTemplate = "Hello everyone. We have assembled a team to work on this task. In attendance are:\n\n{roles}"

// GroupChat describes one bounded multi-participant conversation.
type GroupChat struct {
	Participants []Participant
	Policy       Policy
	// MaxRounds 是日志消息数上限，0 表示不发言
	MaxRounds     int
	IsTermination TerminationFunc
	// AllowRepeatSpeaker 允许同一发言人连续发言（显式策略不受影响）
	AllowRepeatSpeaker   bool
	SendIntroductions    bool
	IntroductionTemplate string
}

// Names returns participant names in declaration order.
func (gc *GroupChat) Names() []string {
	names := make([]string, len(gc.Participants))
	for i, p := range gc.Participants {
		names[i] = p.Name()
	}
	return names
}

// Validate checks the chat configuration and its policy.
func (gc *GroupChat) Validate() error {
	if len(gc.Participants) == 0 {
		return types.NewError(types.ErrInvalidRequest, "group chat needs at least one participant")
	}
	if gc.MaxRounds < 0 {
		return types.Errorf(types.ErrInvalidRequest, "max rounds must be >= 0, got %d", gc.MaxRounds)
	}
	if gc.Policy == nil {
		return types.NewError(types.ErrInvalidRequest, "group chat needs a transition policy")
	}
	names := make(map[string]bool, len(gc.Participants))
	for _, p := range gc.Participants {
		if p == nil || p.Name() == "" {
			return types.NewError(types.ErrInvalidRequest, "participant name must not be empty")
		}
		if names[p.Name()] {
			return types.Errorf(types.ErrInvalidRequest, "duplicate participant %q", p.Name())
		}
		names[p.Name()] = true
	}
	return gc.Policy.validate(names)
}

// Introduction renders the group introduction text.
func (gc *GroupChat) Introduction() string {
	tmpl := gc.IntroductionTemplate
	if tmpl == "" {
		tmpl = DefaultIntroductionTemplate
	}
	var roles strings.Builder
	for i, p := range gc.Participants {
		if i > 0 {
			roles.WriteByte('\n')
		}
		roles.WriteString(p.Name() + ": " + p.Description())
	}
	return render(tmpl, map[string]string{
		"roles":     roles.String(),
		"agentlist": "[" + strings.Join(gc.Names(), ", ") + "]",
	})
}

func (gc *GroupChat) participant(name string) (Participant, bool) {
	for _, p := range gc.Participants {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Start names the opening speaker and, optionally, the opening message.
type Start struct {
	ChatID  string `json:"chat_id,omitempty"`
	Speaker string `json:"speaker"`
	// Content 非空时直接作为第一条消息，否则调用发言人的 Reply
	Content string `json:"content,omitempty"`
}

// Result is the outcome of a conversation run.
type Result struct {
	ChatID    string    `json:"chat_id"`
	Policy    Kind      `json:"policy"`
	Messages  []Message `json:"messages"`
	Rounds    int       `json:"rounds"`
	Reason    Reason    `json:"reason"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Speakers returns the sender of every logged message, in order.
func (r *Result) Speakers() []string {
	out := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = m.Sender
	}
	return out
}

// LastMessage returns the final logged message.
func (r *Result) LastMessage() (Message, bool) {
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

// Observer is notified of every message as it is appended.
type Observer func(chatID string, msg Message)

// Recorder receives scheduler metrics.
type Recorder interface {
	RecordChat(policy, reason string, rounds int, duration time.Duration)
	RecordTurn(speaker string, duration time.Duration)
	RecordSelectionFailure(policy, code string)
}

// Scheduler runs group chats turn by turn.
type Scheduler struct {
	logger    *zap.Logger
	observers []Observer
	recorder  Recorder
	tracer    trace.Tracer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver adds an observer notified for every chat.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, o) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithTracer sets the tracer used for run and turn spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/BaSui01/chatflow/agent/conversation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "scheduler"))
	return s
}

// run holds the state of one conversation; the log is owned here.
type run struct {
	s         *Scheduler
	gc        *GroupChat
	result    *Result
	intro     string
	observers []Observer
	logger    *zap.Logger
}

// Run executes gc from start until the policy stops, the termination
// predicate fires, MaxRounds messages are logged, or an error occurs. On
// error the partial result is returned together with the error.
func (s *Scheduler) Run(ctx context.Context, gc *GroupChat, start Start, observers ...Observer) (*Result, error) {
	if gc == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "group chat is nil")
	}
	if err := gc.Validate(); err != nil {
		return nil, err
	}
	if _, ok := gc.participant(start.Speaker); !ok {
		return nil, types.Errorf(types.ErrUnknownSpeaker, "start speaker %q is not a participant", start.Speaker)
	}

	chatID := start.ChatID
	if chatID == "" {
		chatID = uuid.NewString()
	}
	r := &run{
		s:  s,
		gc: gc,
		result: &Result{
			ChatID:    chatID,
			Policy:    gc.Policy.Kind(),
			Messages:  make([]Message, 0, gc.MaxRounds),
			StartedAt: time.Now(),
		},
		observers: append(append([]Observer(nil), s.observers...), observers...),
		logger:    s.logger.With(zap.String("chat_id", chatID), zap.String("policy", string(gc.Policy.Kind()))),
	}
	if gc.SendIntroductions {
		r.intro = gc.Introduction()
	}

	ctx, span := s.tracer.Start(ctx, "conversation.run", trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("chat.policy", string(gc.Policy.Kind())),
		attribute.Int("chat.max_rounds", gc.MaxRounds),
	))
	defer span.End()

	r.logger.Info("conversation started",
		zap.Int("participants", len(gc.Participants)),
		zap.Int("max_rounds", gc.MaxRounds),
		zap.String("start", start.Speaker))

	reason, err := r.loop(ctx, start)
	r.result.Reason = reason
	r.result.Rounds = len(r.result.Messages)
	r.result.EndedAt = time.Now()

	span.SetAttributes(attribute.String("chat.reason", string(reason)), attribute.Int("chat.rounds", r.result.Rounds))
	if err != nil {
		r.result.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := types.GetErrorCode(err); code != "" && s.recorder != nil && isSelectionFailure(code) {
			s.recorder.RecordSelectionFailure(string(gc.Policy.Kind()), string(code))
		}
		r.logger.Warn("conversation failed", zap.Int("rounds", r.result.Rounds), zap.Error(err))
	} else {
		r.logger.Info("conversation ended", zap.String("reason", string(reason)), zap.Int("rounds", r.result.Rounds))
	}
	if s.recorder != nil {
		s.recorder.RecordChat(string(gc.Policy.Kind()), string(reason), r.result.Rounds, r.result.EndedAt.Sub(r.result.StartedAt))
	}
	return r.result, err
}

func isSelectionFailure(code types.ErrorCode) bool {
	switch code {
	case types.ErrUnknownSpeaker, types.ErrNoEligibleSpeaker, types.ErrAmbiguousSpeaker, types.ErrInvalidTransition:
		return true
	}
	return false
}

func (r *run) loop(ctx context.Context, start Start) (Reason, error) {
	if r.gc.MaxRounds == 0 {
		return ReasonMaxRounds, nil
	}

	speaker := start.Speaker
	if start.Content != "" {
		if r.append(newMessage(speaker, RoleUser, start.Content, 1)) {
			return ReasonTermination, nil
		}
	} else {
		stop, err := r.turn(ctx, speaker)
		if err != nil {
			return ReasonError, err
		}
		if stop {
			return ReasonTermination, nil
		}
	}

	for len(r.result.Messages) < r.gc.MaxRounds {
		if err := ctx.Err(); err != nil {
			return ReasonError, types.NewError(types.ErrTimeout, "conversation canceled").WithCause(err)
		}

		d, err := r.gc.Policy.Next(ctx, State{
			Last:         speaker,
			Messages:     copyMessages(r.result.Messages),
			Participants: r.gc.Participants,
			AllowRepeat:  r.gc.AllowRepeatSpeaker,
		})
		if err != nil {
			return ReasonError, err
		}
		if d.Stop {
			return ReasonPolicyStop, nil
		}
		if _, ok := r.gc.participant(d.Next); !ok {
			return ReasonError, types.Errorf(types.ErrUnknownSpeaker, "policy selected unknown speaker %q", d.Next)
		}

		speaker = d.Next
		stop, err := r.turn(ctx, speaker)
		if err != nil {
			return ReasonError, err
		}
		if stop {
			return ReasonTermination, nil
		}
	}
	return ReasonMaxRounds, nil
}

// turn asks speaker for a reply and appends it; it reports whether the
// termination predicate fired.
func (r *run) turn(ctx context.Context, speaker string) (bool, error) {
	p, _ := r.gc.participant(speaker)
	round := len(r.result.Messages) + 1

	ctx, span := r.s.tracer.Start(ctx, "conversation.turn", trace.WithAttributes(
		attribute.String("turn.speaker", speaker),
		attribute.Int("turn.round", round),
	))
	defer span.End()

	started := time.Now()
	content, err := p.Reply(ctx, Turn{
		Round:        round,
		Messages:     copyMessages(r.result.Messages),
		Introduction: r.intro,
	})
	if r.s.recorder != nil {
		r.s.recorder.RecordTurn(speaker, time.Since(started))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		code := types.ErrParticipantFailure
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			code = types.ErrTimeout
		}
		return false, types.NewError(code, fmt.Sprintf("participant %q failed in round %d", speaker, round)).WithCause(err)
	}

	r.logger.Debug("turn", zap.String("speaker", speaker), zap.Int("round", round), zap.Int("chars", len(content)))
	return r.append(newMessage(speaker, RoleAssistant, content, round)), nil
}

func (r *run) append(msg Message) bool {
	r.result.Messages = append(r.result.Messages, msg)
	for _, o := range r.observers {
		o(r.result.ChatID, msg)
	}
	return r.gc.IsTermination != nil && r.gc.IsTermination(msg)
}
