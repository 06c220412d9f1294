// Package conversation implements the chat state machine that walks a user
// through consent, Canvas token capture, task lists and manual task creation.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/easely-bot/internal/canvas"
	"github.com/ashureev/easely-bot/internal/convlog"
	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/syncer"
	"github.com/ashureev/easely-bot/internal/timewindow"
)

// Sender delivers outbound messages on one channel.
type Sender interface {
	Channel() string
	Send(ctx context.Context, userID string, msg domain.Message) error
}

// Typer is implemented by senders that can show a typing indicator.
type Typer interface {
	Typing(ctx context.Context, userID string, on bool) error
}

// Store is the persistence the engine needs.
type Store interface {
	SessionStore
	StateAuditor
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	UpdateUser(ctx context.Context, userID string, update domain.UserUpdate) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
	CreateTask(ctx context.Context, task *domain.Task) error
	ListTasks(ctx context.Context, userID string, status domain.TaskStatus) ([]domain.Task, error)
	CleanupExpiredSessions(ctx context.Context) (int64, error)
}

// Syncer returns a user's assignments, refreshing from Canvas as needed.
type Syncer interface {
	GetAssignments(ctx context.Context, userID, token string, force bool) syncer.Result
}

// LMS is the subset of the Canvas gateway used by the dialogs.
type LMS interface {
	ValidateCredential(ctx context.Context, token string) (*canvas.Validation, error)
	CreateCalendarEvent(ctx context.Context, token string, ev canvas.CalendarEvent) (*canvas.CalendarEntry, error)
}

// Transcript receives one entry per inbound event and outbound message.
type Transcript interface {
	Log(ev convlog.Event)
}

// Config holds the engine's tunables and link targets.
type Config struct {
	SessionTTL         time.Duration
	DraftTTL           time.Duration
	ConsentPromptDelay time.Duration
	PrivacyPolicyURL   string
	TermsOfUseURL      string
	TutorialVideoURL   string
	PremiumURL         string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTTL:         24 * time.Hour,
		DraftTTL:           time.Hour,
		ConsentPromptDelay: 5 * time.Second,
		PrivacyPolicyURL:   "https://easely.app/privacy",
		TermsOfUseURL:      "https://easely.app/terms",
		TutorialVideoURL:   "https://easely.app/tutorial",
		PremiumURL:         "https://easely.app/premium",
	}
}

const delayedSendTimeout = 10 * time.Second

// scheduleFunc runs f after d and returns a func that cancels it. The
// returned func reports whether f was prevented from running.
type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type actionHandler func(e *Engine, t *turn) error

// turn carries the per-event context through the handlers.
type turn struct {
	ctx    context.Context
	out    Sender
	userID string
	user   *domain.User
	state  domain.ConversationState
}

// Engine routes inbound events to dialog handlers.
type Engine struct {
	cfg        Config
	store      Store
	sync       Syncer
	lms        LMS
	window     *timewindow.Filter
	transcript Transcript
	logger     *slog.Logger

	states  *stateStore
	drafts  *draftStore
	locks   *userLocks
	actions map[string]actionHandler

	after     scheduleFunc
	timersMu  sync.Mutex
	timers    map[uint64]func() bool
	nextTimer uint64
	closed    bool
	pending   sync.WaitGroup
}

// Option customizes an Engine.
type Option func(*Engine)

// WithTranscript attaches a transcript sink.
func WithTranscript(t Transcript) Option {
	return func(e *Engine) { e.transcript = t }
}

// WithScheduler replaces the timer used for delayed prompts.
func WithScheduler(after func(d time.Duration, f func()) (stop func() bool)) Option {
	return func(e *Engine) { e.after = after }
}

// New creates an engine. A nil logger uses slog.Default().
func New(cfg Config, store Store, source Syncer, lms LMS, window *timewindow.Filter, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = def.DraftTTL
	}
	if cfg.ConsentPromptDelay < 0 {
		cfg.ConsentPromptDelay = 0
	}

	e := &Engine{
		cfg:     cfg,
		store:   store,
		sync:    source,
		lms:     lms,
		window:  window,
		logger:  logger,
		drafts:  newDraftStore(),
		locks:   newUserLocks(),
		actions: actionTable,
		after:   afterFunc,
		timers:  make(map[uint64]func() bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.states = newStateStore(store, store, cfg.SessionTTL, window.Now, logger)
	return e
}

// HandleEvent processes one inbound event for userID and replies through out.
// Events for the same user are handled one at a time. Handler failures are
// logged and answered with an apology.
func (e *Engine) HandleEvent(ctx context.Context, out Sender, userID string, ev domain.Event) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	t := &turn{ctx: ctx, out: out, userID: userID, state: domain.StateNone}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Conversation handler panicked",
				"user_id", userID,
				"channel", out.Channel(),
				"panic", r,
				"stack", string(debug.Stack()))
			e.apologize(t)
		}
	}()

	if err := e.handle(t, ev); err != nil {
		e.logger.Error("Conversation handler failed",
			"user_id", userID,
			"channel", out.Channel(),
			"state", t.state,
			"error", err)
		e.apologize(t)
	}
}

func (e *Engine) handle(t *turn, ev domain.Event) error {
	// A failed read counts as a new user; CreateUser leaves existing rows alone.
	user, err := e.store.GetUser(t.ctx, t.userID)
	if err != nil {
		e.logger.Warn("Failed to load user, treating as new", "user_id", t.userID, "error", err)
		user = nil
	}
	t.user = user
	if user != nil {
		if err := e.store.UpdateLastSeen(t.ctx, t.userID, e.window.Now()); err != nil {
			e.logger.Warn("Failed to update last seen", "user_id", t.userID, "error", err)
		}
	}
	t.state = e.states.Get(t.ctx, t.userID)
	e.recordInbound(t, ev)

	if ev.Kind == domain.EventAction {
		return e.dispatch(t, ev.Tag)
	}
	return e.handleText(t, ev.Body)
}

func (e *Engine) apologize(t *turn) {
	if err := t.out.Send(context.WithoutCancel(t.ctx), t.userID, plain(textApology)); err != nil {
		e.logger.Warn("Failed to send apology", "user_id", t.userID, "error", err)
	}
}

// send delivers msgs in order and stops at the first failure.
func (e *Engine) send(t *turn, msgs ...domain.Message) error {
	for _, msg := range msgs {
		if err := t.out.Send(t.ctx, t.userID, msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		e.recordOutbound(t.userID, t.out.Channel(), t.state, msg)
	}
	return nil
}

// sendLater delivers msg after the consent prompt delay, outside the
// current event's lifetime.
func (e *Engine) sendLater(t *turn, msg domain.Message) {
	out, userID, state := t.out, t.userID, t.state
	base := context.WithoutCancel(t.ctx)

	e.schedule(e.cfg.ConsentPromptDelay, func() {
		ctx, cancel := context.WithTimeout(base, delayedSendTimeout)
		defer cancel()
		if err := out.Send(ctx, userID, msg); err != nil {
			e.logger.Warn("Failed to send delayed prompt", "user_id", userID, "error", err)
			return
		}
		e.recordOutbound(userID, out.Channel(), state, msg)
	})
}

func (e *Engine) schedule(d time.Duration, f func()) {
	e.timersMu.Lock()
	if e.closed {
		e.timersMu.Unlock()
		return
	}
	e.nextTimer++
	id := e.nextTimer
	e.timers[id] = nil
	e.pending.Add(1)
	e.timersMu.Unlock()

	stop := e.after(d, func() {
		defer e.pending.Done()
		e.timersMu.Lock()
		delete(e.timers, id)
		e.timersMu.Unlock()
		f()
	})

	e.timersMu.Lock()
	if _, ok := e.timers[id]; ok {
		e.timers[id] = stop
	}
	e.timersMu.Unlock()
}

// Close cancels delayed prompts that have not started and waits for the
// ones that have.
func (e *Engine) Close() {
	e.timersMu.Lock()
	e.closed = true
	for id, stop := range e.timers {
		if stop != nil && stop() {
			delete(e.timers, id)
			e.pending.Done()
		}
	}
	e.timersMu.Unlock()

	e.pending.Wait()
}

func (e *Engine) typing(t *turn) {
	ty, ok := t.out.(Typer)
	if !ok {
		return
	}
	if err := ty.Typing(t.ctx, t.userID, true); err != nil {
		e.logger.Debug("Failed to send typing indicator", "user_id", t.userID, "error", err)
	}
}

// setState moves the turn's user to state to. Terminal states are recorded
// and then read back as none.
func (e *Engine) setState(t *turn, to domain.ConversationState, trigger string) error {
	if err := e.states.Transition(t.ctx, t.userID, t.state, to, trigger); err != nil {
		return err
	}
	if to.IsTerminal() {
		to = domain.StateNone
	}
	t.state = to
	return nil
}

// resetDialog leaves any sub-dialog and discards the draft.
func (e *Engine) resetDialog(t *turn, trigger string) error {
	e.drafts.Discard(t.userID)
	if !t.state.IsSubDialog() {
		return nil
	}
	return e.setState(t, domain.StateNone, trigger)
}

// ensureUser creates the user record on first contact.
func (e *Engine) ensureUser(t *turn, firstMessage string) error {
	if t.user != nil {
		return nil
	}
	u := &domain.User{
		UserID:       t.userID,
		Timezone:     e.window.Location().String(),
		FirstMessage: firstMessage,
	}
	if err := e.store.CreateUser(t.ctx, u); err != nil {
		return err
	}
	t.user = u
	return nil
}

func (e *Engine) updateUser(t *turn, update domain.UserUpdate) error {
	if err := e.ensureUser(t, ""); err != nil {
		return err
	}
	if err := e.store.UpdateUser(t.ctx, t.userID, update); err != nil {
		return err
	}
	if update.CanvasToken != nil {
		t.user.CanvasToken = *update.CanvasToken
	}
	if update.OnboardingCompleted != nil {
		t.user.OnboardingCompleted = *update.OnboardingCompleted
	}
	return nil
}

func (e *Engine) recordInbound(t *turn, ev domain.Event) {
	if e.transcript == nil {
		return
	}
	content := ev.Tag
	if ev.Kind == domain.EventText {
		content = ev.Body
		if t.state == domain.StateWaitingForToken {
			content = convlog.Redact(ev.Body)
		}
	}
	e.transcript.Log(convlog.Event{
		ID:         uuid.NewString(),
		Timestamp:  e.window.Now(),
		UserID:     t.userID,
		Channel:    t.out.Channel(),
		Direction:  convlog.DirectionInbound,
		EventType:  string(ev.Kind),
		State:      t.state.String(),
		ContentRaw: content,
	})
}

func (e *Engine) recordOutbound(userID, channel string, state domain.ConversationState, msg domain.Message) {
	if e.transcript == nil {
		return
	}
	var meta map[string]any
	if n := len(msg.QuickReplies); n > 0 {
		payloads := make([]string, 0, n)
		for _, q := range msg.QuickReplies {
			payloads = append(payloads, q.Payload)
		}
		meta = map[string]any{"quick_replies": payloads}
	}
	if len(msg.Buttons) > 0 {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["buttons"] = len(msg.Buttons)
	}
	e.transcript.Log(convlog.Event{
		ID:         uuid.NewString(),
		Timestamp:  e.window.Now(),
		UserID:     userID,
		Channel:    channel,
		Direction:  convlog.DirectionOutbound,
		EventType:  "message",
		State:      state.String(),
		ContentRaw: msg.Text,
		Meta:       meta,
	})
}
