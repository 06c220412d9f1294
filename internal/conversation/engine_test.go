package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/easely-bot/internal/canvas"
	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/store"
	"github.com/ashureev/easely-bot/internal/syncer"
	"github.com/ashureev/easely-bot/internal/timewindow"
)

const testUser = "psid-1"

type recorder struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (r *recorder) Channel() string { return "test" }

func (r *recorder) Send(_ context.Context, _ string, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) all() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.msgs...)
}

func (r *recorder) last() domain.Message {
	msgs := r.all()
	if len(msgs) == 0 {
		return domain.Message{}
	}
	return msgs[len(msgs)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

func payloads(msg domain.Message) []string {
	out := make([]string, 0, len(msg.QuickReplies))
	for _, q := range msg.QuickReplies {
		out = append(out, q.Payload)
	}
	return out
}

type fakeSyncer struct {
	mu     sync.Mutex
	forced []bool
	result syncer.Result
}

func (f *fakeSyncer) GetAssignments(_ context.Context, _, _ string, force bool) syncer.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, force)
	return f.result
}

type fakeLMS struct {
	mu          sync.Mutex
	validation  *canvas.Validation
	validateErr error
	panics      bool
	calendarErr error
	events      []canvas.CalendarEvent
}

func (f *fakeLMS) ValidateCredential(_ context.Context, _ string) (*canvas.Validation, error) {
	if f.panics {
		panic("boom")
	}
	return f.validation, f.validateErr
}

func (f *fakeLMS) CreateCalendarEvent(_ context.Context, _ string, ev canvas.CalendarEvent) (*canvas.CalendarEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.calendarErr != nil {
		return nil, f.calendarErr
	}
	return &canvas.CalendarEntry{ID: "cal-1", Title: ev.Title, StartAt: ev.StartAt}, nil
}

type manualScheduler struct {
	mu      sync.Mutex
	fns     []func()
	stopped []bool
}

func (s *manualScheduler) after(_ time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.fns)
	s.fns = append(s.fns, f)
	s.stopped = append(s.stopped, false)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped[i] {
			return false
		}
		s.stopped[i] = true
		return true
	}
}

func (s *manualScheduler) fire() {
	s.mu.Lock()
	var run []func()
	for i, f := range s.fns {
		if !s.stopped[i] {
			s.stopped[i] = true
			run = append(run, f)
		}
	}
	s.mu.Unlock()
	for _, f := range run {
		f()
	}
}

type harness struct {
	engine *Engine
	store  *store.SQLiteStore
	sync   *fakeSyncer
	lms    *fakeLMS
	out    *recorder
	sched  *manualScheduler
	now    time.Time
	loc    *time.Location
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	loc, err := timewindow.ParseZone(timewindow.DefaultZone)
	require.NoError(t, err)
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, loc)

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store: st,
		sync:  &fakeSyncer{},
		lms:   &fakeLMS{validation: &canvas.Validation{Valid: true, Profile: &canvas.Profile{ID: 42, Name: "Ana"}}},
		out:   &recorder{},
		sched: &manualScheduler{},
		now:   now,
		loc:   loc,
	}
	window := timewindow.New(loc, timewindow.WithClock(func() time.Time { return now }))
	h.engine = New(DefaultConfig(), st, h.sync, h.lms, window, nil, WithScheduler(h.sched.after))
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) text(body string) {
	h.engine.HandleEvent(context.Background(), h.out, testUser, domain.TextEvent(body))
}

func (h *harness) action(tag string) {
	h.engine.HandleEvent(context.Background(), h.out, testUser, domain.ActionEvent(tag))
}

func (h *harness) state() domain.ConversationState {
	return h.engine.states.Get(context.Background(), testUser)
}

func (h *harness) connectedUser(t *testing.T) {
	t.Helper()
	synced := h.now.Add(-time.Hour)
	require.NoError(t, h.store.CreateUser(context.Background(), &domain.User{
		UserID:              testUser,
		CanvasToken:         "1234~abcdefghijkl",
		OnboardingCompleted: true,
		LastCanvasSync:      &synced,
		Timezone:            timewindow.DefaultZone,
	}))
}

func TestGreetingFromNewUserStartsConsent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.text("Hello")

	msgs := h.out.all()
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[0].Text, "I'm Easely")
	assert.Equal(t, []string{ActionPrivacyPolicyRead, ActionPrivacyDecline}, payloads(msgs[3]))

	user, err := h.store.GetUser(context.Background(), testUser)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Hello", user.FirstMessage)
	assert.Equal(t, timewindow.DefaultZone, user.Timezone)
}

func TestAnyTextFromUnknownUserIsTreatedAsFirstContact(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.text("what is this")

	assert.Equal(t, []string{ActionPrivacyPolicyRead, ActionPrivacyDecline}, payloads(h.out.last()))
}

func TestUnrecognizedTextFromExistingUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)

	h.text("what is this")

	msgs := h.out.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, textNotUnderstood, msgs[0].Text)
	assert.Equal(t, textMainMenu, msgs[1].Text)
}

func TestConsentFlowInOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.text("hi")
	h.action(ActionPrivacyAgree)
	assert.Equal(t, domain.StatePrivacyAgreed, h.state())
	assert.Equal(t, []string{ActionTermsRead, ActionTermsDecline}, payloads(h.out.last()))

	h.action(ActionTermsAgree)
	assert.Equal(t, domain.StateTermsAgreed, h.state())
	assert.Equal(t, []string{ActionFinalConsentAgree, ActionFinalConsentDecline}, payloads(h.out.last()))

	h.action(ActionFinalConsentAgree)
	assert.Equal(t, domain.StateOnboardingComplete, h.state())
	assert.Equal(t, []string{ActionTokenKnowHow, ActionTokenNeedHelp}, payloads(h.out.last()))

	user, err := h.store.GetUser(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, user.OnboardingCompleted)
}

func TestConsentStepOutOfOrderRepeatsPreviousPrompt(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.text("hi")
	h.out.reset()

	h.action(ActionTermsAgree)
	assert.Equal(t, domain.StateNone, h.state())
	assert.Equal(t, textPrivacyAsk, h.out.last().Text)

	h.action(ActionFinalConsentAgree)
	assert.Equal(t, domain.StateNone, h.state())
	assert.Equal(t, textTermsAsk, h.out.last().Text)
}

func TestPrivacyReadSendsDelayedPrompt(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action(ActionPrivacyPolicyRead)

	msgs := h.out.all()
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Buttons, 1)
	assert.Equal(t, DefaultConfig().PrivacyPolicyURL, msgs[0].Buttons[0].URL)

	h.sched.fire()
	assert.Equal(t, []string{ActionPrivacyAgree, ActionPrivacyDecline}, payloads(h.out.last()))
}

func TestCloseCancelsPendingPrompts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action(ActionTermsRead)
	h.engine.Close()
	h.sched.fire()

	assert.Len(t, h.out.all(), 1)
}

func TestTextInTokenDialogIsNotTreatedAsGreeting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action(ActionTokenKnowHow)
	require.Equal(t, domain.StateWaitingForToken, h.state())

	h.text("help")

	assert.Equal(t, textTokenTooShort, h.out.last().Text)
	assert.Equal(t, domain.StateWaitingForToken, h.state())
}

func TestTokenDialogCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action(ActionTokenReady)
	h.text("Cancel")

	msgs := h.out.all()
	assert.Equal(t, textTokenCancelled, msgs[len(msgs)-2].Text)
	assert.Equal(t, textMainMenu, msgs[len(msgs)-1].Text)
	assert.Equal(t, domain.StateNone, h.state())
}

func TestInvalidTokenKeepsWaiting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lms.validation = &canvas.Validation{Valid: false, Status: 401, Reason: "unauthorized"}

	h.action(ActionTokenKnowHow)
	h.text("1234~notarealtoken")

	assert.Contains(t, h.out.last().Text, "status 401")
	assert.Equal(t, domain.StateWaitingForToken, h.state())
	assert.Empty(t, h.sync.forced)
}

func TestTokenValidationTransportFailureKeepsWaiting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lms.validateErr = errors.New("dial tcp: i/o timeout")

	h.action(ActionTokenKnowHow)
	h.text("1234~abcdefghijkl")

	assert.Equal(t, textTokenUnreachable, h.out.last().Text)
	assert.Equal(t, domain.StateWaitingForToken, h.state())
}

func TestValidTokenIsStoredAndSynced(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	due := h.now.Add(48 * time.Hour)
	h.sync.result = syncer.Result{
		Source:      syncer.SourceRemote,
		Assignments: []domain.Assignment{{ID: "a1", Title: "Lab Report", DueAt: &due, Source: domain.SourceCanvas}},
	}

	h.action(ActionTokenKnowHow)
	h.out.reset()
	h.text("  1234~abcdefghijkl  ")

	user, err := h.store.GetUser(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, "1234~abcdefghijkl", user.CanvasToken)
	assert.Equal(t, int64(42), user.CanvasUserID)
	assert.Equal(t, "Ana", user.CanvasName)

	assert.Equal(t, []bool{true}, h.sync.forced)
	assert.Equal(t, domain.StateNone, h.state())

	msgs := h.out.all()
	require.Len(t, msgs, 5)
	assert.Equal(t, textTokenReceived, msgs[0].Text)
	assert.Equal(t, textTokenVerified, msgs[1].Text)
	assert.Contains(t, msgs[2].Text, "Lab Report")
	assert.Equal(t, []string{ActionShowPremium, ActionSkipPremium}, payloads(msgs[4]))
}

func TestTaskCreationWithPresets(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)
	ctx := context.Background()

	h.action(ActionAddNewTask)
	assert.Equal(t, domain.StateWaitingForTaskTitle, h.state())

	h.text("Essay draft")
	assert.Equal(t, domain.StateNone, h.state())
	assert.Equal(t, textDatePicker, h.out.last().Text)

	h.action(ActionDateTomorrow)
	assert.Equal(t, domain.StateWaitingForCustomTime, h.state())
	assert.Equal(t, textTimePicker, h.out.last().Text)

	h.action("TIME_15_00")
	assert.Equal(t, domain.StateNone, h.state())

	tasks, err := h.store.ListTasks(ctx, testUser, domain.TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Essay draft", tasks[0].Title)
	assert.True(t, tasks[0].DueAt.Equal(time.Date(2026, 10, 15, 15, 0, 0, 0, h.loc)))
	assert.Equal(t, "cal-1", tasks[0].RemoteEntryID)

	require.Len(t, h.lms.events, 1)
	msgs := h.out.all()
	confirm := msgs[len(msgs)-2].Text
	assert.Contains(t, confirm, "✅ Task added successfully!")
	assert.Contains(t, confirm, "Thu, Oct 15, 2026 at 3:00 PM")
	assert.Contains(t, confirm, textCalendarAdded)

	_, ok := h.engine.drafts.Get(testUser)
	assert.False(t, ok)
}

func TestTaskCreationWithTypedDateAndTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action(ActionAddNewTask)
	h.text("Group meeting")
	h.action(ActionDateCustom)
	assert.Equal(t, domain.StateWaitingForCustomDate, h.state())

	h.text("ok")
	assert.Equal(t, textDateTrivial, h.out.last().Text)
	h.text("25/12/2026")
	assert.Equal(t, textDateInvalid, h.out.last().Text)
	assert.Equal(t, domain.StateWaitingForCustomDate, h.state())

	h.text("12/25/2026")
	assert.Equal(t, domain.StateWaitingForCustomTime, h.state())

	h.text("2:30pm")

	tasks, err := h.store.ListTasks(context.Background(), testUser, domain.TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].DueAt.Equal(time.Date(2026, 12, 25, 14, 30, 0, 0, h.loc)))
	assert.Empty(t, h.lms.events)

	msgs := h.out.all()
	assert.Contains(t, msgs[len(msgs)-2].Text, textCalendarSkipped)
}

func TestCalendarFailureStillSavesTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)
	h.lms.calendarErr = &canvas.StatusError{StatusCode: 500, Method: "POST"}

	h.action(ActionAddNewTask)
	h.text("Quiz review")
	h.action(ActionDateToday)
	h.action("TIME_99_99")

	tasks, err := h.store.ListTasks(context.Background(), testUser, domain.TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].DueAt.Equal(time.Date(2026, 10, 14, 23, 59, 0, 0, h.loc)))
	assert.Len(t, h.lms.events, 1)

	msgs := h.out.all()
	assert.Contains(t, msgs[len(msgs)-2].Text, textCalendarFailed)
}

func TestCancelDiscardsDraft(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action(ActionAddNewTask)
	h.text("Reading")
	h.action(ActionDateCustom)
	h.text("back")

	assert.Equal(t, domain.StateNone, h.state())
	_, ok := h.engine.drafts.Get(testUser)
	assert.False(t, ok)

	msgs := h.out.all()
	assert.Equal(t, textTaskCancelled, msgs[len(msgs)-2].Text)

	h.action("TIME_09_00")
	assert.Equal(t, textMainMenu, h.out.last().Text)
	assert.Equal(t, textNoDraft, h.out.all()[len(h.out.all())-2].Text)
}

func TestTitleValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action(ActionAddNewTask)
	h.text("x")
	assert.Equal(t, textTitleTooShort, h.out.last().Text)
	h.text("yes")
	assert.Equal(t, textTitleTrivial, h.out.last().Text)
	assert.Equal(t, domain.StateWaitingForTaskTitle, h.state())
}

func TestTaskListMergesManualTasks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)
	ctx := context.Background()

	dueToday := h.now.Add(3 * time.Hour)
	dueLater := h.now.Add(10 * 24 * time.Hour)
	h.sync.result = syncer.Result{
		Source: syncer.SourceCache,
		Assignments: []domain.Assignment{
			{ID: "a1", Title: "Problem Set 3", CourseName: "Calculus", DueAt: &dueToday, Source: domain.SourceCanvas},
			{ID: "a2", Title: "Final Paper", CourseName: "English", DueAt: &dueLater, Source: domain.SourceCanvas},
		},
	}
	require.NoError(t, h.store.CreateTask(ctx, &domain.Task{UserID: testUser, Title: "Buy notebook", DueAt: h.now.Add(time.Hour)}))

	h.action(ActionTasksToday)

	msgs := h.out.all()
	require.Len(t, msgs, 2)
	body := msgs[0].Text
	assert.True(t, strings.HasPrefix(body, "🔥 Tasks Due Today\n\n"))
	assert.Contains(t, body, "📚 Buy notebook\n   Course: Personal\n   Due: Today at 11:00 AM")
	assert.Contains(t, body, "📚 Problem Set 3\n   Course: Calculus\n   Due: Today at 1:00 PM")
	assert.NotContains(t, body, "Final Paper")
	assert.Less(t, strings.Index(body, "Buy notebook"), strings.Index(body, "Problem Set 3"))
	assert.Equal(t, []bool{false}, h.sync.forced)
}

func TestTaskListEmptyAndFallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)
	h.sync.result = syncer.Result{Source: syncer.SourceFallback, Err: errors.New("canvas down")}

	h.action(ActionTasksOverdue)

	msgs := h.out.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, "❗️ Overdue Tasks\n\n✨ No tasks found!", msgs[0].Text)
	assert.Equal(t, textCanvasUnreachable, msgs[1].Text)
	assert.Equal(t, textMainMenu, msgs[2].Text)
}

func TestTaskListCapsAtTen(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)

	var items []domain.Assignment
	for i := range 12 {
		due := h.now.Add(time.Duration(i+1) * time.Minute)
		items = append(items, domain.Assignment{ID: string(rune('a' + i)), Title: "Item", DueAt: &due})
	}
	h.sync.result = syncer.Result{Source: syncer.SourceCache, Assignments: items}

	h.action(ActionTasksAll)

	body := h.out.all()[0].Text
	assert.Equal(t, 10, strings.Count(body, "📚 Item"))
	assert.True(t, strings.HasSuffix(body, "... and 2 more tasks"))
}

func TestTaskListRequiresToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action(ActionTasksWeek)

	msgs := h.out.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, textConnectFirst, msgs[0].Text)
	assert.Empty(t, h.sync.forced)
}

func TestFirstListForcesRefresh(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.store.CreateUser(context.Background(), &domain.User{
		UserID:      testUser,
		CanvasToken: "1234~abcdefghijkl",
	}))

	h.action(ActionTasksWeek)

	assert.Equal(t, []bool{true}, h.sync.forced)
}

func TestSyncNowReportsOutcome(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)
	due := h.now.Add(time.Hour)
	h.sync.result = syncer.Result{Source: syncer.SourceRemote, Assignments: []domain.Assignment{{ID: "a", DueAt: &due}}}

	h.action(ActionSyncNow)
	assert.Contains(t, h.out.all()[0].Text, "Found 1 assignments")

	h.out.reset()
	h.sync.result = syncer.Result{Source: syncer.SourceFallback, Err: errors.New("timeout")}
	h.action(ActionSyncNow)
	assert.Contains(t, h.out.all()[0].Text, "couldn't reach Canvas")
	assert.Equal(t, []bool{true, true}, h.sync.forced)
}

func TestUnknownActionShowsMainMenu(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action("NOT_A_THING")

	assert.Equal(t, textMainMenu, h.out.last().Text)
}

func TestMainMenuLeavesSubDialog(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action(ActionAddNewTask)
	h.action(ActionMainMenu)

	assert.Equal(t, domain.StateNone, h.state())
	assert.Equal(t, textMainMenu, h.out.last().Text)
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.lms.panics = true

	h.action(ActionTokenKnowHow)
	require.NotPanics(t, func() { h.text("1234~abcdefghijkl") })

	assert.Equal(t, textApology, h.out.last().Text)
}

func TestSkipPremiumCompletesOnboarding(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.action(ActionSkipPremium)

	user, err := h.store.GetUser(context.Background(), testUser)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, user.OnboardingCompleted)
	assert.Equal(t, textMainMenu, h.out.last().Text)

	h.out.reset()
	h.action(ActionGetStarted)
	assert.Equal(t, textMainMenu, h.out.last().Text)
}

func TestSweepPrunesStaleDrafts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.engine.drafts.Start("old", h.now.Add(-2*time.Hour))
	h.engine.drafts.Start("fresh", h.now)

	h.engine.Sweep(context.Background())

	assert.Equal(t, 1, h.engine.drafts.Len())
	_, ok := h.engine.drafts.Get("fresh")
	assert.True(t, ok)
}

func TestEventsForOneUserAreSerialized(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.action(ActionShowHelp)
		}()
	}
	wg.Wait()

	assert.Len(t, h.out.all(), 20)
	assert.Equal(t, 0, h.engine.locks.size())
}

func TestEventsUpdateLastSeen(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)

	h.action(ActionShowHelp)

	user, err := h.store.GetUser(context.Background(), testUser)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, h.now.Unix(), user.LastSeenAt.Unix())
}

func TestDateAndTimeButtonsBeforeTitleDoNotSaveTask(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)
	ctx := context.Background()

	h.action(ActionAddNewTask)
	h.action(ActionDateToday)
	assert.Equal(t, textTitleFirst, h.out.last().Text)
	assert.Equal(t, domain.StateWaitingForTaskTitle, h.state())

	draft, ok := h.engine.drafts.Get(testUser)
	require.True(t, ok)
	assert.False(t, draft.HasDate)

	h.action("TIME_09_00")
	assert.Equal(t, textTitleFirst, h.out.last().Text)
	assert.Equal(t, domain.StateWaitingForTaskTitle, h.state())

	tasks, err := h.store.ListTasks(ctx, testUser, domain.TaskStatusPending)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Empty(t, h.lms.events)
	for _, msg := range h.out.all() {
		assert.NotEqual(t, textApology, msg.Text)
	}

	h.text("Essay draft")
	assert.Equal(t, textDatePicker, h.out.last().Text)
	assert.Equal(t, domain.StateNone, h.state())
}

type failingUserReads struct {
	*store.SQLiteStore
}

func (f failingUserReads) GetUser(context.Context, string) (*domain.User, error) {
	return nil, errors.New("db down")
}

func TestUserReadFailureIsTreatedAsNewUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.connectedUser(t)

	window := timewindow.New(h.loc, timewindow.WithClock(func() time.Time { return h.now }))
	engine := New(DefaultConfig(), failingUserReads{h.store}, h.sync, h.lms, window, nil, WithScheduler(h.sched.after))
	t.Cleanup(engine.Close)

	engine.HandleEvent(context.Background(), h.out, testUser, domain.TextEvent("hi"))

	msgs := h.out.all()
	require.Len(t, msgs, 4)
	assert.Equal(t, []string{ActionPrivacyPolicyRead, ActionPrivacyDecline}, payloads(msgs[3]))
	for _, msg := range msgs {
		assert.NotEqual(t, textApology, msg.Text)
	}

	user, err := h.store.GetUser(context.Background(), testUser)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "1234~abcdefghijkl", user.CanvasToken, "existing record must be left untouched")
}
