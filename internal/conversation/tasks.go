package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/easely-bot/internal/canvas"
	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/syncer"
	"github.com/ashureev/easely-bot/internal/timewindow"
)

const (
	textCanvasUnreachable = "⚠️ I couldn't reach Canvas just now, so this list may be out of date."
	textCalendarAdded     = "🗓 It's also on your Canvas calendar."
	textCalendarSkipped   = "💾 Saved in Easely. Connect Canvas to add tasks to your calendar."
	textCalendarFailed    = "⚠️ Saved in Easely, but I couldn't add it to your Canvas calendar."
	textTitleFirst        = "📝 Please type the task title first, or type 'cancel' to go back."
)

// listTasks shows the user's Canvas assignments and pending manual tasks
// that fall in bucket b.
func (e *Engine) listTasks(t *turn, b timewindow.Bucket) error {
	if !t.user.HasToken() {
		return e.send(t, plain(textConnectFirst), canvasSetup())
	}

	e.typing(t)
	force := t.user.LastCanvasSync == nil
	res := e.sync.GetAssignments(t.ctx, t.userID, t.user.CanvasToken, force)

	items := make([]domain.Assignment, 0, len(res.Assignments))
	items = append(items, res.Assignments...)

	tasks, err := e.store.ListTasks(t.ctx, t.userID, domain.TaskStatusPending)
	if err != nil {
		e.logger.Warn("Failed to load manual tasks", "user_id", t.userID, "error", err)
	}
	for _, task := range tasks {
		items = append(items, task.AsAssignment())
	}

	msgs := []domain.Message{taskList(bucketHeaders[b], e.window.Apply(items, b), e.window.Now())}
	if res.Source == syncer.SourceFallback && res.Err != nil {
		msgs = append(msgs, plain(textCanvasUnreachable))
	}
	msgs = append(msgs, mainMenu())
	return e.send(t, msgs...)
}

func (e *Engine) onSyncNow(t *turn) error {
	if !t.user.HasToken() {
		return e.send(t, plain(textConnectFirst), canvasSetup())
	}

	e.typing(t)
	res := e.sync.GetAssignments(t.ctx, t.userID, t.user.CanvasToken, true)

	var msg string
	switch {
	case res.Source == syncer.SourceRemote:
		msg = fmt.Sprintf("🔄 Sync complete! Found %d assignments in Canvas.", len(res.Assignments))
	case res.Err != nil:
		msg = fmt.Sprintf("⚠️ I couldn't reach Canvas right now. Showing your saved assignments (%d).", len(res.Assignments))
	default:
		msg = fmt.Sprintf("📭 Canvas didn't return any assignments. Showing your saved assignments (%d).", len(res.Assignments))
	}
	return e.send(t, plain(msg), mainMenu())
}

func (e *Engine) onAddTask(t *turn) error {
	e.drafts.Start(t.userID, e.window.Now())
	if err := e.setState(t, domain.StateWaitingForTaskTitle, ActionAddNewTask); err != nil {
		return err
	}
	return e.send(t, plain(textTaskStart))
}

func (e *Engine) cancelTask(t *turn) error {
	if err := e.resetDialog(t, "cancel"); err != nil {
		return err
	}
	return e.send(t, plain(textTaskCancelled), mainMenu())
}

func (e *Engine) noDraft(t *turn) error {
	if err := e.resetDialog(t, "no_draft"); err != nil {
		return err
	}
	return e.send(t, plain(textNoDraft), mainMenu())
}

func (e *Engine) onTitleText(t *turn, body string) error {
	if isCancel(body) {
		return e.cancelTask(t)
	}

	title, err := validateTitle(body)
	switch {
	case errors.Is(err, errTooShort):
		return e.send(t, plain(textTitleTooShort))
	case errors.Is(err, errTrivial):
		return e.send(t, plain(textTitleTrivial))
	}

	if !e.drafts.Update(t.userID, func(d *domain.DraftTask) { d.Title = title }) {
		e.drafts.Start(t.userID, e.window.Now()).Title = title
	}
	if err := e.setState(t, domain.StateNone, "title_entered"); err != nil {
		return err
	}
	return e.send(t, datePicker())
}

// onDateChoice handles the date picker buttons.
func (e *Engine) onDateChoice(t *turn, tag string) error {
	draft, ok := e.drafts.Get(t.userID)
	if !ok {
		return e.noDraft(t)
	}
	if draft.Title == "" {
		return e.send(t, plain(textTitleFirst))
	}

	today := e.today()
	var date time.Time
	switch tag {
	case ActionDateToday:
		date = today
	case ActionDateTomorrow:
		date = today.AddDate(0, 0, 1)
	case ActionDateNextWeek:
		date = today.AddDate(0, 0, 7)
	case ActionDateCustom:
		if err := e.setState(t, domain.StateWaitingForCustomDate, tag); err != nil {
			return err
		}
		return e.send(t, plain(textCustomDate))
	default:
		e.logger.Warn("Unknown date choice", "user_id", t.userID, "action", tag)
		return e.send(t, datePicker())
	}
	return e.setDate(t, date, tag)
}

func (e *Engine) onDateText(t *turn, body string) error {
	if isCancel(body) {
		return e.cancelTask(t)
	}

	date, err := parseDate(body, e.window.Location())
	switch {
	case errors.Is(err, errTrivial):
		return e.send(t, plain(textDateTrivial))
	case err != nil:
		return e.send(t, plain(textDateInvalid))
	}

	if _, ok := e.drafts.Get(t.userID); !ok {
		return e.noDraft(t)
	}
	return e.setDate(t, date, "date_entered")
}

// setDate records the draft's date only once the state change succeeds.
func (e *Engine) setDate(t *turn, date time.Time, trigger string) error {
	if err := e.setState(t, domain.StateWaitingForCustomTime, trigger); err != nil {
		return err
	}
	e.drafts.Update(t.userID, func(d *domain.DraftTask) {
		d.Date = date
		d.HasDate = true
	})
	return e.send(t, timePicker())
}

// onTimeChoice handles the time picker buttons. Unknown tags fall back to
// the end of the day.
func (e *Engine) onTimeChoice(t *turn, tag string) error {
	hm, ok := presetTimes[tag]
	if !ok {
		e.logger.Warn("Unknown time choice, using end of day", "user_id", t.userID, "action", tag)
		hm = [2]int{23, 59}
	}
	return e.completeTask(t, hm[0], hm[1])
}

func (e *Engine) onTimeText(t *turn, body string) error {
	if isCancel(body) {
		return e.cancelTask(t)
	}

	hour, minute, err := parseClock(body)
	switch {
	case errors.Is(err, errTrivial):
		return e.send(t, plain(textTimeTrivial))
	case err != nil:
		return e.send(t, plain(textTimeInvalid))
	}
	return e.completeTask(t, hour, minute)
}

// completeTask saves the draft as a task. When the user has a Canvas token
// a calendar entry is attempted once; failing that only changes the
// confirmation text.
func (e *Engine) completeTask(t *turn, hour, minute int) error {
	draft, ok := e.drafts.Get(t.userID)
	if !ok {
		return e.noDraft(t)
	}
	if draft.Title == "" {
		return e.send(t, plain(textTitleFirst))
	}
	if !draft.HasDate {
		return e.send(t, datePicker())
	}
	draft.Hour, draft.Minute, draft.HasTime = hour, minute, true
	due := draft.DueAt(e.window.Location())

	task := &domain.Task{
		UserID:  t.userID,
		Title:   draft.Title,
		DueAt:   due,
		Details: draft.Details,
		Status:  domain.TaskStatusPending,
	}

	note := textCalendarSkipped
	if t.user.HasToken() {
		entry, err := e.lms.CreateCalendarEvent(t.ctx, t.user.CanvasToken, canvas.CalendarEvent{
			Title:       draft.Title,
			StartAt:     due,
			Description: draft.Details,
		})
		if err != nil {
			e.logger.Warn("Failed to create Canvas calendar entry", "user_id", t.userID, "error", err)
			note = textCalendarFailed
		} else {
			task.RemoteEntryID = entry.ID
			note = textCalendarAdded
		}
	}

	if err := e.store.CreateTask(t.ctx, task); err != nil {
		return fmt.Errorf("save task: %w", err)
	}

	e.logger.Info("Task created", "user_id", t.userID, "task_id", task.ID, "calendar", task.RemoteEntryID != "")
	if err := e.resetDialog(t, "task_saved"); err != nil {
		return err
	}

	confirm := fmt.Sprintf("✅ Task added successfully!\n\n📚 %s\n📅 Due: %s at %s\n\n%s",
		task.Title, due.Format("Mon, Jan 2, 2006"), due.Format("3:04 PM"), note)
	return e.send(t, plain(confirm), mainMenu())
}

func (e *Engine) today() time.Time {
	now := e.window.Now()
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
