package conversation

import (
	"strings"

	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/timewindow"
)

// actionTable maps exact action tags to handlers. DATE_ and TIME_ tags are
// routed by prefix in dispatch.
var actionTable = map[string]actionHandler{
	ActionGetStarted:          (*Engine).onGetStarted,
	ActionMainMenu:            (*Engine).onMainMenu,
	ActionPrivacyPolicyRead:   (*Engine).onPrivacyRead,
	ActionPrivacyAgree:        (*Engine).onPrivacyAgree,
	ActionPrivacyDecline:      decline(textPrivacyDeclined),
	ActionTermsRead:           (*Engine).onTermsRead,
	ActionTermsAgree:          (*Engine).onTermsAgree,
	ActionTermsDecline:        decline(textTermsDeclined),
	ActionFinalConsentAgree:   (*Engine).onFinalConsent,
	ActionFinalConsentDecline: decline(textConsentDeclined),
	ActionTokenKnowHow:        awaitToken(textTokenKnowHow),
	ActionTokenReady:          awaitToken(textTokenReady),
	ActionTokenNeedHelp:       (*Engine).onTokenHelp,
	ActionTokenTutorial:       (*Engine).onTokenHelp,
	ActionWatchVideo:          (*Engine).onWatchVideo,
	ActionTasksToday:          listBucket(timewindow.BucketToday),
	ActionTasksWeek:           listBucket(timewindow.BucketWeek),
	ActionTasksOverdue:        listBucket(timewindow.BucketOverdue),
	ActionTasksAll:            listBucket(timewindow.BucketAll),
	ActionSyncNow:             (*Engine).onSyncNow,
	ActionAddNewTask:          (*Engine).onAddTask,
	ActionShowSettings:        (*Engine).onSettings,
	ActionShowHelp:            (*Engine).onHelp,
	ActionShowAbout:           (*Engine).onAbout,
	ActionShowPremium:         (*Engine).onPremium,
	ActionSkipPremium:         (*Engine).onSkipPremium,
}

func (e *Engine) dispatch(t *turn, tag string) error {
	if h, ok := e.actions[tag]; ok {
		return h(e, t)
	}
	switch {
	case strings.HasPrefix(tag, prefixDate):
		return e.onDateChoice(t, tag)
	case strings.HasPrefix(tag, prefixTime):
		return e.onTimeChoice(t, tag)
	}

	e.logger.Warn("Unknown action", "user_id", t.userID, "action", tag)
	return e.send(t, mainMenu())
}

// handleText routes free text: an open sub-dialog takes it first, then
// greetings and first contact, then the fallback.
func (e *Engine) handleText(t *turn, body string) error {
	switch t.state {
	case domain.StateWaitingForToken:
		return e.onTokenText(t, body)
	case domain.StateWaitingForTaskTitle:
		return e.onTitleText(t, body)
	case domain.StateWaitingForCustomDate:
		return e.onDateText(t, body)
	case domain.StateWaitingForCustomTime:
		return e.onTimeText(t, body)
	}

	if isGreeting(body) || t.user == nil {
		return e.greet(t, body)
	}
	return e.send(t, plain(textNotUnderstood), mainMenu())
}

func decline(msg string) actionHandler {
	return func(e *Engine, t *turn) error {
		return e.send(t, plain(msg))
	}
}

func listBucket(b timewindow.Bucket) actionHandler {
	return func(e *Engine, t *turn) error {
		return e.listTasks(t, b)
	}
}
