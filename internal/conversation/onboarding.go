package conversation

import (
	"errors"
	"fmt"

	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/timewindow"
)

func (e *Engine) greet(t *turn, body string) error {
	if !t.user.IsNew() {
		return e.send(t, mainMenu())
	}
	if err := e.ensureUser(t, body); err != nil {
		return err
	}
	return e.send(t, plain(textIntro), plain(textFeatures), plain(textPrivacyIntro), privacyChoice())
}

func (e *Engine) onGetStarted(t *turn) error {
	return e.greet(t, ActionGetStarted)
}

func (e *Engine) onMainMenu(t *turn) error {
	if err := e.resetDialog(t, ActionMainMenu); err != nil {
		return err
	}
	return e.send(t, mainMenu())
}

func (e *Engine) onPrivacyRead(t *turn) error {
	if err := e.send(t, link(textPrivacyLink, "📜 Privacy Policy", e.cfg.PrivacyPolicyURL)); err != nil {
		return err
	}
	e.sendLater(t, privacyAgreement())
	return nil
}

func (e *Engine) onTermsRead(t *turn) error {
	if err := e.send(t, link(textTermsLink, "⚖️ Terms of Use", e.cfg.TermsOfUseURL)); err != nil {
		return err
	}
	e.sendLater(t, termsAgreement())
	return nil
}

// consentStep advances to state to when the user's current state allows it.
// Otherwise the previous step's prompt is repeated and ok is false.
func (e *Engine) consentStep(t *turn, to domain.ConversationState, trigger string, previous domain.Message) (ok bool, err error) {
	if !t.state.CanTransitionTo(to) {
		e.logger.Info("Consent step out of order",
			"user_id", t.userID,
			"state", t.state,
			"action", trigger)
		return false, e.send(t, previous)
	}
	return true, e.setState(t, to, trigger)
}

func (e *Engine) onPrivacyAgree(t *turn) error {
	ok, err := e.consentStep(t, domain.StatePrivacyAgreed, ActionPrivacyAgree, privacyChoice())
	if !ok || err != nil {
		return err
	}
	return e.send(t, termsConsent())
}

func (e *Engine) onTermsAgree(t *turn) error {
	ok, err := e.consentStep(t, domain.StateTermsAgreed, ActionTermsAgree, privacyAgreement())
	if !ok || err != nil {
		return err
	}
	return e.send(t, finalConsent())
}

func (e *Engine) onFinalConsent(t *turn) error {
	ok, err := e.consentStep(t, domain.StateOnboardingComplete, ActionFinalConsentAgree, termsAgreement())
	if !ok || err != nil {
		return err
	}
	done := true
	if err := e.updateUser(t, domain.UserUpdate{OnboardingCompleted: &done}); err != nil {
		return fmt.Errorf("complete onboarding: %w", err)
	}
	return e.send(t, plain(textConsentComplete), canvasSetup())
}

func awaitToken(prompt string) actionHandler {
	return func(e *Engine, t *turn) error {
		e.drafts.Discard(t.userID)
		if err := e.setState(t, domain.StateWaitingForToken, "token_prompt"); err != nil {
			return err
		}
		return e.send(t, plain(prompt))
	}
}

func (e *Engine) onTokenHelp(t *turn) error {
	return e.send(t,
		plain(textTokenInstructions),
		quick(textTokenVideoOrReady,
			qr("🎥 Watch Video", ActionWatchVideo),
			qr("✅ I have my token", ActionTokenReady),
		),
	)
}

func (e *Engine) onWatchVideo(t *turn) error {
	return e.send(t,
		link(textVideo, "🎥 Watch Tutorial", e.cfg.TutorialVideoURL),
		quick(textAfterVideo,
			qr("✅ Yes, I'm ready", ActionTokenReady),
			qr("❓ Need more help", ActionTokenNeedHelp),
		),
	)
}

// onTokenText handles text typed while waiting for a Canvas token.
func (e *Engine) onTokenText(t *turn, body string) error {
	if isCancel(body) {
		if err := e.setState(t, domain.StateNone, "cancel"); err != nil {
			return err
		}
		return e.send(t, plain(textTokenCancelled), mainMenu())
	}

	token, err := validateToken(body)
	switch {
	case errors.Is(err, errTooShort):
		return e.send(t, plain(textTokenTooShort))
	case errors.Is(err, errTrivial):
		return e.send(t, plain(textTokenTrivial))
	}

	if err := e.send(t, plain(textTokenReceived)); err != nil {
		return err
	}
	e.typing(t)

	v, err := e.lms.ValidateCredential(t.ctx, token)
	if err != nil {
		e.logger.Warn("Canvas token validation failed", "user_id", t.userID, "error", err)
		return e.send(t, plain(textTokenUnreachable))
	}
	if !v.Valid {
		e.logger.Info("Canvas rejected token", "user_id", t.userID, "status", v.Status)
		return e.send(t, plain(invalidTokenText(v.Status)))
	}

	update := domain.UserUpdate{CanvasToken: &token}
	if v.Profile != nil {
		update.CanvasUserID = &v.Profile.ID
		update.CanvasName = &v.Profile.Name
	}
	if err := e.updateUser(t, update); err != nil {
		return fmt.Errorf("store canvas token: %w", err)
	}

	if err := e.send(t, plain(textTokenVerified)); err != nil {
		return err
	}
	if err := e.setState(t, domain.StateTokenVerified, "token_validated"); err != nil {
		return err
	}

	e.typing(t)
	res := e.sync.GetAssignments(t.ctx, t.userID, token, true)
	upcoming := e.window.Apply(res.Assignments, timewindow.BucketAll)

	return e.send(t, preview(upcoming, e.window.Now()), plain(textTokenComplete), premiumChoice())
}

func invalidTokenText(status int) string {
	return fmt.Sprintf("❌ Canvas didn't accept that token (status %d). \n\n"+
		"Please check that you copied the whole token and paste it again, or type 'cancel' to go back.", status)
}
