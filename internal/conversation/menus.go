package conversation

import (
	"fmt"

	"github.com/ashureev/easely-bot/internal/domain"
)

func (e *Engine) onSettings(t *turn) error {
	status := "Not connected"
	if t.user.HasToken() {
		status = "Connected"
	}
	return e.send(t, quick(fmt.Sprintf(textSettings, status),
		qr("🔄 Sync Now", ActionSyncNow),
		qr("🔑 Update Token", ActionTokenKnowHow),
		qr("🏠 Main Menu", ActionMainMenu),
	))
}

func (e *Engine) onHelp(t *turn) error {
	return e.send(t, quick(textHelp,
		qr("🏠 Main Menu", ActionMainMenu),
		qr("⚙️ Settings", ActionShowSettings),
		qr("ℹ️ About", ActionShowAbout),
	))
}

func (e *Engine) onAbout(t *turn) error {
	return e.send(t, quick(textAbout,
		qr("🏠 Main Menu", ActionMainMenu),
		qr("❓ Help", ActionShowHelp),
	))
}

func (e *Engine) onPremium(t *turn) error {
	return e.send(t,
		link(textPremium, "💎 Get Premium", e.cfg.PremiumURL),
		quick(textAfterPremium,
			qr("🏠 Main Menu", ActionMainMenu),
			qr("⚙️ Settings", ActionShowSettings),
		),
	)
}

func (e *Engine) onSkipPremium(t *turn) error {
	done := true
	if err := e.updateUser(t, domain.UserUpdate{OnboardingCompleted: &done}); err != nil {
		return fmt.Errorf("complete onboarding: %w", err)
	}
	return e.send(t, plain(textSkipPremium), mainMenu())
}
