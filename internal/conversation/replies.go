package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/easely-bot/internal/domain"
	"github.com/ashureev/easely-bot/internal/timewindow"
)

// Action tags.
const (
	ActionGetStarted          = "GET_STARTED"
	ActionMainMenu            = "MAIN_MENU"
	ActionPrivacyPolicyRead   = "PRIVACY_POLICY_READ"
	ActionPrivacyAgree        = "PRIVACY_AGREE"
	ActionPrivacyDecline      = "PRIVACY_DECLINE"
	ActionTermsRead           = "TERMS_READ"
	ActionTermsAgree          = "TERMS_AGREE"
	ActionTermsDecline        = "TERMS_DECLINE"
	ActionFinalConsentAgree   = "FINAL_CONSENT_AGREE"
	ActionFinalConsentDecline = "FINAL_CONSENT_DECLINE"
	ActionTokenKnowHow        = "TOKEN_KNOW_HOW"
	ActionTokenNeedHelp       = "TOKEN_NEED_HELP"
	ActionTokenReady          = "TOKEN_READY"
	ActionTokenTutorial       = "TOKEN_TUTORIAL"
	ActionWatchVideo          = "WATCH_VIDEO"
	ActionTasksToday          = "GET_TASKS_TODAY"
	ActionTasksWeek           = "GET_TASKS_WEEK"
	ActionTasksOverdue        = "GET_TASKS_OVERDUE"
	ActionTasksAll            = "GET_TASKS_ALL"
	ActionSyncNow             = "SYNC_NOW"
	ActionAddNewTask          = "ADD_NEW_TASK"
	ActionShowSettings        = "SHOW_SETTINGS"
	ActionShowHelp            = "SHOW_HELP"
	ActionShowAbout           = "SHOW_ABOUT"
	ActionShowPremium         = "SHOW_PREMIUM"
	ActionSkipPremium         = "SKIP_PREMIUM"

	prefixDate = "DATE_"
	prefixTime = "TIME_"

	ActionDateToday    = "DATE_TODAY"
	ActionDateTomorrow = "DATE_TOMORROW"
	ActionDateNextWeek = "DATE_NEXT_WEEK"
	ActionDateCustom   = "DATE_CUSTOM"
)

const maxListedTasks = 10

// Canned replies.
const (
	textApology       = "Sorry, something went wrong. Please try again."
	textNotUnderstood = "I didn't understand that. Type 'menu' to see available options or 'help' for assistance."
	textMainMenu      = "Welcome to Easely! What would you like to do?"

	textIntro = "Hi! I'm Easely, your personal Canvas assistant. 🎨\n\n" +
		"I help students stay organized with assignments, deadlines, and study planning."
	textFeatures = "Here are my features:\n\n" +
		"🔥 Free Features:\n" +
		"• View tasks due Today/This Week/Overdue\n" +
		"• Basic Canvas sync (import assignments)\n" +
		"• Add manual tasks (limited)\n" +
		"• Reminders and quick actions\n\n" +
		"💎 Premium Features:\n" +
		"• Enhanced reminders (multiple alerts)\n" +
		"• Unlimited manual tasks\n" +
		"• AI-powered study planning\n" +
		"• Weekly digest reports"
	textPrivacyIntro  = "🔒 To get started, please review our Privacy Policy to understand how we protect your data."
	textPrivacyChoose = "When you're ready, choose an option:"
	textPrivacyLink   = "Please review our Privacy Policy. It explains how we protect your data and integrate with Canvas."
	textPrivacyAsk    = "🔒 Have you reviewed our Privacy Policy? Do you agree to proceed?"
	textTermsConsent  = "✅ Great! You've agreed to our Privacy Policy.\n\n" +
		"Now, please review our Terms of Use, which outline how to use Easely responsibly."
	textTermsLink    = "Please review our Terms of Use. This covers your responsibilities and our service terms."
	textTermsAsk     = "⚖️ Have you reviewed our Terms of Use? Do you agree to proceed?"
	textFinalConsent = "✅ Excellent! You've reviewed our Terms of Use.\n\n" +
		"🤝 By proceeding, you confirm that you:\n" +
		"• Agree to our Privacy Policy\n" +
		"• Accept our Terms of Use\n" +
		"• Consent to Easely accessing your Canvas data\n\n" +
		"Ready to get started?"
	textPrivacyDeclined = "I understand. Unfortunately, I can't help you without accepting our privacy policy. " +
		"Feel free to return anytime if you change your mind! 👋"
	textTermsDeclined = "I understand. Unfortunately, I can't help you without accepting our terms of use. " +
		"Feel free to return anytime if you change your mind! 👋"
	textConsentDeclined = "I understand. Unfortunately, I can't provide my services without your consent. " +
		"Feel free to return anytime if you change your mind! 👋"
	textConsentComplete = "🎉 Great! Now let's connect you to Canvas so I can help manage your assignments and deadlines."
	textCanvasSetup     = "🎨 Canvas Setup\n\n" +
		"To sync your assignments and deadlines, I need your Canvas Access Token. \n\n" +
		"Do you know how to generate a Canvas Access Token?"

	textTokenKnowHow = "🔑 Perfect! Please paste your Canvas Access Token here. \n\n" +
		"⚠️ Make sure to keep it secure and don't share it with anyone else!"
	textTokenReady = "🔑 Excellent! Please paste your Canvas Access Token here:\n\n" +
		"It should look something like: 1234~abcd1234efgh5678...\n\n" +
		"🔒 Your token will be stored securely."
	textTokenInstructions = "📚 Here's how to get your Canvas Access Token:\n\n" +
		"1️⃣ Log into your Canvas account\n" +
		"2️⃣ Click on Account → Settings\n" +
		"3️⃣ Scroll down to 'Approved Integrations'\n" +
		"4️⃣ Click '+ New Access Token'\n" +
		"5️⃣ Enter 'Easely Bot' as the purpose\n" +
		"6️⃣ Leave expiry date blank (never expires)\n" +
		"7️⃣ Click 'Generate Token'\n" +
		"8️⃣ Copy the token immediately\n\n" +
		"⚠️ IMPORTANT: Save the token before closing the dialog - you won't see it again!"
	textTokenVideoOrReady = "Would you like to watch a video tutorial or do you have your token ready?"
	textVideo             = "🎥 Here's a step-by-step video showing exactly how to generate your Canvas token:"
	textAfterVideo        = "After watching the video, do you have your token ready?"
	textTokenCancelled    = "Token setup cancelled. You can try again anytime!"
	textTokenTooShort     = "🚫 That doesn't look like a valid Canvas token. Canvas tokens are usually much longer.\n\n" +
		"Please paste your full Canvas Access Token, or type 'cancel' to go back."
	textTokenTrivial = "🤔 That doesn't look like a Canvas token. \n\n" +
		"Canvas tokens look like: '1234~abcd1234efgh5678ijkl9012...'\n\n" +
		"Please paste your Canvas Access Token, or type 'cancel' to go back."
	textTokenReceived    = "✅ Token received! Validating with Canvas..."
	textTokenUnreachable = "⚠️ I couldn't reach Canvas to check that token. " +
		"Please paste it again in a moment, or type 'cancel' to go back."
	textTokenVerified = "✅ Token verified! Syncing your Canvas data..."
	textTokenComplete = "🎉 Awesome! Your Canvas integration is complete!\n\n" +
		"I can now help you stay on top of your assignments and deadlines. " +
		"Would you like to see what Easely Premium offers?"
	textNextStep = "Choose your next step:"

	textConnectFirst = "🔗 Please connect your Canvas account first so I can fetch your assignments."

	textTaskStart     = "Let's add a new task! What's the title of your task?"
	textTaskCancelled = "Task creation cancelled. You can try again anytime!"
	textTitleTooShort = "🤔 That's a bit short for a task title. \n\n" +
		"Please enter a descriptive title for your task (e.g., 'Math Homework Chapter 5'), or type 'cancel' to go back."
	textTitleTrivial = "🤔 That doesn't look like a task title. \n\n" +
		"Please enter a descriptive title for your task (e.g., 'Math Homework Chapter 5'), or type 'cancel' to go back."
	textDatePicker  = "What day is this task for?"
	textCustomDate  = "Please enter the date (format: MM/DD/YYYY):"
	textDateTrivial = "🤔 That doesn't look like a date. \n\n" +
		"Please enter a date in MM/DD/YYYY format (e.g., '12/25/2024'), or type 'cancel' to go back."
	textDateInvalid = "📅 Invalid date format. \n\n" +
		"Please enter a date in MM/DD/YYYY format (e.g., '12/25/2024'), or type 'cancel' to go back."
	textTimePicker  = "What time is the deadline? You can select a preset or type a specific time (e.g., '2:30 PM')"
	textTimeTrivial = "🤔 That doesn't look like a time. \n\n" +
		"Please enter a time in format like '2:30 PM', '14:30', or '11:59 PM', or type 'cancel' to go back."
	textTimeInvalid = "🕰️ Invalid time format. \n\n" +
		"Please enter a time like '2:30 PM', '14:30', or '11:59 PM', or type 'cancel' to go back."
	textNoDraft = "There's no task in progress. Tap 'Add Task' to start a new one."

	textSettings = "⚙️ Settings & Preferences\n\n" +
		"Current Settings:\n" +
		"📧 Notifications: Enabled\n" +
		"⏰ Reminder Time: 2 hours before\n" +
		"🎯 Canvas Sync: %s\n" +
		"💎 Plan: Free (5 tasks/month)\n\n" +
		"Contact support for changes."
	textHelp = "❓ Help & Support\n\n" +
		"Here's what I can help you with:\n\n" +
		"📝 Task Management:\n" +
		"• View due dates and assignments\n" +
		"• Add custom tasks and reminders\n" +
		"• Track overdue items\n\n" +
		"🔗 Canvas Integration:\n" +
		"• Sync with Canvas LMS\n" +
		"• Auto-import assignments\n" +
		"• Real-time updates\n\n" +
		"💬 Just say 'hello' or 'menu' anytime!"
	textAbout = "ℹ️ About Easely Bot\n\n" +
		"I'm your personal Canvas LMS assistant! 🎨\n\n" +
		"Version: 1.0.0\n" +
		"Created to help students manage:\n" +
		"• Assignment deadlines\n" +
		"• Study schedules\n" +
		"• Academic tasks\n\n" +
		"I integrate directly with Canvas to keep you organized and on track! 📚"
	textPremium = "💎 Easely Premium Features\n\n" +
		"Upgrade for advanced features:\n\n" +
		"🔔 Enhanced Reminders\n" +
		"• Multiple alerts (1w, 3d, 1d, 8h, 2h, 1h)\n" +
		"• Smart notification timing\n\n" +
		"📝 Unlimited Tasks\n" +
		"• Add as many custom tasks as you need\n" +
		"• Full Canvas integration\n\n" +
		"🤖 AI Study Planning\n" +
		"• Personalized study schedules\n" +
		"• Workload optimization\n\n" +
		"📊 Analytics & Reports\n" +
		"• Weekly progress summaries\n" +
		"• Performance insights\n\n" +
		"💰 Only $4.99/month\n" +
		"Cancel anytime. 7-day free trial!"
	textAfterPremium = "Ready to explore your tasks?"
	textSkipPremium  = "🎉 Perfect! You're all set up!\n\n" +
		"I'm ready to help you stay organized with your Canvas assignments. " +
		"You can always upgrade to Premium later for advanced features.\n\n" +
		"Let's get started! 📚"
)

func plain(s string) domain.Message {
	return domain.Message{Text: s}
}

func quick(s string, replies ...domain.QuickReply) domain.Message {
	return domain.Message{Text: s, QuickReplies: replies}
}

func qr(title, payload string) domain.QuickReply {
	return domain.QuickReply{Title: title, Payload: payload}
}

func link(s, title, url string) domain.Message {
	return domain.Message{Text: s, Buttons: []domain.LinkButton{{Title: title, URL: url}}}
}

func mainMenu() domain.Message {
	return quick(textMainMenu,
		qr("Due Today", ActionTasksToday),
		qr("This Week", ActionTasksWeek),
		qr("Overdue", ActionTasksOverdue),
		qr("Upcoming", ActionTasksAll),
		qr("Add Task", ActionAddNewTask),
	)
}

func privacyChoice() domain.Message {
	return quick(textPrivacyChoose,
		qr("📜 Privacy Policy", ActionPrivacyPolicyRead),
		qr("❌ Not now", ActionPrivacyDecline),
	)
}

func privacyAgreement() domain.Message {
	return quick(textPrivacyAsk,
		qr("✅ I Agree", ActionPrivacyAgree),
		qr("❌ No Thanks", ActionPrivacyDecline),
	)
}

func termsConsent() domain.Message {
	return quick(textTermsConsent,
		qr("⚖️ Terms of Use", ActionTermsRead),
		qr("❌ Not now", ActionTermsDecline),
	)
}

func termsAgreement() domain.Message {
	return quick(textTermsAsk,
		qr("✅ I Agree", ActionTermsAgree),
		qr("❌ No Thanks", ActionTermsDecline),
	)
}

func finalConsent() domain.Message {
	return quick(textFinalConsent,
		qr("✅ Yes, let's go!", ActionFinalConsentAgree),
		qr("❌ No, not now", ActionFinalConsentDecline),
	)
}

func canvasSetup() domain.Message {
	return quick(textCanvasSetup,
		qr("✅ Yes, I know how", ActionTokenKnowHow),
		qr("❓ No, I need help", ActionTokenNeedHelp),
	)
}

func premiumChoice() domain.Message {
	return quick(textNextStep,
		qr("💎 Learn More", ActionShowPremium),
		qr("📚 Start Using Free", ActionSkipPremium),
	)
}

func datePicker() domain.Message {
	return quick(textDatePicker,
		qr("Today", ActionDateToday),
		qr("Tomorrow", ActionDateTomorrow),
		qr("Next Week", ActionDateNextWeek),
		qr("Choose Date...", ActionDateCustom),
	)
}

func timePicker() domain.Message {
	return quick(textTimePicker,
		qr("9:00 AM", "TIME_09_00"),
		qr("12:00 PM", "TIME_12_00"),
		qr("3:00 PM", "TIME_15_00"),
		qr("5:00 PM", "TIME_17_00"),
		qr("11:59 PM", "TIME_23_59"),
	)
}

// presetTimes maps time picker tags to hour and minute.
var presetTimes = map[string][2]int{
	"TIME_09_00": {9, 0},
	"TIME_12_00": {12, 0},
	"TIME_15_00": {15, 0},
	"TIME_17_00": {17, 0},
	"TIME_23_59": {23, 59},
}

var bucketHeaders = map[timewindow.Bucket]string{
	timewindow.BucketToday:   "🔥 Tasks Due Today",
	timewindow.BucketWeek:    "⏰ Tasks Due This Week",
	timewindow.BucketOverdue: "❗️ Overdue Tasks",
	timewindow.BucketAll:     "🗓 All Upcoming Tasks",
}

// formatDue renders a due time relative to now, both in now's zone.
func formatDue(due, now time.Time) string {
	due = due.In(now.Location())
	clock := due.Format("3:04 PM")

	dy, dm, dd := due.Date()
	ny, nm, nd := now.Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, now.Location())
	day := time.Date(dy, dm, dd, 0, 0, 0, 0, now.Location())

	switch {
	case day.Equal(today):
		return "Today at " + clock
	case day.Equal(today.AddDate(0, 0, 1)):
		return "Tomorrow at " + clock
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday at " + clock
	case dy == ny:
		return due.Format("Mon, Jan 2") + " at " + clock
	default:
		return due.Format("Mon, Jan 2, 2006") + " at " + clock
	}
}

func taskList(header string, items []domain.Assignment, now time.Time) domain.Message {
	if len(items) == 0 {
		return plain(header + "\n\n✨ No tasks found!")
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")

	for i, a := range items {
		if i == maxListedTasks {
			break
		}
		course := a.CourseName
		if course == "" {
			course = "Personal"
		}
		fmt.Fprintf(&b, "📚 %s\n   Course: %s\n   Due: %s\n\n", a.Title, course, formatDue(*a.DueAt, now))
	}
	if len(items) > maxListedTasks {
		fmt.Fprintf(&b, "... and %d more tasks", len(items)-maxListedTasks)
	}
	return plain(strings.TrimRight(b.String(), "\n"))
}

func preview(items []domain.Assignment, now time.Time) domain.Message {
	if len(items) == 0 {
		return plain("📚 No upcoming assignments found in Canvas right now. I'll keep checking for you!")
	}
	var b strings.Builder
	b.WriteString("📚 Your upcoming assignments:\n\n")
	for i, a := range items {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "%d. %s - Due %s\n", i+1, a.Title, formatDue(*a.DueAt, now))
	}
	if len(items) > 3 {
		fmt.Fprintf(&b, "\n...and %d more.", len(items)-3)
	}
	return plain(strings.TrimRight(b.String(), "\n"))
}
