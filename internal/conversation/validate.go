package conversation

import (
	"errors"
	"strings"
	"time"
)

var (
	greetingWords = map[string]bool{"hi": true, "hello": true, "hey": true, "menu": true, "help": true, "start": true}
	cancelWords   = map[string]bool{"cancel": true, "back": true, "menu": true, "stop": true}
	trivialWords  = map[string]bool{"l": true, "ok": true, "yes": true, "no": true, "hello": true, "hi": true}
)

var (
	errTooShort = errors.New("input too short")
	errTrivial  = errors.New("input is a filler word")
	errFormat   = errors.New("input format not recognized")
)

var dateLayouts = []string{"1/2/2006", "1-2-2006", "1.2.2006", "1/2/06"}

var timeLayouts = []string{"3:04 PM", "15:04", "3 PM", "15"}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func isGreeting(text string) bool { return greetingWords[normalize(text)] }

func isCancel(text string) bool { return cancelWords[normalize(text)] }

func isTrivial(text string) bool { return trivialWords[normalize(text)] }

func validateToken(text string) (string, error) {
	token := strings.TrimSpace(text)
	switch {
	case len(token) < 10:
		return "", errTooShort
	case isTrivial(token):
		return "", errTrivial
	}
	return token, nil
}

func validateTitle(text string) (string, error) {
	title := strings.TrimSpace(text)
	switch {
	case len([]rune(title)) < 2:
		return "", errTooShort
	case isTrivial(title):
		return "", errTrivial
	}
	return title, nil
}

// parseDate accepts month-first dates and returns midnight of that day in loc.
func parseDate(text string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(text)
	if isTrivial(s) || len(s) < 3 {
		return time.Time{}, errTrivial
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errFormat
}

// parseClock accepts 12- and 24-hour clock times and returns hour and minute.
func parseClock(text string) (hour, minute int, err error) {
	s := strings.ToUpper(strings.TrimSpace(text))
	if isTrivial(s) || s == "" {
		return 0, 0, errTrivial
	}
	s = strings.Join(strings.Fields(s), " ")
	for _, suffix := range []string{"AM", "PM"} {
		if strings.HasSuffix(s, suffix) && !strings.HasSuffix(s, " "+suffix) {
			s = strings.TrimSuffix(s, suffix) + " " + suffix
		}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, errFormat
}
