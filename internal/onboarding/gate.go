// Package onboarding decides whether account setup is incomplete and, if so,
// which step comes next.
package onboarding

import (
	"golang.org/x/text/language"

	"github.com/hamoodtechit/hamoodsoft/internal/session"
)

var supported = []language.Tag{
	language.English,
	language.Bengali,
}

var matcher = language.NewMatcher(supported)

// NextStep returns the path of the next onboarding step, or "" when
// onboarding is complete. It is a pure function of the user record:
// CurrentBusinessID is the sole completion signal, deliberately avoiding a
// server round-trip for a check performed on every navigation.
func NextStep(locale string, user *session.User) string {
	if user != nil && user.CurrentBusinessID != "" {
		return ""
	}
	return "/" + NormalizeLocale(locale) + "/register-business"
}

// NormalizeLocale maps an arbitrary locale tag onto a supported one,
// falling back to English.
func NormalizeLocale(locale string) string {
	if locale == "" {
		return "en"
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return "en"
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return "en"
	}
	base, _ := supported[idx].Base()
	return base.String()
}
