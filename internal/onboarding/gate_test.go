package onboarding_test

import (
	"testing"

	"github.com/hamoodtechit/hamoodsoft/internal/onboarding"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
	_ "github.com/hamoodtechit/hamoodsoft/testing"
)

func TestNextStepForUserWithoutBusiness(t *testing.T) {
	user := &session.User{ID: "u1"}

	if got := onboarding.NextStep("en", user); got != "/en/register-business" {
		t.Fatalf("expected register-business step, got %q", got)
	}
	if got := onboarding.NextStep("bn", user); got != "/bn/register-business" {
		t.Fatalf("expected locale-prefixed step, got %q", got)
	}
}

func TestNextStepCompleteWhenBusinessSet(t *testing.T) {
	user := &session.User{ID: "u1", CurrentBusinessID: "b1"}

	if got := onboarding.NextStep("en", user); got != "" {
		t.Fatalf("expected no step, got %q", got)
	}
}

func TestNextStepNilUserNeedsOnboarding(t *testing.T) {
	if got := onboarding.NextStep("en", nil); got != "/en/register-business" {
		t.Fatalf("expected register-business step, got %q", got)
	}
}

func TestNormalizeLocale(t *testing.T) {
	cases := map[string]string{
		"":      "en",
		"en":    "en",
		"en-US": "en",
		"bn":    "bn",
		"bn-BD": "bn",
		"fr":    "en",
		"??":    "en",
	}
	for input, want := range cases {
		if got := onboarding.NormalizeLocale(input); got != want {
			t.Fatalf("normalize %q: expected %q, got %q", input, want, got)
		}
	}
}
