// Package i18n localizes the system announcements pushed on the real-time
// channel. Only announcement strings are localized; error messages stay
// machine-oriented and untranslated.
package i18n

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

var supported = []language.Tag{
	language.AmericanEnglish, // en-US, default
	language.BrazilianPortuguese,
}

var matcher = language.NewMatcher(supported)

// Locale identifies a supported announcement locale.
type Locale int

const (
	// LocaleEnUS is American English, the fallback locale.
	LocaleEnUS Locale = iota
	// LocalePtBR is Brazilian Portuguese.
	LocalePtBR
)

// Match resolves a BCP 47 tag (or Accept-Language list) to a supported locale.
func Match(preferred string) Locale {
	preferred = strings.TrimSpace(preferred)
	if preferred == "" {
		return LocaleEnUS
	}
	_, index := language.MatchStrings(matcher, preferred)
	if index == 1 {
		return LocalePtBR
	}
	return LocaleEnUS
}

// SystemLabel returns the display name of the system author.
func SystemLabel(locale Locale) string {
	if locale == LocalePtBR {
		return "sistema"
	}
	return "system"
}

// FacilitatorLabel returns the display name of the automated facilitator.
func FacilitatorLabel(locale Locale) string {
	if locale == LocalePtBR {
		return "facilitador"
	}
	return "facilitator"
}

// JoinAnnouncement returns the body of the system message pushed when a
// participant joins a discussion.
func JoinAnnouncement(locale Locale, displayName string, title string) string {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = "participant"
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "the discussion"
	}
	if locale == LocalePtBR {
		return fmt.Sprintf("%s entrou em %s.", displayName, title)
	}
	return fmt.Sprintf("%s joined %s.", displayName, title)
}

// LeaveAnnouncement returns the body of the system message pushed when a
// participant leaves a discussion.
func LeaveAnnouncement(locale Locale, displayName string) string {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = "participant"
	}
	if locale == LocalePtBR {
		return fmt.Sprintf("%s saiu da discussão.", displayName)
	}
	return fmt.Sprintf("%s left the discussion.", displayName)
}
