// Package enrich derives rule attributes from raw request metadata before
// an event is evaluated, so conditions stay pure functions of the event.
package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mssola/useragent"

	"warden/internal/abuse/models"
)

// Attribute names produced by UserAgent.
const (
	AttrUABot          = "ua_bot"
	AttrUAMobile       = "ua_mobile"
	AttrUABrowser      = "ua_browser"
	AttrUABrowserMajor = "ua_browser_major"
	AttrUAOS           = "ua_os"
	AttrUAFingerprint  = "ua_fingerprint"
	AttrUAMissing      = "ua_missing"
)

// UserAgent parses user agent strings into event attributes.
type UserAgent struct{}

func NewUserAgent() *UserAgent {
	return &UserAgent{}
}

// Attributes returns the derived attributes for a user agent string.
// An empty string yields only ua_missing=true.
func (u *UserAgent) Attributes(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{AttrUAMissing: true}
	}

	ua := useragent.New(raw)
	browser, version := ua.Browser()
	browser = normalize(browser)
	os := normalize(ua.OS())

	majorVersion := "unknown"
	if major, _, _ := strings.Cut(version, "."); major != "" {
		majorVersion = major
	}
	platform := "desktop"
	if ua.Mobile() {
		platform = "mobile"
	}

	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s|%s", browser, majorVersion, os, platform))
	return map[string]any{
		AttrUAMissing:      false,
		AttrUABot:          ua.Bot(),
		AttrUAMobile:       ua.Mobile(),
		AttrUABrowser:      browser,
		AttrUABrowserMajor: majorVersion,
		AttrUAOS:           os,
		AttrUAFingerprint:  hex.EncodeToString(sum[:]),
	}
}

// Enrich returns a copy of ev carrying the user agent attributes.
// Attributes already supplied by the caller are kept.
func (u *UserAgent) Enrich(ev *models.Event) *models.Event {
	return ev.WithAttributes(u.Attributes(ev.UserAgent))
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
