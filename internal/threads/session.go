package threads

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/coupuas/threadauto/internal/common"
	"github.com/coupuas/threadauto/internal/logging"
)

// State is the posting lifecycle of a session.
type State int

const (
	StateUnknown State = iota
	StateLoggedOut
	StateLoggedIn
	StateComposing
	StateVerifying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateLoggedIn:
		return "logged_in"
	case StateComposing:
		return "composing"
	case StateVerifying:
		return "verifying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session drives one logged-in Threads tab. Not safe for concurrent use; the
// orchestrator owns it from a single goroutine.
type Session struct {
	page      playwright.Page
	base      string
	account   string
	loginWait time.Duration
	log       logging.Logger
	state     State
}

func NewSession(page playwright.Page, account string, loginWait time.Duration, log logging.Logger) *Session {
	return &Session{
		page:      page,
		account:   account,
		loginWait: loginWait,
		log:       log,
		state:     StateUnknown,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// SetBase records the resolved frontend base URL.
func (s *Session) SetBase(base string) { s.base = base }

// Navigate loads a URL and reports the HTTP status of the main document.
// Implements Navigator for the resolver.
func (s *Session) Navigate(url string, timeout time.Duration) (int, error) {
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return 0, err
	}
	if resp == nil {
		// Same-document navigation; the page is already there.
		return 200, nil
	}
	return resp.Status(), nil
}

func (s *Session) count(selector string) int {
	n, err := s.page.Locator(selector).Count()
	if err != nil {
		return 0
	}
	return n
}

// CheckLoginStatus classifies the current page as logged in or out using
// layered DOM heuristics, strongest signal first.
func (s *Session) CheckLoginStatus(ctx context.Context) bool {
	// A visible credential form is a definite logout.
	if s.count(`input[name="username"], input[type="password"]`) > 0 {
		s.state = StateLoggedOut
		return false
	}
	url := strings.ToLower(s.page.URL())
	if strings.Contains(url, "login") {
		s.state = StateLoggedOut
		return false
	}

	// No signal at all fails closed: an unrecognized layout is treated as
	// logged out rather than risking a compose under no session.
	loggedIn := s.count("article") > 0 ||
		s.count("nav") > 0 ||
		s.count(`a[aria-label*="New"], a[href*="compose"], button[aria-label*="New"]`) > 0 ||
		s.count(`a[aria-label*="Profile"], a[href*="/profile"]`) > 0

	if loggedIn {
		s.state = StateLoggedIn
	} else {
		s.state = StateLoggedOut
	}
	return loggedIn
}

var profileHandleRe = regexp.MustCompile(`/@([a-zA-Z0-9_.]+)`)

// LoggedInUsername discovers whose session the browser holds: first by
// following the nav profile link and reading the handle off the URL, then by
// scraping the settings page. Empty string when neither works.
func (s *Session) LoggedInUsername(ctx context.Context) string {
	returnTo := s.page.URL()

	selectors := []string{
		`a[href*="/@"][role="link"]`,
		`[aria-label*="Profile"]`,
		`a[href*="/@"]:has(img)`,
	}
	for _, sel := range selectors {
		links, err := s.page.Locator(sel).All()
		if err != nil {
			continue
		}
		for _, link := range links {
			href, err := link.GetAttribute("href")
			if err != nil || !strings.Contains(href, "/@") || strings.Contains(href, "/post/") {
				continue
			}
			if err := link.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(5000)}); err != nil {
				continue
			}
			s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: playwright.LoadStateDomcontentloaded})
			if u := UsernameFromProfileURL(s.page.URL()); u != "" {
				s.goBack(returnTo)
				return u
			}
		}
	}

	// Settings fallback: the account section embeds the profile handle.
	if _, err := s.page.Goto(s.base+"/settings/account", playwright.PageGotoOptions{
		Timeout:   playwright.Float(10000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err == nil {
		if content, err := s.page.Content(); err == nil {
			if m := profileHandleRe.FindStringSubmatch(content); m != nil {
				s.goBack(returnTo)
				return m[1]
			}
		}
	}

	s.goBack(returnTo)
	return ""
}

func (s *Session) goBack(url string) {
	_, _ = s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(10000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
}

// loginFlow is the slice of session behaviour the login handshake needs.
// *Session implements it against a live page; tests script it.
type loginFlow interface {
	CheckLoginStatus(ctx context.Context) bool
	LoggedInUsername(ctx context.Context) string
	Logout(ctx context.Context) error
	waitForLogin(ctx context.Context) error
}

// EnsureLogin leaves the session logged in as the configured account. When
// the browser holds someone else's session it logs that account out first.
// When logged out it parks on the login page and polls once a second until
// the user completes the login or loginWait elapses.
func (s *Session) EnsureLogin(ctx context.Context) error {
	return ensureLogin(ctx, s, s.account, s.log)
}

func ensureLogin(ctx context.Context, f loginFlow, account string, log logging.Logger) error {
	if f.CheckLoginStatus(ctx) {
		actual := f.LoggedInUsername(ctx)
		if IdentityMatches(account, actual) {
			log.Info(ctx, "session verified", "account", actual)
			return nil
		}
		log.Warn(ctx, "wrong account in browser session, logging it out",
			"expected", NormalizeHandle(account), "actual", actual)
		if err := f.Logout(ctx); err != nil {
			return fmt.Errorf("%w: could not log out %q", common.ErrAccountMismatch, actual)
		}
	}

	return f.waitForLogin(ctx)
}

// waitForLogin navigates to the login page and waits for a human to finish
// the flow. Interactive on purpose: automating credentials into Threads
// trips its bot detection.
func (s *Session) waitForLogin(ctx context.Context) error {
	if _, err := s.Navigate(s.base+"/login", 15*time.Second); err != nil {
		return fmt.Errorf("opening login page: %w", err)
	}
	s.log.Info(ctx, "waiting for login in browser window", "timeout", s.loginWait, "account", NormalizeHandle(s.account))

	deadline := time.Now().Add(s.loginWait)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				s.state = StateLoggedOut
				return common.ErrLoginTimeout
			}
			if int(remaining.Seconds())%10 == 0 {
				s.log.Info(ctx, "still waiting for login", "remaining", remaining.Round(time.Second))
			}
			if s.CheckLoginStatus(ctx) {
				actual := s.LoggedInUsername(ctx)
				if !IdentityMatches(s.account, actual) {
					return fmt.Errorf("%w: logged in as %q, expected %q",
						common.ErrAccountMismatch, actual, NormalizeHandle(s.account))
				}
				s.log.Info(ctx, "login completed", "account", actual)
				return nil
			}
		}
	}
}

// Logout signs the current account out through the settings page.
func (s *Session) Logout(ctx context.Context) error {
	if _, err := s.Navigate(s.base+"/settings", 15*time.Second); err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}

	logoutSelectors := []string{
		`div[role="button"]:has-text("Log out")`,
		`button:has-text("Log out")`,
		`span:has-text("Log out")`,
		`div[role="button"]:has-text("로그아웃")`,
		`span:has-text("로그아웃")`,
	}
	for _, sel := range logoutSelectors {
		btn := s.page.Locator(sel).First()
		if n, err := btn.Count(); err != nil || n == 0 {
			continue
		}
		if err := btn.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(5000)}); err != nil {
			continue
		}
		// A confirmation dialog may follow.
		for _, confirm := range []string{
			`div[role="dialog"] div[role="button"]:has-text("Log out")`,
			`div[role="dialog"] button:has-text("Log out")`,
			`div[role="dialog"] div[role="button"]:has-text("로그아웃")`,
		} {
			cb := s.page.Locator(confirm).First()
			if n, err := cb.Count(); err == nil && n > 0 {
				_ = cb.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(5000)})
				break
			}
		}
		s.page.WaitForTimeout(2000)
		if !s.CheckLoginStatus(ctx) {
			s.state = StateLoggedOut
			return nil
		}
	}
	return fmt.Errorf("logout control not found")
}

// screenshot captures the page for post-mortem debugging; failures ignored.
func (s *Session) screenshot(name string) {
	path := filepath.Join(screenshotDir(), name+".png")
	_, _ = s.page.Screenshot(playwright.PageScreenshotOptions{Path: playwright.String(path)})
}
