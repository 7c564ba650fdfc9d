package threads

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/coupuas/threadauto/internal/generate"
)

const textareaSelector = `textarea, div[contenteditable="true"]`

func (s *Session) textareaCount() int {
	return s.count(textareaSelector)
}

// emptyTextareaIndex finds the last paragraph slot without content, -1 when
// all slots are filled. Last rather than first: the UI may reshuffle earlier
// slots, and the freshly grown slot is always at the tail.
func (s *Session) emptyTextareaIndex() int {
	areas := s.page.Locator(textareaSelector)
	n, err := areas.Count()
	if err != nil {
		return -1
	}
	for i := n - 1; i >= 0; i-- {
		text, err := areas.Nth(i).InnerText()
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			return i
		}
	}
	return -1
}

// typeParagraph fills slot index with text. requireEmpty refuses to touch a
// slot that already has content, protecting earlier paragraphs from being
// overwritten when the UI reshuffles slots.
func (s *Session) typeParagraph(text string, index int, requireEmpty bool) error {
	area := s.page.Locator(textareaSelector).Nth(index)
	if requireEmpty {
		existing, err := area.InnerText()
		if err != nil {
			return fmt.Errorf("reading slot %d: %w", index, err)
		}
		if strings.TrimSpace(existing) != "" {
			return fmt.Errorf("slot %d already has content", index)
		}
	}
	if err := area.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(5000)}); err != nil {
		return fmt.Errorf("focusing slot %d: %w", index, err)
	}
	if err := area.Fill(text); err != nil {
		// contenteditable divs sometimes reject Fill; typing always works.
		if err := area.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
			Delay: playwright.Float(10),
		}); err != nil {
			return fmt.Errorf("typing into slot %d: %w", index, err)
		}
	}
	return nil
}

// openComposer clicks the new-thread control and waits for the first
// paragraph slot to appear. A logged-out interstitial aborts.
func (s *Session) openComposer(ctx context.Context) error {
	selectors := []string{
		`a[aria-label*="New"]`,
		`a[href*="compose"]`,
		`button[aria-label*="New"]`,
		`svg[aria-label*="New"]`,
	}
	clicked := false
	for _, sel := range selectors {
		btn := s.page.Locator(sel).First()
		if n, err := btn.Count(); err != nil || n == 0 {
			continue
		}
		if err := btn.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(5000)}); err != nil {
			continue
		}
		clicked = true
		break
	}
	if !clicked {
		return fmt.Errorf("new thread control not found")
	}

	if err := s.page.Locator(textareaSelector).First().WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(10000),
	}); err != nil {
		return fmt.Errorf("composer did not open: %w", err)
	}
	if !s.CheckLoginStatus(ctx) {
		return fmt.Errorf("session logged out while opening composer")
	}
	s.state = StateComposing
	return nil
}

// clickAddToThread grows the composer by one paragraph slot. Precise text
// selectors first, broad clickable-element selectors with label filtering
// last.
func (s *Session) clickAddToThread(ctx context.Context) error {
	type candidate struct {
		selector string
		strict   bool
	}
	candidates := []candidate{
		{`text=Add to thread`, false},
		{`text=스레드에 추가`, false},
		{`div:has-text("Add to thread")`, false},
		{`span:has-text("Add to thread")`, false},
		{`button:has-text("Add to thread")`, false},
		{`div:has-text("스레드에 추가")`, false},
		{`span:has-text("스레드에 추가")`, false},
		// Broad fallbacks need a positive label match.
		{`div[role="button"]`, true},
		{`div[tabindex="0"]`, true},
		{`form div[role="button"]`, true},
	}

	for _, c := range candidates {
		els, err := s.page.Locator(c.selector).All()
		if err != nil {
			continue
		}
		for _, el := range els {
			label, err := el.InnerText()
			if err != nil {
				continue
			}
			if !AcceptAddAffordance(label, c.strict) {
				continue
			}
			if err := el.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(3000)}); err != nil {
				continue
			}
			s.page.WaitForTimeout(1500)
			return nil
		}
	}
	s.screenshot("add-to-thread-miss")
	return fmt.Errorf("add-to-thread control not found")
}

// attachMedia uploads a local image into the current paragraph through the
// composer's file input.
func (s *Session) attachMedia(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	input := s.page.Locator(`input[type="file"][accept*="image"]`)
	if n, err := input.Count(); err != nil || n == 0 {
		return fmt.Errorf("file input not found")
	}
	if err := input.First().SetInputFiles(abs); err != nil {
		return fmt.Errorf("attaching %s: %w", path, err)
	}
	s.page.WaitForTimeout(3000)
	return nil
}

// ComposeThread writes every paragraph of the payload into the composer and
// publishes it. The browser must already be logged in.
func (s *Session) ComposeThread(ctx context.Context, payload generate.PostPayload) error {
	if len(payload.Paragraphs) == 0 {
		return fmt.Errorf("empty payload")
	}

	if err := s.openComposer(ctx); err != nil {
		s.state = StateFailed
		return err
	}

	first := payload.Paragraphs[0]
	if err := s.typeParagraph(first.Text, 0, false); err != nil {
		s.state = StateFailed
		return err
	}
	if first.MediaPath != "" {
		if err := s.attachMedia(first.MediaPath); err != nil {
			// Media is decoration; the text still goes out.
			s.log.Warn(ctx, "media attach failed, posting text only", "error", err)
		}
	}

	// Cancellation is deliberately not checked here: once composition has
	// started the whole thread goes out or fails as a unit, never half.
	for i := 1; i < len(payload.Paragraphs); i++ {
		expected := i + 1

		// The UI sometimes grows a slot on its own after typing.
		if s.textareaCount() < expected {
			s.page.WaitForTimeout(1000)
		}
		if s.textareaCount() < expected {
			if err := s.clickAddToThread(ctx); err != nil {
				s.state = StateFailed
				return fmt.Errorf("paragraph %d: %w", expected, err)
			}
			if s.textareaCount() < expected {
				s.state = StateFailed
				s.screenshot(fmt.Sprintf("slot-missing-%d", expected))
				return fmt.Errorf("paragraph %d: slot did not appear", expected)
			}
		}

		target := s.emptyTextareaIndex()
		if target < 0 {
			target = s.textareaCount() - 1
		}
		if err := s.typeParagraph(payload.Paragraphs[i].Text, target, true); err != nil {
			// Try any other empty slot before giving up; never overwrite.
			typed := false
			for alt := 0; alt < s.textareaCount(); alt++ {
				if alt == target {
					continue
				}
				if s.typeParagraph(payload.Paragraphs[i].Text, alt, true) == nil {
					typed = true
					break
				}
			}
			if !typed {
				s.state = StateFailed
				return fmt.Errorf("paragraph %d: no empty slot accepted input", expected)
			}
		}
	}

	if err := s.publish(ctx); err != nil {
		s.state = StateFailed
		return err
	}
	if err := s.verifyPublished(ctx); err != nil {
		s.state = StateFailed
		return err
	}
	s.state = StateDone
	return nil
}

var publishLabels = []string{"Post", "게시", "게시하기"}

// bottomPublishControl picks the lowest on-screen control whose exact label
// is a publish label. The composer renders the real publish button at the
// dialog's bottom edge; higher duplicates belong to the feed behind it.
func (s *Session) bottomPublishControl() playwright.Locator {
	els, err := s.page.Locator(`div[role="button"], button`).All()
	if err != nil {
		return nil
	}
	var best playwright.Locator
	bestY := -1.0
	for _, el := range els {
		text, err := el.InnerText()
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		match := false
		for _, l := range publishLabels {
			if text == l {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		box, err := el.BoundingBox()
		if err != nil || box == nil || box.Width <= 0 || box.Height <= 0 {
			continue
		}
		if box.Y > bestY {
			bestY = box.Y
			best = el
		}
	}
	return best
}

// publish fires the publish action, falling through four strategies: a
// normal click on the bottom-most publish control, a DOM-synthesized click,
// a forced click that ignores overlay hit-testing, and finally the keyboard
// shortcut.
func (s *Session) publish(ctx context.Context) error {
	s.state = StateVerifying

	if btn := s.bottomPublishControl(); btn != nil {
		if err := btn.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(5000)}); err == nil {
			s.page.WaitForTimeout(5000)
			return nil
		}
	}

	script := `() => {
		const els = document.querySelectorAll('div[role="button"], button');
		let best = null, bestY = -1;
		for (const el of els) {
			const text = (el.innerText || '').trim();
			if (text !== 'Post' && text !== '게시' && text !== '게시하기') continue;
			const r = el.getBoundingClientRect();
			if (r.width <= 0 || r.height <= 0) continue;
			if (r.y > bestY) { bestY = r.y; best = el; }
		}
		if (!best) return false;
		best.scrollIntoView({block: 'center'});
		best.click();
		best.dispatchEvent(new MouseEvent('click', {bubbles: true, cancelable: true, view: window}));
		return true;
	}`
	if clicked, err := s.page.Evaluate(script); err == nil {
		if ok, _ := clicked.(bool); ok {
			s.page.WaitForTimeout(5000)
			return nil
		}
	}

	if btn := s.bottomPublishControl(); btn != nil {
		if err := btn.Click(playwright.LocatorClickOptions{
			Force:   playwright.Bool(true),
			Timeout: playwright.Float(5000),
		}); err == nil {
			s.page.WaitForTimeout(5000)
			return nil
		}
	}

	areas := s.page.Locator(textareaSelector)
	if n, err := areas.Count(); err == nil && n > 0 {
		_ = areas.Last().Focus()
	}
	if err := s.page.Keyboard().Press("Control+Enter"); err != nil {
		s.screenshot("publish-miss")
		return fmt.Errorf("publish control not reachable: %w", err)
	}
	s.page.WaitForTimeout(5000)
	return nil
}

// verifyPublished confirms the post went out: up to three polls two seconds
// apart, each requiring both signals at once: the publish control and any
// dialog overlay gone, and the page URL off the compose route. A click that
// silently no-ops keeps either signal alive and the item fails rather than
// committing quota for a phantom post.
func (s *Session) verifyPublished(ctx context.Context) error {
	for attempt := 0; attempt < 3; attempt++ {
		postVisible := s.count(`div[role="button"]:has-text("Post"), div[role="button"]:has-text("게시")`) > 0
		dialogOpen := s.count(`div[role="dialog"]`) > 0
		onComposeRoute := strings.Contains(strings.ToLower(s.page.URL()), "/compose")
		if !postVisible && !dialogOpen && !onComposeRoute {
			return nil
		}
		if attempt < 2 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	s.screenshot("verify-miss")
	return fmt.Errorf("publication not confirmed")
}
