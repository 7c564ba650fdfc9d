package threads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/playwright-community/playwright-go"

	"github.com/coupuas/threadauto/internal/common"
	"github.com/coupuas/threadauto/internal/logging"
	"github.com/coupuas/threadauto/internal/secure"
)

// stateStore is the slice of the vault the browser uses for cookie state.
type stateStore interface {
	Save(name string, value any) error
	Load(name string, value any) error
}

var _ stateStore = (*secure.Vault)(nil)

// Browser owns the Playwright runtime and one browser context whose cookie
// and localStorage state round-trips through the encrypted vault, so a login
// survives restarts without a plaintext profile directory on disk.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	vault    stateStore
	stateKey string
	log      logging.Logger
}

// BrowserOptions configure Launch.
type BrowserOptions struct {
	Headless bool
	// Account names the vault entry holding session state. Each account
	// gets its own browser identity.
	Account string
}

// stateKeyFor derives the vault entry name from the account. The email local
// part keeps one state blob per human-recognizable identity.
func stateKeyFor(account string) string {
	h := NormalizeHandle(account)
	if h == "" {
		h = "default"
	}
	return "browser-state-" + h
}

// Launch starts Playwright, opens a Chromium context seeded with any saved
// session state, and returns a page on about:blank.
func Launch(ctx context.Context, opts BrowserOptions, vault stateStore, log logging.Logger) (*Browser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     []string{"--disable-blink-features=AutomationControlled"},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launching chromium: %w", err)
	}

	b := &Browser{
		pw:       pw,
		browser:  browser,
		vault:    vault,
		stateKey: stateKeyFor(opts.Account),
		log:      log,
	}

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1280, Height: 900},
	}
	if path, err := b.restoreState(ctx); err != nil {
		log.Warn(ctx, "saved browser state unusable, starting fresh", "error", err)
	} else if path != "" {
		defer os.Remove(path)
		ctxOpts.StorageStatePath = playwright.String(path)
	}

	b.context, err = browser.NewContext(ctxOpts)
	if err != nil {
		b.Close(ctx)
		return nil, fmt.Errorf("creating browser context: %w", err)
	}
	b.page, err = b.context.NewPage()
	if err != nil {
		b.Close(ctx)
		return nil, fmt.Errorf("opening page: %w", err)
	}
	return b, nil
}

// Page returns the single page this browser drives.
func (b *Browser) Page() playwright.Page { return b.page }

// restoreState decrypts the saved storage state into a temp file for
// Playwright to consume. Empty path means no saved state.
func (b *Browser) restoreState(ctx context.Context) (string, error) {
	var state json.RawMessage
	err := b.vault.Load(b.stateKey, &state)
	if errors.Is(err, common.ErrorNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "threadauto-state-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(state); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	b.log.Debug(ctx, "browser state restored", "key", b.stateKey)
	return f.Name(), nil
}

// PersistState writes the live session state back into the vault. Called on
// every teardown path so a login done mid-batch is never lost.
func (b *Browser) PersistState(ctx context.Context) error {
	if b.context == nil {
		return nil
	}
	state, err := b.context.StorageState()
	if err != nil {
		return fmt.Errorf("reading storage state: %w", err)
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := b.vault.Save(b.stateKey, json.RawMessage(raw)); err != nil {
		return fmt.Errorf("saving browser state: %w", err)
	}
	b.log.Debug(ctx, "browser state persisted", "key", b.stateKey)
	return nil
}

// Close persists state and tears the stack down in reverse order. Safe to
// call on a partially constructed Browser.
func (b *Browser) Close(ctx context.Context) {
	if err := b.PersistState(ctx); err != nil {
		b.log.Warn(ctx, "persisting browser state on close failed", "error", err)
	}
	if b.context != nil {
		if err := b.context.Close(); err != nil {
			b.log.Warn(ctx, "closing browser context failed", "error", err)
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			b.log.Warn(ctx, "closing browser failed", "error", err)
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			b.log.Warn(ctx, "stopping playwright failed", "error", err)
		}
	}
}

// screenshotDir is where failure screenshots land; best effort.
func screenshotDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(dir, "threadauto")
}
