// Package cli wires the configuration, storage, backend client and browser
// automation into the threadauto commands.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/coupuas/threadauto/internal/backend"
	"github.com/coupuas/threadauto/internal/common"
	"github.com/coupuas/threadauto/internal/config"
	"github.com/coupuas/threadauto/internal/history"
	"github.com/coupuas/threadauto/internal/logging"
	"github.com/coupuas/threadauto/internal/secure"
)

const tokenEntry = "backend-token"

// App carries the pieces every command needs.
type App struct {
	cfg   *config.Config
	log   logging.Logger
	vault *secure.Vault
}

func newApp(verbose bool) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	log := logging.NewStderrLogger(verbose)

	return &App{
		cfg:   cfg,
		log:   log,
		vault: secure.NewVault(cfg.DataDir, vaultSecret(cfg.Account)),
	}, nil
}

// vaultSecret derives the local encryption secret. It binds stored state to
// this machine and account so a copied data dir is useless elsewhere.
func vaultSecret(account string) []byte {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return []byte("threadauto:" + host + ":" + strings.ToLower(strings.TrimSpace(account)))
}

// openHistory opens the upload-history database, running migrations.
func (a *App) openHistory(ctx context.Context) (*history.SQLiteRepository, *sql.DB, error) {
	return history.InitDatabase(ctx, a.cfg.HistoryDSN)
}

// backendClient builds the quota client and restores any saved session.
func (a *App) backendClient(ctx context.Context) *backend.Client {
	client := backend.New(a.cfg.BackendURL, a.log, backend.WithTimeout(a.cfg.BackendTimeout))

	var tok backend.SessionToken
	err := a.vault.Load(tokenEntry, &tok)
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		a.log.Warn(ctx, "saved session unreadable", "error", err)
	case tok.ExpiredAt(time.Now()):
		a.log.Info(ctx, "saved session expired", "user", tok.UserID)
	default:
		client.SetToken(tok)
	}
	return client
}

// ensureBackendLogin makes sure the client holds a live session, prompting
// for credentials when it does not.
func (a *App) ensureBackendLogin(ctx context.Context, client *backend.Client) error {
	if tok := client.Token(); tok.Valid() && !tok.ExpiredAt(time.Now()) {
		if err := client.Heartbeat(ctx, "session check"); err == nil {
			return nil
		}
		a.log.Info(ctx, "saved session rejected, logging in again")
	}

	username, password, err := promptCredentials(a.cfg.Account)
	if err != nil {
		return err
	}
	tok, err := client.Login(ctx, username, password)
	if err != nil {
		return err
	}
	if err := a.vault.Save(tokenEntry, tok); err != nil {
		a.log.Warn(ctx, "saving session failed", "error", err)
	}
	return nil
}

// promptCredentials reads the backend login from the terminal. The password
// never echoes.
func promptCredentials(defaultUser string) (string, string, error) {
	reader := bufio.NewReader(os.Stdin)

	prompt := "Backend account"
	if defaultUser != "" {
		prompt += fmt.Sprintf(" [%s]", defaultUser)
	}
	fmt.Printf("%s: ", prompt)
	username, err := reader.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = defaultUser
	}
	if username == "" {
		return "", "", fmt.Errorf("account required")
	}

	fmt.Print("Password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", "", err
	}
	password := string(raw)
	common.WipeByteArray(raw)
	if password == "" {
		return "", "", fmt.Errorf("password required")
	}
	return username, password, nil
}
