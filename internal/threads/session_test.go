package threads

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coupuas/threadauto/internal/common"
)

// fakeLoginFlow scripts the login handshake without a browser.
type fakeLoginFlow struct {
	loggedIn  bool
	username  string
	logoutErr error
	waitErr   error

	logouts int
	waits   int
}

func (f *fakeLoginFlow) CheckLoginStatus(ctx context.Context) bool { return f.loggedIn }

func (f *fakeLoginFlow) LoggedInUsername(ctx context.Context) string { return f.username }

func (f *fakeLoginFlow) Logout(ctx context.Context) error {
	f.logouts++
	if f.logoutErr != nil {
		return f.logoutErr
	}
	f.loggedIn = false
	f.username = ""
	return nil
}

func (f *fakeLoginFlow) waitForLogin(ctx context.Context) error {
	f.waits++
	return f.waitErr
}

func TestEnsureLogin_MatchingAccountKeepsSession(t *testing.T) {
	f := &fakeLoginFlow{loggedIn: true, username: "alice"}

	err := ensureLogin(context.Background(), f, "@Alice", testLogger())
	require.NoError(t, err)
	require.Zero(t, f.logouts)
	require.Zero(t, f.waits)
}

func TestEnsureLogin_WrongAccountLogsOutAndRelogs(t *testing.T) {
	f := &fakeLoginFlow{loggedIn: true, username: "bob"}

	err := ensureLogin(context.Background(), f, "alice", testLogger())
	require.NoError(t, err)
	require.Equal(t, 1, f.logouts)
	require.Equal(t, 1, f.waits)
}

func TestEnsureLogin_LogoutFailureIsAccountMismatch(t *testing.T) {
	f := &fakeLoginFlow{loggedIn: true, username: "bob", logoutErr: errors.New("control not found")}

	err := ensureLogin(context.Background(), f, "alice", testLogger())
	require.ErrorIs(t, err, common.ErrAccountMismatch)
	require.Zero(t, f.waits)
}

func TestEnsureLogin_LoggedOutWaitsForLogin(t *testing.T) {
	f := &fakeLoginFlow{loggedIn: false}

	err := ensureLogin(context.Background(), f, "alice", testLogger())
	require.NoError(t, err)
	require.Equal(t, 1, f.waits)

	f = &fakeLoginFlow{loggedIn: false, waitErr: common.ErrLoginTimeout}
	err = ensureLogin(context.Background(), f, "alice", testLogger())
	require.ErrorIs(t, err, common.ErrLoginTimeout)
}

func TestEnsureLogin_EmptyExpectedAccountAcceptsAnySession(t *testing.T) {
	f := &fakeLoginFlow{loggedIn: true, username: "whoever"}

	err := ensureLogin(context.Background(), f, "", testLogger())
	require.NoError(t, err)
	require.Zero(t, f.logouts)
}
