package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coupuas/threadauto/internal/common"
)

// capability tracks whether the backend implements the reservation endpoints.
// It flips from unknown exactly once per client instance and is never
// re-probed afterwards.
type capability int

const (
	capUnknown capability = iota
	capSupported
	capUnsupported
)

// Reservation is a hold on one unit of quota. Supported=false means the
// backend predates the reservation protocol and the caller must fall back to
// the single-shot Use debit after a successful upload.
type Reservation struct {
	ID        string
	Supported bool
}

func (c *Client) getCapability() capability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capability
}

func (c *Client) setCapability(v capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capability == capUnknown {
		c.capability = v
	}
}

// capabilitySignal reports whether the HTTP status means "endpoint absent"
// rather than "request failed".
func capabilitySignal(status int) bool {
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	}
	return false
}

// CheckAvailable reports whether at least one unit of quota remains. It never
// debits.
func (c *Client) CheckAvailable(ctx context.Context) (bool, error) {
	tok := c.Token()
	if !tok.Valid() {
		return false, common.ErrorUnauthorized
	}

	body := map[string]any{"id": tok.UserID, "key": tok.Value}
	var resp envelope
	status, err := c.post(ctx, "/user/work/check", body, &resp)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusUnauthorized:
		return false, common.ErrorUnauthorized
	case status != http.StatusOK:
		return false, fmt.Errorf("%w: work check HTTP %d", common.ErrBackendUnavailable, status)
	}
	return resp.Success, nil
}

// Reserve places a hold on one unit of quota before the upload starts. On a
// backend without the endpoint it degrades to Reservation{Supported: false}
// and remembers that for the life of the client.
func (c *Client) Reserve(ctx context.Context) (Reservation, error) {
	if c.getCapability() == capUnsupported {
		return Reservation{Supported: false}, nil
	}

	tok := c.Token()
	if !tok.Valid() {
		return Reservation{}, common.ErrorUnauthorized
	}

	body := map[string]any{"id": tok.UserID, "key": tok.Value}
	var resp envelope
	status, err := c.post(ctx, "/user/work/reserve", body, &resp)
	if err != nil {
		return Reservation{}, err
	}

	switch {
	case capabilitySignal(status):
		c.setCapability(capUnsupported)
		c.log.Info(ctx, "backend has no reservation endpoint, falling back to direct debit")
		return Reservation{Supported: false}, nil
	case status == http.StatusUnauthorized:
		return Reservation{}, common.ErrorUnauthorized
	case status == http.StatusPaymentRequired || (status == http.StatusOK && !resp.Success):
		return Reservation{}, fmt.Errorf("%w: %s", common.ErrQuotaExhausted, resp.Message)
	case status != http.StatusOK:
		return Reservation{}, fmt.Errorf("%w: reserve HTTP %d", common.ErrBackendUnavailable, status)
	}

	c.setCapability(capSupported)
	if resp.ReservationID == "" {
		return Reservation{}, fmt.Errorf("%w: reserve succeeded without reservation id", common.ErrReservationIntegrity)
	}
	return Reservation{ID: resp.ReservationID, Supported: true}, nil
}

// Commit settles a reservation after the upload succeeded. A failed commit is
// a billing desync: the hold exists server-side but we cannot prove the
// settle, so the caller must stop the batch.
func (c *Client) Commit(ctx context.Context, r Reservation) error {
	if !r.Supported {
		return c.Use(ctx)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: commit without reservation id", common.ErrReservationIntegrity)
	}

	tok := c.Token()
	body := map[string]any{"id": tok.UserID, "key": tok.Value, "reservation_id": r.ID}
	var resp envelope
	status, err := c.post(ctx, "/user/work/commit", body, &resp)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrBillingDesync, err)
	}
	if status != http.StatusOK || !resp.Success {
		return fmt.Errorf("%w: commit HTTP %d: %s", common.ErrBillingDesync, status, resp.Message)
	}
	return nil
}

// Release returns an unused reservation to the pool after a failed upload.
// Best effort: the server expires stale holds on its own, so a failure here
// is logged and swallowed.
func (c *Client) Release(ctx context.Context, r Reservation) {
	if !r.Supported || r.ID == "" {
		return
	}

	tok := c.Token()
	body := map[string]any{"id": tok.UserID, "key": tok.Value, "reservation_id": r.ID}
	var resp envelope
	status, err := c.post(ctx, "/user/work/release", body, &resp)
	if err != nil {
		c.log.Warn(ctx, "reservation release failed", "reservation", r.ID, "error", err)
		return
	}
	if status != http.StatusOK || !resp.Success {
		c.log.Warn(ctx, "reservation release rejected", "reservation", r.ID, "status", status, "message", resp.Message)
	}
}

// Use is the legacy single-shot debit for backends without reservations.
// Failure after a successful upload is a billing desync.
func (c *Client) Use(ctx context.Context) error {
	tok := c.Token()
	if !tok.Valid() {
		return common.ErrorUnauthorized
	}

	body := map[string]any{"id": tok.UserID, "key": tok.Value}
	var resp envelope
	status, err := c.post(ctx, "/user/work/use", body, &resp)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrBillingDesync, err)
	}
	if status != http.StatusOK || !resp.Success {
		return fmt.Errorf("%w: use HTTP %d: %s", common.ErrBillingDesync, status, resp.Message)
	}
	return nil
}
