package routeguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/amplio/onboard/internal/domain"
)

// ErrUnauthenticated is returned when the server rejects the credential.
var ErrUnauthenticated = errors.New("routeguard: not authenticated")

// SnapshotSource returns the server's current view of the caller.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// Client fetches the caller's snapshot from GET {baseURL}/me.
type Client struct {
	baseURL    string
	cookieName string
	credential string
	timeout    time.Duration
}

// NewClient builds a snapshot client. When cookieName is empty the credential
// is sent as a bearer token.
func NewClient(baseURL, cookieName, credential string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cookieName: cookieName,
		credential: credential,
		timeout:    timeout,
	}
}

// WithCredential returns a copy of the client bound to another credential.
func (c *Client) WithCredential(credential string) *Client {
	cp := *c
	cp.credential = credential
	return &cp
}

// Snapshot fetches the current snapshot.
func (c *Client) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	if c.credential == "" {
		return domain.Snapshot{}, ErrUnauthenticated
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.Snapshot{}, ctx.Err()
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	agent := fiber.Get(c.baseURL + "/me")
	if c.cookieName != "" {
		agent.Cookie(c.cookieName, c.credential)
	} else {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+c.credential)
	}
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	agent.Timeout(timeout)
	if err := agent.Parse(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("build snapshot request: %w", err)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return domain.Snapshot{}, fmt.Errorf("snapshot request: %w", errors.Join(errs...))
	}
	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return domain.Snapshot{}, ErrUnauthenticated
	default:
		return domain.Snapshot{}, fmt.Errorf("snapshot returned %d", status)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
