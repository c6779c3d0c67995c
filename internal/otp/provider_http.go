package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const approvedStatus = "approved"

// HTTPProvider talks to a Verify-style REST API: a verification is created
// with a form POST to /Services/{sid}/Verifications and checked with a form
// POST to /Services/{sid}/VerificationCheck.
type HTTPProvider struct {
	baseURL    string
	accountSID string
	authToken  string
	serviceSID string
	channel    string
	timeout    time.Duration
}

// NewHTTPProvider builds a provider client. timeout bounds each call when the
// context carries no earlier deadline.
func NewHTTPProvider(baseURL, accountSID, authToken, serviceSID string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		serviceSID: serviceSID,
		channel:    "sms",
		timeout:    timeout,
	}
}

type verificationResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Start creates a verification and returns its sid.
func (p *HTTPProvider) Start(ctx context.Context, to string) (string, error) {
	status, out, err := p.post(ctx, "/Verifications", map[string]string{"To": to, "Channel": p.channel})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("start verification returned %d: %s", status, out.Message)
	}
	if out.SID == "" {
		return "", errors.New("start verification returned no sid")
	}
	return out.SID, nil
}

// Check submits code and reports whether the provider approved it.
func (p *HTTPProvider) Check(ctx context.Context, to, code string) (bool, error) {
	status, out, err := p.post(ctx, "/VerificationCheck", map[string]string{"To": to, "Code": code})
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusNotFound:
		return false, ErrNoPendingVerification
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return false, nil
	case status != http.StatusOK:
		return false, fmt.Errorf("check verification returned %d: %s", status, out.Message)
	}
	return out.Status == approvedStatus, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, form map[string]string) (int, verificationResponse, error) {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, verificationResponse{}, ctx.Err()
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	for k, v := range form {
		args.Set(k, v)
	}

	agent := fiber.Post(p.baseURL + "/Services/" + p.serviceSID + path)
	agent.BasicAuth(p.accountSID, p.authToken)
	agent.Form(args)
	agent.Timeout(timeout)
	if err := agent.Parse(); err != nil {
		return 0, verificationResponse{}, fmt.Errorf("build provider request: %w", err)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return 0, verificationResponse{}, fmt.Errorf("provider request: %w", errors.Join(errs...))
	}
	var out verificationResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil && status < http.StatusBadRequest {
			return status, verificationResponse{}, fmt.Errorf("decode provider response: %w", err)
		}
	}
	return status, out, nil
}
