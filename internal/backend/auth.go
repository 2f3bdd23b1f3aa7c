package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/learnmarket/coursewallet/pkg/purchase"
)

// RequestOTP asks the backend to send a one-time code to the phone number.
func (client *Client) RequestOTP(ctx context.Context, phone string) error {
	if strings.TrimSpace(phone) == "" {
		return fmt.Errorf("backend: phone number is required")
	}
	err := client.doPublic(ctx, http.MethodPost, "/auth/otp/request", map[string]string{"phone": phone}, nil)
	if err != nil {
		return purchase.WrapError("backend", "auth", "otp_request", err)
	}
	return nil
}

// VerifyOTP exchanges the phone number and code for a token pair and
// persists it. This is the only operation that creates a session.
func (client *Client) VerifyOTP(ctx context.Context, phone string, code string) error {
	if strings.TrimSpace(phone) == "" || strings.TrimSpace(code) == "" {
		return fmt.Errorf("backend: phone number and code are required")
	}
	var result struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	err := client.doPublic(ctx, http.MethodPost, "/auth/otp/verify", map[string]string{"phone": phone, "code": code}, &result)
	if err != nil {
		return purchase.WrapError("backend", "auth", "otp_verify", err)
	}
	if result.Access == "" || result.Refresh == "" {
		return purchase.WrapError("backend", "auth", "otp_verify", fmt.Errorf("token pair missing from response"))
	}
	if err := client.tokens.Save(ctx, TokenPair{Access: result.Access, Refresh: result.Refresh}); err != nil {
		return purchase.WrapError("backend", "tokens", "save", err)
	}
	return nil
}

// Logout drops the stored token pair.
func (client *Client) Logout(ctx context.Context) error {
	if err := client.tokens.Clear(ctx); err != nil {
		return purchase.WrapError("backend", "tokens", "clear", err)
	}
	return nil
}

// Authenticated reports whether a token pair is currently stored.
func (client *Client) Authenticated(ctx context.Context) (bool, error) {
	_, hasTokens, err := client.tokens.Load(ctx)
	if err != nil {
		return false, purchase.WrapError("backend", "tokens", "load", err)
	}
	return hasTokens, nil
}
