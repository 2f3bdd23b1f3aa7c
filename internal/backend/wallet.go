package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/learnmarket/coursewallet/internal/wallet"
	"github.com/learnmarket/coursewallet/pkg/purchase"
)

// WalletBalance fetches the balance projection.
func (client *Client) WalletBalance(ctx context.Context) (wallet.BalanceInfo, error) {
	var result struct {
		Balance  int64 `json:"balance"`
		IsActive bool  `json:"is_active"`
	}
	if err := client.doAuthenticated(ctx, http.MethodGet, "/wallet/balance", nil, &result); err != nil {
		return wallet.BalanceInfo{}, err
	}
	balance, err := purchase.NewAmount(result.Balance)
	if err != nil {
		return wallet.BalanceInfo{}, purchase.WrapError("backend", "wallet", "invalid_balance", err)
	}
	return wallet.BalanceInfo{Balance: balance, IsActive: result.IsActive}, nil
}

// WalletTransactions fetches the server-ordered transaction history.
func (client *Client) WalletTransactions(ctx context.Context) ([]wallet.Transaction, error) {
	var result struct {
		Transactions []wallet.Transaction `json:"transactions"`
	}
	if err := client.doAuthenticated(ctx, http.MethodGet, "/wallet/transactions", nil, &result); err != nil {
		return nil, err
	}
	return result.Transactions, nil
}

// WalletDeposit performs a direct (non-gateway) deposit and returns the
// server-reported new balance.
func (client *Client) WalletDeposit(ctx context.Context, amount purchase.Amount) (purchase.Amount, error) {
	var result struct {
		NewBalance int64 `json:"new_balance"`
	}
	payload := map[string]int64{"amount": amount.Int64()}
	if err := client.doAuthenticated(ctx, http.MethodPost, "/wallet/deposit", payload, &result); err != nil {
		return 0, err
	}
	newBalance, err := purchase.NewAmount(result.NewBalance)
	if err != nil {
		return 0, purchase.WrapError("backend", "wallet", "invalid_balance", err)
	}
	return newBalance, nil
}

// Initiate requests a one-time gateway payment URL for the amount.
func (client *Client) Initiate(ctx context.Context, amount purchase.Amount) (string, error) {
	var result struct {
		PaymentURL string `json:"payment_url"`
		Error      string `json:"error"`
	}
	payload := map[string]any{
		"amount":       amount.Int64(),
		"callback_url": client.callbackURL,
	}
	if err := client.doAuthenticated(ctx, http.MethodPost, "/wallet/deposit/gateway", payload, &result); err != nil {
		return "", err
	}
	if result.Error != "" || result.PaymentURL == "" {
		return "", purchase.WrapError("backend", "gateway", "initiate", fmt.Errorf("gateway rejected initiation: %s", result.Error))
	}
	return result.PaymentURL, nil
}

// Verify confirms a deposit attempt by its correlation token. The
// backend verifies idempotently per token; this call is the only
// trustworthy evidence that money moved.
func (client *Client) Verify(ctx context.Context, token purchase.CorrelationToken, status purchase.CallbackStatus) (purchase.VerifiedDeposit, error) {
	query := url.Values{}
	query.Set("authority", token.String())
	query.Set("status", status.String())

	var result struct {
		Success    bool   `json:"success"`
		Message    string `json:"message"`
		Amount     int64  `json:"amount"`
		NewBalance int64  `json:"new_balance"`
		Error      string `json:"error"`
	}
	if err := client.doAuthenticated(ctx, http.MethodGet, "/wallet/deposit/verify?"+query.Encode(), nil, &result); err != nil {
		return purchase.VerifiedDeposit{}, err
	}
	if !result.Success {
		reason := result.Message
		if reason == "" {
			reason = result.Error
		}
		return purchase.VerifiedDeposit{}, purchase.WrapError("backend", "gateway", "verify", fmt.Errorf("%w: %s", purchase.ErrVerificationFailed, reason))
	}
	amount, err := purchase.NewAmount(result.Amount)
	if err != nil {
		return purchase.VerifiedDeposit{}, purchase.WrapError("backend", "gateway", "invalid_amount", err)
	}
	newBalance, err := purchase.NewAmount(result.NewBalance)
	if err != nil {
		return purchase.VerifiedDeposit{}, purchase.WrapError("backend", "gateway", "invalid_balance", err)
	}
	return purchase.VerifiedDeposit{
		Amount:     amount,
		NewBalance: newBalance,
		Message:    result.Message,
	}, nil
}
