package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FundedAccount is a fresh testnet account credited by the faucet.
type FundedAccount struct {
	Address    string
	Secret     string
	BalanceXRP string
}

type Faucet struct {
	url    string
	client *http.Client
}

func NewFaucet(url string, timeout time.Duration) *Faucet {
	return &Faucet{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Fund asks the faucet to create and credit a new account.
func (f *Faucet) Fund(ctx context.Context) (*FundedAccount, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: faucet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: faucet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ledger: faucet returned %d: %s", resp.StatusCode, body)
	}

	var res struct {
		Account struct {
			ClassicAddress string `json:"classicAddress"`
			Address        string `json:"address"`
		} `json:"account"`
		Seed    string      `json:"seed"`
		Secret  string      `json:"secret"`
		Balance json.Number `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("ledger: faucet response: %w", err)
	}

	acc := &FundedAccount{
		Address:    res.Account.ClassicAddress,
		Secret:     res.Seed,
		BalanceXRP: res.Balance.String(),
	}
	if acc.Address == "" {
		acc.Address = res.Account.Address
	}
	if acc.Secret == "" {
		acc.Secret = res.Secret
	}
	if acc.Address == "" || acc.Secret == "" {
		return nil, fmt.Errorf("ledger: faucet response missing address or seed")
	}

	return acc, nil
}
