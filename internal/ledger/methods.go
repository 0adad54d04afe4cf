package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// rippleEpoch is 2000-01-01T00:00:00Z; ledger timestamps count seconds from it.
const rippleEpoch = 946684800

func RippleTime(seconds uint32) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(int64(seconds)+rippleEpoch, 0).UTC()
}

type AccountInfo struct {
	Address      string
	BalanceDrops int64
	Sequence     uint32
	OwnerCount   uint32
	LedgerIndex  uint32
}

// SpendableDrops is the balance above the owner and base reserves.
func (a *AccountInfo) SpendableDrops() int64 {
	reserve := BaseReserveDrops + int64(a.OwnerCount)*2*DropsPerXRP
	if a.BalanceDrops <= reserve {
		return 0
	}
	return a.BalanceDrops - reserve
}

func (c *Client) AccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var res struct {
		AccountData struct {
			Account    string `json:"Account"`
			Balance    string `json:"Balance"`
			Sequence   uint32 `json:"Sequence"`
			OwnerCount uint32 `json:"OwnerCount"`
		} `json:"account_data"`
		LedgerIndex uint32 `json:"ledger_index"`
	}

	err := c.request(ctx, "account_info", map[string]any{
		"account":      address,
		"ledger_index": "validated",
	}, &res)
	if err != nil {
		return nil, err
	}

	balance, err := strconv.ParseInt(res.AccountData.Balance, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ledger: account_info balance %q: %w", res.AccountData.Balance, err)
	}

	return &AccountInfo{
		Address:      res.AccountData.Account,
		BalanceDrops: balance,
		Sequence:     res.AccountData.Sequence,
		OwnerCount:   res.AccountData.OwnerCount,
		LedgerIndex:  res.LedgerIndex,
	}, nil
}

// TxJSON holds the transaction fields the wallet reads back from the ledger.
type TxJSON struct {
	TransactionType    string  `json:"TransactionType"`
	Account            string  `json:"Account"`
	Destination        string  `json:"Destination,omitempty"`
	Amount             *Amount `json:"Amount,omitempty"`
	TakerGets          *Amount `json:"TakerGets,omitempty"`
	TakerPays          *Amount `json:"TakerPays,omitempty"`
	Fee                string  `json:"Fee"`
	Sequence           uint32  `json:"Sequence"`
	LastLedgerSequence uint32  `json:"LastLedgerSequence,omitempty"`
	Hash               string  `json:"hash"`
	Date               uint32  `json:"date,omitempty"`
}

type Meta struct {
	TransactionResult string  `json:"TransactionResult"`
	DeliveredAmount   *Amount `json:"delivered_amount,omitempty"`
}

type AccountTransaction struct {
	Tx        TxJSON `json:"tx"`
	Meta      Meta   `json:"meta"`
	Validated bool   `json:"validated"`
}

// AccountTx returns the most recent transactions of address, newest first.
func (c *Client) AccountTx(ctx context.Context, address string, limit int) ([]AccountTransaction, error) {
	var res struct {
		Transactions []AccountTransaction `json:"transactions"`
	}

	err := c.request(ctx, "account_tx", map[string]any{
		"account":          address,
		"ledger_index_min": -1,
		"ledger_index_max": -1,
		"limit":            limit,
		"forward":          false,
	}, &res)
	if err != nil {
		return nil, err
	}

	return res.Transactions, nil
}

type TxResult struct {
	TxJSON
	Meta        Meta   `json:"meta"`
	Validated   bool   `json:"validated"`
	LedgerIndex uint32 `json:"ledger_index"`
}

func (c *Client) Tx(ctx context.Context, hash string) (*TxResult, error) {
	var res TxResult
	if err := c.request(ctx, "tx", map[string]any{"transaction": hash}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type TrustLine struct {
	Account  string `json:"account"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
	Limit    string `json:"limit"`
}

func (c *Client) AccountLines(ctx context.Context, address string) ([]TrustLine, error) {
	var res struct {
		Lines []TrustLine `json:"lines"`
	}

	err := c.request(ctx, "account_lines", map[string]any{
		"account":      address,
		"ledger_index": "validated",
	}, &res)
	if err != nil {
		return nil, err
	}

	return res.Lines, nil
}

type Fee struct {
	BaseDrops          int64
	OpenLedgerDrops    int64
	LedgerCurrentIndex uint32
}

func (c *Client) Fee(ctx context.Context) (*Fee, error) {
	var res struct {
		Drops struct {
			BaseFee       string `json:"base_fee"`
			OpenLedgerFee string `json:"open_ledger_fee"`
		} `json:"drops"`
		LedgerCurrentIndex uint32 `json:"ledger_current_index"`
	}

	if err := c.request(ctx, "fee", nil, &res); err != nil {
		return nil, err
	}

	base, err := strconv.ParseInt(res.Drops.BaseFee, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ledger: fee base_fee %q: %w", res.Drops.BaseFee, err)
	}
	open, err := strconv.ParseInt(res.Drops.OpenLedgerFee, 10, 64)
	if err != nil {
		open = base
	}

	return &Fee{
		BaseDrops:          base,
		OpenLedgerDrops:    open,
		LedgerCurrentIndex: res.LedgerCurrentIndex,
	}, nil
}
