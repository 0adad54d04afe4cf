package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const DropsPerXRP int64 = 1_000_000

// BaseReserveDrops is the testnet account reserve that can never be spent.
const BaseReserveDrops int64 = 10 * DropsPerXRP

var ErrInvalidAmount = errors.New("invalid amount")

// XRPToDrops parses a decimal XRP string ("2", "0.5", "12.000001") into drops.
// More than six fractional digits are rejected rather than rounded.
func XRPToDrops(xrp string) (int64, error) {
	s := strings.TrimSpace(xrp)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, xrp)
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasDot && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, xrp)
	}
	if len(frac) > 6 {
		return 0, fmt.Errorf("%w: %q has more than 6 decimals", ErrInvalidAmount, xrp)
	}
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, xrp)
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, xrp)
	}
	if w > (1<<63-1)/DropsPerXRP-1 {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, xrp)
	}

	var f int64
	if frac != "" {
		f, _ = strconv.ParseInt(frac+strings.Repeat("0", 6-len(frac)), 10, 64)
	}

	return w*DropsPerXRP + f, nil
}

// DropsToXRP renders drops as a decimal XRP string without trailing zeros.
func DropsToXRP(drops int64) string {
	sign := ""
	if drops < 0 {
		sign = "-"
		drops = -drops
	}

	whole := drops / DropsPerXRP
	frac := drops % DropsPerXRP
	if frac == 0 {
		return sign + strconv.FormatInt(whole, 10)
	}

	f := strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	return sign + strconv.FormatInt(whole, 10) + "." + f
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Amount is either native XRP (in drops) or an issued currency amount.
type Amount struct {
	Drops    int64
	Currency string
	Issuer   string
	Value    string
}

func XRP(drops int64) Amount {
	return Amount{Drops: drops}
}

func Issued(currency, issuer, value string) Amount {
	return Amount{Currency: currency, Issuer: issuer, Value: value}
}

func (a Amount) IsNative() bool {
	return a.Currency == ""
}

func (a Amount) String() string {
	if a.IsNative() {
		return DropsToXRP(a.Drops) + " XRP"
	}
	return a.Value + " " + a.Currency
}

type issuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer,omitempty"`
	Value    string `json:"value"`
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.IsNative() {
		return json.Marshal(strconv.FormatInt(a.Drops, 10))
	}
	return json.Marshal(issuedAmount{Currency: a.Currency, Issuer: a.Issuer, Value: a.Value})
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		// delivered_amount is "unavailable" for transactions older than 2014
		if s == "unavailable" {
			*a = Amount{}
			return nil
		}
		drops, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: drops %q", ErrInvalidAmount, s)
		}
		*a = Amount{Drops: drops}
		return nil
	}

	var ia issuedAmount
	if err := json.Unmarshal(b, &ia); err != nil {
		return err
	}
	*a = Amount{Currency: ia.Currency, Issuer: ia.Issuer, Value: ia.Value}
	return nil
}
