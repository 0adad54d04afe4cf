package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode answers ledger commands through a handler keyed by command name.
type fakeNode struct {
	t        *testing.T
	mu       sync.Mutex
	handlers map[string]func(req map[string]any) map[string]any
	seen     []map[string]any
}

func newFakeNode(t *testing.T) (*fakeNode, *Client) {
	t.Helper()

	node := &fakeNode{t: t, handlers: make(map[string]func(map[string]any) map[string]any)}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			node.mu.Lock()
			node.seen = append(node.seen, req)
			h := node.handlers[req["command"].(string)]
			node.mu.Unlock()

			resp := map[string]any{"status": "error", "error": "unknownCmd"}
			if h != nil {
				resp = h(req)
			}
			resp["id"] = req["id"]
			resp["type"] = "response"
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := New("ws"+strings.TrimPrefix(srv.URL, "http"), logger,
		WithTimeout(2*time.Second), WithPollInterval(5*time.Millisecond))
	t.Cleanup(func() { _ = client.Close() })

	return node, client
}

func (n *fakeNode) handle(command string, h func(req map[string]any) map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[command] = h
}

func success(result map[string]any) map[string]any {
	return map[string]any{"status": "success", "result": result}
}

func TestAccountInfo(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("account_info", func(req map[string]any) map[string]any {
		assert.Equal(t, "rAlice", req["account"])
		return success(map[string]any{
			"account_data": map[string]any{
				"Account":    "rAlice",
				"Balance":    "25000000",
				"Sequence":   7,
				"OwnerCount": 1,
			},
			"ledger_index": 100,
		})
	})

	info, err := client.AccountInfo(context.Background(), "rAlice")
	require.NoError(t, err)

	assert.Equal(t, int64(25_000_000), info.BalanceDrops)
	assert.Equal(t, uint32(7), info.Sequence)
	// 25 XRP - 10 base reserve - 2 owner reserve
	assert.Equal(t, int64(13_000_000), info.SpendableDrops())
}

func TestAccountInfoNotFound(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("account_info", func(map[string]any) map[string]any {
		return map[string]any{"status": "error", "error": "actNotFound", "error_message": "Account not found."}
	})

	_, err := client.AccountInfo(context.Background(), "rNobody")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAccountNotFound))

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "actNotFound", rpcErr.Code)
}

func TestConcurrentRequestsAreMatchedByID(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("account_info", func(req map[string]any) map[string]any {
		addr := req["account"].(string)
		return success(map[string]any{
			"account_data": map[string]any{"Account": addr, "Balance": "1000000"},
		})
	})

	var wg sync.WaitGroup
	for _, addr := range []string{"rA", "rB", "rC", "rD", "rE"} {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			info, err := client.AccountInfo(context.Background(), addr)
			if assert.NoError(t, err) {
				assert.Equal(t, addr, info.Address)
			}
		}(addr)
	}
	wg.Wait()
}

func TestAccountTx(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("account_tx", func(req map[string]any) map[string]any {
		assert.EqualValues(t, 5, req["limit"])
		return success(map[string]any{
			"transactions": []any{
				map[string]any{
					"tx": map[string]any{
						"TransactionType": "Payment",
						"Account":         "rAlice",
						"Destination":     "rBob",
						"Amount":          "1500000",
						"hash":            "H1",
						"date":            750000000,
					},
					"meta":      map[string]any{"TransactionResult": "tesSUCCESS", "delivered_amount": "1500000"},
					"validated": true,
				},
				map[string]any{
					"tx": map[string]any{
						"TransactionType": "Payment",
						"Account":         "rAlice",
						"Destination":     "rGateway",
						"Amount":          map[string]any{"currency": "EVT", "issuer": "rIssuer", "value": "3"},
						"hash":            "H2",
					},
					"meta":      map[string]any{"TransactionResult": "tesSUCCESS", "delivered_amount": "unavailable"},
					"validated": true,
				},
			},
		})
	})

	txs, err := client.AccountTx(context.Background(), "rAlice", 5)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "H1", txs[0].Tx.Hash)
	assert.Equal(t, int64(1_500_000), txs[0].Meta.DeliveredAmount.Drops)
	assert.Equal(t, 2023, RippleTime(txs[0].Tx.Date).Year())
	assert.Equal(t, "EVT", txs[1].Tx.Amount.Currency)
	assert.False(t, txs[1].Tx.Amount.IsNative())
}

func TestSubmitAndWaitPollsUntilValidated(t *testing.T) {
	node, client := newFakeNode(t)

	node.handle("fee", func(map[string]any) map[string]any {
		return success(map[string]any{
			"drops":                map[string]any{"base_fee": "10", "open_ledger_fee": "12"},
			"ledger_current_index": 500,
		})
	})

	var submitted map[string]any
	node.handle("submit", func(req map[string]any) map[string]any {
		submitted = req
		return success(map[string]any{
			"engine_result":         "tesSUCCESS",
			"engine_result_message": "The transaction was applied.",
			"tx_json":               map[string]any{"hash": "ABC"},
		})
	})

	polls := 0
	node.handle("tx", func(req map[string]any) map[string]any {
		polls++
		if polls < 3 {
			return map[string]any{"status": "error", "error": "txnNotFound"}
		}
		return success(map[string]any{
			"hash":         "ABC",
			"validated":    true,
			"ledger_index": 502,
			"meta":         map[string]any{"TransactionResult": "tesSUCCESS"},
		})
	})

	res, err := client.SubmitAndWait(context.Background(), Payment{
		Account:     "rAlice",
		Destination: "rBob",
		Amount:      XRP(2_000_000),
	}, "sSecret")
	require.NoError(t, err)

	assert.Equal(t, "ABC", res.Hash)
	assert.True(t, res.Validated)
	assert.Equal(t, 3, polls)

	require.NotNil(t, submitted)
	assert.Equal(t, "sSecret", submitted["secret"])
	txJSON := submitted["tx_json"].(map[string]any)
	assert.Equal(t, "Payment", txJSON["TransactionType"])
	assert.Equal(t, "2000000", txJSON["Amount"])
	assert.EqualValues(t, 520, txJSON["LastLedgerSequence"])
}

func TestSubmitAndWaitRejected(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("fee", func(map[string]any) map[string]any {
		return success(map[string]any{
			"drops":                map[string]any{"base_fee": "10", "open_ledger_fee": "10"},
			"ledger_current_index": 10,
		})
	})
	node.handle("submit", func(map[string]any) map[string]any {
		return success(map[string]any{
			"engine_result":         "temBAD_AMOUNT",
			"engine_result_message": "Can only send positive amounts.",
			"tx_json":               map[string]any{"hash": "BAD"},
		})
	})

	_, err := client.SubmitAndWait(context.Background(), OfferCreate{
		Account:   "rAlice",
		TakerGets: XRP(1),
		TakerPays: Issued("EVT", "rIssuer", "1"),
	}, "sSecret")

	var subErr *SubmitError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "temBAD_AMOUNT", subErr.Result)
	assert.Equal(t, "BAD", subErr.Hash)
}

func TestSubmitAndWaitExpires(t *testing.T) {
	node, client := newFakeNode(t)

	current := 100
	node.handle("fee", func(map[string]any) map[string]any {
		current += 15
		return success(map[string]any{
			"drops":                map[string]any{"base_fee": "10", "open_ledger_fee": "10"},
			"ledger_current_index": current,
		})
	})
	node.handle("submit", func(map[string]any) map[string]any {
		return success(map[string]any{"engine_result": "terQUEUED", "tx_json": map[string]any{"hash": "Q"}})
	})
	node.handle("tx", func(map[string]any) map[string]any {
		return map[string]any{"status": "error", "error": "txnNotFound"}
	})

	_, err := client.SubmitAndWait(context.Background(), Payment{Account: "rA", Destination: "rB", Amount: XRP(1)}, "s")
	assert.ErrorIs(t, err, ErrTxExpired)
}

func TestFee(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("fee", func(map[string]any) map[string]any {
		return success(map[string]any{
			"drops":                map[string]any{"base_fee": "10", "open_ledger_fee": "15"},
			"ledger_current_index": 42,
		})
	})

	fee, err := client.Fee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), fee.BaseDrops)
	assert.Equal(t, int64(15), fee.OpenLedgerDrops)
	assert.Equal(t, uint32(42), fee.LedgerCurrentIndex)
}

func TestAccountLines(t *testing.T) {
	node, client := newFakeNode(t)
	node.handle("account_lines", func(map[string]any) map[string]any {
		return success(map[string]any{
			"lines": []any{map[string]any{"account": "rIssuer", "balance": "4", "currency": "EVT", "limit": "100"}},
		})
	})

	lines, err := client.AccountLines(context.Background(), "rAlice")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "EVT", lines[0].Currency)
}

func TestRequestAfterCloseFails(t *testing.T) {
	_, client := newFakeNode(t)
	require.NoError(t, client.Close())

	_, err := client.Fee(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAmountJSON(t *testing.T) {
	raw, err := json.Marshal(XRP(1234))
	require.NoError(t, err)
	assert.JSONEq(t, `"1234"`, string(raw))

	raw, err = json.Marshal(Issued("USD", "rIssuer", "1.5"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"currency":"USD","issuer":"rIssuer","value":"1.5"}`, string(raw))
}
