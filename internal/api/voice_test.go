package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type voiceMessage struct {
	Type       string `json:"type"`
	Session    uint64 `json:"session"`
	State      string `json:"state"`
	Transcript string `json:"transcript"`
	Reply      string `json:"reply"`
	Error      string `json:"error"`
	Language   string `json:"language"`
}

func dialVoice(t *testing.T, s *APIServer, query string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(s.server.Handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/voice" + query
	header := http.Header{"Authorization": {"Bearer " + tokenFor(t, "alice")}}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// readUntil reads messages until one of type kind arrives and returns it
// along with everything read before it.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) (voiceMessage, []voiceMessage) {
	t.Helper()

	var seen []voiceMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg voiceMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %q", kind)
		if msg.Type == kind {
			return msg, seen
		}
		seen = append(seen, msg)
	}
}

func TestVoiceBrowserSession(t *testing.T) {
	s, _, commands := newTestServer(testConfig(), NewFakeWallet())
	conn := dialVoice(t, s, "?source=browser&lang=de-DE")

	listen, _ := readUntil(t, conn, "listen")
	assert.Equal(t, "de-DE", listen.Language)
	assert.Equal(t, uint64(1), listen.Session)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "partial", Session: listen.Session, Text: "what's my"}))
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "partial", Session: listen.Session, Text: "what's my balance"}))

	result, _ := readUntil(t, conn, "result")
	assert.Equal(t, "what's my balance", result.Transcript)
	assert.Equal(t, "hello alice: what's my balance", result.Reply)
	assert.Empty(t, result.Error)

	// listening restarts on a new session after the command
	listen, _ = readUntil(t, conn, "listen")
	assert.Equal(t, uint64(2), listen.Session)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "partial", Session: listen.Session, Text: "fail"}))
	result, _ = readUntil(t, conn, "result")
	assert.Equal(t, "command failed", result.Error)

	_, states := readUntil(t, conn, "listen")
	var surfaced bool
	for _, st := range states {
		if st.Type == "state" && st.Error == "command failed" {
			surfaced = true
		}
	}
	assert.True(t, surfaced, "handler error should reach the state")

	commands.mu.Lock()
	assert.Equal(t, []string{"what's my balance", "fail"}, commands.transcripts)
	commands.mu.Unlock()
}

func TestVoiceNoSpeechRestartsSilently(t *testing.T) {
	s, _, commands := newTestServer(testConfig(), NewFakeWallet())
	conn := dialVoice(t, s, "")

	listen, _ := readUntil(t, conn, "listen")
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "error", Session: listen.Session, Code: "no-speech"}))

	_, seen := readUntil(t, conn, "listen")
	for _, msg := range seen {
		assert.Empty(t, msg.Error)
	}

	commands.mu.Lock()
	assert.Empty(t, commands.transcripts)
	commands.mu.Unlock()
}

func TestVoiceFatalErrorClosesSession(t *testing.T) {
	s, _, _ := newTestServer(testConfig(), NewFakeWallet())
	conn := dialVoice(t, s, "?source=browser")

	listen, _ := readUntil(t, conn, "listen")
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "error", Session: listen.Session, Code: "not-allowed", Message: "permission denied"}))

	var sawError bool
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg voiceMessage
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		if msg.Type == "state" && strings.Contains(msg.Error, "not-allowed") {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestVoiceIgnoresLateMessagesOfStoppedSession(t *testing.T) {
	cfg := testConfig()
	cfg.Voice.Continuous = false
	s, _, commands := newTestServer(cfg, NewFakeWallet())
	conn := dialVoice(t, s, "?source=browser")

	first, _ := readUntil(t, conn, "listen")
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "partial", Session: first.Session, Text: "balance"}))

	result, _ := readUntil(t, conn, "result")
	assert.Equal(t, "balance", result.Transcript)
	second, _ := readUntil(t, conn, "listen")
	require.NotEqual(t, first.Session, second.Session)

	// the browser reports the end of the stopped session after the new listen
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "end", Session: first.Session}))
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "partial", Session: first.Session, Text: "stale"}))
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "partial", Session: second.Session, Text: "history"}))

	result, _ = readUntil(t, conn, "result")
	assert.Equal(t, "history", result.Transcript)

	commands.mu.Lock()
	assert.Equal(t, []string{"balance", "history"}, commands.transcripts)
	commands.mu.Unlock()
}

func TestVoiceSessionEndsOnOwnEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Voice.Continuous = false
	s, _, _ := newTestServer(cfg, NewFakeWallet())
	conn := dialVoice(t, s, "?source=browser")

	listen, _ := readUntil(t, conn, "listen")
	require.NoError(t, conn.WriteJSON(clientMessage{Type: "end", Session: listen.Session}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg voiceMessage
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		assert.NotEqual(t, "listen", msg.Type)
	}
}

func TestVoiceRejectsUnknownSource(t *testing.T) {
	s, _, _ := newTestServer(testConfig(), NewFakeWallet())

	rr := doRequest(s, "GET", "/api/voice?source=telepathy", tokenFor(t, "alice"), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(s, "GET", "/api/voice?source=audio", tokenFor(t, "alice"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
