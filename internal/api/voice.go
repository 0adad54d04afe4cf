package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/IlyasAtabaev731/voice-wallet/internal/stt"
	"github.com/IlyasAtabaev731/voice-wallet/internal/voice"
	"github.com/gorilla/websocket"
)

const (
	voiceWriteTimeout = 10 * time.Second
	audioQueueSize    = 64
)

// Messages sent by a voice client.
type clientMessage struct {
	// Type is partial, level, error or end.
	Type string `json:"type"`
	// Session echoes the session of the listen message the result belongs to.
	Session uint64  `json:"session"`
	Text    string  `json:"text,omitempty"`
	Level   float64 `json:"level,omitempty"`
	Code    string  `json:"code,omitempty"`
	Message string  `json:"message,omitempty"`
}

// controlMessage asks a browser client to start (listen) or stop its
// recognizer. Every listen opens a new numbered session.
type controlMessage struct {
	Type       string `json:"type"`
	Session    uint64 `json:"session"`
	Language   string `json:"language,omitempty"`
	Continuous bool   `json:"continuous,omitempty"`
}

type resultMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Reply      string `json:"reply,omitempty"`
	Error      string `json:"error,omitempty"`
}

type stateMessage struct {
	Type string `json:"type"`
	voice.Snapshot
}

// voiceConn serializes writes to a websocket.
type voiceConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *voiceConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(voiceWriteTimeout))
	return c.ws.WriteJSON(v)
}

// voiceHandler runs a voice coordinator for the lifetime of a websocket.
// With source=browser the client recognizes speech and streams partial
// results; with source=audio it streams PCM frames recognized server side.
func (s *APIServer) voiceHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		username := usernameFrom(r)
		source := r.URL.Query().Get("source")
		if source == "" {
			source = "browser"
		}
		if source != "browser" && source != "audio" {
			http.Error(w, "Unknown voice source", http.StatusBadRequest)
			return
		}
		if source == "audio" && s.config.Voice.DeepgramKey == "" {
			http.Error(w, "Server side recognition is not configured", http.StatusServiceUnavailable)
			return
		}

		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("Failed to upgrade voice connection", "error", err)
			return
		}
		defer ws.Close()

		log := s.logger.With(slog.String("username", username), slog.String("source", source))
		log.Info("Voice session connected")

		conn := &voiceConn{ws: ws}
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		var (
			rec     voice.Recognizer
			browser *browserRecognizer
			audio   chan []byte
		)
		if source == "browser" {
			browser = newBrowserRecognizer(conn)
			rec = browser
		} else {
			audio = make(chan []byte, audioQueueSize)
			rec = stt.NewDeepgram(s.config.Voice.DeepgramURL, s.config.Voice.DeepgramKey,
				s.config.Voice.SampleRate, audio, log)
		}

		opts := voice.Options{
			Language:        s.config.Voice.Language,
			Continuous:      s.config.Voice.Continuous,
			SilenceTimeout:  s.config.Voice.SilenceTimeout,
			EnergyThreshold: s.config.Voice.EnergyThreshold,
		}
		if lang := r.URL.Query().Get("lang"); lang != "" {
			opts.Language = lang
		}

		coordinator := voice.NewCoordinator(rec, s.voiceCommand(conn, username, log), opts, log)
		coordinator.OnChange(func(snap voice.Snapshot) {
			if err := conn.send(stateMessage{Type: "state", Snapshot: snap}); err != nil {
				log.Debug("Failed to send voice state", "error", err)
			}
		})

		finished := make(chan struct{})
		go func() {
			defer close(finished)
			err := coordinator.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("Voice session stopped", "error", err)
			}
			// unblock the reader below
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = ws.Close()
		}()

		for {
			kind, msg, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("Voice connection read error", "error", err)
				}
				break
			}

			if kind == websocket.BinaryMessage {
				if audio == nil {
					continue
				}
				select {
				case audio <- msg:
				default:
					log.Debug("Audio queue is full, dropping frame")
				}
				continue
			}

			var cm clientMessage
			if err := json.Unmarshal(msg, &cm); err != nil {
				log.Debug("Invalid voice message", "error", err)
				continue
			}
			if browser != nil {
				browser.deliver(cm)
			}
		}

		cancel()
		<-finished
		log.Info("Voice session closed")
	}
}

// voiceCommand executes each finalized utterance and sends its result.
func (s *APIServer) voiceCommand(conn *voiceConn, username string, log *slog.Logger) voice.Handler {
	return func(ctx context.Context, transcript string) error {
		if timeout := s.config.Ledger.SubmitTimeout + s.config.Ledger.RequestTimeout; timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		reply, err := s.commands.Execute(ctx, username, transcript)

		res := resultMessage{Type: "result", Transcript: transcript, Reply: reply}
		if err != nil {
			res.Error = err.Error()
		}
		if sendErr := conn.send(res); sendErr != nil {
			log.Debug("Failed to send voice result", "error", sendErr)
		}

		return err
	}
}

// browserRecognizer is a voice.Recognizer whose speech recognition runs in
// the client. Starting a session sends a listen message; results come back
// through deliver. Client messages must carry the session they belong to, so
// a late end or result of a stopped session never reaches the next one.
type browserRecognizer struct {
	conn *voiceConn

	mu      sync.Mutex
	seq     uint64
	session *browserSession
}

func newBrowserRecognizer(conn *voiceConn) *browserRecognizer {
	return &browserRecognizer{conn: conn}
}

type browserSession struct {
	id     uint64
	mu     sync.Mutex
	events chan voice.Event
	closed bool
}

func (s *browserSession) emit(ev voice.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// close ends the session and reports whether this call ended it.
func (s *browserSession) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.events)
	return true
}

func (b *browserRecognizer) Start(ctx context.Context, settings voice.Settings) (<-chan voice.Event, error) {
	// b.mu orders control messages: stop for the old session precedes listen
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil && b.session.close() {
		_ = b.conn.send(controlMessage{Type: "stop", Session: b.session.id})
	}

	b.seq++
	sess := &browserSession{id: b.seq, events: make(chan voice.Event, 64)}
	b.session = sess

	err := b.conn.send(controlMessage{
		Type:       "listen",
		Session:    sess.id,
		Language:   settings.Language,
		Continuous: settings.Continuous,
	})
	if err != nil {
		sess.close()
		return nil, err
	}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if sess.close() {
			_ = b.conn.send(controlMessage{Type: "stop", Session: sess.id})
		}
	}()

	return sess.events, nil
}

func (b *browserRecognizer) deliver(msg clientMessage) {
	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()

	if sess == nil || msg.Session != sess.id {
		return
	}

	switch msg.Type {
	case "partial":
		sess.emit(voice.Partial(msg.Text))
	case "level":
		sess.emit(voice.Level(msg.Level))
	case "error":
		sess.emit(voice.Failure(msg.Code, msg.Message))
	case "end":
		sess.close()
	}
}
