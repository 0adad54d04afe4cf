package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/IlyasAtabaev731/voice-wallet/internal/voice"
	"github.com/gorilla/websocket"
)

// Deepgram is a voice.Recognizer backed by Deepgram's streaming API. Audio is
// 16-bit little-endian mono PCM read from a shared channel; every listening
// session opens its own websocket.
type Deepgram struct {
	endpoint   string
	apiKey     string
	sampleRate int
	audio      <-chan []byte
	dialer     *websocket.Dialer
	logger     *slog.Logger
}

func NewDeepgram(endpoint, apiKey string, sampleRate int, audio <-chan []byte, logger *slog.Logger) *Deepgram {
	return &Deepgram{
		endpoint:   endpoint,
		apiKey:     apiKey,
		sampleRate: sampleRate,
		audio:      audio,
		dialer:     websocket.DefaultDialer,
		logger:     logger,
	}
}

// Result is one message of the streaming results API.
type Result struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (d *Deepgram) listenURL(settings voice.Settings) (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", fmt.Errorf("stt: endpoint: %w", err)
	}

	q := u.Query()
	q.Set("model", "nova-2")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.sampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if settings.Language != "" {
		q.Set("language", settings.Language)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (d *Deepgram) Start(ctx context.Context, settings voice.Settings) (<-chan voice.Event, error) {
	listenURL, err := d.listenURL(settings)
	if err != nil {
		return nil, err
	}

	header := http.Header{"Authorization": {"Token " + d.apiKey}}
	conn, _, err := d.dialer.DialContext(ctx, listenURL, header)
	if err != nil {
		return nil, fmt.Errorf("stt: dial deepgram: %w", err)
	}
	d.logger.Debug("Deepgram session opened")

	sessCtx, cancel := context.WithCancel(ctx)
	out := make(chan voice.Event)

	emit := func(ev voice.Event) bool {
		select {
		case out <- ev:
			return true
		case <-sessCtx.Done():
			return false
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// writer: forwards audio and reports its energy
	go func() {
		defer wg.Done()
		audio := d.audio
		for {
			select {
			case <-sessCtx.Done():
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
				_ = conn.Close()
				return
			case frame, ok := <-audio:
				if !ok {
					audio = nil
					cancel()
					continue
				}
				if len(frame) == 0 {
					continue
				}
				if !emit(voice.Level(Level(frame))) {
					continue
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					d.logger.Warn("Deepgram write error", "error", err)
					cancel()
				}
			}
		}
	}()

	// reader: turns results into cumulative partial transcripts
	go func() {
		defer wg.Done()
		defer cancel()

		var tr Transcript
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) &&
					!errors.Is(err, net.ErrClosed) {
					emit(voice.Failure(voice.CodeNetwork, err.Error()))
				}
				return
			}

			var res Result
			if err := json.Unmarshal(msg, &res); err != nil {
				d.logger.Debug("Skipping malformed deepgram message", "error", err)
				continue
			}
			if text, ok := tr.Apply(res); ok {
				emit(voice.Partial(text))
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
		d.logger.Debug("Deepgram session closed")
	}()

	return out, nil
}

// Transcript accumulates the finalized segments of one session and overlays
// the current interim segment on top of them.
type Transcript struct {
	final []string
}

// Apply folds one result message into the transcript and returns the full
// text when it changed.
func (t *Transcript) Apply(res Result) (string, bool) {
	if res.Type != "" && res.Type != "Results" {
		return "", false
	}
	if len(res.Channel.Alternatives) == 0 {
		return "", false
	}

	segment := strings.TrimSpace(res.Channel.Alternatives[0].Transcript)
	if segment == "" {
		return "", false
	}

	parts := append(append([]string(nil), t.final...), segment)
	if res.IsFinal {
		t.final = append(t.final, segment)
	}

	return strings.Join(parts, " "), true
}
