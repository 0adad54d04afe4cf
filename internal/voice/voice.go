// Package voice turns a continuous speech-recognition stream into finalized
// utterances. A Coordinator listens to a Recognizer, debounces its partial
// results with a silence timeout and hands each utterance to a Handler once.
package voice

import (
	"context"
	"fmt"
	"time"
)

type EventKind int

const (
	// EventPartial carries the cumulative interim transcript of the utterance.
	EventPartial EventKind = iota + 1
	// EventLevel carries the audio energy of one frame, in the 0..1 range.
	EventLevel
	// EventError reports a recognizer failure.
	EventError
)

type Event struct {
	Kind  EventKind
	Text  string
	Level float64
	Err   *RecognitionError
}

func Partial(text string) Event {
	return Event{Kind: EventPartial, Text: text}
}

func Level(level float64) Event {
	return Event{Kind: EventLevel, Level: level}
}

func Failure(code, message string) Event {
	return Event{Kind: EventError, Err: &RecognitionError{Code: code, Message: message}}
}

// Recognizer error codes, as reported by browser speech recognition.
const (
	CodeNoSpeech           = "no-speech"
	CodeAborted            = "aborted"
	CodeAudioCapture       = "audio-capture"
	CodeNetwork            = "network"
	CodeNotAllowed         = "not-allowed"
	CodeServiceNotAllowed  = "service-not-allowed"
	CodeLanguageNotSupport = "language-not-supported"
)

type RecognitionError struct {
	Code    string
	Message string
}

func (e *RecognitionError) Error() string {
	if e.Message == "" {
		return "speech recognition error: " + e.Code
	}
	return fmt.Sprintf("speech recognition error: %s: %s", e.Code, e.Message)
}

// Benign errors restart listening without surfacing anything to the user.
func (e *RecognitionError) Benign() bool {
	return e.Code == CodeNoSpeech
}

// Fatal errors cannot be fixed by restarting the recognizer.
func (e *RecognitionError) Fatal() bool {
	switch e.Code {
	case CodeNotAllowed, CodeServiceNotAllowed, CodeAudioCapture, CodeLanguageNotSupport:
		return true
	}
	return false
}

type Settings struct {
	Language   string
	Continuous bool
}

// Recognizer produces recognition events for one listening session.
//
// Start begins a session and returns its event channel. The recognizer must
// close the channel when ctx is cancelled or when it stops by itself, and must
// not block sending once ctx is done.
type Recognizer interface {
	Start(ctx context.Context, settings Settings) (<-chan Event, error)
}

// Handler receives each finalized utterance. The coordinator stops listening
// while it runs.
type Handler func(ctx context.Context, transcript string) error

type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
)

// Snapshot is the user-visible state of a Coordinator.
type Snapshot struct {
	State      State  `json:"state"`
	Transcript string `json:"transcript"`
	Active     bool   `json:"active"`
	Error      string `json:"error,omitempty"`
	Utterances int    `json:"utterances"`
	Restarts   int    `json:"restarts"`
}

type Options struct {
	Language       string
	Continuous     bool
	SilenceTimeout time.Duration
	// EnergyThreshold makes loud audio frames count as speech activity.
	// Zero disables level events.
	EnergyThreshold float64
}

const DefaultSilenceTimeout = 1500 * time.Millisecond
