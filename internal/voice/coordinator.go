package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Coordinator drives one Recognizer. Partial results reset a silence timer;
// when the timer elapses the pending transcript is frozen, listening stops
// and the Handler runs exactly once for it. Listening restarts after the
// handler returns.
type Coordinator struct {
	rec      Recognizer
	handler  Handler
	opts     Options
	logger   *slog.Logger
	onChange func(Snapshot)

	mu   sync.Mutex
	snap Snapshot
}

func NewCoordinator(rec Recognizer, handler Handler, opts Options, logger *slog.Logger) *Coordinator {
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = DefaultSilenceTimeout
	}
	return &Coordinator{
		rec:     rec,
		handler: handler,
		opts:    opts,
		logger:  logger,
		snap:    Snapshot{State: StateIdle},
	}
}

// OnChange registers f to be called from the Run goroutine after every state
// change. It must be set before Run.
func (c *Coordinator) OnChange(f func(Snapshot)) {
	c.onChange = f
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Coordinator) update(f func(s *Snapshot)) {
	c.mu.Lock()
	f(&c.snap)
	snap := c.snap
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(snap)
	}
}

// Run listens until ctx is cancelled, a fatal recognizer error occurs, or a
// non-continuous session ends with nothing pending.
func (c *Coordinator) Run(ctx context.Context) error {
	var (
		events     <-chan Event
		stop       = func() {}
		timer      *time.Timer
		timerC     <-chan time.Time
		done       chan error
		transcript string
		processing bool
	)

	settings := Settings{Language: c.opts.Language, Continuous: c.opts.Continuous}

	start := func() error {
		sessCtx, cancel := context.WithCancel(ctx)
		ch, err := c.rec.Start(sessCtx, settings)
		if err != nil {
			cancel()
			return err
		}
		events, stop = ch, cancel
		c.update(func(s *Snapshot) { s.State = StateListening })
		return nil
	}

	restart := func() error {
		c.update(func(s *Snapshot) { s.Restarts++ })
		return start()
	}

	halt := func() {
		stop()
		stop = func() {}
		events = nil
	}

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(c.opts.SilenceTimeout)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.opts.SilenceTimeout)
		}
		timerC = timer.C
	}

	// pending reports whether an utterance is waiting for its silence timer.
	pending := func() bool {
		return timerC != nil || processing
	}

	defer func() {
		halt()
		if timer != nil {
			timer.Stop()
		}
		c.update(func(s *Snapshot) {
			s.State = StateIdle
			s.Active = false
		})
	}()

	if err := start(); err != nil {
		c.fail(err)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				// the recognizer stopped on its own (native end of speech)
				halt()
				if pending() {
					continue
				}
				if !c.opts.Continuous {
					return nil
				}
				if err := restart(); err != nil {
					c.fail(err)
					return err
				}
				continue
			}

			switch ev.Kind {
			case EventPartial:
				if processing || ev.Text == "" {
					continue
				}
				transcript = ev.Text
				c.update(func(s *Snapshot) {
					s.Transcript = ev.Text
					s.Active = true
				})
				resetTimer()

			case EventLevel:
				if c.opts.EnergyThreshold > 0 && ev.Level >= c.opts.EnergyThreshold &&
					transcript != "" && !processing {
					resetTimer()
				}

			case EventError:
				if ev.Err == nil {
					continue
				}
				if ev.Err.Fatal() {
					c.fail(ev.Err)
					return ev.Err
				}
				if ev.Err.Benign() {
					c.logger.Debug("No speech detected, restarting recognition")
				} else {
					c.logger.Warn("Speech recognition error", "error", ev.Err)
					c.fail(ev.Err)
				}
				halt()
				if pending() {
					continue
				}
				if err := restart(); err != nil {
					c.fail(err)
					return err
				}
			}

		case <-timerC:
			timerC = nil
			if transcript == "" || processing {
				continue
			}

			frozen := transcript
			processing = true
			halt()
			c.update(func(s *Snapshot) {
				s.State = StateProcessing
				s.Active = false
				s.Transcript = frozen
				s.Utterances++
			})
			c.logger.Info("Utterance finalized", slog.String("transcript", frozen))

			done = make(chan error, 1)
			go func() {
				done <- c.handler(ctx, frozen)
			}()

		case err := <-done:
			done = nil
			processing = false
			transcript = ""
			c.update(func(s *Snapshot) {
				s.Transcript = ""
				if err != nil {
					s.Error = err.Error()
				} else {
					s.Error = ""
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("Voice command failed", "error", err)
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := restart(); err != nil {
				c.fail(err)
				return err
			}
		}
	}
}

func (c *Coordinator) fail(err error) {
	c.update(func(s *Snapshot) { s.Error = err.Error() })
}
