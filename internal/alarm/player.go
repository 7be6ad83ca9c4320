// Package alarm owns the single looping alarm sound of a monitor instance.
package alarm

import (
	"context"
	"sync"
	"time"

	"ordersentry/internal/eventbus"
	logx "ordersentry/pkg/logx"
)

// Player owns one loopable audio resource and its on/off state.
//
// Invariants:
//   - at most one alarm is audibly playing per player instance;
//   - Play while playing is a no-op (not an error, not a restart);
//   - Stop always succeeds and is safe when idle;
//   - playback failure is non-fatal: it is logged and broadcast, never
//     returned as an error to the alert path.
type Player struct {
	out Output
	bus eventbus.Bus
	log logx.Logger

	mu       sync.Mutex
	playing  bool
	unlocked bool
	playStop context.CancelFunc
}

func NewPlayer(out Output, bus eventbus.Bus, log logx.Logger) *Player {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Player{out: out, bus: bus, log: log}
}

// Unlock performs a begin-then-immediately-end probe so later automatic Play
// calls are allowed by the host's autoplay policy. It must be driven by a
// genuine user-initiated signal. Idempotent: a second call is a no-op.
func (p *Player) Unlock(ctx context.Context) {
	p.mu.Lock()
	if p.unlocked {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := p.out.Begin(ctx); err != nil {
		p.log.Warn("audio unlock failed", logx.Err(err))
		return
	}
	p.out.End()

	p.mu.Lock()
	p.unlocked = true
	p.mu.Unlock()
	p.log.Info("audio unlocked")
}

// Unlocked reports whether the unlock probe has succeeded.
func (p *Player) Unlocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unlocked
}

// Play rewinds and begins looped playback. No-op when already playing, which
// protects against double-triggering on duplicate events.
func (p *Player) Play(ctx context.Context) {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = true
	// Playback lifetime is owned by the player, not by the (short-lived)
	// caller context.
	playCtx, stop := context.WithCancel(context.Background())
	p.playStop = stop
	p.mu.Unlock()

	if err := p.out.Begin(playCtx); err != nil {
		p.mu.Lock()
		p.playing = false
		if p.playStop != nil {
			p.playStop()
			p.playStop = nil
		}
		p.mu.Unlock()

		// Host refused playback (autoplay policy). Non-fatal: the UI can
		// prompt for interaction when it sees the broadcast.
		p.log.Warn("alarm playback blocked", logx.Err(err))
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmBlocked, Data: err.Error()})
		}
		return
	}

	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmStarted, Time: time.Now()})
	}
}

// Stop pauses and rewinds. Always succeeds; safe to call when not playing.
func (p *Player) Stop() {
	p.mu.Lock()
	wasPlaying := p.playing
	p.playing = false
	if p.playStop != nil {
		p.playStop()
		p.playStop = nil
	}
	p.mu.Unlock()

	p.out.End()

	if wasPlaying && p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeAlarmStopped, Time: time.Now()})
	}
}

// Playing reports whether the alarm is currently sounding.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
