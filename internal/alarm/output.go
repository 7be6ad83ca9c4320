package alarm

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"

	logx "ordersentry/pkg/logx"
)

// Output is the host audio facility behind the player. Begin starts looped
// playback from the start of the clip and returns once playback is running
// (or refused); End stops it. Implementations must tolerate End without a
// prior Begin.
type Output interface {
	Begin(ctx context.Context) error
	End()
}

// ExecOutput drives a host media player process (e.g. ffplay, mpv, aplay in
// a loop). Begin spawns the command; End kills it. The command is expected
// to loop on its own (pass the player's loop flag in Args).
type ExecOutput struct {
	Command string
	Args    []string
	Log     logx.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewExecOutput builds an output from a command line such as
// "ffplay -nodisp -loglevel quiet -loop 0 alarm.mp3".
func NewExecOutput(cmdline string, log logx.Logger) (*ExecOutput, error) {
	parts := strings.Fields(strings.TrimSpace(cmdline))
	if len(parts) == 0 {
		return nil, errors.New("audio command is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExecOutput{Command: parts[0], Args: parts[1:], Log: log}, nil
}

func (o *ExecOutput) Begin(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cmd != nil {
		return nil
	}
	cmd := exec.CommandContext(ctx, o.Command, o.Args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	o.cmd = cmd
	// Reap the process when it exits on its own (missing file, no audio
	// device) so End doesn't kill a recycled pid.
	go func() {
		err := cmd.Wait()
		o.mu.Lock()
		if o.cmd == cmd {
			o.cmd = nil
			if err != nil {
				o.Log.Debug("audio process exited", logx.Err(err))
			}
		}
		o.mu.Unlock()
	}()
	return nil
}

func (o *ExecOutput) End() {
	o.mu.Lock()
	cmd := o.cmd
	o.cmd = nil
	o.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// NopOutput is the headless/test output: it accepts every request and
// tracks whether playback is nominally running.
type NopOutput struct {
	mu      sync.Mutex
	playing bool
	begins  int
}

func (o *NopOutput) Begin(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playing = true
	o.begins++
	return nil
}

func (o *NopOutput) End() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playing = false
}

// Playing reports whether Begin has been called without a later End.
func (o *NopOutput) Playing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}

// Begins reports how many playback sessions were started.
func (o *NopOutput) Begins() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.begins
}

// FailingOutput refuses every Begin with the given error (test double for
// the host blocking playback).
type FailingOutput struct{ Err error }

func (o FailingOutput) Begin(ctx context.Context) error {
	if o.Err != nil {
		return o.Err
	}
	return errors.New("playback refused")
}

func (o FailingOutput) End() {}
