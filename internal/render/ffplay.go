//go:build unix

package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"reelfeed/internal/logging"
	"reelfeed/internal/services"
)

// NewFFplayFactory returns a Factory backed by the ffplay binary. Play starts
// one process per renderer; Pause and resume use SIGSTOP/SIGCONT on the
// process group.
func NewFFplayFactory(binary string, logger *slog.Logger) Factory {
	if binary == "" {
		binary = "ffplay"
	}
	componentLogger := logging.NewComponentLogger(logger, "renderer")
	return func(ctx context.Context, playablePath string) (Renderer, error) {
		r := &ffplayRenderer{
			binary: binary,
			path:   playablePath,
			logger: componentLogger,
			ready:  make(chan error, 1),
			done:   make(chan error, 1),
		}
		go r.prepare(ctx)
		return r, nil
	}
}

type ffplayRenderer struct {
	binary string
	path   string
	logger *slog.Logger

	ready chan error
	done  chan error

	mu      sync.Mutex
	cmd     *exec.Cmd
	muted   bool
	paused  bool
	closed  bool
	doneSet bool
}

func (r *ffplayRenderer) prepare(ctx context.Context) {
	defer close(r.ready)
	if err := ctx.Err(); err != nil {
		r.ready <- err
		return
	}
	info, err := os.Stat(r.path)
	if err != nil {
		r.ready <- services.Wrap(services.ErrRenderer, "renderer", "prepare", r.path, err)
		return
	}
	if info.Size() == 0 {
		r.ready <- services.Wrap(services.ErrRenderer, "renderer", "prepare", "playable file is empty", nil)
		return
	}
	r.ready <- nil
}

func (r *ffplayRenderer) Ready() <-chan error { return r.ready }

func (r *ffplayRenderer) Done() <-chan error { return r.done }

func (r *ffplayRenderer) Play(muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("renderer closed")
	}

	if r.cmd != nil && r.cmd.Process != nil {
		if muted == r.muted {
			if !r.paused {
				return nil
			}
			if err := unix.Kill(-r.cmd.Process.Pid, unix.SIGCONT); err != nil {
				return services.Wrap(services.ErrRenderer, "renderer", "resume", "", err)
			}
			r.paused = false
			return nil
		}
		// ffplay cannot re-map audio streams in place, so a mute change
		// replaces the process. The supervising goroutine recognizes the
		// replaced command and stays silent on the done channel.
		_ = unix.Kill(-r.cmd.Process.Pid, unix.SIGCONT)
		_ = unix.Kill(-r.cmd.Process.Pid, unix.SIGKILL)
		r.cmd = nil
	}
	return r.start(muted)
}

// start spawns a fresh ffplay process. Callers hold r.mu.
func (r *ffplayRenderer) start(muted bool) error {
	args := []string{"-autoexit", "-loglevel", "error"}
	if muted {
		args = append(args, "-an")
	}
	args = append(args, r.path)
	cmd := exec.Command(r.binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrRenderer, "renderer", "start playback", r.binary, err)
	}
	r.cmd = cmd
	r.muted = muted
	r.paused = false

	go func() {
		err := cmd.Wait()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.doneSet || r.cmd != cmd {
			return
		}
		r.doneSet = true
		if err != nil && !r.closed {
			r.logger.Warn("player exited with error", logging.Error(err))
			r.done <- services.Wrap(services.ErrRenderer, "renderer", "playback", fmt.Sprintf("%s exited", r.binary), err)
		} else {
			r.done <- nil
		}
		close(r.done)
	}()
	return nil
}

func (r *ffplayRenderer) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.cmd == nil || r.cmd.Process == nil || r.paused {
		return nil
	}
	if err := unix.Kill(-r.cmd.Process.Pid, unix.SIGSTOP); err != nil {
		return services.Wrap(services.ErrRenderer, "renderer", "pause", "", err)
	}
	r.paused = true
	return nil
}

func (r *ffplayRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cmd != nil && r.cmd.Process != nil {
		// SIGCONT first so a paused process can observe the kill.
		_ = unix.Kill(-r.cmd.Process.Pid, unix.SIGCONT)
		_ = unix.Kill(-r.cmd.Process.Pid, unix.SIGKILL)
	}
	if !r.doneSet {
		r.doneSet = true
		r.done <- nil
		close(r.done)
	}
	return nil
}
