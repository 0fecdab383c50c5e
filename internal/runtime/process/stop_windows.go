//go:build windows

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

const stopGracePeriod = 2 * time.Second

func (p *processInstance) Stop(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}
	// Attempt a graceful shutdown first. Interrupt delivery is unreliable on
	// Windows, so escalate to a forceful tree kill after the grace period.
	_ = p.cmd.Process.Signal(os.Interrupt)

	select {
	case <-p.waitDone:
		return p.exitError()
	case <-time.After(stopGracePeriod):
	case <-ctx.Done():
		return ctx.Err()
	}

	return p.Kill(ctx)
}

func (p *processInstance) Kill(ctx context.Context) error {
	if p.cmd.Process == nil {
		return nil
	}

	// taskkill /T terminates the whole tree by process identifier; plain
	// signals cannot be trusted to reach grandchildren here.
	kill := exec.CommandContext(ctx, "taskkill", "/T", "/F", "/PID", strconv.Itoa(p.cmd.Process.Pid))
	if err := kill.Run(); err != nil {
		if killErr := p.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			return fmt.Errorf("kill process %s: %w", p.name, killErr)
		}
	}
	select {
	case <-p.waitDone:
		return p.exitError()
	case <-ctx.Done():
		return ctx.Err()
	}
}
