package instance

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
)

// Process is a running benchmark subprocess.
type Process interface {
	PID() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed; -1 means the process did not
	// exit normally.
	ExitCode() int
	Kill() error
}

// Launcher starts one benchmark subprocess per instance.
type Launcher interface {
	Launch(ctx context.Context, id int) (Process, error)
}

// CommandLauncher runs the same command line for every instance. Output is
// discarded; only the exit status is observed.
type CommandLauncher struct {
	Path string
	Args []string
	Dir  string
}

func (l CommandLauncher) Launch(ctx context.Context, id int) (Process, error) {
	_ = id
	cmd := exec.CommandContext(ctx, l.Path, l.Args...)
	cmd.Dir = l.Dir
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Path, err)
	}

	p := &cmdProcess{cmd: cmd, done: make(chan struct{}), exitCode: -1}
	go p.wait()
	return p, nil
}

type cmdProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *cmdProcess) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exitCode = 0
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	}
	p.mu.Unlock()

	close(p.done)
}

func (p *cmdProcess) PID() int { return p.cmd.Process.Pid }

func (p *cmdProcess) Done() <-chan struct{} { return p.done }

func (p *cmdProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *cmdProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}
