package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Process is a started browser process
type Process interface {
	Pid() int
	Kill() error
	// Done is closed once the process has exited and been reaped
	Done() <-chan struct{}
}

// Spawner starts argv in the background
type Spawner func(ctx context.Context, argv []string) (Process, error)

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// ExecSpawner starts argv with os/exec. The process outlives ctx; it is tied
// to this process's lifetime instead where the OS allows it.
func ExecSpawner(ctx context.Context, argv []string) (Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	killAfterParent(cmd)

	err := cmd.Start()
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("file does not exist: %s", argv[0])
	}
	if err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Done() <-chan struct{} { return p.done }
