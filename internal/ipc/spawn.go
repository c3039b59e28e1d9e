package ipc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/execabs"
)

// Test seams for executable lookup.
var (
	lookPathFn   = execabs.LookPath
	executableFn = os.Executable
)

// shutdownGrace is how long Close waits for the backend to exit on its own.
const shutdownGrace = 2 * time.Second

// Process is a backend started as a child with stdio as its channel.
type Process struct {
	*Transport

	cmd       *exec.Cmd
	waitOnce  sync.Once
	waitErr   error
	exited    chan struct{}
	closeOnce sync.Once
}

// Spawn starts argv in dir with stdin/stdout wired to a transport. Stderr of
// the child goes to stderr, or is discarded when nil.
func Spawn(argv []string, dir string, stderr io.Writer) (*Process, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty backend command")
	}
	path, err := resolveExecutable(argv[0])
	if err != nil {
		return nil, err
	}

	// execabs refuses binaries resolved to relative paths.
	cmd := execabs.Command(path, argv[1:]...)
	cmd.Dir = dir
	if stderr == nil {
		stderr = io.Discard
	}
	cmd.Stderr = stderr
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start backend: %w", err)
	}

	p := &Process{
		Transport: NewTransport(stdout, stdin, stdin),
		cmd:       cmd,
		exited:    make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	})
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Exited is closed when the child exits.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Close closes the channel, giving the child a moment to exit on EOF before
// killing it.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.Transport.Close()
		select {
		case <-p.exited:
		case <-time.After(shutdownGrace):
			_ = p.cmd.Process.Kill()
			<-p.exited
		}
	})
	return err
}

// resolveExecutable locates the backend binary. Bare names are looked up next
// to the current executable first, then in PATH.
func resolveExecutable(name string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		abs, err := filepath.Abs(name)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", name, err)
		}
		return abs, nil
	}

	if exe, err := executableFn(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	path, err := lookPathFn(name)
	if err != nil {
		return "", fmt.Errorf("backend binary '%s' not found: %w", name, err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs, nil
	}
	return path, nil
}
