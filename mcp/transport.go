package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// transportMessage is one frame received from the server, or a terminal
// transport error.
type transportMessage struct {
	data []byte
	err  error
}

// stdioTransport runs a tool server as a child process and exchanges
// newline-delimited JSON over its stdin/stdout pair. stderr is drained to the
// debug log so a chatty server cannot block on a full pipe.
type stdioTransport struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	receiveCh chan transportMessage
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu        sync.Mutex
	connected bool
}

// newStdioTransport launches the child process and starts the read loops.
// The caller owns the returned transport and must Close it to reap the child.
func newStdioTransport(command string, args, env []string, dir string) (*stdioTransport, error) {
	if command == "" {
		return nil, fmt.Errorf("command must not be empty")
	}

	cmd := exec.Command(command, args...)
	if env != nil {
		cmd.Env = env
	}
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	t := &stdioTransport{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		receiveCh: make(chan transportMessage, 10),
		closeCh:   make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	t.wg.Add(2)
	go t.readLoop()
	go t.monitorProcess()
	go t.drainStderr()

	return t, nil
}

// send writes one newline-delimited JSON frame to the child's stdin.
func (t *stdioTransport) send(ctx context.Context, message any) error {
	t.mu.Lock()
	ok := t.connected
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	data = append(data, '\n')

	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (t *stdioTransport) receive() <-chan transportMessage {
	return t.receiveCh
}

// close shuts the pipes, kills the child if it is still running, and waits
// for the reader goroutines before closing the receive channel.
func (t *stdioTransport) close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closeCh)

		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()

		t.stdin.Close()
		if t.cmd.Process != nil {
			if killErr := t.cmd.Process.Kill(); killErr != nil {
				err = killErr
			}
		}
		t.stdout.Close()
		t.stderr.Close()

		go func() {
			t.wg.Wait()
			close(t.receiveCh)
		}()
	})
	return err
}

func (t *stdioTransport) readLoop() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		// the scanner reuses its buffer between frames
		frame := make([]byte, len(data))
		copy(frame, data)

		select {
		case t.receiveCh <- transportMessage{data: frame}:
		case <-t.closeCh:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case t.receiveCh <- transportMessage{err: fmt.Errorf("read stdout: %w", err)}:
		case <-t.closeCh:
		}
	}
}

func (t *stdioTransport) drainStderr() {
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		slog.Debug("tool server stderr", "line", scanner.Text())
	}
}

func (t *stdioTransport) monitorProcess() {
	defer t.wg.Done()

	err := t.cmd.Wait()
	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()

	if wasConnected && err != nil {
		select {
		case t.receiveCh <- transportMessage{err: fmt.Errorf("tool server exited: %w", err)}:
		case <-t.closeCh:
		}
	}
}
