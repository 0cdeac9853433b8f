package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/pkg/models"
)

// StdioTransport spawns the configured command and speaks line-delimited
// JSON-RPC over its stdin/stdout. Writes are serialized; responses are
// correlated by id. Stderr is logged, never parsed.
type StdioTransport struct {
	identifier string
	command    string
	args       []string
	env        map[string]string
	timeout    time.Duration

	mu      sync.Mutex
	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan *models.MCPResponse
	exited  chan struct{}
	closed  bool
}

// NewStdioTransport creates a stdio transport for the given server.
func NewStdioTransport(identifier, command string, args []string, env map[string]string, timeout time.Duration) *StdioTransport {
	return &StdioTransport{
		identifier: identifier,
		command:    command,
		args:       args,
		env:        env,
		timeout:    timeout,
		pending:    make(map[string]chan *models.MCPResponse),
	}
}

// Initialize spawns the child process and wires its pipes.
func (t *StdioTransport) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil {
		return nil
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &models.TransportError{Kind: models.TransportIO, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &models.TransportError{Kind: models.TransportIO, Err: fmt.Errorf("start %s: %w", t.command, err)}
	}

	t.cmd = cmd
	t.stdin = stdin
	t.exited = make(chan struct{})

	go t.readLoop(stdout)
	go t.logStderr(stderr)
	go func() {
		_ = cmd.Wait()
		close(t.exited)
	}()

	log.Info().Str("server", t.identifier).Str("command", t.command).Int("pid", cmd.Process.Pid).
		Msg("MCP stdio server started")
	return nil
}

// readLoop parses one JSON object per stdout line and delivers it by id.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp models.MCPResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Warn().Str("server", t.identifier).Err(err).Msg("Unparseable stdio line dropped")
			continue
		}
		if resp.ID == nil {
			continue
		}

		t.mu.Lock()
		ch, ok := t.pending[idKey(resp.ID)]
		if ok {
			delete(t.pending, idKey(resp.ID))
		}
		t.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (t *StdioTransport) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.Debug().Str("server", t.identifier).Str("stream", "stderr").Msg(scanner.Text())
	}
}

// SendRequest writes one framed request line and waits for the correlated
// response. The per-request timeout converts into an error.
func (t *StdioTransport) SendRequest(ctx context.Context, req *models.MCPRequest) (*models.MCPResponse, error) {
	t.mu.Lock()
	if t.closed || t.cmd == nil {
		t.mu.Unlock()
		return nil, &models.TransportError{Kind: models.TransportIO, Err: fmt.Errorf("stdio transport for %s not running", t.identifier)}
	}
	key := idKey(req.ID)
	ch := make(chan *models.MCPResponse, 1)
	t.pending[key] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
	}()

	line, err := json.Marshal(req)
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}
	line = append(line, '\n')

	t.writeMu.Lock()
	_, err = t.stdin.Write(line)
	t.writeMu.Unlock()
	if err != nil {
		return nil, &models.TransportError{Kind: models.TransportIO, Err: fmt.Errorf("write to %s: %w", t.identifier, err)}
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, &models.TransportError{Kind: models.TransportTimeout, Err: fmt.Errorf("no stdio response for id %v", req.ID)}
	case <-ctx.Done():
		return nil, &models.TransportError{Kind: models.TransportTimeout, Err: ctx.Err()}
	}
}

// Close terminates the child process.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Signal(os.Interrupt)
		select {
		case <-t.exited:
		case <-time.After(3 * time.Second):
			_ = t.cmd.Process.Kill()
		}
	}
	return nil
}
