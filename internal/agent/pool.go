package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/pkg/models"
)

// Pool defaults, overridable per agent config.
const (
	DefaultMaxWorkers     = 1
	DefaultAcquireTimeout = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	stderrRingSize    = 100
	shutdownGrace     = 3 * time.Second
	workerLineBuffer  = 16
	maxStdoutLineSize = 10 * 1024 * 1024
)

// Pool manages a bounded set of worker processes for one stdio agent. Each
// worker holds at most one in-flight request; requests and responses are
// single lines of JSON-RPC over stdin/stdout, correlated by id.
type Pool struct {
	agentID string
	command string
	args    []string
	env     map[string]string

	maxWorkers     int
	acquireTimeout time.Duration
	requestTimeout time.Duration

	mu      sync.Mutex
	workers map[int]*worker
	idle    chan *worker
	nextID  int
	closed  bool
}

// worker is one child process. Only the dispatch that acquired it may touch
// stdin or drain lines, which is what keeps writes serialized.
type worker struct {
	id     int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	stderr *stderrRing
	exited chan struct{}
}

// NewPool creates a pool for the agent's configured command. Workers spawn
// lazily on demand.
func NewPool(agentID string, cfg models.AgentConfig) *Pool {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	acquireTimeout := DefaultAcquireTimeout
	if cfg.AcquireTimeout > 0 {
		acquireTimeout = time.Duration(cfg.AcquireTimeout) * time.Second
	}
	requestTimeout := DefaultRequestTimeout
	if cfg.RequestTimeout > 0 {
		requestTimeout = time.Duration(cfg.RequestTimeout) * time.Second
	}

	return &Pool{
		agentID:        agentID,
		command:        cfg.Command,
		args:           cfg.Args,
		env:            cfg.Env,
		maxWorkers:     maxWorkers,
		acquireTimeout: acquireTimeout,
		requestTimeout: requestTimeout,
		workers:        make(map[int]*worker),
		idle:           make(chan *worker, maxWorkers),
	}
}

// rpcFrame is the line written to a worker.
type rpcFrame struct {
	Jsonrpc string               `json:"jsonrpc"`
	Method  string               `json:"method"`
	Params  *models.AgentRequest `json:"params"`
	ID      string               `json:"id"`
}

// rpcReply is the line a worker answers with.
type rpcReply struct {
	Jsonrpc string                `json:"jsonrpc"`
	Result  *models.AgentResponse `json:"result,omitempty"`
	Error   *models.MCPError      `json:"error,omitempty"`
	ID      string                `json:"id"`
}

// Dispatch sends the request to an idle worker and awaits its correlated
// response. Every acquired worker is either released back to the idle set or
// retired, on every path.
func (p *Pool) Dispatch(ctx context.Context, req *models.AgentRequest) (*models.AgentResponse, error) {
	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	frame, err := json.Marshal(rpcFrame{Jsonrpc: "2.0", Method: "dispatch", Params: req, ID: requestID})
	if err != nil {
		p.release(w)
		return nil, err
	}

	if _, err := w.stdin.Write(append(frame, '\n')); err != nil {
		p.retire(w, "stdin write failed")
		return nil, &models.TransportError{Kind: models.TransportIO, Err: err}
	}

	deadline := time.NewTimer(p.requestTimeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				p.retire(w, "process exited mid-request")
				return nil, &models.TransportError{Kind: models.TransportIO, Err: fmt.Errorf("worker %d exited before responding", w.id)}
			}
			var reply rpcReply
			if err := json.Unmarshal(line, &reply); err != nil {
				p.retire(w, "unparseable stdout line")
				return nil, &models.TransportError{Kind: models.TransportParseFrame, Err: err}
			}
			if reply.ID != requestID {
				log.Warn().Str("agent", p.agentID).Int("worker", w.id).
					Str("got", reply.ID).Str("want", requestID).
					Msg("Discarding stdio response with mismatched id")
				continue
			}
			p.release(w)
			if reply.Error != nil {
				return nil, reply.Error
			}
			if !reply.Result.Valid() {
				return nil, fmt.Errorf("%w: missing type or metadata", models.ErrInvalidAgentResponse)
			}
			return reply.Result, nil

		case <-deadline.C:
			p.retire(w, "response timed out")
			return nil, &models.TransportError{Kind: models.TransportTimeout, Err: fmt.Errorf("worker %d response timed out after %s", w.id, p.requestTimeout)}

		case <-ctx.Done():
			p.retire(w, "request canceled")
			return nil, &models.TransportError{Kind: models.TransportTimeout, Err: ctx.Err()}
		}
	}
}

// acquire returns an idle worker, spawning one if the pool has headroom.
// Dead workers pulled from the idle set are discarded and replaced.
func (p *Pool) acquire(ctx context.Context) (*worker, error) {
	deadline := time.NewTimer(p.acquireTimeout)
	defer deadline.Stop()

	for {
		select {
		case w := <-p.idle:
			if workerAlive(w) {
				return w, nil
			}
			p.retire(w, "found dead in idle set")
			continue
		default:
		}

		if w, spawned, err := p.trySpawn(); err != nil {
			return nil, err
		} else if spawned {
			return w, nil
		}

		select {
		case w := <-p.idle:
			if workerAlive(w) {
				return w, nil
			}
			p.retire(w, "found dead in idle set")
		case <-deadline.C:
			return nil, &models.TransportError{Kind: models.TransportTimeout, Err: fmt.Errorf("no idle worker within %s", p.acquireTimeout)}
		case <-ctx.Done():
			return nil, &models.TransportError{Kind: models.TransportTimeout, Err: ctx.Err()}
		}
	}
}

func workerAlive(w *worker) bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// trySpawn starts a new worker if under maxWorkers. The bool reports whether
// a worker was spawned. The slot is reserved before the process starts so
// concurrent acquires cannot overshoot maxWorkers while spawning.
func (p *Pool) trySpawn() (*worker, bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, fmt.Errorf("pool for agent %s is closed", p.agentID)
	}
	if len(p.workers) >= p.maxWorkers {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.nextID++
	id := p.nextID
	p.workers[id] = nil // reserved, no process yet
	p.mu.Unlock()

	w, err := p.spawn(id)

	p.mu.Lock()
	if err != nil {
		delete(p.workers, id)
		p.mu.Unlock()
		return nil, false, err
	}
	if p.closed {
		delete(p.workers, id)
		p.mu.Unlock()
		killWorker(w)
		return nil, false, fmt.Errorf("pool for agent %s is closed", p.agentID)
	}
	p.workers[id] = w
	p.mu.Unlock()
	return w, true, nil
}

func (p *Pool) spawn(id int) (*worker, error) {
	cmd := exec.Command(p.command, p.args...)
	cmd.Env = os.Environ()
	for k, v := range p.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker for agent %s: %w", p.agentID, err)
	}

	w := &worker{
		id:     id,
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan []byte, workerLineBuffer),
		stderr: newStderrRing(stderrRingSize),
		exited: make(chan struct{}),
	}

	go w.readStdout(stdout)
	go w.readStderr(stderr, p.agentID)
	go func() {
		_ = cmd.Wait()
		close(w.exited)
	}()

	log.Info().Str("agent", p.agentID).Int("worker", id).Int("pid", cmd.Process.Pid).
		Msg("Stdio worker started")
	return w, nil
}

func (w *worker) readStdout(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxStdoutLineSize)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		w.lines <- line
	}
	close(w.lines)
}

func (w *worker) readStderr(stderr io.Reader, agentID string) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		w.stderr.append(scanner.Text())
		log.Debug().Str("agent", agentID).Int("worker", w.id).Msg(scanner.Text())
	}
}

// release returns the worker to the idle set, or kills it if the pool shut
// down while the request was in flight.
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		killWorker(w)
		return
	}
	select {
	case p.idle <- w:
	default:
		// Idle set full, which means this worker was already replaced.
		p.retire(w, "idle set full on release")
	}
}

// retire removes the worker from the pool and kills its process. The recent
// stderr tail goes into the log to aid debugging.
func (p *Pool) retire(w *worker, reason string) {
	p.mu.Lock()
	delete(p.workers, w.id)
	p.mu.Unlock()

	log.Warn().Str("agent", p.agentID).Int("worker", w.id).Str("reason", reason).
		Strs("stderr", w.stderr.tail(10)).
		Msg("Retiring stdio worker")
	killWorker(w)
}

func killWorker(w *worker) {
	w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-w.exited:
		case <-time.After(shutdownGrace):
			_ = w.cmd.Process.Kill()
		}
	}
}

// Close retires all workers: SIGTERM first, SIGKILL after the grace period.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	workers := make([]*worker, 0, len(p.workers))
	for id, w := range p.workers {
		// Nil entries are reserved slots whose spawn is still in flight;
		// trySpawn kills those itself once it sees the pool closed.
		if w != nil {
			workers = append(workers, w)
		}
		delete(p.workers, id)
	}
	p.mu.Unlock()

	// Drain the idle set so released workers are not doubly killed.
	for {
		select {
		case <-p.idle:
			continue
		default:
		}
		break
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			killWorker(w)
		}(w)
	}
	wg.Wait()
	log.Info().Str("agent", p.agentID).Int("workers", len(workers)).Msg("Stdio pool closed")
	return nil
}

// stderrRing retains the last N stderr lines of one worker.
type stderrRing struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newStderrRing(max int) *stderrRing {
	return &stderrRing{lines: make([]string, 0, max), max: max}
}

func (r *stderrRing) append(line string) {
	r.mu.Lock()
	if len(r.lines) >= r.max {
		r.lines = r.lines[1:]
	}
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

func (r *stderrRing) tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}
