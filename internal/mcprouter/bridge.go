package mcprouter

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cubicler/cubicler/pkg/models"
)

// Bridge delivers MCP responses over per-client SSE channels. It is
// transparent to the router: the HTTP layer asks it to deliver a response
// and falls back to the synchronous body when the client has no channel.
//
// At most one channel exists per client id; re-registering replaces (and
// closes) the previous channel.
type Bridge struct {
	mu    sync.Mutex
	chans map[string]chan []byte
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{chans: make(map[string]chan []byte)}
}

// Register opens the client's SSE channel. Frames arriving on the returned
// channel are complete SSE events ready to write to the wire. The returned
// cancel func unregisters the channel if it is still the active one.
func (b *Bridge) Register(clientID string) (<-chan []byte, func()) {
	ch := make(chan []byte, 16)

	b.mu.Lock()
	if prev, ok := b.chans[clientID]; ok {
		close(prev)
		log.Debug().Str("client", clientID).Msg("Replacing existing MCP SSE channel")
	}
	b.chans[clientID] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.chans[clientID] == ch {
			delete(b.chans, clientID)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Registered reports whether the client currently has a channel.
func (b *Bridge) Registered(clientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.chans[clientID]
	return ok
}

// Deliver writes the response as a single SSE data frame on the client's
// channel. It reports false when the client has no channel or the channel
// is full, in which case the caller should respond synchronously.
func (b *Bridge) Deliver(clientID string, resp *models.MCPResponse) bool {
	raw, err := json.Marshal(resp)
	if err != nil {
		log.Error().Str("client", clientID).Err(err).Msg("Marshaling bridged MCP response failed")
		return false
	}
	frame := []byte(fmt.Sprintf("data: %s\n\n", raw))

	// The non-blocking send happens under the lock so a concurrent
	// re-register cannot close the channel mid-send.
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.chans[clientID]
	if !ok {
		return false
	}
	select {
	case ch <- frame:
		return true
	default:
		log.Warn().Str("client", clientID).Msg("MCP SSE channel full, falling back to synchronous response")
		return false
	}
}
