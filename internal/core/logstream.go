package core

import "sync"

// maxReplayLines bounds the per-deployment replay buffer; a subscriber that
// attaches late sees at most this many trailing lines.
const maxReplayLines = 1000

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this loses lines rather than blocking the
// builder callback path.
const subscriberBuffer = 256

// BuildLogHub fans builder progress lines out to websocket subscribers.
// Lines arrive via the builder's progress callback and are replayed to
// late-attaching subscribers from a bounded buffer.
type BuildLogHub struct {
	mu      sync.Mutex
	streams map[string]*buildLogStream
}

type buildLogStream struct {
	lines  []string
	subs   map[chan string]struct{}
	closed bool
}

func NewBuildLogHub() *BuildLogHub {
	return &BuildLogHub{streams: make(map[string]*buildLogStream)}
}

func (h *BuildLogHub) stream(deploymentID string) *buildLogStream {
	st, ok := h.streams[deploymentID]
	if !ok {
		st = &buildLogStream{subs: make(map[chan string]struct{})}
		h.streams[deploymentID] = st
	}
	return st
}

// Publish appends lines to the deployment's stream and delivers them to
// current subscribers. Publishing to a closed stream is a no-op.
func (h *BuildLogHub) Publish(deploymentID string, lines ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.stream(deploymentID)
	if st.closed {
		return
	}

	for _, line := range lines {
		st.lines = append(st.lines, line)
		for ch := range st.subs {
			select {
			case ch <- line:
			default:
				// Slow subscriber; it keeps the connection but loses lines.
			}
		}
	}
	if over := len(st.lines) - maxReplayLines; over > 0 {
		st.lines = st.lines[over:]
	}
}

// Subscribe attaches to a deployment's stream. It returns the replay of
// buffered lines, a channel of subsequent lines, and a cancel func the
// caller must invoke when done. The channel is closed when the stream ends.
func (h *BuildLogHub) Subscribe(deploymentID string) ([]string, <-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.stream(deploymentID)
	replay := make([]string, len(st.lines))
	copy(replay, st.lines)

	ch := make(chan string, subscriberBuffer)
	if st.closed {
		close(ch)
		return replay, ch, func() {}
	}
	st.subs[ch] = struct{}{}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := st.subs[ch]; ok {
			delete(st.subs, ch)
			close(ch)
		}
	}
	return replay, ch, cancel
}

// Close ends a deployment's stream: subscriber channels are closed and the
// replay buffer is dropped. Called when the deployment reaches a terminal
// status.
func (h *BuildLogHub) Close(deploymentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[deploymentID]
	if !ok {
		return
	}
	for ch := range st.subs {
		close(ch)
	}
	st.subs = make(map[chan string]struct{})
	st.closed = true
	// Keep a tombstone so late builder callbacks cannot reopen the stream.
	st.lines = nil
}
