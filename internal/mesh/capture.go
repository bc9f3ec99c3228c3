package mesh

import "sync"

// InitCapture buffers the raw inbound frames between want_config_id and
// the matching configComplete so late-joining virtual-node clients can
// replay the device init stream.
type InitCapture struct {
	mu        sync.Mutex
	frames    [][]byte
	capturing bool
	complete  bool
}

func NewInitCapture() *InitCapture {
	return &InitCapture{}
}

// Begin clears the buffer and opens the capture window.
func (c *InitCapture) Begin() {
	c.mu.Lock()
	c.frames = nil
	c.capturing = true
	c.complete = false
	c.mu.Unlock()
}

// Append stores a copy of one raw frame while the window is open.
func (c *InitCapture) Append(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.capturing {
		return
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
}

// Freeze closes the window; later frames are not appended.
func (c *InitCapture) Freeze() {
	c.mu.Lock()
	c.capturing = false
	c.complete = true
	c.mu.Unlock()
}

func (c *InitCapture) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.capturing
}

func (c *InitCapture) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.complete
}

// Snapshot returns a defensive copy of the captured frames.
func (c *InitCapture) Snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]byte, len(c.frames))
	for i, frame := range c.frames {
		out[i] = append([]byte(nil), frame...)
	}

	return out
}
