// Call runs one RPC invocation in the background and lets many interested
// parties (a RESPONSE section, then a following ASSERTS section) join on its
// headers/trailers/responses without re-invoking anything. Multiple joiners
// arriving before headers exist collapse into a single wait via
// golang.org/x/sync/singleflight, per spec.md §5's lazy-handshake requirement.
package orchestrator

import (
	"context"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Call is the shared, append-only record of one invocation's observed events.
type Call struct {
	mu        sync.Mutex
	sendHdr   metadata.MD
	recvHdr   metadata.MD
	responses []*dynamic.Message
	trailers  metadata.MD
	status    *status.Status
	done      bool
	err       error
	doneCh    chan struct{}
	joinGroup singleflight.Group
}

func newCall() *Call {
	return &Call{doneCh: make(chan struct{})}
}

// callHandler implements EventHandler and fans every event into the shared Call.
type callHandler struct {
	call *Call
}

func (h *callHandler) OnResolveMethod(*desc.MethodDescriptor) {}

func (h *callHandler) OnSendHeaders(md metadata.MD) {
	h.call.mu.Lock()
	h.call.sendHdr = md
	h.call.mu.Unlock()
}

func (h *callHandler) OnReceiveHeaders(md metadata.MD) {
	h.call.mu.Lock()
	h.call.recvHdr = md
	h.call.mu.Unlock()
}

func (h *callHandler) OnReceiveResponse(resp *dynamic.Message) {
	h.call.mu.Lock()
	h.call.responses = append(h.call.responses, resp)
	h.call.mu.Unlock()
}

func (h *callHandler) OnReceiveTrailers(stat *status.Status, md metadata.MD) {
	h.call.mu.Lock()
	h.call.status = stat
	h.call.trailers = md
	h.call.mu.Unlock()
}

func (c *Call) finish(err error) {
	c.mu.Lock()
	c.done = true
	c.err = err
	c.mu.Unlock()
	close(c.doneCh)
}

// Wait blocks until the invocation has completed, deduping concurrent
// waiters into a single select.
func (c *Call) Wait(ctx context.Context) error {
	_, err, _ := c.joinGroup.Do("wait", func() (any, error) {
		select {
		case <-c.doneCh:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Call) Responses() []*dynamic.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*dynamic.Message(nil), c.responses...)
}

func (c *Call) Headers() metadata.MD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvHdr
}

func (c *Call) Trailers() metadata.MD {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trailers
}

func (c *Call) Status() *status.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
