// Package runtime implements the client/server task runtime: a writer
// task, a reader task, pending-request correlation by origin_id, and a
// shutdown capability.
package runtime

import (
	"context"
	"sync"

	channels "gopkg.in/eapache/channels.v1"

	"github.com/remoteops/distant/core/conn"
	"github.com/remoteops/distant/core/errs"
)

// Client owns a Connection plus a writer task and a reader task joined by
// a router keyed on Response.OriginID.
type Client struct {
	c *conn.Connection

	writeCh  chan writeJob
	shutdown chan struct{}
	once     sync.Once
	done     chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan *conn.Response

	// unsolicited carries Responses whose origin_id matched no pending
	// request, and inbound server-initiated Requests (e.g. a manager's
	// Authenticate push), for a caller to subscribe to.
	unsolicited *channels.InfiniteChannel
}

type writeJob struct {
	req  conn.Request
	done chan error
}

// NewClient starts the writer and reader tasks over c.
func NewClient(c *conn.Connection) *Client {
	cl := &Client{
		c:           c,
		writeCh:     make(chan writeJob, 1), // capacity 1: one write in flight applies backpressure
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		pending:     make(map[string]chan *conn.Response),
		unsolicited: channels.NewInfiniteChannel(),
	}
	go cl.writerLoop()
	go cl.readerLoop()
	return cl
}

// Unsolicited returns the stream of Responses/Requests this client
// received that it was not explicitly waiting on.
func (cl *Client) Unsolicited() <-chan interface{} { return cl.unsolicited.Out() }

func (cl *Client) writerLoop() {
	for {
		select {
		case <-cl.shutdown:
			return
		case job, ok := <-cl.writeCh:
			if !ok {
				return
			}
			job.done <- cl.c.SendRequest(context.Background(), job.req)
		}
	}
}

func (cl *Client) readerLoop() {
	defer close(cl.done)
	ctx := context.Background()
	for {
		msg, err := cl.c.Recv(ctx)
		if err != nil {
			return
		}
		if msg == nil {
			return // clean EOF
		}
		switch m := msg.(type) {
		case *conn.Response:
			cl.pendingMu.Lock()
			ch, ok := cl.pending[m.OriginID]
			if ok {
				delete(cl.pending, m.OriginID)
			}
			cl.pendingMu.Unlock()
			if ok {
				ch <- m
			} else {
				cl.unsolicited.In() <- m
			}
		case *conn.Request:
			cl.unsolicited.In() <- m
		}

		select {
		case <-cl.shutdown:
			return
		default:
		}
	}
}

// Send writes req and returns a channel that receives the matching
// Response (by origin_id) exactly once. If ctx is done before Send
// returns, the registration is withdrawn, so a Response that still
// arrives is routed to Unsolicited and discarded if nobody claims it.
// Once Send has returned, ctx is no longer watched and the Response is
// delivered on the returned channel.
func (cl *Client) Send(ctx context.Context, req conn.Request) (<-chan *conn.Response, error) {
	replyCh := make(chan *conn.Response, 1)
	cl.pendingMu.Lock()
	cl.pending[req.ID] = replyCh
	cl.pendingMu.Unlock()

	job := writeJob{req: req, done: make(chan error, 1)}
	select {
	case cl.writeCh <- job:
	case <-cl.shutdown:
		cl.pendingMu.Lock()
		delete(cl.pending, req.ID)
		cl.pendingMu.Unlock()
		return nil, errs.New(errs.Other, "client is shut down")
	case <-ctx.Done():
		cl.pendingMu.Lock()
		delete(cl.pending, req.ID)
		cl.pendingMu.Unlock()
		return nil, ctx.Err()
	}

	select {
	case err := <-job.done:
		if err != nil {
			cl.pendingMu.Lock()
			delete(cl.pending, req.ID)
			cl.pendingMu.Unlock()
			return nil, err
		}
	case <-ctx.Done():
		cl.pendingMu.Lock()
		delete(cl.pending, req.ID)
		cl.pendingMu.Unlock()
		return nil, ctx.Err()
	}
	return replyCh, nil
}

// Shutdown aborts the writer and reader tasks. Repeated calls report
// errs.Other("client already shutdown").
func (cl *Client) Shutdown() error {
	alreadyShut := true
	cl.once.Do(func() {
		alreadyShut = false
		close(cl.shutdown)
		_ = cl.c.Close()
	})
	if alreadyShut {
		return errs.New(errs.Other, "client already shutdown")
	}
	return nil
}

// Done is closed once the reader task has exited (clean EOF, error, or
// shutdown).
func (cl *Client) Done() <-chan struct{} { return cl.done }
