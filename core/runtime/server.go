package runtime

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/remoteops/distant/core/conn"
	"github.com/remoteops/distant/core/errs"
)

// RequestHandler answers an inbound Request by sending zero or more
// Responses through reply, all sharing the Request's id as origin_id.
type RequestHandler func(ctx context.Context, req *conn.Request, reply *Reply)

// Reply is a cloneable sink for the Responses answering one Request. All
// clones share the same underlying write lock, so responses sharing an
// origin_id are serialized onto the wire even if a handler fans out
// across goroutines (e.g. a streamed manager Channel response).
type Reply struct {
	c        *conn.Connection
	originID string
	mu       *sync.Mutex
}

// Clone returns an independent handle to the same sink.
func (r *Reply) Clone() *Reply {
	return &Reply{c: r.c, originID: r.originID, mu: r.mu}
}

// Send writes one Response carrying payload and this reply's origin_id.
func (r *Reply) Send(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c.SendResponse(ctx, conn.Response{ID: randomID(), OriginID: r.originID, Payload: payload})
}

// Server dispatches inbound Requests to a RequestHandler and, like
// Client, can also issue its own Requests upstream and await Responses —
// the shape the manager needs for its server-initiated Authenticate push.
type Server struct {
	c       *conn.Connection
	handler RequestHandler

	writeCh  chan writeJob
	shutdown chan struct{}
	once     sync.Once
	done     chan struct{}

	pendingMu sync.Mutex
	pending   map[string]chan *conn.Response

	writeMu sync.Mutex
}

// NewServer starts dispatching inbound Requests from c to handler, and
// enables this side to send its own Requests via Send.
func NewServer(c *conn.Connection, handler RequestHandler) *Server {
	s := &Server{
		c:        c,
		handler:  handler,
		writeCh:  make(chan writeJob, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		pending:  make(map[string]chan *conn.Response),
	}
	go s.writerLoop()
	go s.readerLoop()
	return s
}

func (s *Server) writerLoop() {
	for {
		select {
		case <-s.shutdown:
			return
		case job, ok := <-s.writeCh:
			if !ok {
				return
			}
			s.writeMu.Lock()
			err := s.c.SendRequest(context.Background(), job.req)
			s.writeMu.Unlock()
			job.done <- err
		}
	}
}

func (s *Server) readerLoop() {
	defer close(s.done)
	ctx := context.Background()
	for {
		msg, err := s.c.Recv(ctx)
		if err != nil {
			return
		}
		if msg == nil {
			return
		}
		switch m := msg.(type) {
		case *conn.Request:
			if s.handler != nil {
				reply := &Reply{c: s.c, originID: m.ID, mu: &s.writeMu}
				go s.handler(ctx, m, reply)
			}
		case *conn.Response:
			s.pendingMu.Lock()
			ch, ok := s.pending[m.OriginID]
			if ok {
				delete(s.pending, m.OriginID)
			}
			s.pendingMu.Unlock()
			if ok {
				ch <- m
			}
		}

		select {
		case <-s.shutdown:
			return
		default:
		}
	}
}

// Send issues req upstream (server-initiated, e.g. a manager's
// Authenticate push to the client it is serving) and returns a channel
// receiving the matching Response.
func (s *Server) Send(ctx context.Context, req conn.Request) (<-chan *conn.Response, error) {
	replyCh := make(chan *conn.Response, 1)
	s.pendingMu.Lock()
	s.pending[req.ID] = replyCh
	s.pendingMu.Unlock()

	job := writeJob{req: req, done: make(chan error, 1)}
	select {
	case s.writeCh <- job:
	case <-s.shutdown:
		s.pendingMu.Lock()
		delete(s.pending, req.ID)
		s.pendingMu.Unlock()
		return nil, errs.New(errs.Other, "server is shut down")
	case <-ctx.Done():
		s.pendingMu.Lock()
		delete(s.pending, req.ID)
		s.pendingMu.Unlock()
		return nil, ctx.Err()
	}

	select {
	case err := <-job.done:
		if err != nil {
			s.pendingMu.Lock()
			delete(s.pending, req.ID)
			s.pendingMu.Unlock()
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return replyCh, nil
}

// Shutdown aborts the writer and reader tasks. Repeated calls report
// errs.Other("server already shutdown").
func (s *Server) Shutdown() error {
	alreadyShut := true
	s.once.Do(func() {
		alreadyShut = false
		close(s.shutdown)
		_ = s.c.Close()
	})
	if alreadyShut {
		return errs.New(errs.Other, "server already shutdown")
	}
	return nil
}

// Done is closed once the reader task has exited.
func (s *Server) Done() <-chan struct{} { return s.done }

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
