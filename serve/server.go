package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"

	lightart "github.com/Paranoid-AF/lightart"
	defaults "github.com/Paranoid-AF/lightart/default"
	"github.com/Paranoid-AF/lightart/generate"
	"github.com/Paranoid-AF/lightart/session"
)

const (
	// signalBuffer is the number of signals queued per connection before
	// new ones are dropped.
	signalBuffer = 32
	// maxEventBytes bounds one JSON event line.
	maxEventBytes = 1 << 20
)

// Server listens on a Unix domain socket. Each connection carries one
// editing session.
type Server struct {
	listener net.Listener
	sockPath string
	manager  *session.Manager
}

// NewServer creates a server bound to sockPath that serves sessions from mgr.
// The server takes ownership of mgr.
func NewServer(sockPath string, mgr *session.Manager) (*Server, error) {
	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener: listener,
		sockPath: sockPath,
		manager:  mgr,
	}, nil
}

// Serve accepts connections and handles their events.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the listener and the session manager and removes the
// socket file.
func (s *Server) Close() {
	s.listener.Close()
	s.manager.Close()
	os.Remove(s.sockPath)
}

// client writes signals to one connection from a dedicated goroutine so
// session listeners never block on the network.
type client struct {
	conn net.Conn
	out  chan lightart.Signal
	done chan struct{}
	once sync.Once
}

func newClient(conn net.Conn) *client {
	c := &client{
		conn: conn,
		out:  make(chan lightart.Signal, signalBuffer),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *client) writeLoop() {
	for {
		select {
		case sig := <-c.out:
			data, err := json.Marshal(sig)
			if err != nil {
				slog.Error("failed to marshal signal", "error", err)
				continue
			}
			slog.Debug("signal", "data", string(data))
			if _, err := c.conn.Write(append(data, '\n')); err != nil {
				slog.Debug("write failed", "error", err)
			}
		case <-c.done:
			return
		}
	}
}

// send queues sig without blocking. Signals are dropped when the client
// stops reading.
func (c *client) send(sig lightart.Signal) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- sig:
	default:
		slog.Warn("dropping signal for slow client", "type", sig.Type, "session", sig.SessionID)
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// OnSuggestions implements session.Listener.
func (c *client) OnSuggestions(r lightart.SuggestionResult) {
	c.send(lightart.Signal{
		Type:       lightart.SignalSuggestions,
		SessionID:  r.SessionID,
		RequestID:  r.RequestID,
		Candidates: r.Candidates,
		LatencyMs:  r.Latency.Milliseconds(),
	})
}

// OnRefinement implements session.Listener.
func (c *client) OnRefinement(r lightart.RefinementResult) {
	c.send(lightart.Signal{
		Type:      lightart.SignalRefinement,
		SessionID: r.SessionID,
		RequestID: r.RequestID,
		Text:      r.Text,
		Truncated: r.Truncated,
		LatencyMs: r.Latency.Milliseconds(),
	})
}

// OnFailed implements session.Listener.
func (c *client) OnFailed(f *lightart.RequestFailed) {
	c.send(lightart.Signal{
		Type:      lightart.SignalFailed,
		SessionID: f.SessionID,
		RequestID: f.RequestID,
		Kind:      f.Kind,
		Error:     wireError(f),
	})
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	c := newClient(conn)
	defer c.close()

	var sess *session.Session
	defer func() {
		if sess != nil {
			sess.Close()
		}
	}()

	ctx := context.Background()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	for scanner.Scan() {
		raw := scanner.Bytes()
		slog.Debug("event", "data", string(raw))

		var ev lightart.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			slog.Warn("invalid event", "error", err)
			c.send(errorSignal("", &lightart.Error{Code: lightart.CodeInvalidRequest, Message: "invalid event: " + err.Error()}))
			continue
		}

		if ev.Type == lightart.EventConfig {
			c.send(handleConfig(ev))
			continue
		}

		if ev.Type == lightart.EventHello {
			next, sig := s.hello(sess, ev.SessionID, c)
			sess = next
			c.send(sig)
			continue
		}
		if sess == nil {
			sess = s.manager.Open("", c)
			c.send(lightart.Signal{Type: lightart.SignalSession, SessionID: sess.ID})
		}

		if sig, ok := s.handleEvent(ctx, sess, ev); ok {
			c.send(sig)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("connection closed", "error", err)
	}
}

// hello opens or resumes the session id for the connection. A session that
// is already attached to another connection cannot be resumed.
func (s *Server) hello(cur *session.Session, id string, c *client) (*session.Session, lightart.Signal) {
	if cur != nil && (id == "" || id == cur.ID) {
		return cur, lightart.Signal{Type: lightart.SignalSession, SessionID: cur.ID}
	}
	if id != "" {
		if _, ok := s.manager.Get(id); ok {
			return cur, errorSignal(id, &lightart.Error{Code: lightart.CodeInvalidRequest, Message: "session is attached to another connection"})
		}
	}
	if cur != nil {
		cur.Close()
	}
	next := s.manager.Open(id, c)
	return next, lightart.Signal{Type: lightart.SignalSession, SessionID: next.ID}
}

// handleEvent applies one session event. It returns a signal to send
// immediately, if any; results arrive later through the listener.
func (s *Server) handleEvent(ctx context.Context, sess *session.Session, ev lightart.Event) (lightart.Signal, bool) {
	switch ev.Type {
	case lightart.EventInput:
		sess.SetInput(ev.Text, ev.Cursor())
	case lightart.EventImage:
		sess.SetImage(ctx, lightart.ImageState{
			ImageID:    ev.ImageID,
			Tags:       ev.Tags,
			Edits:      ev.Edits,
			Vocabulary: ev.Vocabulary,
		})
	case lightart.EventRefine:
		if _, err := sess.Refine(ev.Prompt); err != nil {
			return errorSignal(sess.ID, wireError(err)), true
		}
	case lightart.EventApply:
		if _, err := sess.Apply(ctx, ev.Kind, ev.Instruction); err != nil {
			return errorSignal(sess.ID, wireError(err)), true
		}
	case lightart.EventCancel:
		sess.Cancel(ev.Kind)
	default:
		return errorSignal(sess.ID, &lightart.Error{Code: lightart.CodeInvalidRequest, Message: "unknown event type: " + ev.Type}), true
	}
	return lightart.Signal{}, false
}

func handleConfig(ev lightart.Event) lightart.Signal {
	sig := lightart.Signal{Type: lightart.SignalConfig}

	switch ev.Action {
	case "get":
		cfg, err := lightart.LoadConfig()
		if err != nil {
			sig.Error = &lightart.Error{Code: lightart.CodeConfigError, Message: err.Error()}
		} else {
			sig.Config = cfg
		}

	case "defaults":
		sig.Config = lightart.DefaultConfig()

	case "default_prompt":
		switch ev.Kind {
		case lightart.KindRefinement:
			sig.Prompt = defaults.RefinePrompt
		default:
			sig.Prompt = defaults.SuggestPrompt
		}

	case "validate":
		cfg, err := lightart.LoadConfig()
		if err != nil {
			sig.Error = &lightart.Error{Code: lightart.CodeConfigError, Message: err.Error()}
		} else {
			sig.Warnings = lightart.ValidateConfig(cfg)
		}

	default:
		sig.Error = &lightart.Error{
			Code:    lightart.CodeUnknownAction,
			Message: "unknown config action: " + ev.Action,
		}
	}
	return sig
}

func errorSignal(sessionID string, e *lightart.Error) lightart.Signal {
	return lightart.Signal{Type: lightart.SignalError, SessionID: sessionID, Error: e}
}

// wireError maps err to its wire form, recognising an unconfigured model.
func wireError(err error) *lightart.Error {
	if errors.Is(err, generate.ErrNotConfigured) {
		return &lightart.Error{Code: lightart.CodeNotConfigured, Message: generate.ErrNotConfigured.Error()}
	}
	return lightart.ToWireError(err)
}
