// Package master implements the Master server of spec.md §4.3: the
// fleet's single well-known entry point, handing out the current cluster
// list and registering new Cluster servers. Grounded on
// original_source/rust/master/src/master.rs for the Server's fields, ID
// allocation, and accept+event supervisor loop, and on
// usernameisnull-chat/server/hub.go for the Go for{select{}} translation
// of that loop and its sync.Map-backed connection table.
package master

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Quaint-Studios/Sustenet/internal/connio"
	"github.com/Quaint-Studios/Sustenet/internal/cryptoutil"
	"github.com/Quaint-Studios/Sustenet/internal/eventbus"
	"github.com/Quaint-Studios/Sustenet/internal/logging"
	"github.com/Quaint-Studios/Sustenet/internal/wire"
)

// client is a connection not yet known to be, or never becoming, a
// cluster: matches the original's "Unknown" peer classification.
type client struct {
	id   uint64
	task *connio.Task
}

// Server is the Master server's supervisor state. One Server per process.
type Server struct {
	MaxConnections uint32
	ServerName     string

	log     *logging.Logger
	events  *eventbus.Bus
	metrics *Metrics
	keys    *cryptoutil.KeyStore

	nextID      atomic.Uint64
	connections sync.Map // uint64 -> *client
	connCount   atomic.Int64
	registry    *Registry

	pending sync.Map // uint64 -> *pendingRegistration

	listener  net.Listener
	startTime time.Time
}

// NewServer constructs a Master Server. keysDir is the directory
// containing registration key files (see internal/cryptoutil.KeyStore).
func NewServer(serverName string, maxConnections uint32, keysDir string, log *logging.Logger, events *eventbus.Bus, metrics *Metrics) *Server {
	return &Server{
		MaxConnections: maxConnections,
		ServerName:     serverName,
		log:            log,
		events:         events,
		metrics:        metrics,
		keys:           cryptoutil.NewKeyStore(keysDir),
		registry:       NewRegistry(),
		startTime:      time.Now(),
	}
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }

// PlayerCount returns the current number of open connections (both
// unregistered and registered clusters), serving as the Master's stand-in
// for CheckServerPlayerCount (spec.md §4.1): this process hosts no
// end-user clients itself, so connection count is the closest available
// measure.
func (s *Server) PlayerCount() int { return int(s.connCount.Load()) }

// Registry exposes the cluster registry for diagnostics/tests.
func (s *Server) Registry() *Registry { return s.registry }

// ListenAndServe binds port and accepts connections until the listener is
// closed or ctx-driven shutdown happens via Shutdown. It blocks.
func (s *Server) ListenAndServe(port uint16) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("master: binding port %d: %w", port, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on an already-bound listener until it is
// closed. Exposed separately from ListenAndServe so tests can bind an
// ephemeral port themselves.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	s.log.Success("Master server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			s.log.Error("accept failed", "error", err)
			continue
		}
		s.handleAccept(conn)
	}
}

// Shutdown stops accepting connections, emits Shutdown, and closes every
// open connection, draining the table — mirrors the original's cleanup().
func (s *Server) Shutdown() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.events.Publish(eventbus.Event{Kind: eventbus.Shutdown})
	s.connections.Range(func(key, value any) bool {
		c := value.(*client)
		c.task.Close()
		return true
	})
}

func (s *Server) handleAccept(conn net.Conn) {
	if s.MaxConnections != 0 && uint32(s.connCount.Load()) >= s.MaxConnections {
		s.log.Warn("rejecting connection: server full")
		_ = conn.Close()
		return
	}

	id := s.nextID.Add(1) - 1 // strictly monotonic from 0, never reused.
	c := &client{id: id}

	c.task = connio.New(conn,
		s.makeHandler(id),
		func(class connio.DisconnectClass, err error) {
			s.onDisconnect(id, class, err)
		},
		func(cmd wire.Command) {
			s.log.Error("unknown command", "connection", id, "command", cmd.String())
			s.events.Publish(eventbus.Event{Kind: eventbus.Error, ConnectionID: id, Message: fmt.Sprintf("unknown command: %s", cmd)})
		},
	)

	s.connections.Store(id, c)
	s.connCount.Add(1)
	if s.metrics != nil {
		s.metrics.Connections.Inc()
	}
	s.events.Publish(eventbus.Event{Kind: eventbus.Connected, ConnectionID: id})
	s.log.Info("connection accepted", "connection", id)

	go c.task.Run()
}

func (s *Server) onDisconnect(id uint64, class connio.DisconnectClass, err error) {
	s.connections.Delete(id)
	s.pending.Delete(id)
	s.registry.Remove(id)
	s.connCount.Add(-1)
	if s.metrics != nil {
		s.metrics.Connections.Dec()
	}

	reason := eventbus.ReasonNormal
	switch class {
	case connio.DisconnectDegraded:
		reason = eventbus.ReasonTimeout
		s.log.Warn("connection degraded", "connection", id, "error", err)
	case connio.DisconnectError:
		reason = eventbus.ReasonError
		s.log.Error("connection error", "connection", id, "error", err)
		s.events.Publish(eventbus.Event{Kind: eventbus.Error, ConnectionID: id, Message: errString(err)})
	default:
		s.log.Info("connection closed", "connection", id)
	}
	s.events.Publish(eventbus.Event{Kind: eventbus.Disconnected, ConnectionID: id, Reason: reason})
}

// Send writes bytes to a single connection by ID, returning false if the
// connection is unknown or its outbound queue is full.
func (s *Server) Send(id uint64, data []byte) bool {
	v, ok := s.connections.Load(id)
	if !ok {
		return false
	}
	return v.(*client).task.Send(data)
}

// SendToAll writes bytes to every currently connected peer.
func (s *Server) SendToAll(data []byte) {
	s.connections.Range(func(_, value any) bool {
		value.(*client).task.Send(data)
		return true
	})
}

// SendToClusters writes bytes to every registered Cluster connection.
func (s *Server) SendToClusters(data []byte) {
	for _, rec := range s.registry.List() {
		s.Send(rec.ID, data)
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
