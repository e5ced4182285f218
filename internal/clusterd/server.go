package clusterd

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Quaint-Studios/Sustenet/internal/connio"
	"github.com/Quaint-Studios/Sustenet/internal/eventbus"
	"github.com/Quaint-Studios/Sustenet/internal/logging"
	"github.com/Quaint-Studios/Sustenet/internal/wire"
)

// serverVersion is reported by CheckServerVersion, mirroring
// internal/master's diagnostics handler (see DESIGN.md, Open Question 3).
const serverVersion = "sustenet-cluster/1.0"

// client is one connected end-user Client, scoped to this Cluster's own
// connection table (IDs are cluster-local, independent of the Master's).
type client struct {
	id   uint64
	task *connio.Task
}

// Server is the Cluster's inbound listener for end-user Clients,
// structurally identical to internal/master.Server's listener but scoped
// to cluster-local connection IDs (see SPEC_FULL.md §4.4).
type Server struct {
	MaxConnections uint32

	log    *logging.Logger
	events *eventbus.Bus
	link   *MasterLink

	nextID      atomic.Uint64
	connections sync.Map // uint64 -> *client
	connCount   atomic.Int64

	siblings sync.Map // populated from MasterLink's onList callback
	listener net.Listener

	startTime time.Time
}

// NewServer constructs a Cluster's Client-facing server. link's cluster
// list updates are mirrored into this server's local sibling view.
func NewServer(maxConnections uint32, log *logging.Logger, events *eventbus.Bus, link *MasterLink) *Server {
	return &Server{
		MaxConnections: maxConnections,
		log:            log,
		events:         events,
		link:           link,
		startTime:      time.Now(),
	}
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration { return time.Since(s.startTime) }

// PlayerCount returns the current number of connected end-user Clients.
func (s *Server) PlayerCount() int { return int(s.connCount.Load()) }

// OnClusterList updates the local sibling list; wired as the MasterLink's
// onList callback by cmd/cluster.
func (s *Server) OnClusterList(list []ClusterInfo) {
	var stored []ClusterInfo
	stored = append(stored, list...)
	s.siblings.Store("list", stored)
}

// Siblings returns the most recently received list of sibling clusters.
func (s *Server) Siblings() []ClusterInfo {
	v, ok := s.siblings.Load("list")
	if !ok {
		return nil
	}
	return v.([]ClusterInfo)
}

// ListenAndServe binds port and accepts Client connections until closed.
func (s *Server) ListenAndServe(port uint16) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("clusterd: binding port %d: %w", port, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on an already-bound listener until closed.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	s.log.Success("Cluster server listening", "addr", ln.Addr().String())

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

// Shutdown closes the listener, stops the Master link, and closes every
// connected Client.
func (s *Server) Shutdown() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.link != nil {
		s.link.Stop()
	}
	s.events.Publish(eventbus.Event{Kind: eventbus.Shutdown})
	s.connections.Range(func(_, value any) bool {
		value.(*client).task.Close()
		return true
	})
}

func (s *Server) handleAccept(conn net.Conn) {
	if s.MaxConnections != 0 && uint32(s.connCount.Load()) >= s.MaxConnections {
		s.log.Warn("rejecting client: cluster full")
		_ = conn.Close()
		return
	}

	id := s.nextID.Add(1) - 1
	c := &client{id: id}
	c.task = connio.New(conn,
		s.makeHandler(id),
		func(class connio.DisconnectClass, err error) {
			s.connections.Delete(id)
			s.connCount.Add(-1)
			reason := eventbus.ReasonNormal
			if class == connio.DisconnectError {
				reason = eventbus.ReasonError
			} else if class == connio.DisconnectDegraded {
				reason = eventbus.ReasonTimeout
			}
			s.events.Publish(eventbus.Event{Kind: eventbus.Disconnected, ConnectionID: id, Reason: reason})
		},
		func(cmd wire.Command) {
			s.log.Error("unknown command from client", "connection", id, "command", cmd.String())
			s.events.Publish(eventbus.Event{Kind: eventbus.Error, ConnectionID: id, Message: fmt.Sprintf("unknown command: %s", cmd)})
		},
	)

	s.connections.Store(id, c)
	s.connCount.Add(1)
	s.events.Publish(eventbus.Event{Kind: eventbus.Connected, ConnectionID: id})
	go c.task.Run()
}

func (s *Server) makeHandler(id uint64) func(wire.Command, *wire.Reader, func([]byte) bool) error {
	return func(cmd wire.Command, r *wire.Reader, send func([]byte) bool) error {
		switch cmd {
		case wire.RequestClusters:
			list := s.Siblings()
			w := wire.NewWriter(wire.SendClusters)
			w.WriteU8(uint8(len(list)))
			for _, c := range list {
				_ = w.WriteString(c.Name)
				_ = w.WriteString(c.IP)
				w.WriteU16(c.Port)
				w.WriteU32(c.MaxConnections)
				w.WriteU32(c.StartTime)
			}
			send(w.Bytes())
			return nil
		case wire.CheckServerType:
			return s.handleDiagnostic(id, cmd, "Cluster", send)
		case wire.CheckServerVersion:
			return s.handleDiagnostic(id, cmd, serverVersion, send)
		case wire.CheckServerUptime:
			return s.handleDiagnostic(id, cmd, strconv.FormatInt(int64(s.Uptime().Seconds()), 10), send)
		case wire.CheckServerPlayerCount:
			return s.handleDiagnostic(id, cmd, strconv.Itoa(s.PlayerCount()), send)
		case wire.Connect, wire.Disconnect, wire.Authenticate:
			// Declared lifecycle commands with no payload shape defined by
			// spec.md §4.1; the credential-forwarding side of Authenticate
			// belongs to the not-yet-implemented auth microservice (see
			// DESIGN.md). Acknowledged as known, no-op commands rather than
			// falling into the unknown-command path.
			return nil
		default:
			return unknownCommandErr{}
		}
	}
}

// handleDiagnostic replies in place with the request's own command byte
// followed by a single length-prefixed string payload, symmetric with
// internal/master's diagnostics handler (see DESIGN.md, Open Question 3),
// and publishes DiagnosticsReceived alongside it.
func (s *Server) handleDiagnostic(id uint64, cmd wire.Command, payload string, send func([]byte) bool) error {
	w := wire.NewWriter(cmd)
	_ = w.WriteString(payload)
	send(w.Bytes())
	s.events.Publish(eventbus.Event{Kind: eventbus.DiagnosticsReceived, ConnectionID: id, DiagnosticsKind: byte(cmd), DiagnosticsPayload: []byte(payload)})
	return nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
