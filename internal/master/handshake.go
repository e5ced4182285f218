package master

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Quaint-Studios/Sustenet/internal/cryptoutil"
	"github.com/Quaint-Studios/Sustenet/internal/eventbus"
	"github.com/Quaint-Studios/Sustenet/internal/wire"
)

// serverVersion is reported by CheckServerVersion, an extra diagnostics
// command declared alongside spec.md's three (see DESIGN.md, Open
// Question 3).
const serverVersion = "sustenet-master/1.0"

// pendingRegistration tracks an in-flight BecomeCluster/VerifyCluster/
// AnswerCluster handshake for one connection, per spec.md §4.3's
// registration state machine, grounded on
// original_source/rust/shared/src/packets.rs's master::FromUnknown/
// ToUnknown variants.
type pendingRegistration struct {
	attemptID  string
	keyName    string
	key        []byte
	passphrase string
}

// makeHandler builds the per-connection command dispatcher for
// connio.Task, covering discovery/registration commands (the only ones
// with concrete Master-side semantics; game-domain and messaging ranges
// are declared but unimplemented per spec.md §4.1).
func (s *Server) makeHandler(id uint64) func(cmd wire.Command, r *wire.Reader, send func([]byte) bool) error {
	return func(cmd wire.Command, r *wire.Reader, send func([]byte) bool) error {
		if s.metrics != nil {
			s.metrics.CommandsReceived.WithLabelValues(cmd.String()).Inc()
		}
		switch cmd {
		case wire.RequestClusters:
			return s.handleRequestClusters(send)
		case wire.BecomeCluster:
			return s.handleBecomeCluster(id, r, send)
		case wire.AnswerCluster:
			return s.handleAnswerCluster(id, r, send)
		case wire.CheckServerType:
			return s.handleDiagnostic(id, cmd, "Master", send)
		case wire.CheckServerVersion:
			return s.handleDiagnostic(id, cmd, serverVersion, send)
		case wire.CheckServerUptime:
			return s.handleDiagnostic(id, cmd, strconv.FormatInt(int64(s.Uptime().Seconds()), 10), send)
		case wire.CheckServerPlayerCount:
			return s.handleDiagnostic(id, cmd, strconv.Itoa(s.PlayerCount()), send)
		case wire.Connect, wire.Disconnect, wire.Authenticate:
			// Declared lifecycle commands with no payload shape defined by
			// spec.md §4.1; acknowledged as known, no-op commands (see
			// internal/clusterd's identical handling).
			return nil
		default:
			return errUnknownCommand
		}
	}
}

var errUnknownCommand = unknownCommandError{}

type unknownCommandError struct{}

func (unknownCommandError) Error() string { return "master: unknown command" }

func (s *Server) handleRequestClusters(send func([]byte) bool) error {
	records := s.registry.List()
	w := wire.NewWriter(wire.SendClusters)
	w.WriteU8(uint8(len(records)))
	for _, rec := range records {
		_ = w.WriteString(rec.Name)
		_ = w.WriteString(rec.IP)
		w.WriteU16(rec.Port)
		w.WriteU32(rec.MaxConnections)
		w.WriteU32(uint32(time.Since(rec.StartTime).Seconds()))
	}
	send(w.Bytes())
	return nil
}

// handleBecomeCluster begins registration: the peer names a key, the
// Master looks it up, generates a fresh passphrase, encrypts it, and
// sends it back as VerifyCluster. A missing key is answered with silence
// (per the original: "If the key doesn't exist, the server will do
// nothing but stay silent").
func (s *Server) handleBecomeCluster(id uint64, r *wire.Reader, send func([]byte) bool) error {
	keyName, err := r.ReadString()
	if err != nil {
		return err
	}

	attemptID := uuid.NewString()

	key, err := s.keys.Load(keyName)
	if err != nil {
		s.log.Warn("become-cluster: unknown key", "connection", id, "attempt", attemptID, "key", keyName)
		return nil
	}

	passphrase, err := cryptoutil.GeneratePassphrase()
	if err != nil {
		s.log.Error("become-cluster: generating passphrase", "connection", id, "attempt", attemptID, "error", err)
		return nil
	}

	ciphertext, err := cryptoutil.Encrypt([]byte(passphrase), key)
	if err != nil {
		s.log.Error("become-cluster: encrypting passphrase", "connection", id, "attempt", attemptID, "error", err)
		return nil
	}

	s.pending.Store(id, &pendingRegistration{attemptID: attemptID, keyName: keyName, key: key, passphrase: passphrase})
	s.log.Info("become-cluster: challenge issued", "connection", id, "attempt", attemptID, "key", keyName)

	w := wire.NewWriter(wire.VerifyCluster)
	w.WriteU8(uint8(len(ciphertext)))
	w.WriteBytes(ciphertext)
	send(w.Bytes())
	return nil
}

// handleAnswerCluster completes registration: the peer must echo back the
// identical plaintext passphrase along with its name/ip/port/max
// connections.
func (s *Server) handleAnswerCluster(id uint64, r *wire.Reader, send func([]byte) bool) error {
	v, ok := s.pending.Load(id)
	if !ok {
		s.log.Warn("answer-cluster: no pending registration", "connection", id)
		s.failRegistration(id)
		return nil
	}
	pending := v.(*pendingRegistration)
	s.pending.Delete(id)

	// A truncated handshake response is treated as a registration failure
	// rather than bubbling up as a generic protocol fault (spec.md §7).
	answer, err := r.ReadString()
	if err != nil {
		s.failRegistration(id)
		return nil
	}
	name, err := r.ReadString()
	if err != nil {
		s.failRegistration(id)
		return nil
	}
	ip, err := r.ReadString()
	if err != nil {
		s.failRegistration(id)
		return nil
	}
	port, err := r.ReadU16()
	if err != nil {
		s.failRegistration(id)
		return nil
	}
	maxConnections, err := r.ReadU32()
	if err != nil {
		s.failRegistration(id)
		return nil
	}

	if answer != pending.passphrase {
		s.log.Warn("answer-cluster: passphrase mismatch", "connection", id, "attempt", pending.attemptID)
		s.failRegistration(id)
		return nil
	}

	s.registry.Register(ClusterRecord{
		ID:             id,
		Name:           name,
		IP:             ip,
		Port:           port,
		MaxConnections: maxConnections,
	})
	if s.metrics != nil {
		s.metrics.ClustersRegistered.Inc()
	}
	s.log.Success("cluster registered", "connection", id, "attempt", pending.attemptID, "name", name)
	s.events.Publish(eventbus.Event{Kind: eventbus.ClusterRegistered, ConnectionID: id, ClusterName: name})

	w := wire.NewWriter(wire.CreateCluster)
	send(w.Bytes())

	s.broadcastClusterListChanged()
	return nil
}

// broadcastClusterListChanged pushes the updated cluster list to every
// registered cluster, resolving Open Question 2 of spec.md §9 (see
// DESIGN.md): the Master, not individual clusters, is the source of truth
// for sibling discovery.
func (s *Server) broadcastClusterListChanged() {
	records := s.registry.List()
	w := wire.NewWriter(wire.ClusterListPush)
	w.WriteU8(uint8(len(records)))
	for _, rec := range records {
		_ = w.WriteString(rec.Name)
		_ = w.WriteString(rec.IP)
		w.WriteU16(rec.Port)
		w.WriteU32(rec.MaxConnections)
		w.WriteU32(uint32(time.Since(rec.StartTime).Seconds()))
	}
	s.SendToClusters(w.Bytes())
}

// handleDiagnostic replies to a diagnostics request in place: the response
// echoes the request's command byte followed by a single length-prefixed
// string payload (see DESIGN.md, Open Question 3), and publishes
// DiagnosticsReceived so in-process observers (metrics, tests) see the
// query without parsing the wire traffic themselves.
func (s *Server) handleDiagnostic(id uint64, cmd wire.Command, payload string, send func([]byte) bool) error {
	w := wire.NewWriter(cmd)
	_ = w.WriteString(payload)
	send(w.Bytes())
	s.events.Publish(eventbus.Event{Kind: eventbus.DiagnosticsReceived, ConnectionID: id, DiagnosticsKind: byte(cmd), DiagnosticsPayload: []byte(payload)})
	return nil
}

// failRegistration records a registration failure: it bumps the metric
// and emits ClusterRegistrationFailed. The connection itself is left
// open, per spec.md §7 ("connection remains open in NEW state").
func (s *Server) failRegistration(id uint64) {
	if s.metrics != nil {
		s.metrics.RegistrationFailed.Inc()
	}
	s.events.Publish(eventbus.Event{Kind: eventbus.ClusterRegistrationFailed, ConnectionID: id})
}
