// Package clusterd implements the Cluster server of spec.md §4.4: a dual
// role process that maintains an outbound registration link to the
// Master while also listening for inbound Client connections. Grounded on
// original_source/rust/cluster/src/master_connection.rs for the outbound
// link's reconnect behavior (generalized here from the original's fixed
// 200ms ticker to spec.md's exponential 1s->30s backoff) and on
// internal/master's listener/table shape for the inbound side.
package clusterd

import (
	"fmt"
	"net"
	"time"

	"github.com/Quaint-Studios/Sustenet/internal/connio"
	"github.com/Quaint-Studios/Sustenet/internal/cryptoutil"
	"github.com/Quaint-Studios/Sustenet/internal/logging"
	"github.com/Quaint-Studios/Sustenet/internal/wire"
)

// backoff schedule: 1s, 2s, 4s, ... capped at 30s, per spec.md §4.4.
const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// MasterLink owns the Cluster's single outbound connection to the Master:
// registration, reconnect-with-backoff, and relaying ClusterListPush
// updates into the Cluster's local view of its siblings.
type MasterLink struct {
	masterAddr string
	keyName    string
	name       string
	publicIP   string
	port       uint16
	maxConns   uint32

	log          *logging.Logger
	keys         *cryptoutil.KeyStore
	key          []byte
	task         *connio.Task
	onList       func([]ClusterInfo)
	onRegistered func()
	stopped      chan struct{}
}

// ClusterInfo is one sibling cluster as received via SendClusters/
// ClusterListPush. StartTime is the Master's snapshot of seconds elapsed
// since that sibling registered (spec.md §3), not a live-updating value.
type ClusterInfo struct {
	Name           string
	IP             string
	Port           uint16
	MaxConnections uint32
	StartTime      uint32
}

// NewMasterLink constructs a MasterLink. onList is invoked (from the
// link's own goroutine) whenever a fresh cluster list arrives; onRegistered
// is invoked exactly once per successful connectAndRegister call, the
// instant CreateCluster is received — callers gate anything that must wait
// for registration to complete (spec.md §4.4 steps 5-6, e.g. binding the
// Client-facing listener) on this callback rather than on Run's retry loop.
func NewMasterLink(masterIP string, masterPort uint16, keyName, name, publicIP string, port uint16, maxConns uint32, keysDir string, log *logging.Logger, onList func([]ClusterInfo), onRegistered func()) *MasterLink {
	return &MasterLink{
		masterAddr:   net.JoinHostPort(masterIP, fmt.Sprint(masterPort)),
		keyName:      keyName,
		name:         name,
		publicIP:     publicIP,
		port:         port,
		maxConns:     maxConns,
		log:          log,
		keys:         cryptoutil.NewKeyStore(keysDir),
		onList:       onList,
		onRegistered: onRegistered,
		stopped:      make(chan struct{}),
	}
}

// Run connects to the Master and runs the registration handshake,
// retrying with exponential backoff on failure, until Stop is called. It
// loads the registration key once up front (generating and persisting one
// on first run, per spec.md §4.4 step 1) before attempting any connection.
func (m *MasterLink) Run() {
	key, err := m.ensureKey()
	if err != nil {
		m.log.Error("master link: could not load or generate registration key", "key", m.keyName, "error", err)
		return
	}
	m.key = key

	backoff := initialBackoff
	for {
		select {
		case <-m.stopped:
			return
		default:
		}

		if err := m.connectAndRegister(); err != nil {
			m.log.Warn("master link failed, retrying", "addr", m.masterAddr, "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-m.stopped:
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff
	}
}

// Stop ends the link's retry loop and closes any active connection.
func (m *MasterLink) Stop() {
	select {
	case <-m.stopped:
	default:
		close(m.stopped)
	}
	if m.task != nil {
		m.task.Close()
	}
}

func (m *MasterLink) connectAndRegister() error {
	conn, err := net.Dial("tcp", m.masterAddr)
	if err != nil {
		return fmt.Errorf("clusterd: dialing master: %w", err)
	}
	m.log.Success("connected to master", "addr", m.masterAddr)

	done := make(chan struct{})
	m.task = connio.New(conn,
		m.makeHandler(),
		func(class connio.DisconnectClass, err error) {
			m.log.Info("master link disconnected", "class", class, "error", err)
			close(done)
		},
		func(cmd wire.Command) {
			m.log.Warn("master link: unknown command", "command", cmd.String())
		},
	)
	go m.task.Run()

	if err := m.register(); err != nil {
		m.task.Close()
		return err
	}

	<-done
	return nil
}

// ensureKey loads the configured registration key, generating and
// persisting a fresh one under keys/<key_name> if this is the Cluster's
// first run, per spec.md §4.4 step 1 and §6's keystore auto-create
// behavior. A generated key triggers a warning, since the Master must be
// separately provisioned with the same key out-of-band.
func (m *MasterLink) ensureKey() ([]byte, error) {
	key, err := m.keys.Load(m.keyName)
	if err == nil {
		return key, nil
	}
	key, err = cryptoutil.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating registration key: %w", err)
	}
	if err := m.keys.Save(m.keyName, key); err != nil {
		return nil, fmt.Errorf("persisting registration key: %w", err)
	}
	m.log.Warn("generated a new registration key; the Master must be provisioned with the same key out-of-band", "key", m.keyName)
	return key, nil
}

func (m *MasterLink) register() error {
	w := wire.NewWriter(wire.BecomeCluster)
	if err := w.WriteString(m.keyName); err != nil {
		return err
	}
	m.task.Send(w.Bytes())
	return nil
}

func (m *MasterLink) makeHandler() func(wire.Command, *wire.Reader, func([]byte) bool) error {
	return func(cmd wire.Command, r *wire.Reader, send func([]byte) bool) error {
		switch cmd {
		case wire.VerifyCluster:
			return m.handleVerifyCluster(r, send)
		case wire.CreateCluster:
			m.log.Success("cluster registration accepted by master")
			if m.onRegistered != nil {
				m.onRegistered()
			}
			return nil
		case wire.SendClusters, wire.ClusterListPush:
			return m.handleClusterList(r)
		default:
			return unknownCommandErr{}
		}
	}
}

type unknownCommandErr struct{}

func (unknownCommandErr) Error() string { return "clusterd: unknown command from master" }

func (m *MasterLink) handleVerifyCluster(r *wire.Reader, send func([]byte) bool) error {
	ctLen, err := r.ReadU8()
	if err != nil {
		return err
	}
	ciphertext, err := r.ReadBytes(int(ctLen))
	if err != nil {
		return err
	}

	plaintext, err := cryptoutil.Decrypt(ciphertext, m.key)
	if err != nil {
		m.log.Error("verify-cluster: decrypting challenge", "error", err)
		return nil
	}

	w := wire.NewWriter(wire.AnswerCluster)
	if err := w.WriteString(string(plaintext)); err != nil {
		return err
	}
	if err := w.WriteString(m.name); err != nil {
		return err
	}
	if err := w.WriteString(m.publicIP); err != nil {
		return err
	}
	w.WriteU16(m.port)
	w.WriteU32(m.maxConns)
	send(w.Bytes())
	return nil
}

func (m *MasterLink) handleClusterList(r *wire.Reader) error {
	amount, err := r.ReadU8()
	if err != nil {
		return err
	}
	list := make([]ClusterInfo, 0, amount)
	for i := 0; i < int(amount); i++ {
		name, err := r.ReadString()
		if err != nil {
			return err
		}
		ip, err := r.ReadString()
		if err != nil {
			return err
		}
		port, err := r.ReadU16()
		if err != nil {
			return err
		}
		maxConns, err := r.ReadU32()
		if err != nil {
			return err
		}
		startTime, err := r.ReadU32()
		if err != nil {
			return err
		}
		list = append(list, ClusterInfo{Name: name, IP: ip, Port: port, MaxConnections: maxConns, StartTime: startTime})
	}
	if m.onList != nil {
		m.onList(list)
	}
	return nil
}
