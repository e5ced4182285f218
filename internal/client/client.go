// Package client implements the Client state machine of spec.md §4.5.
// Grounded on original_source/rust/client/src/lib.rs's ConnectionType/
// start()/join_cluster() design, translated from that file's package-
// level lazy_static! globals into an explicit, mutex-guarded struct —
// idiomatic Go prefers an owned receiver over global mutable state.
package client

import (
	"fmt"
	"net"
	"sync"

	"github.com/Quaint-Studios/Sustenet/internal/connio"
	"github.com/Quaint-Studios/Sustenet/internal/logging"
	"github.com/Quaint-Studios/Sustenet/internal/wire"
)

// State is a Client's position in the DISCONNECTED -> MASTER_CONNECTED ->
// SWITCHING -> CLUSTER_CONNECTED state machine of spec.md §4.5.
type State int

const (
	Disconnected State = iota
	MasterConnected
	Switching
	ClusterConnected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case MasterConnected:
		return "MASTER_CONNECTED"
	case Switching:
		return "SWITCHING"
	case ClusterConnected:
		return "CLUSTER_CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ClusterInfo is one entry of the cluster list received from the Master.
// StartTime is the seconds-since-registration snapshot from spec.md §3,
// as of the moment the Master encoded the list.
type ClusterInfo struct {
	Name           string
	IP             string
	Port           uint16
	MaxConnections uint32
	StartTime      uint32
}

// EventKind distinguishes the variant of an Event the Client surfaces to
// its host application (the plugin in the original's terms). The first six
// match spec.md §4.5's list verbatim (Connected, Disconnected, MessageSent,
// MessageReceived, CommandReceived, Error); EventClusterList is this
// package's own domain-specific addition, fired alongside CommandReceived
// when the command is a cluster-list push.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessageSent
	EventMessageReceived
	EventCommandReceived
	EventError
	EventClusterList
)

// Event is broadcast to Client subscribers, a small local analogue of
// internal/eventbus.Event scoped to this package to avoid a needless
// cross-package dependency for a single-consumer struct.
type Event struct {
	Kind     EventKind
	Clusters []ClusterInfo
	Command  wire.Command
	Message  string
}

// Client holds the single active connection state machine described in
// spec.md §4.5.
type Client struct {
	mu    sync.Mutex
	state State
	task  *connio.Task

	clusters []ClusterInfo
	taskDone chan struct{}
	log      *logging.Logger

	subscribers []chan Event
	subMu       sync.Mutex
}

// New returns a disconnected Client.
func New(log *logging.Logger) *Client {
	return &Client{state: Disconnected, log: log}
}

// State returns the Client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel receiving every Event this Client emits
// from here on, matching spec.md §4.5's "standard broadcast semantics;
// slow subscribers may miss events" (non-blocking send, bounded buffer).
func (c *Client) Subscribe(capacity int) <-chan Event {
	ch := make(chan Event, capacity)
	c.subMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Client) emit(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ConnectToMaster dials ip:port and enters MASTER_CONNECTED, requesting
// the cluster list once connected.
func (c *Client) ConnectToMaster(ip string, port uint16) error {
	return c.connect(ip, port, MasterConnected)
}

// JoinCluster switches the active connection to the named entry of the
// most recently received cluster list. Per spec.md §4.5's SWITCHING state
// ("close master link cleanly; connect to cluster[i]") and §8 scenario 5,
// the old connection is closed — and its Disconnected event observed —
// before the new one is dialed: the original's join_cluster only swaps
// the target and calls stop() on the old link, with the new socket not
// opened until the next iteration of its outer connection loop, so
// close-then-connect is the faithful translation, not swap-then-close.
func (c *Client) JoinCluster(index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.clusters) {
		c.mu.Unlock()
		return fmt.Errorf("client: cluster index %d out of range", index)
	}
	target := c.clusters[index]
	oldTask := c.task
	oldDone := c.taskDone
	c.state = Switching
	c.mu.Unlock()

	if oldTask != nil {
		oldTask.Close()
		if oldDone != nil {
			<-oldDone
		}
	}

	if err := c.connect(target.IP, target.Port, ClusterConnected); err != nil {
		c.mu.Lock()
		c.state = MasterConnected
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) connect(ip string, port uint16, nextState State) error {
	conn, err := net.Dial("tcp", net.JoinHostPort(ip, fmt.Sprint(port)))
	if err != nil {
		return fmt.Errorf("client: connecting to %s:%d: %w", ip, port, err)
	}

	done := make(chan struct{})
	task := connio.New(conn,
		c.makeHandler(),
		func(class connio.DisconnectClass, derr error) {
			c.mu.Lock()
			c.state = Disconnected
			c.mu.Unlock()
			c.emit(Event{Kind: EventDisconnected})
			close(done)
		},
		func(cmd wire.Command) {
			msg := fmt.Sprintf("unknown command received: %s", cmd)
			c.log.Error("unknown command", "command", cmd.String())
			c.emit(Event{Kind: EventError, Command: cmd, Message: msg})
		},
	)

	c.mu.Lock()
	c.task = task
	c.taskDone = done
	c.state = nextState
	c.mu.Unlock()

	go task.Run()
	c.emit(Event{Kind: EventConnected})

	if nextState == MasterConnected {
		w := wire.NewWriter(wire.RequestClusters)
		task.Send(w.Bytes())
	}
	return nil
}

// Send enqueues a raw payload on the active connection, if any. Per
// spec.md §4.5, success means "enqueued," not "written to the socket."
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	task := c.task
	c.mu.Unlock()
	if task == nil {
		return false
	}
	ok := task.Send(data)
	if ok {
		c.emit(Event{Kind: EventMessageSent})
	}
	return ok
}

// Disconnect gracefully closes the active connection, if any.
func (c *Client) Disconnect() {
	c.mu.Lock()
	task := c.task
	c.mu.Unlock()
	if task != nil {
		task.Close()
	}
}

func (c *Client) makeHandler() func(wire.Command, *wire.Reader, func([]byte) bool) error {
	return func(cmd wire.Command, r *wire.Reader, send func([]byte) bool) error {
		c.emit(Event{Kind: EventMessageReceived})
		switch cmd {
		case wire.SendClusters, wire.ClusterListPush:
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
			c.mu.Lock()
			c.clusters = list
			c.mu.Unlock()
			c.emit(Event{Kind: EventCommandReceived, Command: cmd})
			c.emit(Event{Kind: EventClusterList, Clusters: list})
			return nil
		default:
			return errUnknownClientCommand{}
		}
	}
}

type errUnknownClientCommand struct{}

func (errUnknownClientCommand) Error() string { return "client: unknown command" }
