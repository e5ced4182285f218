// Package connio implements the Connection Task shared by every role in
// the fleet (Master's inbound connections, Cluster's outbound link to the
// Master, Cluster's inbound Client connections, and the Client's single
// active connection). It is a direct translation of
// original_source/rust/master/src/master_client.rs and
// rust/cluster/src/master_connection.rs's lselect!-based write-queue/
// read-loop, adapted to Go's lack of "select over an async read": a
// dedicated reader goroutine feeds single command bytes into a channel
// that the task's select loop consumes alongside the outbound queue. The
// shape also borrows from usernameisnull-chat/server/session.go's
// queueOut/shutdown-channel pairing.
package connio

import (
	"bufio"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/Quaint-Studios/Sustenet/internal/wire"
)

// outboundQueueCapacity mirrors the original's mpsc::channel::<Bytes>(16).
const outboundQueueCapacity = 16

// DisconnectClass classifies why a Task stopped reading, per spec.md §7.
type DisconnectClass int

const (
	// DisconnectNormal covers EOF, connection reset, and connection
	// aborted: ordinary peer-initiated closes.
	DisconnectNormal DisconnectClass = iota
	// DisconnectDegraded covers timeouts, broken pipes, and "not
	// connected": logged at info/warn but still a normal teardown.
	DisconnectDegraded
	// DisconnectError covers any other I/O error: logged as an error in
	// addition to tearing the connection down.
	DisconnectError
)

// CommandHandler processes one inbound command. reader is positioned
// immediately after the command byte. Handlers run on the task's own
// goroutine, so a handler that blocks delays further reads and the
// outbound queue for this connection only.
type CommandHandler func(cmd wire.Command, r *wire.Reader, send func([]byte) bool) error

// Task owns one net.Conn: an outbound bounded queue and a one-byte-at-a-
// time inbound command reader, arbitrated by a single select loop.
type Task struct {
	conn    net.Conn
	outbox  chan []byte
	handler CommandHandler

	onDisconnect func(DisconnectClass, error)
	onUnknown    func(wire.Command)
}

// New constructs a Task around conn. handler is invoked for every inbound
// command byte; onDisconnect is invoked exactly once when the task's loop
// exits, classifying the cause; onUnknown is invoked for command bytes the
// handler chooses not to recognize (it may also report this itself via
// onDisconnect-independent logging — both hooks are optional).
func New(conn net.Conn, handler CommandHandler, onDisconnect func(DisconnectClass, error), onUnknown func(wire.Command)) *Task {
	return &Task{
		conn:         conn,
		outbox:       make(chan []byte, outboundQueueCapacity),
		handler:      handler,
		onDisconnect: onDisconnect,
		onUnknown:    onUnknown,
	}
}

// Send enqueues data for the writer side, blocking the caller while the
// outbound queue is full rather than dropping the payload (spec.md §4.2/
// §7/§8: "a sender whose send would block waits"). A non-empty payload is
// written verbatim; Close should be used to request shutdown instead of
// sending an empty slice directly, though an empty Send has the same
// effect (it is the in-band shutdown sentinel described in spec.md §4.2).
func (t *Task) Send(data []byte) bool {
	t.outbox <- data
	return true
}

// Close requests a graceful shutdown by enqueuing the empty-slice
// sentinel, matching MasterClient::close in the original.
func (t *Task) Close() {
	select {
	case t.outbox <- []byte{}:
	default:
		// Outbox full: force the sentinel through by draining one slot.
		select {
		case <-t.outbox:
		default:
		}
		t.outbox <- []byte{}
	}
}

// Run drives the task's select loop until the connection closes or a
// shutdown is requested. It blocks the calling goroutine; callers spawn
// one goroutine per connection, per spec.md §5.
func (t *Task) Run() {
	defer t.conn.Close()

	// A single bufio.Reader is shared between the background byte-reader
	// goroutine and the command handler below. The handshake (commands/
	// resume) ensures only one side touches it at a time: the reader
	// goroutine blocks on resume after delivering a byte until the
	// handler has finished consuming that command's full body.
	br := bufio.NewReader(t.conn)
	cmdReader := wire.NewReader(br)

	commands := make(chan byte)
	resume := make(chan struct{})
	readErrs := make(chan error, 1)
	go t.readLoop(br, commands, resume, readErrs)

	for {
		select {
		case out, ok := <-t.outbox:
			if !ok || len(out) == 0 {
				t.shutdownWriter()
				t.onDisconnect(DisconnectNormal, nil)
				return
			}
			if _, err := t.conn.Write(out); err != nil {
				t.onDisconnect(classifyErr(err), err)
				return
			}
		case b, ok := <-commands:
			if !ok {
				err := <-readErrs
				t.onDisconnect(classifyErr(err), err)
				return
			}
			cmd := wire.Command(b)
			if t.handler != nil {
				if err := t.handler(cmd, cmdReader, t.Send); err != nil {
					if t.onUnknown != nil {
						t.onUnknown(cmd)
					}
				}
			}
			resume <- struct{}{}
		}
	}
}

// readLoop reads one command byte at a time off br and feeds it to
// commands, then waits for the consumer to signal resume before reading
// the next byte — this keeps the handler's use of the same br for the
// command body race-free. It exits (closing commands) on the first read
// error, reporting it on errs.
func (t *Task) readLoop(br *bufio.Reader, commands chan<- byte, resume <-chan struct{}, errs chan<- error) {
	defer close(commands)
	for {
		b, err := br.ReadByte()
		if err != nil {
			errs <- err
			return
		}
		commands <- b
		<-resume
	}
}

func (t *Task) shutdownWriter() {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := t.conn.(closeWriter); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = t.conn.Close()
}

// classifyErr maps a read/write error to the taxonomy of spec.md §7.
func classifyErr(err error) DisconnectClass {
	if err == nil {
		return DisconnectNormal
	}
	if errors.Is(err, io.EOF) {
		return DisconnectNormal
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return DisconnectNormal
	}
	if errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ENOTCONN) {
		return DisconnectDegraded
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return DisconnectDegraded
	}
	return DisconnectError
}
