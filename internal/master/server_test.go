package master

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Quaint-Studios/Sustenet/internal/cryptoutil"
	"github.com/Quaint-Studios/Sustenet/internal/eventbus"
	"github.com/Quaint-Studios/Sustenet/internal/logging"
	"github.com/Quaint-Studios/Sustenet/internal/wire"
)

func newTestServer(t *testing.T, keysDir string) (*Server, *eventbus.Bus, net.Listener) {
	t.Helper()
	bus := eventbus.NewBus()
	t.Cleanup(bus.Close)
	metrics := NewMetrics(prometheus.NewRegistry())
	log := logging.New(logging.SourceMaster, "debug")
	srv := NewServer("Test Master", 0, keysDir, log, bus, metrics)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() { _ = srv.Serve(ln) }()
	return srv, bus, ln
}

func TestServerAssignsMonotonicConnectionIDs(t *testing.T) {
	srv, bus, ln := newTestServer(t, t.TempDir())

	sub := bus.Subscribe(8)
	defer sub.Unsubscribe()

	conn1, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn1.Close()

	conn2, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn2.Close()

	seen := map[uint64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Events:
			require.Equal(t, eventbus.Connected, ev.Kind)
			seen[ev.ConnectionID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for Connected event")
		}
	}
	require.True(t, seen[0])
	require.True(t, seen[1])
	_ = srv
}

func TestRequestClustersReturnsEmptyList(t *testing.T) {
	_, _, ln := newTestServer(t, t.TempDir())

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{byte(wire.RequestClusters)})
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	cmdByte, err := br.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(wire.SendClusters), cmdByte)

	r := wire.NewReader(br)
	amount, err := r.ReadU8()
	require.NoError(t, err)
	require.EqualValues(t, 0, amount)
}

func TestDiagnosticsReportPlayerCount(t *testing.T) {
	_, _, ln := newTestServer(t, t.TempDir())

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{byte(wire.CheckServerPlayerCount)})
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	cmdByte, err := br.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(wire.CheckServerPlayerCount), cmdByte)

	r := wire.NewReader(br)
	payload, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "1", payload) // this connection itself
}

func TestClusterRegistrationHandshakeSucceeds(t *testing.T) {
	dir := t.TempDir()
	store := cryptoutil.NewKeyStore(dir)
	key, err := store.LoadOrGenerate("cluster_key")
	require.NoError(t, err)

	srv, bus, ln := newTestServer(t, dir)
	_ = srv

	sub := bus.Subscribe(8)
	defer sub.Unsubscribe()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)

	w := wire.NewWriter(wire.BecomeCluster)
	require.NoError(t, w.WriteString("cluster_key"))
	_, err = conn.Write(w.Bytes())
	require.NoError(t, err)

	cmdByte, err := br.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(wire.VerifyCluster), cmdByte)

	r := wire.NewReader(br)
	ctLen, err := r.ReadU8()
	require.NoError(t, err)
	ciphertext, err := r.ReadBytes(int(ctLen))
	require.NoError(t, err)

	plaintext, err := cryptoutil.Decrypt(ciphertext, key)
	require.NoError(t, err)

	answer := wire.NewWriter(wire.AnswerCluster)
	require.NoError(t, answer.WriteString(string(plaintext)))
	require.NoError(t, answer.WriteString("MyCluster"))
	require.NoError(t, answer.WriteString("127.0.0.1"))
	answer.WriteU16(7778)
	answer.WriteU32(100)
	_, err = conn.Write(answer.Bytes())
	require.NoError(t, err)

	cmdByte, err = br.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(wire.CreateCluster), cmdByte)

	var sawRegistered bool
	for i := 0; i < 4; i++ {
		select {
		case ev := <-sub.Events:
			if ev.Kind == eventbus.ClusterRegistered {
				sawRegistered = true
				require.Equal(t, "MyCluster", ev.ClusterName)
			}
		case <-time.After(time.Second):
		}
		if sawRegistered {
			break
		}
	}
	require.True(t, sawRegistered)
}

// TestBecomeClusterUnknownKeyStaysSilent covers spec.md §8 scenario 4: a
// BecomeCluster naming a key the Master never loaded is answered with
// silence, and the connection is left in its unregistered state rather
// than being torn down.
func TestBecomeClusterUnknownKeyStaysSilent(t *testing.T) {
	srv, bus, ln := newTestServer(t, t.TempDir())
	_ = srv

	sub := bus.Subscribe(8)
	defer sub.Unsubscribe()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	w := wire.NewWriter(wire.BecomeCluster)
	require.NoError(t, w.WriteString("no-such-key"))
	_, err = conn.Write(w.Bytes())
	require.NoError(t, err)

	// No VerifyCluster (or anything else) should arrive.
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())

	// Diagnostics still work on the same connection: it was never closed.
	_ = conn.SetReadDeadline(time.Time{})
	_, err = conn.Write([]byte{byte(wire.CheckServerType)})
	require.NoError(t, err)
	br := bufio.NewReader(conn)
	cmdByte, err := br.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(wire.CheckServerType), cmdByte)

	require.Equal(t, 0, srv.Registry().Count())
	for {
		select {
		case ev := <-sub.Events:
			require.NotEqual(t, eventbus.ClusterRegistered, ev.Kind)
			require.NotEqual(t, eventbus.ClusterRegistrationFailed, ev.Kind)
		default:
			return
		}
	}
}

// TestAnswerClusterWrongPassphraseFails covers spec.md §8 scenario 3: an
// AnswerCluster with the wrong passphrase is rejected, emits
// ClusterRegistrationFailed, and never touches the registry.
func TestAnswerClusterWrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	store := cryptoutil.NewKeyStore(dir)
	_, err := store.LoadOrGenerate("cluster_key")
	require.NoError(t, err)

	srv, bus, ln := newTestServer(t, dir)

	sub := bus.Subscribe(8)
	defer sub.Unsubscribe()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)

	w := wire.NewWriter(wire.BecomeCluster)
	require.NoError(t, w.WriteString("cluster_key"))
	_, err = conn.Write(w.Bytes())
	require.NoError(t, err)

	cmdByte, err := br.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(wire.VerifyCluster), cmdByte)
	r := wire.NewReader(br)
	ctLen, err := r.ReadU8()
	require.NoError(t, err)
	_, err = r.ReadBytes(int(ctLen))
	require.NoError(t, err)

	answer := wire.NewWriter(wire.AnswerCluster)
	require.NoError(t, answer.WriteString("definitely-the-wrong-passphrase"))
	require.NoError(t, answer.WriteString("MyCluster"))
	require.NoError(t, answer.WriteString("127.0.0.1"))
	answer.WriteU16(7778)
	answer.WriteU32(100)
	_, err = conn.Write(answer.Bytes())
	require.NoError(t, err)

	var sawFailed bool
	for i := 0; i < 4; i++ {
		select {
		case ev := <-sub.Events:
			if ev.Kind == eventbus.ClusterRegistrationFailed {
				sawFailed = true
			}
			require.NotEqual(t, eventbus.ClusterRegistered, ev.Kind)
		case <-time.After(time.Second):
		}
		if sawFailed {
			break
		}
	}
	require.True(t, sawFailed)
	require.Equal(t, 0, srv.Registry().Count())
}

// TestServerConnectionIDsMonotonicUnderChurn covers spec.md §8 scenario 6:
// opening, closing, and reopening many connections never reuses an ID —
// the first batch of 1000 gets IDs 0..999, the second batch (after the
// first is fully closed) continues at 1000..1999.
func TestServerConnectionIDsMonotonicUnderChurn(t *testing.T) {
	const batchSize = 1000
	srv, bus, ln := newTestServer(t, t.TempDir())
	_ = srv

	sub := bus.Subscribe(batchSize * 2)
	defer sub.Unsubscribe()

	openCloseBatch := func() {
		conns := make([]net.Conn, 0, batchSize)
		for i := 0; i < batchSize; i++ {
			c, err := net.Dial("tcp", ln.Addr().String())
			require.NoError(t, err)
			conns = append(conns, c)
		}
		for _, c := range conns {
			_ = c.Close()
		}
	}

	collectConnected := func(want int) map[uint64]bool {
		seen := make(map[uint64]bool, want)
		deadline := time.After(10 * time.Second)
		for len(seen) < want {
			select {
			case ev := <-sub.Events:
				if ev.Kind == eventbus.Connected {
					seen[ev.ConnectionID] = true
				}
			case <-deadline:
				t.Fatalf("timed out waiting for Connected events: got %d/%d", len(seen), want)
			}
		}
		return seen
	}

	openCloseBatch()
	firstBatch := collectConnected(batchSize)
	var maxFirstBatch uint64
	for id := range firstBatch {
		if id > maxFirstBatch {
			maxFirstBatch = id
		}
	}
	require.EqualValues(t, batchSize-1, maxFirstBatch)

	// Drain the matching Disconnected events before starting the second
	// batch so ID churn is unambiguous.
	require.Eventually(t, func() bool {
		return srv.PlayerCount() == 0
	}, 5*time.Second, 10*time.Millisecond)

	openCloseBatch()
	secondBatch := collectConnected(batchSize)

	require.True(t, secondBatch[2*batchSize-1], fmt.Sprintf("expected to see connection ID %d", 2*batchSize-1))
	for id := range secondBatch {
		require.GreaterOrEqual(t, id, uint64(batchSize))
	}
}
