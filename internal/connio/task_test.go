package connio

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Quaint-Studios/Sustenet/internal/wire"
)

func TestTaskEchoesSingleCommand(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	received := make(chan wire.Command, 1)
	var mu sync.Mutex
	var disconnectClass *DisconnectClass

	task := New(server,
		func(cmd wire.Command, r *wire.Reader, send func([]byte) bool) error {
			received <- cmd
			return nil
		},
		func(class DisconnectClass, err error) {
			mu.Lock()
			defer mu.Unlock()
			c := class
			disconnectClass = &c
		},
		nil,
	)

	go task.Run()

	_, err := client.Write([]byte{byte(wire.RequestClusters)})
	require.NoError(t, err)

	select {
	case cmd := <-received:
		require.Equal(t, wire.RequestClusters, cmd)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for command")
	}

	task.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnectClass != nil
	}, time.Second, 10*time.Millisecond)
}

func TestTaskSendWritesToPeer(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	task := New(server, func(wire.Command, *wire.Reader, func([]byte) bool) error { return nil }, func(DisconnectClass, error) {}, nil)
	go task.Run()

	payload := []byte{byte(wire.SendClusters), 0}
	require.True(t, task.Send(payload))

	buf := make([]byte, len(payload))
	_, err := readFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, payload, buf)

	task.Close()
}

// TestSendSuspendsWhenOutboxFull covers spec.md §8's bounded-queue
// property: the (C+1)-th Send on a cap-C outbox must suspend the caller
// rather than drop the payload, and must unblock as soon as a slot frees
// up.
func TestSendSuspendsWhenOutboxFull(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	task := New(server, func(wire.Command, *wire.Reader, func([]byte) bool) error { return nil }, func(DisconnectClass, error) {}, nil)

	for i := 0; i < outboundQueueCapacity; i++ {
		require.True(t, task.Send([]byte{byte(i)}))
	}

	sent := make(chan struct{})
	go func() {
		task.Send([]byte{0xff})
		close(sent)
	}()

	select {
	case <-sent:
		t.Fatal("Send returned with the outbox full; it should have suspended the caller")
	case <-time.After(100 * time.Millisecond):
	}

	<-task.outbox // drain one slot

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after the outbox drained")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
