package controlserver

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-procsup/pkg/control"
	"github.com/core-tools/hsu-procsup/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	lines []string
	reply func(line string) control.Result
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, line string) control.Result {
	d.mu.Lock()
	d.lines = append(d.lines, line)
	d.mu.Unlock()
	return d.reply(line)
}

func (d *recordingDispatcher) received() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

func echoDispatcher() *recordingDispatcher {
	return &recordingDispatcher{reply: func(line string) control.Result {
		if strings.HasPrefix(line, "fail") {
			return control.Failed(errors.ErrorTypeProtocol, "unknown command: "+line)
		}
		if line == "silent" {
			return control.Succeeded("")
		}
		return control.Succeeded(line)
	}}
}

func startTestServer(t *testing.T, dispatcher Dispatcher) *Server {
	t.Helper()
	server := NewServer(ServerOptions{Host: "127.0.0.1", Port: 0}, dispatcher, nil)
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dialServer(t *testing.T, server *Server) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, server.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *net.UDPConn, text string) string {
	t.Helper()
	_, err := conn.Write([]byte(text))
	require.NoError(t, err)
	return readReply(t, conn, 2*time.Second)
}

func readReply(t *testing.T, conn *net.UDPConn, timeout time.Duration) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestServer_RepliesToSender(t *testing.T) {
	server := startTestServer(t, echoDispatcher())
	conn := dialServer(t, server)

	assert.True(t, server.IsRunning())
	assert.Equal(t, "SUCCESS: status adc", roundTrip(t, conn, "  status adc\n"))
	assert.Equal(t, "ERROR: unknown command: fail now", roundTrip(t, conn, "fail now"))
	assert.Equal(t, conn.LocalAddr().String(), server.LastSender().String())
}

func TestServer_PreservesArrivalOrder(t *testing.T) {
	dispatcher := echoDispatcher()
	server := startTestServer(t, dispatcher)
	conn := dialServer(t, server)

	commands := []string{"start adc", "status adc", "stop adc", "status processes", "shutdown"}
	for _, c := range commands {
		_, err := conn.Write([]byte(c))
		require.NoError(t, err)
	}

	var replies []string
	for range commands {
		replies = append(replies, readReply(t, conn, 2*time.Second))
	}

	assert.Equal(t, commands, dispatcher.received())
	for i, c := range commands {
		assert.Equal(t, "SUCCESS: "+c, replies[i])
	}
}

func TestServer_IgnoresBlankDatagrams(t *testing.T) {
	dispatcher := echoDispatcher()
	server := startTestServer(t, dispatcher)
	conn := dialServer(t, server)

	_, err := conn.Write([]byte("   \n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("silent"))
	require.NoError(t, err)

	// neither produces a reply, the next command is answered first
	assert.Equal(t, "SUCCESS: status fft", roundTrip(t, conn, "status fft"))
	assert.Equal(t, []string{"silent", "status fft"}, dispatcher.received())
}

func TestServer_RejectsOversizedDatagrams(t *testing.T) {
	dispatcher := echoDispatcher()
	server := startTestServer(t, dispatcher)
	conn := dialServer(t, server)

	oversized := "start adc --path /data/" + strings.Repeat("a", 1100) + "/out.bin"
	assert.Equal(t, "ERROR: command exceeds 1024 bytes", roundTrip(t, conn, oversized))

	exact := "start adc --path " + strings.Repeat("b", DefaultMaxDatagramSize-len("start adc --path "))
	require.Len(t, exact, DefaultMaxDatagramSize)
	assert.Equal(t, "SUCCESS: "+exact, roundTrip(t, conn, exact))

	assert.Equal(t, []string{exact}, dispatcher.received())
}

func TestServer_InvalidUTF8IsReplaced(t *testing.T) {
	dispatcher := echoDispatcher()
	server := startTestServer(t, dispatcher)
	conn := dialServer(t, server)

	reply := roundTrip(t, conn, "status \xffadc")
	assert.Equal(t, "SUCCESS: status \uFFFDadc", reply)
}

func TestServer_BindError(t *testing.T) {
	first := startTestServer(t, echoDispatcher())
	port := first.Addr().(*net.UDPAddr).Port

	second := NewServer(ServerOptions{Host: "127.0.0.1", Port: port}, echoDispatcher(), nil)
	err := second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsBindError(err))
	assert.False(t, second.IsRunning())
}

func TestServer_StopIsIdempotent(t *testing.T) {
	server := NewServer(ServerOptions{Host: "127.0.0.1"}, echoDispatcher(), nil)
	require.NoError(t, server.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		assert.NoError(t, server.Stop())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not unblock the receive loop")
	}

	assert.False(t, server.IsRunning())
	assert.NoError(t, server.Stop())
}

func TestServer_SendTo(t *testing.T) {
	server := startTestServer(t, echoDispatcher())

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer client.Close()

	server.SendTo(client.LocalAddr(), "NOTICE: supervisor shutting down")
	assert.Equal(t, "NOTICE: supervisor shutting down", readReply(t, client, 2*time.Second))

	// nil address is a no-op
	server.SendTo(nil, "ignored")
}

func TestSendCommand(t *testing.T) {
	server := startTestServer(t, echoDispatcher())
	address := server.Addr().String()

	reply, err := SendCommand(context.Background(), address, "status adc", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS: status adc", reply)
	assert.False(t, IsErrorReply(reply))

	reply, err = SendCommand(context.Background(), address, "fail hard", time.Second)
	require.NoError(t, err)
	assert.True(t, IsErrorReply(reply))
}

func TestSendCommand_Timeout(t *testing.T) {
	server := startTestServer(t, echoDispatcher())

	// a silent result produces no reply datagram
	_, err := SendCommand(context.Background(), server.Addr().String(), "silent", 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsTimeoutError(err))
}
