// Package controlserver is the datagram front end of the supervisor. One goroutine receives
// datagrams and queues them; a second goroutine dispatches them strictly in arrival order and
// sends each reply back to the originating address.
package controlserver

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/core-tools/hsu-procsup/pkg/control"
	"github.com/core-tools/hsu-procsup/pkg/errors"
	"github.com/core-tools/hsu-procsup/pkg/logging"

	"github.com/google/uuid"
)

const (
	DefaultMaxDatagramSize = 1024
	DefaultQueueSize       = 64
)

// Dispatcher executes one command line
type Dispatcher interface {
	Dispatch(ctx context.Context, line string) control.Result
}

type ServerOptions struct {
	Host            string
	Port            int
	MaxDatagramSize int
	QueueSize       int
}

type request struct {
	id       string
	addr     *net.UDPAddr
	line     string
	received time.Time
	rejected *control.Result
}

type Server struct {
	options    ServerOptions
	dispatcher Dispatcher
	logger     logging.Logger

	conn     *net.UDPConn
	running  atomic.Bool
	requests chan request
	wg       sync.WaitGroup

	mutex      sync.Mutex
	lastSender *net.UDPAddr
}

func NewServer(options ServerOptions, dispatcher Dispatcher, logger logging.Logger) *Server {
	if options.MaxDatagramSize <= 0 {
		options.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}
	return &Server{
		options:    options,
		dispatcher: dispatcher,
		logger:     logging.OrNull(logger),
	}
}

// Start binds the socket and launches the receive and dispatch goroutines.
// It returns once both are running; a bind failure is returned as a bind error.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.running.Load() {
		return errors.NewConflictError("control server already running", nil)
	}

	address := net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return errors.NewBindError("failed to resolve listen address", err).WithContext("address", address)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errors.NewBindError("failed to bind control socket", err).WithContext("address", address)
	}

	s.conn = conn
	s.requests = make(chan request, s.options.QueueSize)
	s.running.Store(true)

	s.wg.Add(2)
	go s.receiveLoop()
	go s.dispatchLoop(ctx)

	s.logger.Infof("Control server listening on %s", conn.LocalAddr())
	return nil
}

// Stop marks the server as stopped and closes the socket, which unblocks the receive goroutine.
// It waits for the command being dispatched, if any, to complete.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.logger.Infof("Stopping control server...")
	err := s.conn.Close()
	s.wg.Wait()
	s.logger.Infof("Control server stopped")

	if err != nil {
		return errors.NewNetworkError("failed to close control socket", err)
	}
	return nil
}

func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Addr returns the bound local address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// LastSender returns the address of the most recent command sender, if any
func (s *Server) LastSender() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.lastSender == nil {
		return nil
	}
	return s.lastSender
}

// SendTo is a best-effort unicast send; failures are logged, not returned
func (s *Server) SendTo(addr net.Addr, text string) {
	if addr == nil || s.conn == nil {
		return
	}
	if _, err := s.conn.WriteTo([]byte(text), addr); err != nil {
		s.logger.Warnf("Failed to send to %s: %v", addr, err)
	}
}

func (s *Server) receiveLoop() {
	defer s.wg.Done()
	defer close(s.requests)

	// one spare byte tells an oversized datagram apart from one that fits exactly
	buf := make([]byte, s.options.MaxDatagramSize+1)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !s.running.Load() || stderrors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Errorf("Control socket receive error: %v", err)
			continue
		}

		if n > s.options.MaxDatagramSize {
			rejected := control.Failed(errors.ErrorTypeProtocol,
				fmt.Sprintf("command exceeds %d bytes", s.options.MaxDatagramSize))
			req := request{
				id:       uuid.NewString(),
				addr:     addr,
				received: time.Now(),
				rejected: &rejected,
			}
			logging.WithFields(s.logger, "request_id", req.id).Warnf("Rejected oversized datagram from %s", addr)
			s.enqueue(req)
			continue
		}

		line := decode(buf[:n])
		if line == "" {
			continue
		}

		req := request{
			id:       uuid.NewString(),
			addr:     addr,
			line:     line,
			received: time.Now(),
		}
		logging.WithFields(s.logger, "request_id", req.id).Infof("Received command from %s: %q", addr, line)
		s.enqueue(req)
	}
}

func (s *Server) enqueue(req request) {
	s.mutex.Lock()
	s.lastSender = req.addr
	s.mutex.Unlock()

	s.requests <- req
}

func (s *Server) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	for req := range s.requests {
		logger := logging.WithFields(s.logger, "request_id", req.id)
		if !s.running.Load() {
			logger.Warnf("Dropping command received before shutdown: %q", req.line)
			continue
		}
		if req.rejected != nil {
			s.SendTo(req.addr, req.rejected.String())
			continue
		}

		result := s.dispatcher.Dispatch(ctx, req.line)
		logger.Debugf("Command handled in %v, success: %t", time.Since(req.received), result.Success)

		if result.Message == "" {
			continue
		}
		s.SendTo(req.addr, result.String())
	}
}

// decode interprets a datagram as UTF-8 text, replacing invalid sequences
func decode(data []byte) string {
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	return strings.TrimSpace(text)
}

func (s *Server) String() string {
	return fmt.Sprintf("udp://%s", net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port)))
}
