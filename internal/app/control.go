package app

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"keybridge/internal/common"
	"keybridge/internal/logging"
)

// Request is a control command waiting for the event loop to answer it.
type Request struct {
	Command string
	Reply   chan string
}

// ControlServer accepts line-oriented commands on a unix socket and hands
// them to the event loop, which owns all key state.
type ControlServer struct {
	listener net.Listener
	socket   string
	errCh    chan error
	done     chan struct{}

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// StartControlServer listens on path and forwards every command line to
// requests. An empty path disables the server.
func StartControlServer(path string, requests chan<- Request, log *slog.Logger) (*ControlServer, error) {
	if path == "" {
		return nil, nil
	}
	if log == nil {
		log = logging.Discard()
	}
	if err := common.EnsureSocketDir(path); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o660); err != nil && !errors.Is(err, os.ErrNotExist) {
		listener.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	srv := &ControlServer{
		listener: listener,
		socket:   path,
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
	go func() {
		srv.errCh <- srv.serve(requests, log)
		close(srv.errCh)
	}()
	return srv, nil
}

func (s *ControlServer) Close() {
	if s == nil {
		return
	}
	close(s.done)
	s.listener.Close()
	for range s.errCh {
	}
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	_ = os.Remove(s.socket)
}

func (s *ControlServer) Err() <-chan error {
	if s == nil {
		return nil
	}
	return s.errCh
}

func (s *ControlServer) serve(requests chan<- Request, log *slog.Logger) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go func(c net.Conn) {
			defer s.untrack(c)
			if err := s.handleConnection(c, requests); err != nil {
				log.Warn("control connection failed", "error", err)
			}
		}(conn)
	}
}

// track registers a live connection, or reports false once Close began.
func (s *ControlServer) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *ControlServer) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
	s.wg.Done()
}

func (s *ControlServer) handleConnection(conn net.Conn, requests chan<- Request) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	writer := bufio.NewWriter(conn)
	for scanner.Scan() {
		command := strings.TrimSpace(scanner.Text())
		if command == "" {
			continue
		}
		req := Request{Command: command, Reply: make(chan string, 1)}
		select {
		case requests <- req:
		case <-s.done:
			return nil
		}
		var response string
		select {
		case response = <-req.Reply:
		case <-s.done:
			return nil
		}
		if _, err := writer.WriteString(response); err != nil {
			return err
		}
		if err := writer.WriteByte('\n'); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}
	return nil
}
