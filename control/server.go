package control

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// quit closes the connection.
const quit = "quit"

// Server serves line-based commands over TCP. Commands of all
// connections are executed one by one.
type Server struct {
	dispatcher *Dispatcher
	log        logrus.FieldLogger

	listener net.Listener
	shutdown chan struct{}
	wg       sync.WaitGroup

	exec  sync.Mutex // serializes commands
	mu    sync.Mutex // guards conns
	conns map[net.Conn]struct{}
}

// Listen announces on the TCP address.
func Listen(addr string, d *Dispatcher, l logrus.FieldLogger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		dispatcher: d,
		log:        l,
		listener:   ln,
		shutdown:   make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	s.log.WithField("addr", s.Addr().String()).Info("control server started")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handle(conn)
	}
}

// Close stops accepting, closes all connections and waits for handlers
// to return.
func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.shutdown)
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	err := s.listener.Close()
	s.wg.Wait()
	s.log.Info("control server stopped")
	return err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	l := s.log.WithFields(logrus.Fields{
		"session": xid.New().String(),
		"remote":  conn.RemoteAddr().String(),
	})
	l.Debug("session opened")
	defer l.Debug("session closed")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, quit) {
			return
		}
		reply := s.execute(line)
		if _, err := reply.WriteTo(conn); err != nil {
			l.WithError(err).Debug("write failed")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-s.shutdown:
		default:
			l.WithError(err).Debug("read failed")
		}
	}
}

func (s *Server) execute(line string) Reply {
	s.exec.Lock()
	defer s.exec.Unlock()
	return s.dispatcher.Execute(line)
}
