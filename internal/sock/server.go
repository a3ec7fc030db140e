package sock

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/CageChen/markkeep/internal/query"
	"github.com/vmihailenco/msgpack/v5"
)

// Server answers framed msgpack requests on a Unix socket. Connections may
// carry any number of sequential requests.
type Server struct {
	path     string
	engine   *query.Engine
	logger   *slog.Logger
	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen binds a Unix socket at path, replacing a stale socket file left
// behind by an earlier run
func Listen(path string, engine *query.Engine, logger *slog.Logger) (*Server, error) {
	if err := removeSocket(path); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}

	return &Server{
		path:     path,
		engine:   engine,
		logger:   logger,
		listener: ln,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the socket path
func (s *Server) Path() string {
	return s.path
}

// Serve accepts connections until Close is called
func (s *Server) Serve() error {
	s.logger.Info("socket server listening", "path", s.path)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting, hangs up open connections and removes the socket
// file
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if rmErr := removeSocket(s.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	for {
		data, err := ReadFrame(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, ErrFrameTooLarge):
				_ = WriteFrame(conn, Response{Tag: TagBadRequest, Value: err.Error()})
			default:
				s.logger.Debug("socket read failed", "error", err)
			}
			return
		}

		resp := s.handle(data)
		if err := WriteFrame(conn, resp); err != nil {
			s.logger.Warn("socket write failed", "error", err)
			if errors.Is(err, ErrFrameTooLarge) {
				_ = WriteFrame(conn, Response{Tag: TagInternalServerError, Value: err.Error()})
				continue
			}
			return
		}
	}
}

func (s *Server) handle(data []byte) Response {
	var req Request
	if err := msgpack.Unmarshal(data, &req); err != nil {
		return badRequest(fmt.Errorf("decoding request: %w", err))
	}
	s.logger.Debug("socket request", "tag", req.Tag)

	switch req.Tag {
	case TagSingle:
		var args SingleRequest
		if err := decodeValue(req.Value, &args); err != nil {
			return badRequest(err)
		}
		var q query.Query
		if args.Query != nil {
			q = *args.Query
		}
		if err := q.Validate(); err != nil {
			return badRequest(err)
		}

		var resp SingleResponse
		res, ok := s.engine.Single(args.Name, q, query.Sort{Key: args.SortKey, Asc: !args.OrderDesc})
		if ok {
			f := res.File
			resp = SingleResponse{
				File: &FileResponse{
					Name:        f.Path,
					Frontmatter: f.Frontmatter,
					Content:     f.Content,
					Generation:  f.Generation,
					Modified:    f.Modified,
					Created:     f.Created,
				},
				PrevFileName: res.Prev,
				NextFileName: res.Next,
			}
		}
		return Response{Tag: TagOk, Value: resp}

	case TagList:
		var args ListRequest
		if err := decodeValue(req.Value, &args); err != nil {
			return badRequest(err)
		}
		if err := args.Query.Validate(); err != nil {
			return badRequest(err)
		}
		if args.Offset < 0 || args.Limit < 0 {
			return badRequest(errors.New("offset and limit must not be negative"))
		}
		files, total := s.engine.List(args.Query,
			query.Sort{Key: args.SortKey, Asc: !args.OrderDesc},
			query.Page{Offset: args.Offset, Limit: args.Limit})
		return Response{Tag: TagOk, Value: ListResponse{Files: files, Total: total}}

	case TagCollate:
		var args CollateRequest
		if err := decodeValue(req.Value, &args); err != nil {
			return badRequest(err)
		}
		if args.Key == "" {
			return badRequest(errors.New("key is required"))
		}
		if err := args.Query.Validate(); err != nil {
			return badRequest(err)
		}
		return Response{Tag: TagOk, Value: s.engine.Collate(args.Key, args.Query)}
	}

	return badRequest(fmt.Errorf("unknown request tag %q", req.Tag))
}

func decodeValue(raw msgpack.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding request value: %w", err)
	}
	return nil
}

func badRequest(err error) Response {
	return Response{Tag: TagBadRequest, Value: err.Error()}
}

func removeSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}
