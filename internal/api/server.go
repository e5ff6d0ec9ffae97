package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/chdkit/internal/logger"
	"github.com/samcharles93/chdkit/pkg/cdrom"
	"github.com/samcharles93/chdkit/pkg/chd"
)

// DefaultMaxRead caps the size of a single byte range request.
const DefaultMaxRead = 64 << 20

type Server struct {
	images   ImageProvider
	sessions *SessionStore
	log      logger.Logger
	now      func() time.Time
	maxRead  uint64
}

type ServerOption func(*Server)

func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func WithMaxRead(n uint64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxRead = n
		}
	}
}

func NewServer(images ImageProvider, sessions *SessionStore, opts ...ServerOption) *Server {
	if sessions == nil {
		sessions = NewSessionStore()
	}
	s := &Server{
		images:   images,
		sessions: sessions,
		log:      logger.Discard(),
		now:      time.Now,
		maxRead:  DefaultMaxRead,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/images", s.handleListImages)
	e.GET("/v1/images/:name/header", s.handleHeader)
	e.GET("/v1/images/:name/metadata", s.handleListMetadata)
	e.GET("/v1/images/:name/metadata/:index", s.handleGetMetadata)
	e.GET("/v1/images/:name/hunks/:index", s.handleReadHunk)
	e.GET("/v1/images/:name/units/:index", s.handleReadUnit)
	e.GET("/v1/images/:name/bytes", s.handleReadBytes)
	e.GET("/v1/images/:name/toc", s.handleTOC)
	e.GET("/v1/images/:name/sectors/:lba", s.handleReadSector)

	e.POST("/v1/sessions", s.handleCreateSession)
	e.GET("/v1/sessions/:id", s.handleGetSession)
	e.GET("/v1/sessions/:id/bytes", s.handleSessionBytes)
	e.DELETE("/v1/sessions/:id", s.handleDeleteSession)
}

// Close closes every client session.
func (s *Server) Close() error {
	return s.sessions.CloseAll()
}

func (s *Server) handleListImages(c *echo.Context) error {
	images, err := s.images.ListImages()
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, http.StatusOK, newList(images))
}

func (s *Server) handleHeader(c *echo.Context) error {
	name := c.Param("name")
	var resp HeaderResponse
	err := s.images.WithImage(c.Request().Context(), name, func(f *chd.File) error {
		h, err := f.Header()
		if err != nil {
			return err
		}
		resp = HeaderResponse{Object: "header", Image: name, Header: h}
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleListMetadata(c *echo.Context) error {
	tag := c.QueryParam("tag")
	var records []MetadataRecord
	err := s.images.WithImage(c.Request().Context(), c.Param("name"), func(f *chd.File) error {
		for i := uint32(0); ; i++ {
			m, err := f.Metadata(i, tag)
			if err != nil {
				return err
			}
			if m == nil {
				return nil
			}
			records = append(records, newMetadataRecord(i, m))
		}
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, http.StatusOK, newList(records))
}

func (s *Server) handleGetMetadata(c *echo.Context) error {
	index, err := pathUint(c, "index", 32)
	if err != nil {
		return writeError(c, err)
	}
	tag := c.QueryParam("tag")
	var record MetadataRecord
	err = s.images.WithImage(c.Request().Context(), c.Param("name"), func(f *chd.File) error {
		m, err := f.Metadata(uint32(index), tag)
		if err != nil {
			return err
		}
		if m == nil {
			return fmt.Errorf("metadata %d with tag %q: %w", index, tag, chd.ErrNotFound)
		}
		record = newMetadataRecord(uint32(index), m)
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, http.StatusOK, record)
}

func (s *Server) handleReadHunk(c *echo.Context) error {
	index, err := pathUint(c, "index", 32)
	if err != nil {
		return writeError(c, err)
	}
	var data []byte
	err = s.images.WithImage(c.Request().Context(), c.Param("name"), func(f *chd.File) error {
		data, err = f.ReadHunk(uint32(index))
		return err
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeBytes(c, data)
}

func (s *Server) handleReadUnit(c *echo.Context) error {
	index, err := pathUint(c, "index", 64)
	if err != nil {
		return writeError(c, err)
	}
	var data []byte
	err = s.images.WithImage(c.Request().Context(), c.Param("name"), func(f *chd.File) error {
		data, err = f.ReadUnit(index)
		return err
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeBytes(c, data)
}

func (s *Server) handleReadBytes(c *echo.Context) error {
	offset, size, err := s.rangeParams(c)
	if err != nil {
		return writeError(c, err)
	}
	var data []byte
	err = s.images.WithImage(c.Request().Context(), c.Param("name"), func(f *chd.File) error {
		data, err = f.ReadBytes(offset, size)
		return err
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeBytes(c, data)
}

func (s *Server) handleTOC(c *echo.Context) error {
	name := c.Param("name")
	phys, err := queryBool(c, "phys")
	if err != nil {
		return writeError(c, err)
	}
	var resp TOCResponse
	err = s.images.WithImage(c.Request().Context(), name, func(f *chd.File) error {
		d, err := cdrom.New(f)
		if err != nil {
			return err
		}
		resp = TOCResponse{Object: "toc", Image: name, Layout: d.Layout(phys)}
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleReadSector(c *echo.Context) error {
	lba, err := pathUint(c, "lba", 31)
	if err != nil {
		return writeError(c, err)
	}
	var dataType chd.TrackType
	if v := c.QueryParam("type"); v != "" {
		t, ok := chd.ParseTrackType(v)
		if !ok {
			return writeError(c, newInvalidRequest("type: unknown track type %q", v))
		}
		dataType = t
	}
	phys, err := queryBool(c, "phys")
	if err != nil {
		return writeError(c, err)
	}

	var data []byte
	err = s.images.WithImage(c.Request().Context(), c.Param("name"), func(f *chd.File) error {
		d, err := cdrom.New(f)
		if err != nil {
			return err
		}
		data, err = d.ReadSector(int(lba), dataType, phys)
		return err
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeBytes(c, data)
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	req, err := decodeJSON[CreateSessionRequest](c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}
	if req.Image == "" {
		return writeError(c, newInvalidRequest("image is required"))
	}
	f, err := s.images.OpenSession(req.Image)
	if err != nil {
		return writeError(c, err)
	}
	sess := s.sessions.Add(req.Image, f, s.now())
	s.log.Info("session opened", "id", sess.ID, "image", req.Image)
	return writeJSON(c, http.StatusOK, sess.response())
}

func (s *Server) handleGetSession(c *echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return writeError(c, err)
	}
	return writeJSON(c, http.StatusOK, sess.response())
}

func (s *Server) handleSessionBytes(c *echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return writeError(c, err)
	}
	offset, size, err := s.rangeParams(c)
	if err != nil {
		return writeError(c, err)
	}
	var data []byte
	err = sess.With(func(f *chd.File) error {
		data, err = f.ReadBytes(offset, size)
		return err
	})
	if err != nil {
		return writeError(c, err)
	}
	return writeBytes(c, data)
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	id := c.Param("id")
	sess, ok := s.sessions.Remove(id)
	if !ok {
		return writeError(c, sessionNotFound(id))
	}
	if err := sess.Close(); err != nil {
		return writeError(c, err)
	}
	s.log.Info("session closed", "id", id)
	return writeJSON(c, http.StatusOK, DeleteResponse{ID: id, Object: "session.deleted", Deleted: true})
}

func (s *Server) session(c *echo.Context) (*Session, error) {
	id := c.Param("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, sessionNotFound(id)
	}
	return sess, nil
}

func (s *Server) rangeParams(c *echo.Context) (offset, size uint64, err error) {
	if c.QueryParam("offset") != "" {
		offset, err = queryUint(c, "offset", 64)
		if err != nil {
			return 0, 0, err
		}
	}
	size, err = queryUint(c, "size", 64)
	if err != nil {
		return 0, 0, err
	}
	if size > s.maxRead {
		return 0, 0, newInvalidRequest("size: %d exceeds the %d byte limit", size, s.maxRead)
	}
	return offset, size, nil
}

type sessionNotFoundError struct{ id string }

func (e sessionNotFoundError) Error() string { return "session " + e.id + " not found" }

func (e sessionNotFoundError) Is(target error) bool { return errors.Is(chd.ErrNotFound, target) }

func sessionNotFound(id string) error { return sessionNotFoundError{id: id} }
