package control

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/gpufence/internal/fence"
	"github.com/samcharles93/gpufence/pkg/ufo"
)

func (s *Server) handleOpenTimeline(c *echo.Context) error {
	req, err := decodeJSON[OpenTimelineRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Name == "" {
		req.Name = "timeline"
	}
	id, err := s.engine.OpenTimeline(req.Name)
	if err != nil {
		return s.writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, TimelineResponse{ID: id, Name: req.Name})
}

// handleClose releases a handle of the given kind. Closing a timeline
// waits for its outstanding hardware operations.
func (s *Server) handleClose(kind string) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		if err := s.engine.CloseHandleKind(id, kind); err != nil {
			return s.writeEngineError(c, err)
		}
		return c.JSON(http.StatusOK, DeleteResponse{ID: id, Deleted: true})
	}
}

func (s *Server) handleAlloc(c *echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	res, err := s.engine.AllocFence(id)
	if err != nil {
		return s.writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleCreateFence(c *echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	req, err := decodeJSON[CreateFenceRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	allocID, err := parseID(req.Alloc)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	fid, err := s.engine.CreateFence(id, allocID, req.Name)
	if err != nil {
		return s.writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, FenceResponse{Fence: fid, Name: req.Name})
}

func (s *Server) handleEnableFencing(c *echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	req, err := decodeJSON[EnableFencingRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if err := s.engine.EnableFencing(id, req.Enabled); err != nil {
		return s.writeEngineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMergeHandles(c *echo.Context) error {
	req, err := decodeJSON[MergeHandlesRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	a, err := parseID(req.A)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	b, err := parseID(req.B)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	fid, err := s.engine.MergeHandles(req.Name, a, b)
	if err != nil {
		return s.writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, FenceResponse{Fence: fid, Name: req.Name})
}

func (s *Server) handleDebugFence(c *echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	d, err := s.engine.DebugFence(id)
	if err != nil {
		return s.writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// handleComplete forces a fence or alloc handle to the signalled state
// without hardware.
func (s *Server) handleComplete(kind string) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id, err := paramID(c)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		if got := s.engine.HandleKind(id); got != kind {
			return writeNotFound(c, kind+" "+id.String()+" not found")
		}
		if err := s.engine.NoHWComplete(id); err != nil {
			return s.writeEngineError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func (s *Server) handleQuery(c *echo.Context) error {
	req, err := decodeJSON[QueryRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	ids, err := parseIDs(req.Handles)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(ids) == 0 {
		return writeBadRequest(c, "handles must not be empty")
	}
	if req.MaxEntries < 0 {
		return writeBadRequest(c, "max_entries must not be negative")
	}
	q := fence.Query{Update: req.Update, MaxEntries: req.MaxEntries}
	if q.MaxEntries == 0 {
		q.MaxEntries = s.engine.Config().MaxQueryFencePoints * len(ids)
	}
	if err := s.engine.QueryFences(&q, ids...); err != nil {
		return s.writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, QueryResponse{
		Waits:      nonNil(q.Waits),
		Updates:    nonNil(q.Updates),
		Overflowed: q.Overflowed,
	})
}

func (s *Server) handleMergeFences(c *echo.Context) error {
	req, err := decodeJSON[MergeFencesRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	ids, err := parseIDs(req.Handles)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Waits.Len() != len(req.Waits.Values) || req.Updates.Len() != len(req.Updates.Values) {
		return writeBadRequest(c, "addrs and values must be the same length")
	}
	waits, updates := req.Waits, req.Updates
	overflowed, err := s.engine.MergeFences(req.Name, req.Update, &waits, &updates, ids...)
	if err != nil {
		return s.writeEngineError(c, err)
	}
	return c.JSON(http.StatusOK, QueryResponse{
		Waits:      nonNil(waits),
		Updates:    nonNil(updates),
		Overflowed: overflowed,
	})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil(l ufo.List) ufo.List {
	if l.Addrs == nil {
		l.Addrs = []ufo.Addr{}
	}
	if l.Values == nil {
		l.Values = []uint32{}
	}
	return l
}
