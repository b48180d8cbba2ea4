package control

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/gpufence/internal/device"
)

func (s *Server) handleCreateSW(c *echo.Context) error {
	req, err := decodeJSON[OpenTimelineRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Name == "" {
		req.Name = "sw"
	}
	id, tl := s.sw.Create(req.Name)
	return c.JSON(http.StatusCreated, SWTimelineResponse{ID: id, Name: req.Name, Value: tl.Value()})
}

func (s *Server) handleDeleteSW(c *echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if !s.sw.Delete(id) {
		return writeNotFound(c, "sw timeline not found")
	}
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Deleted: true})
}

// handleSWFence creates a fence on a software timeline and installs it in
// the engine's handle table, where queries see it as a foreign fence.
func (s *Server) handleSWFence(c *echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	tl, ok := s.sw.Get(id)
	if !ok {
		return writeNotFound(c, "sw timeline not found")
	}
	req, err := decodeJSON[SWFenceRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	f, err := tl.CreateFence(req.Name, req.Value)
	if err != nil {
		return s.writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, FenceResponse{Fence: s.engine.InstallFence(f), Name: req.Name})
}

func (s *Server) handleSWInc(c *echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	tl, ok := s.sw.Get(id)
	if !ok {
		return writeNotFound(c, "sw timeline not found")
	}
	req, err := decodeJSON[SWIncRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Count == 0 {
		req.Count = 1
	}
	tl.Inc(req.Count)
	return c.JSON(http.StatusOK, SWTimelineResponse{ID: id, Name: tl.Timeline().Name(), Value: tl.Value()})
}

func (s *Server) handleSubmit(c *echo.Context) error {
	req, err := decodeJSON[SubmitRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Waits.Len() != len(req.Waits.Values) || req.Updates.Len() != len(req.Updates.Values) {
		return writeBadRequest(c, "addrs and values must be the same length")
	}
	if req.Queue == "" {
		req.Queue = "default"
	}
	cmd := device.Command{
		Queue:   req.Queue,
		Name:    req.Name,
		Waits:   req.Waits,
		Updates: req.Updates,
	}
	if err := s.hw.Submit(cmd); err != nil {
		return s.writeEngineError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleNotify(c *echo.Context) error {
	s.hw.NotifyCmdComplete()
	return c.NoContent(http.StatusNoContent)
}
