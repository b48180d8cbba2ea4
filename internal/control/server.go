// Package control exposes the fence engine over an HTTP control channel:
// timelines, alloc handles, fence queries, software timelines for foreign
// fences, and a firmware submission endpoint that drives the simulated GPU.
package control

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/gpufence/internal/device"
	"github.com/samcharles93/gpufence/internal/fence"
	"github.com/samcharles93/gpufence/internal/logger"
	"github.com/samcharles93/gpufence/internal/version"
)

// Hardware is the firmware side of the device the control channel drives.
type Hardware interface {
	Submit(cmd device.Command) error
	NotifyCmdComplete()
	DumpDebug(w io.Writer, v device.Verbosity)
	Stats() device.Stats
}

var _ Hardware = (*device.Device)(nil)

type Server struct {
	engine *fence.Engine
	hw     Hardware
	sw     *SWStore
	log    logger.Logger
}

func NewServer(engine *fence.Engine, hw Hardware, log logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		engine: engine,
		hw:     hw,
		sw:     NewSWStore(),
		log:    log,
	}
}

// Close destroys the software timelines the server created.
func (s *Server) Close() {
	s.sw.Close()
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/version", s.handleVersion)

	e.POST("/v1/timelines", s.handleOpenTimeline)
	e.DELETE("/v1/timelines/:id", s.handleClose("timeline"))
	e.POST("/v1/timelines/:id/alloc", s.handleAlloc)
	e.POST("/v1/timelines/:id/fences", s.handleCreateFence)
	e.POST("/v1/timelines/:id/fencing", s.handleEnableFencing)

	e.POST("/v1/fences/merge", s.handleMergeHandles)
	e.GET("/v1/fences/:id", s.handleDebugFence)
	e.POST("/v1/fences/:id/complete", s.handleComplete("fence"))
	e.DELETE("/v1/fences/:id", s.handleClose("fence"))
	e.DELETE("/v1/allocs/:id", s.handleClose("alloc"))
	e.POST("/v1/allocs/:id/complete", s.handleComplete("alloc"))

	e.POST("/v1/query", s.handleQuery)
	e.POST("/v1/merge", s.handleMergeFences)

	e.POST("/v1/sw-timelines", s.handleCreateSW)
	e.DELETE("/v1/sw-timelines/:id", s.handleDeleteSW)
	e.POST("/v1/sw-timelines/:id/fences", s.handleSWFence)
	e.POST("/v1/sw-timelines/:id/inc", s.handleSWInc)

	e.POST("/v1/hw/submit", s.handleSubmit)
	e.POST("/v1/hw/notify", s.handleNotify)

	e.GET("/v1/debug", s.handleDebugDump)
	e.GET("/v1/stats", s.handleStats)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) handleVersion(c *echo.Context) error {
	return c.JSON(http.StatusOK, version.Resolve())
}

func (s *Server) handleStats(c *echo.Context) error {
	return c.JSON(http.StatusOK, StatsResponse{
		Engine:  s.engine.Stats(),
		Device:  s.hw.Stats(),
		Version: version.Resolve(),
	})
}

func (s *Server) handleDebugDump(c *echo.Context) error {
	v, err := parseVerbosity(c.QueryParam("verbosity"))
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	s.hw.DumpDebug(c.Response(), v)
	return nil
}

func parseVerbosity(s string) (device.Verbosity, error) {
	switch s {
	case "", "high":
		return device.VerbosityHigh, nil
	case "medium":
		return device.VerbosityMedium, nil
	case "low":
		return device.VerbosityLow, nil
	default:
		return 0, newInvalidRequest("unknown verbosity " + `"` + s + `"`)
	}
}
