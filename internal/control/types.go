package control

import (
	"github.com/google/uuid"

	"github.com/samcharles93/gpufence/internal/device"
	"github.com/samcharles93/gpufence/internal/fence"
	"github.com/samcharles93/gpufence/internal/version"
	"github.com/samcharles93/gpufence/pkg/ufo"
)

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type OpenTimelineRequest struct {
	Name string `json:"name"`
}

type TimelineResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type CreateFenceRequest struct {
	Alloc string `json:"alloc"`
	Name  string `json:"name"`
}

type FenceResponse struct {
	Fence uuid.UUID `json:"fence"`
	Name  string    `json:"name,omitempty"`
}

type EnableFencingRequest struct {
	Enabled bool `json:"enabled"`
}

type MergeHandlesRequest struct {
	Name string `json:"name"`
	A    string `json:"a"`
	B    string `json:"b"`
}

type QueryRequest struct {
	Update     bool     `json:"update"`
	Handles    []string `json:"handles"`
	MaxEntries int      `json:"max_entries"`
}

type QueryResponse struct {
	Waits      ufo.List `json:"waits"`
	Updates    ufo.List `json:"updates"`
	Overflowed bool     `json:"overflowed"`
}

type MergeFencesRequest struct {
	Name    string   `json:"name"`
	Update  bool     `json:"update"`
	Handles []string `json:"handles"`
	Waits   ufo.List `json:"waits"`
	Updates ufo.List `json:"updates"`
}

type SWFenceRequest struct {
	Name  string `json:"name"`
	Value uint32 `json:"value"`
}

type SWIncRequest struct {
	Count uint32 `json:"count"`
}

type SWTimelineResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Value uint32    `json:"value"`
}

type SubmitRequest struct {
	Queue   string   `json:"queue"`
	Name    string   `json:"name"`
	Waits   ufo.List `json:"waits"`
	Updates ufo.List `json:"updates"`
}

type StatsResponse struct {
	Engine  fence.Stats  `json:"engine"`
	Device  device.Stats `json:"device"`
	Version version.Info `json:"version"`
}

type DeleteResponse struct {
	ID      uuid.UUID `json:"id"`
	Deleted bool      `json:"deleted"`
}
