package control

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, code string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{
			Message: msg,
			Type:    errType,
			Code:    code,
		},
	})
}

// writeEngineError reports err with the status its class maps to.
func (s *Server) writeEngineError(c *echo.Context, err error) error {
	status, errType := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Request().URL.Path, "error", err)
	}
	return writeError(c, status, errType, err.Error(), "")
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, newInvalidRequest("request body is empty")
		}
		return out, newInvalidRequest(err.Error())
	}
	return out, nil
}

func paramID(c *echo.Context) (uuid.UUID, error) {
	return parseID(c.Param("id"))
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, newInvalidRequest("invalid handle " + `"` + s + `"`)
	}
	return id, nil
}

func parseIDs(in []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(in))
	for _, s := range in {
		id, err := parseID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
