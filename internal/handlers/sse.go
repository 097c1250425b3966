package handlers

import (
	"net/http"

	"clipwright/internal/stream"

	"github.com/labstack/echo/v4"
)

// openStream writes the event-stream headers and returns a frame writer
func openStream(c echo.Context) *stream.SSEWriter {
	res := c.Response()
	stream.PrepareHeaders(res.Header())
	res.WriteHeader(http.StatusOK)
	res.Flush()
	return stream.NewSSEWriter(res)
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
