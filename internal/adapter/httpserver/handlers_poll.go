package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// handlePoll returns the current poll in the same shape observers receive.
func (s *Server) handlePoll(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.snapshots.Snapshot()); err != nil {
		return fmt.Errorf("failed to write poll response: %w", err)
	}
	return nil
}
