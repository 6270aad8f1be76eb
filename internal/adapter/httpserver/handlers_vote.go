package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/napstar/Voting-App/internal/domain"
	apperrors "github.com/napstar/Voting-App/internal/platform/errors"
)

const (
	msgVoteCounted   = "Vote counted!"
	msgInvalidOption = "Invalid option."
)

type voteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleVote(c echo.Context) error {
	req, err := decodeVote(c.Request().Body)
	if err != nil {
		return err
	}

	if _, err := s.votes.HandleVote(c.Request().Context(), req); err != nil {
		if errors.Is(err, domain.ErrInvalidOption) {
			return writeVoteResponse(c, http.StatusBadRequest, voteResponse{Success: false, Message: msgInvalidOption})
		}
		return apperrors.InternalError("failed to record vote", err)
	}

	return writeVoteResponse(c, http.StatusOK, voteResponse{Success: true, Message: msgVoteCounted})
}

// decodeVote reads a vote body. Only unparseable JSON is malformed. An empty body,
// a JSON value that is not an object, or a non-string option is a vote with no option.
func decodeVote(r io.Reader) (domain.VoteRequest, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		// The body limit middleware reports overflow as an *echo.HTTPError.
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return domain.VoteRequest{}, httpErr
		}
		return domain.VoteRequest{}, apperrors.ValidationError("unreadable request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.VoteRequest{}, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.VoteRequest{}, apperrors.ValidationError("malformed request body")
	}

	body, _ := doc.(map[string]any)
	option, _ := body["option"].(string)
	return domain.VoteRequest{Option: option}, nil
}

func writeVoteResponse(c echo.Context, status int, resp voteResponse) error {
	if err := c.JSON(status, resp); err != nil {
		return fmt.Errorf("failed to write vote response: %w", err)
	}
	return nil
}
