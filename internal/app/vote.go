package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/napstar/Voting-App/internal/adapter/metrics"
	"github.com/napstar/Voting-App/internal/domain"
)

// VoteState is the mutable poll a VoteProcessor writes to.
type VoteState interface {
	ApplyVote(option string) (int, bool)
	Snapshot() domain.Snapshot
}

// VoteProcessor turns vote submissions into poll mutations and broadcasts.
type VoteProcessor struct {
	state     VoteState
	publisher domain.Publisher
	metrics   *metrics.VoteMetrics
	clock     clockwork.Clock
}

// NewVoteProcessor creates a processor. m may be nil to disable metrics.
func NewVoteProcessor(state VoteState, publisher domain.Publisher, m *metrics.VoteMetrics, clock clockwork.Clock) *VoteProcessor {
	return &VoteProcessor{
		state:     state,
		publisher: publisher,
		metrics:   m,
		clock:     clock,
	}
}

// HandleVote applies req to the poll. An empty or unknown option returns
// domain.ErrInvalidOption and changes nothing. An accepted vote is published
// exactly once; a publish failure is logged and does not fail the vote.
func (p *VoteProcessor) HandleVote(ctx context.Context, req domain.VoteRequest) (domain.VoteResult, error) {
	start := p.clock.Now()
	defer p.observeDuration(start)

	if req.Option == "" {
		p.recordResult("rejected")
		return domain.VoteResult{}, domain.ErrInvalidOption
	}

	count, ok := p.state.ApplyVote(req.Option)
	if !ok {
		p.recordResult("rejected")
		slog.DebugContext(ctx, "Vote rejected", "option", req.Option)
		return domain.VoteResult{}, domain.ErrInvalidOption
	}

	p.recordResult("accepted")
	if p.metrics != nil {
		p.metrics.VotesByOption.WithLabelValues(req.Option).Inc()
	}

	snapshot := p.state.Snapshot()
	if err := p.publisher.Publish(ctx, snapshot); err != nil {
		slog.WarnContext(ctx, "Publish after vote failed", "option", req.Option, "version", snapshot.Version, "error", err)
	}

	slog.DebugContext(ctx, "Vote counted", "option", req.Option, "count", count)
	return domain.VoteResult{Option: req.Option, NewCount: count}, nil
}

func (p *VoteProcessor) recordResult(result string) {
	if p.metrics != nil {
		p.metrics.VotesProcessed.WithLabelValues(result).Inc()
	}
}

func (p *VoteProcessor) observeDuration(start time.Time) {
	if p.metrics != nil {
		p.metrics.ProcessingDuration.Observe(p.clock.Since(start).Seconds())
	}
}
