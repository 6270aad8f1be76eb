package domain

// Snapshot is a point-in-time copy of the poll. It marshals to the wire shape
// sent to observers: {"question": ..., "options": {...}}.
type Snapshot struct {
	Question string         `json:"question"`
	Options  map[string]int `json:"options"`

	// Version counts accepted votes. Observers never see it; the hub uses it to
	// order deliveries per connection.
	Version uint64 `json:"-"`
}

// Total returns the sum of all option counts.
func (s Snapshot) Total() int {
	total := 0
	for _, n := range s.Options {
		total += n
	}
	return total
}

// VoteRequest is an untrusted vote submission.
type VoteRequest struct {
	Option string `json:"option"`
}

// VoteResult describes an accepted vote.
type VoteResult struct {
	Option   string
	NewCount int
}
