package frontier

import "time"

// Status is the lifecycle state of a frontier record.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Record is the stored form of one URL, keyed by its normalized-URL hash.
type Record struct {
	URL          string    `json:"url"`
	Status       Status    `json:"status"`
	Seq          uint64    `json:"seq"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Counts holds the number of records per status.
type Counts struct {
	Discovered int `json:"discovered"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
}

// Total returns the number of records.
func (c Counts) Total() int {
	return c.Discovered + c.InProgress + c.Done
}
