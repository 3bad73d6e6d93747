package domain

import "time"

// PollSummary is the shape shared by validate, test and sync results,
// and by the scheduler's cycle bookkeeping. A validate caller cannot
// tell it apart from a real cycle's summary except by the absence of
// persisted side effects.
type PollSummary struct {
	Reachable bool `json:"reachable"`

	HostCount            int `json:"host_count"`
	VirtualMachineCount  int `json:"virtual_machine_count"`
	DatastoreCount       int `json:"datastore_count"`
	NetworkCount         int `json:"network_count"`
	FabricNodeCount      int `json:"fabric_node_count"`
	FabricInterfaceCount int `json:"fabric_interface_count"`

	// PartialKinds lists entity kinds whose sub-fetch failed while the
	// rest of the snapshot succeeded.
	PartialKinds []string `json:"partial_kinds,omitempty"`

	Message     string     `json:"message,omitempty"`
	CollectedAt *time.Time `json:"collected_at"`
}

// Page is the offset-paginated envelope returned by list queries.
// Total reflects the filtered count, not the table size.
type Page[T any] struct {
	Items    []T  `json:"items"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	HasPrev  bool `json:"has_prev"`
}

// NewPage builds the envelope for one page of an already-counted result.
func NewPage[T any](items []T, total, page, pageSize int) Page[T] {
	if items == nil {
		items = []T{}
	}
	offset := (page - 1) * pageSize
	return Page[T]{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasNext:  offset+len(items) < total,
		HasPrev:  page > 1,
	}
}

// ClampPage folds an out-of-range page number back into [1, lastPage]
// so an overflowing page returns the last page instead of nothing.
func ClampPage(page, pageSize, total int) int {
	if page < 1 {
		return 1
	}
	if total == 0 {
		return 1
	}
	last := (total + pageSize - 1) / pageSize
	if page > last {
		return last
	}
	return page
}
