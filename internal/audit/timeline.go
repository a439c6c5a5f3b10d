package audit

import "time"

// TimelineFilters narrows audit trail queries. Zero values are ignored.
type TimelineFilters struct {
	From      time.Time
	To        time.Time
	Actor     string
	ModelName string
	Operation string
	ObjectID  string
	Page      int
	PageSize  int
}

// TimelineRow is one audit trail row as shown to reviewers.
type TimelineRow struct {
	ID        int64
	At        time.Time
	Actor     string
	Service   string
	Operation string
	ModelName string
	ObjectID  string
	Before    map[string]any
	After     map[string]any
}

// PagingInfo carries simple window pagination metadata.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result bundles timeline rows with paging.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}
