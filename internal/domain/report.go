package domain

// PathCount is one entry in a top-paths ranking.
type PathCount struct {
	Path  string `json:"path"`
	Views int64  `json:"views"`
}

// SiteReport is the aggregated answer to a stats query.
//
// Date echoes the requested date string verbatim, or "all-time" when no
// date filter was applied. Zero matching events yields zero counts and an
// empty TopPaths, never an error.
type SiteReport struct {
	SiteID      string      `json:"site_id"`
	Date        string      `json:"date"`
	TotalViews  int64       `json:"total_views"`
	UniqueUsers int64       `json:"unique_users"`
	TopPaths    []PathCount `json:"top_paths"`
}
