package models

import "time"

// CategoryCount is one row of the category ranking.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// TimelyStats summarizes response timeliness. Unknown flags are reported but
// excluded from the rate.
type TimelyStats struct {
	Timely  int     `json:"timely"`
	Late    int     `json:"late"`
	Unknown int     `json:"unknown"`
	Rate    float64 `json:"rate"`
}

// RegionStat is one row of the choropleth table.
type RegionStat struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Complaints   int    `json:"complaints"`
	Companies    int    `json:"companies"`
	TimelyClosed int    `json:"timely_closed"`
	TopIssue     string `json:"top_issue,omitempty"`
	TopCompany   string `json:"top_company,omitempty"`
}

// MonthCount is the complaint volume of one calendar month ("2006-01").
type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// CategoryTrend is the monthly volume of one category.
type CategoryTrend struct {
	Category string       `json:"category"`
	Total    int          `json:"total"`
	Months   []MonthCount `json:"months"`
}

// AggregateSnapshot is the read-only view published by the aggregation engine.
type AggregateSnapshot struct {
	ID           string          `json:"id"`
	AsOf         time.Time       `json:"as_of"`
	TotalRecords int             `json:"total_records"`
	Categories   []CategoryCount `json:"categories"`
	Timely       TimelyStats     `json:"timely"`
	Regions      []RegionStat    `json:"regions"`
	Unmapped     int             `json:"unmapped"`
}

// TopCategories returns at most n ranked categories.
func (s *AggregateSnapshot) TopCategories(n int) []CategoryCount {
	if n <= 0 || n >= len(s.Categories) {
		return s.Categories
	}
	return s.Categories[:n]
}
