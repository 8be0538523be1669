package domain

import "time"

// Source is a grounding citation returned with a report.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Report is the outcome of one search. It is built once per run and never
// mutated afterwards.
type Report struct {
	BodyText    string    `json:"bodyText"`
	Sources     []Source  `json:"sources"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// EmailDraft is a newsletter rendering of a report.
type EmailDraft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SearchResult is the raw backend answer before normalization.
type SearchResult struct {
	Text    string
	Sources []Source
}
