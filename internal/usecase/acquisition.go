package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"EnergyScout/internal/domain"
	"EnergyScout/internal/ports"
)

// AcquisitionDeps wires the backend into the acquisition pipeline.
type AcquisitionDeps struct {
	Backend ports.ReportBackend
	Now     func() time.Time
}

// Acquisition turns backend answers into reports and email drafts.
type Acquisition struct {
	backend ports.ReportBackend
	now     func() time.Time
}

// NewAcquisition constructs the pipeline.
func NewAcquisition(deps AcquisitionDeps) *Acquisition {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Acquisition{backend: deps.Backend, now: now}
}

// FetchReport runs one search and normalizes its citations. Every failure is
// an *domain.AcquisitionError.
func (a *Acquisition) FetchReport(ctx context.Context, topic string) (domain.Report, error) {
	if a.backend == nil {
		return domain.Report{}, &domain.AcquisitionError{Cause: errors.New("no report backend configured")}
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return domain.Report{}, &domain.AcquisitionError{Cause: errors.New("topic is empty")}
	}

	result, err := a.backend.Search(ctx, topic)
	if err != nil {
		return domain.Report{}, &domain.AcquisitionError{Cause: fmt.Errorf("search %q: %w", topic, err)}
	}

	return domain.Report{
		BodyText:    result.Text,
		Sources:     NormalizeSources(result.Sources),
		GeneratedAt: a.now().UTC(),
	}, nil
}

// FetchEmailDraft asks the backend for a subject/body rendering of the report.
// Every failure is a *domain.DraftingError.
func (a *Acquisition) FetchEmailDraft(ctx context.Context, reportText string) (domain.EmailDraft, error) {
	if a.backend == nil {
		return domain.EmailDraft{}, &domain.DraftingError{Cause: errors.New("no report backend configured")}
	}

	draft, err := a.backend.DraftEmail(ctx, reportText)
	if err != nil {
		return domain.EmailDraft{}, &domain.DraftingError{Cause: err}
	}

	draft.Subject = strings.TrimSpace(draft.Subject)
	if draft.Subject == "" && strings.TrimSpace(draft.Body) == "" {
		return domain.EmailDraft{}, &domain.DraftingError{Cause: errors.New("backend returned an empty draft")}
	}

	return draft, nil
}

// NormalizeSources drops citations without a title or URL and keeps the first
// citation per URL, preserving order.
func NormalizeSources(sources []domain.Source) []domain.Source {
	out := make([]domain.Source, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		title := cleanTitle(src.Title)
		url := strings.TrimSpace(src.URL)
		if title == "" || url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, domain.Source{Title: title, URL: url})
	}
	return out
}

// cleanTitle strips markup and entities some publishers leave in titles.
func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	if strings.ContainsAny(title, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(title)); err == nil {
			title = doc.Text()
		}
	}
	return strings.Join(strings.Fields(title), " ")
}
