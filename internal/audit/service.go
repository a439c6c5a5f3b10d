package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
)

// Service coordinates audit trail retrieval.
type Service struct {
	repo Repository
}

// NewService builds the audit query service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline fetches one page of the trail, newest first. It reads one row
// past the page to learn whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.repo.Window(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// EntityHistory returns every recorded change of one object, newest first.
func (s *Service) EntityHistory(ctx context.Context, modelName, objectID string) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.All(ctx, TimelineFilters{ModelName: modelName, ObjectID: objectID})
}

// ExportCSV renders the full filtered timeline as CSV.
func (s *Service) ExportCSV(ctx context.Context, filters TimelineFilters) ([]byte, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	rows, err := s.repo.All(ctx, filters)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"occurred_at", "actor", "service", "operation", "model", "object_id", "before", "after"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		before, _ := json.Marshal(row.Before)
		after, _ := json.Marshal(row.After)
		record := []string{
			row.At.Format("2006-01-02 15:04:05"),
			row.Actor,
			row.Service,
			row.Operation,
			row.ModelName,
			row.ObjectID,
			string(before),
			string(after),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
