// Package lookup answers on-demand schedule queries from chats and the REST
// API. Unlike the watcher it reuses already downloaded files.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noahxzhu/timetable-notify/internal/format"
	"github.com/noahxzhu/timetable-notify/internal/links"
	"github.com/noahxzhu/timetable-notify/internal/model"
	"github.com/noahxzhu/timetable-notify/internal/parser"
	"github.com/noahxzhu/timetable-notify/internal/source"
)

var (
	ErrNoLinks          = errors.New("no schedule links found")
	ErrNoScheduleForDay = errors.New("no schedule for the requested day")
)

type Source interface {
	Links(ctx context.Context) ([]model.Link, error)
	Download(ctx context.Context, link model.Link, force bool) (source.Document, error)
}

type GridReader interface {
	Read(path string) (model.Grid, error)
}

// Result is one group's schedule together with the file it came from.
type Result struct {
	Group    string         `json:"group"`
	Schedule model.Schedule `json:"schedule"`
	File     string         `json:"file"`
	Source   string         `json:"source"`
	Date     string         `json:"date,omitempty"`
}

type Service struct {
	source Source
	reader GridReader
	now    func() time.Time
}

func NewService(src Source, reader GridReader) *Service {
	return &Service{source: src, reader: reader, now: time.Now}
}

// Current returns group's schedule from the currently selected file.
func (s *Service) Current(ctx context.Context, group string) (Result, error) {
	found, err := s.source.Links(ctx)
	if err != nil {
		return Result{}, err
	}
	link, ok := links.Select(found)
	if !ok {
		return Result{}, ErrNoLinks
	}
	return s.fetch(ctx, link, group)
}

// ForOffset returns group's schedule from the file dated offset days from
// today. It fails with ErrNoScheduleForDay when no such file is listed.
func (s *Service) ForOffset(ctx context.Context, group string, offset int) (Result, error) {
	near, err := s.near(ctx)
	if err != nil {
		return Result{}, err
	}
	dated, ok := near[offset]
	if !ok {
		return Result{}, fmt.Errorf("%w: offset %d", ErrNoScheduleForDay, offset)
	}
	result, err := s.fetch(ctx, dated.Link, group)
	if err != nil {
		return Result{}, err
	}
	result.Date = format.DayLabel(dated.Date)
	return result, nil
}

// NearDays maps the day offsets that have a dated file to "dd.mm" labels.
func (s *Service) NearDays(ctx context.Context) (map[int]string, error) {
	near, err := s.near(ctx)
	if err != nil {
		return nil, err
	}
	days := make(map[int]string, len(near))
	for offset, dated := range near {
		days[offset] = format.DayLabel(dated.Date)
	}
	return days, nil
}

func (s *Service) near(ctx context.Context) (map[int]links.Dated, error) {
	found, err := s.source.Links(ctx)
	if err != nil {
		return nil, err
	}
	return links.Near(found, s.now()), nil
}

func (s *Service) fetch(ctx context.Context, link model.Link, group string) (Result, error) {
	doc, err := s.source.Download(ctx, link, false)
	if err != nil {
		return Result{}, fmt.Errorf("download %s: %w", link.URL, err)
	}
	grid, err := s.reader.Read(doc.Path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", doc.Name, err)
	}
	return Result{
		Group:    group,
		Schedule: parser.ParseGroup(grid, group),
		File:     doc.Name,
		Source:   link.URL,
	}, nil
}
