package service

import (
	"cmp"
	"context"
	"encoding/csv"
	"io"
	"slices"
	"strconv"

	"standings/internal/models"
)

// CSVHeader is the header row of the standings export.
var CSVHeader = []string{"Entity Type", "Entity ID", "Entity Name", "Standing", "Requested By", "Added Date", "Notes"}

const csvDateLayout = "2006-01-02 15:04:05"

// ExportStandingsCSV writes every approved standing to w, ordered by type then name.
func (s *WorkflowService) ExportStandingsCSV(ctx context.Context, w io.Writer) (int, error) {
	entries, err := s.repos.Standings.All(ctx)
	if err != nil {
		return 0, err
	}
	rows := s.withNames(ctx, entries)
	slices.SortStableFunc(rows, func(a, b StandingView) int {
		return cmp.Or(
			cmp.Compare(a.EntityType, b.EntityType),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.EntityID, b.EntityID),
		)
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, models.NewInternalError(err)
	}
	for _, row := range rows {
		requestedBy := "Unknown"
		if row.AddedBy != nil {
			requestedBy = row.AddedBy.Username
		}
		name := row.Name
		if name == "" {
			name = strconv.FormatInt(row.EntityID, 10)
		}
		if err := cw.Write([]string{
			row.EntityType.Label(),
			strconv.FormatInt(row.EntityID, 10),
			name,
			strconv.FormatFloat(row.Standing, 'f', 1, 64),
			requestedBy,
			row.CreatedAt.UTC().Format(csvDateLayout),
			row.Notes,
		}); err != nil {
			return 0, models.NewInternalError(err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, models.NewInternalError(err)
	}
	return len(rows), nil
}
