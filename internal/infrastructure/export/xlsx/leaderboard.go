// Package xlsx renders leaderboard snapshots as spreadsheets.
package xlsx

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

const (
	RecordsSheet = "Records"
	TotalsSheet  = "Totals"
)

var fixedColumns = []string{"record_id", "submitter_id", "mission_at", "status", "confidence", "audit_state", "layout"}

// WriteLeaderboard writes one row per record plus per-submitter totals of counter fields.
func WriteLeaderboard(w io.Writer, serverID string, records []domain.MissionRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), RecordsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	fields := fieldColumns(records)
	header := make([]any, 0, len(fixedColumns)+len(fields))
	for _, c := range fixedColumns {
		header = append(header, c)
	}
	for _, name := range fields {
		header = append(header, name)
	}
	if err := writeRow(f, RecordsSheet, 1, header); err != nil {
		return err
	}
	if err := f.SetRowStyle(RecordsSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, rec := range records {
		row := []any{
			rec.ID,
			rec.SubmitterID,
			rec.MissionAt.UTC().Format(time.RFC3339),
			string(rec.Status),
			rec.Confidence,
			string(rec.AuditState),
			fmt.Sprintf("%s/v%d", rec.Layout.Resolution, rec.Layout.Version),
		}
		for _, name := range fields {
			row = append(row, cellValue(rec, name))
		}
		if err := writeRow(f, RecordsSheet, i+2, row); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(TotalsSheet); err != nil {
		return fmt.Errorf("create totals sheet: %w", err)
	}
	if err := writeTotals(f, serverID, records, bold); err != nil {
		return err
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Mission leaderboard " + serverID,
		Creator: "mission-stats",
	}); err != nil {
		return fmt.Errorf("set document properties: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

type submitterTotals struct {
	missions int64
	sums     map[string]int64
}

func writeTotals(f *excelize.File, serverID string, records []domain.MissionRecord, style int) error {
	counters := counterColumns(records)
	bySubmitter := make(map[string]*submitterTotals)
	for _, rec := range records {
		t, ok := bySubmitter[rec.SubmitterID]
		if !ok {
			t = &submitterTotals{sums: make(map[string]int64)}
			bySubmitter[rec.SubmitterID] = t
		}
		t.missions++
		for _, field := range rec.Fields {
			if field.Value != nil && field.Value.Kind == domain.KindCounter {
				t.sums[field.Name] += field.Value.Int
			}
		}
	}

	submitters := make([]string, 0, len(bySubmitter))
	for id := range bySubmitter {
		submitters = append(submitters, id)
	}
	sort.Strings(submitters)

	header := []any{"server_id", "submitter_id", "missions"}
	for _, name := range counters {
		header = append(header, name)
	}
	if err := writeRow(f, TotalsSheet, 1, header); err != nil {
		return err
	}
	if err := f.SetRowStyle(TotalsSheet, 1, 1, style); err != nil {
		return fmt.Errorf("style totals header: %w", err)
	}
	for i, id := range submitters {
		t := bySubmitter[id]
		row := []any{serverID, id, t.missions}
		for _, name := range counters {
			row = append(row, t.sums[name])
		}
		if err := writeRow(f, TotalsSheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

// fieldColumns lists field names in first-seen order.
func fieldColumns(records []domain.MissionRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range records {
		for _, field := range rec.Fields {
			if _, ok := seen[field.Name]; ok {
				continue
			}
			seen[field.Name] = struct{}{}
			out = append(out, field.Name)
		}
	}
	return out
}

func counterColumns(records []domain.MissionRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range records {
		for _, field := range rec.Fields {
			if field.Kind != domain.KindCounter {
				continue
			}
			if _, ok := seen[field.Name]; ok {
				continue
			}
			seen[field.Name] = struct{}{}
			out = append(out, field.Name)
		}
	}
	return out
}

func cellValue(rec domain.MissionRecord, name string) any {
	field, ok := rec.Field(name)
	if !ok || field.Value == nil {
		return nil
	}
	if field.Value.Kind == domain.KindDuration {
		return field.Value.String()
	}
	return field.Value.Native()
}
