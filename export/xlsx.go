// Package export writes a job transcript (summary plus chat log) to an XLSX workbook.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"docbridge/domain"
)

const (
	SummarySheet = "Samenvatting"
	ChatSheet    = "Chat"
)

type Transcript struct {
	JobID      domain.JobID
	Locale     domain.Locale
	CreatedAt  time.Time
	Normalized string
	Chat       []domain.ChatEntry
}

// WriteXLSX writes t as a two-sheet workbook: job metadata and the summary lines first, then one
// row per chat turn.
func WriteXLSX(w io.Writer, t Transcript) error {
	if !t.JobID.Valid {
		return domain.ErrNoJobID
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	defSheet := f.GetSheetName(0)
	if defSheet == "" {
		defSheet = "Sheet1"
	}
	_ = f.SetSheetName(defSheet, SummarySheet)
	if _, err := f.NewSheet(ChatSheet); err != nil {
		return err
	}
	f.SetActiveSheet(0)

	headStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
		Font: &excelize.Font{Bold: true},
	})

	if err := writeSummarySheet(f, t, headStyle); err != nil {
		return err
	}
	if err := writeChatSheet(f, t.Chat, headStyle); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveXLSX writes the workbook to path, creating the parent directory.
func SaveXLSX(path string, t Transcript) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("export: output path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := WriteXLSX(out, t); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func writeSummarySheet(f *excelize.File, t Transcript, headStyle int) error {
	sw, err := f.NewStreamWriter(SummarySheet)
	if err != nil {
		return err
	}
	created := ""
	if !t.CreatedAt.IsZero() {
		created = t.CreatedAt.UTC().Format(time.RFC3339)
	}
	meta := [][]interface{}{
		{label("Job", headStyle), t.JobID.String()},
		{label("Taal", headStyle), string(t.Locale)},
		{label("Aangemaakt", headStyle), created},
	}
	rowNum := 1
	for _, row := range meta {
		if err := sw.SetRow(cellAxis(rowNum, 1), row); err != nil {
			return err
		}
		rowNum++
	}
	rowNum++

	if strings.TrimSpace(t.Normalized) == "" {
		if err := sw.SetRow(cellAxis(rowNum, 1), []interface{}{"Geen samenvatting"}); err != nil {
			return err
		}
		return sw.Flush()
	}
	for _, line := range strings.Split(t.Normalized, "\n") {
		if err := sw.SetRow(cellAxis(rowNum, 1), []interface{}{safeCellValue(line)}); err != nil {
			return err
		}
		rowNum++
	}
	return sw.Flush()
}

func writeChatSheet(f *excelize.File, entries []domain.ChatEntry, headStyle int) error {
	sw, err := f.NewStreamWriter(ChatSheet)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		if err := sw.SetRow("A1", []interface{}{"Geen vragen"}); err != nil {
			return err
		}
		return sw.Flush()
	}
	header := []interface{}{label("Tijd", headStyle), label("Vraag", headStyle), label("Antwoord", headStyle)}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	rowNum := 2
	for _, e := range entries {
		at := time.UnixMilli(e.ID).UTC().Format(time.RFC3339)
		answer := e.Answer
		if e.Pending() {
			answer = ""
		}
		if err := sw.SetRow(cellAxis(rowNum, 1), []interface{}{at, safeCellValue(e.Question), safeCellValue(answer)}); err != nil {
			return err
		}
		rowNum++
	}
	return sw.Flush()
}

func label(s string, style int) excelize.Cell {
	return excelize.Cell{Value: s, StyleID: style}
}

func safeCellValue(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return ""
	}
	return v
}

func cellAxis(row, col int) string {
	axis, _ := excelize.CoordinatesToCellName(col, row)
	return axis
}
