// Package export renders attendance rosters as spreadsheets.
package export

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"attendancedesk/internal/academy"
)

const sheetName = "Attendance"

var header = []string{"Record", "Student ID", "Student", "Email", "Lesson ID", "Status", "Time"}

// RosterXLSX writes one row per record under a title row naming lesson.
func RosterXLSX(lesson academy.Lesson, recs []academy.AttendanceRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("export: new sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetColWidth(sheetName, "A", "B", 10)
	_ = f.SetColWidth(sheetName, "C", "D", 26)
	_ = f.SetColWidth(sheetName, "E", "F", 12)
	_ = f.SetColWidth(sheetName, "G", "G", 24)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	title := fmt.Sprintf("Lesson %d", lesson.ID)
	if lesson.Title != "" {
		title = lesson.Label()
	}
	_ = f.SetCellValue(sheetName, "A1", title)
	last, _ := excelize.ColumnNumberToName(len(header))
	_ = f.MergeCell(sheetName, "A1", last+"1")
	_ = f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	for i, h := range header {
		_ = f.SetCellValue(sheetName, cell(i, 2), h)
	}
	_ = f.SetCellStyle(sheetName, "A2", last+"2", headerStyle)

	for r, rec := range recs {
		row := r + 3
		values := []any{rec.ID, idOrBlank(rec.StudentID), "", "", idOrBlank(rec.LessonID), rec.Presence.String(), ""}
		if rec.Student != nil {
			values[2], values[3] = rec.Student.Name, rec.Student.Email
		}
		if rec.AttendedAt != nil && !rec.AttendedAt.IsZero() {
			values[6] = rec.AttendedAt.UTC().Format("2006-01-02 15:04:05")
		}
		for c, v := range values {
			if err := f.SetCellValue(sheetName, cell(c, row), v); err != nil {
				return nil, fmt.Errorf("export: row %d: %w", row, err)
			}
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("export: write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename is the download name for a lesson's roster.
func Filename(lessonID int64) string {
	return "attendance-lesson-" + strconv.FormatInt(lessonID, 10) + ".xlsx"
}

func idOrBlank(id *int64) any {
	if id == nil {
		return ""
	}
	return *id
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col+1, row)
	return name
}
