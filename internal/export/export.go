// Package export renders bookings as an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cleanbook/internal/calendar"
	"cleanbook/internal/domain"
	"cleanbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Bookings"
	scheduleSheet = "Schedule"

	// MaxRangeDays bounds the schedule grid width.
	MaxRangeDays = 92
)

// BookingLister reads bookings grouped by date key ("YYYY-MM-DD").
type BookingLister interface {
	GetDailyBookings(ctx context.Context, from, to calendar.Date) (map[string][]*models.Booking, error)
}

type Exporter struct {
	bookings BookingLister
	slots    []string
	dir      string
	logger   *zerolog.Logger
}

// NewExporter writes files under dir. slots are the schedule grid rows.
func NewExporter(bookings BookingLister, slots []string, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{bookings: bookings, slots: slots, dir: dir, logger: logger}
}

// FileName is the suggested name of the workbook for a range.
func FileName(from, to calendar.Date) string {
	return fmt.Sprintf("bookings_%s_to_%s.xlsx", from, to)
}

// Write renders bookings between from and to (inclusive) into w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, from, to calendar.Date) error {
	f, err := e.build(ctx, from, to)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveFile renders the workbook into the export directory and returns its
// path.
func (e *Exporter) SaveFile(ctx context.Context, from, to calendar.Date) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	f, err := e.build(ctx, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(e.dir, FileName(from, to))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	e.logger.Info().Str("file_path", path).Msg("Excel file created")
	return path, nil
}

func (e *Exporter) build(ctx context.Context, from, to calendar.Date) (*excelize.File, error) {
	if from.IsZero() || to.IsZero() {
		return nil, domain.Invalid("range", "from and to are required")
	}
	if to.Before(from) {
		return nil, domain.Invalid("to", "must not be before from")
	}
	if from.AddDays(MaxRangeDays).Before(to) {
		return nil, domain.Invalid("range", "must not exceed %d days", MaxRangeDays)
	}

	daily, err := e.bookings.GetDailyBookings(ctx, from, to)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	if err := f.SetSheetName("Sheet1", bookingsSheet); err != nil {
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	if err := e.writeList(f, daily, from, to); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(scheduleSheet); err != nil {
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	if err := e.writeSchedule(f, daily, from, to); err != nil {
		return nil, err
	}

	ok = true
	return f, nil
}

var listHeaders = []interface{}{
	"Confirmation", "Date", "Day", "Time", "Status", "Customer", "Email", "Phone",
	"Address", "City", "ZIP", "Services", "Total", "Notes",
}

func (e *Exporter) writeList(f *excelize.File, daily map[string][]*models.Booking, from, to calendar.Date) error {
	if err := f.SetSheetRow(bookingsSheet, "A1", &listHeaders); err != nil {
		return err
	}
	header, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	_ = f.SetCellStyle(bookingsSheet, "A1", "N1", header)

	row := 2
	for d := from; !d.After(to); d = d.AddDays(1) {
		for _, b := range daily[d.String()] {
			values := []interface{}{
				b.ConfirmationCode, b.Date.String(), b.DayOfWeek, b.TimeSlot, b.Status,
				"", "", "", "", "", b.ZipCode, lineSummary(b), b.TotalPrice.Float(), b.SpecialInstructions,
			}
			if c := b.Customer; c != nil {
				values[5], values[6], values[7] = c.FullName(), c.Email, c.Phone
				values[8], values[9] = c.Address, c.City
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(bookingsSheet, cell, &values); err != nil {
				return err
			}
			row++
		}
	}

	_ = f.SetColWidth(bookingsSheet, "A", "E", 14)
	_ = f.SetColWidth(bookingsSheet, "F", "L", 24)
	money, _ := f.NewStyle(&excelize.Style{NumFmt: 7})
	if row > 2 {
		_ = f.SetCellStyle(bookingsSheet, "M2", fmt.Sprintf("M%d", row-1), money)
	}
	return nil
}

// writeSchedule lays out slots as rows and dates as columns.
func (e *Exporter) writeSchedule(f *excelize.File, daily map[string][]*models.Booking, from, to calendar.Date) error {
	_ = f.SetCellValue(scheduleSheet, "A1", fmt.Sprintf("Schedule: %s - %s", from, to))
	title, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(scheduleSheet, "A1", "A1", title)

	dateStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	slotStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	takenStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#FCE4D6"}, Pattern: 1},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})

	for i, slot := range e.slots {
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		_ = f.SetCellValue(scheduleSheet, cell, slot)
		_ = f.SetCellStyle(scheduleSheet, cell, cell, slotStyle)
	}

	col := 2
	for d := from; !d.After(to); d = d.AddDays(1) {
		cell, _ := excelize.CoordinatesToCellName(col, 2)
		_ = f.SetCellValue(scheduleSheet, cell, fmt.Sprintf("%s %s", d.Weekday().String()[:3], d))
		_ = f.SetCellStyle(scheduleSheet, cell, cell, dateStyle)

		for _, b := range daily[d.String()] {
			if b.Status == models.StatusCancelled {
				continue
			}
			row := slotRow(e.slots, b.TimeSlot)
			if row == 0 {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col, row)
			name := ""
			if b.Customer != nil {
				name = b.Customer.FullName()
			}
			_ = f.SetCellValue(scheduleSheet, cell, fmt.Sprintf("%s\n%s\n%s", b.ConfirmationCode, name, b.Status))
			_ = f.SetCellStyle(scheduleSheet, cell, cell, takenStyle)
		}
		col++
	}

	lastCol, _ := excelize.ColumnNumberToName(col - 1)
	if col > 2 {
		_ = f.MergeCell(scheduleSheet, "A1", lastCol+"1")
	}
	_ = f.SetColWidth(scheduleSheet, "A", "A", 22)
	if col > 2 {
		_ = f.SetColWidth(scheduleSheet, "B", lastCol, 20)
	}
	return nil
}

func slotRow(slots []string, slot string) int {
	for i, s := range slots {
		if s == slot {
			return i + 3
		}
	}
	return 0
}

func lineSummary(b *models.Booking) string {
	out := ""
	for _, l := range b.Services {
		if out != "" {
			out += ", "
		}
		out += l.Name
	}
	for _, l := range b.Rooms {
		out += fmt.Sprintf("; %s x%d", l.Name, l.Quantity)
	}
	return out
}
