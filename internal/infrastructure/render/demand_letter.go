// Package render produces the formal demand-letter workbook attached to the day-31 notice
package render

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/application/port"
)

const (
	sheetName  = "Demand Letter"
	dateLayout = "January 2, 2006"
	outputDir  = "demand-letters"
)

// DemandLetterRenderer implements port.DemandLetterRenderer with excelize
type DemandLetterRenderer struct {
	storage port.FileStorage
	logger  *zap.Logger
}

// NewDemandLetterRenderer creates a renderer that saves workbooks through storage
func NewDemandLetterRenderer(storage port.FileStorage, logger *zap.Logger) *DemandLetterRenderer {
	return &DemandLetterRenderer{storage: storage, logger: logger}
}

// Render builds the workbook and returns its storage path. Re-rendering the same
// request on the same day overwrites the earlier file.
func (r *DemandLetterRenderer) Render(ctx context.Context, letter port.DemandLetter) (string, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", sheetName); err != nil {
		return "", fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := r.fill(file, letter); err != nil {
		return "", err
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return "", fmt.Errorf("failed to write workbook: %w", err)
	}

	path := Path(letter)
	if err := r.storage.Save(ctx, path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to store demand letter: %w", err)
	}

	r.logger.Info("Demand letter rendered",
		zap.String("request_code", letter.RequestCode),
		zap.String("path", path))
	return path, nil
}

// Path returns the storage path of a letter
func Path(letter port.DemandLetter) string {
	return fmt.Sprintf("%s/%s-%s.xlsx", outputDir, letter.RequestCode, letter.IssuedAt.Format("20060102"))
}

func (r *DemandLetterRenderer) fill(file *excelize.File, letter port.DemandLetter) error {
	liquidation := letter.Liquidation
	if liquidation == "" {
		liquidation = "none filed"
	}

	rows := [][2]interface{}{
		{"DEMAND TO LIQUIDATE CASH ADVANCE", nil},
		{"Date issued", letter.IssuedAt.Format(dateLayout)},
		{"School", fmt.Sprintf("%s (%s)", letter.SchoolName, letter.SchoolID)},
		{"Accountable officer", letter.OwnerName},
		{"Request", letter.RequestCode},
		{"Target month", letter.TargetMonth},
		{"Amount", letter.Amount.StringFixed(2)},
		{"Downloaded", letter.DownloadedAt.Format(dateLayout)},
		{"Liquidation deadline", letter.Deadline.Format(dateLayout)},
		{"Liquidation", liquidation},
		{"Status", letter.Status},
		{"", nil},
		{"The 30-day liquidation period of the cash advance above has lapsed. Settle the liquidation immediately.", nil},
	}

	for i, row := range rows {
		for j, value := range row {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return fmt.Errorf("failed to resolve cell: %w", err)
			}
			if err := file.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("failed to set %s: %w", cell, err)
			}
		}
	}

	if err := file.SetColWidth(sheetName, "A", "A", 24); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return file.SetColWidth(sheetName, "B", "B", 40)
}
