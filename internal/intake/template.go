package intake

import (
	"encoding/csv"
	"fmt"
	"io"

	"catalog-import-service/internal/models"
	"github.com/xuri/excelize/v2"
)

// TemplateSheetName is the data sheet of the XLSX template
const TemplateSheetName = "Products"

const instructionsSheet = "Instructions"

// WriteTemplateCSV writes the header row of the import template
func WriteTemplateCSV(w io.Writer, schema models.TargetSchema) error {
	writer := csv.NewWriter(w)

	columns := schema.TemplateColumns()
	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = col.Name
	}
	if err := writer.Write(headers); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// WriteTemplateXLSX writes the import template workbook. Required columns are
// marked with a trailing " *", which intake strips again.
func WriteTemplateXLSX(w io.Writer, schema models.TargetSchema) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", TemplateSheetName); err != nil {
		return err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	requiredStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	columns := schema.TemplateColumns()
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		header := col.Name
		style := headerStyle
		if col.Required {
			header = col.Name + " *"
			style = requiredStyle
		}
		f.SetCellValue(TemplateSheetName, cell, header)
		f.SetCellStyle(TemplateSheetName, cell, cell, style)

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(TemplateSheetName, colName, colName, 20)
	}

	if _, err := f.NewSheet(instructionsSheet); err != nil {
		return err
	}
	f.SetCellValue(instructionsSheet, "A1", "Product Import Instructions")
	f.SetCellValue(instructionsSheet, "A3", "Columns may use any names; they are matched to the fields below and can be remapped before import.")
	f.SetCellValue(instructionsSheet, "A4", "Columns marked * are required.")

	for i, label := range []string{"Column", "Description", "Required", "Type", "Example"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 6)
		f.SetCellValue(instructionsSheet, cell, label)
	}
	for i, col := range columns {
		row := i + 7
		required := "Optional"
		if col.Required {
			required = "Required"
		}
		f.SetCellValue(instructionsSheet, fmt.Sprintf("A%d", row), col.Name)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("B%d", row), col.Description)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("C%d", row), required)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("D%d", row), col.Type)
		f.SetCellValue(instructionsSheet, fmt.Sprintf("E%d", row), col.Example)
	}
	f.SetColWidth(instructionsSheet, "A", "A", 25)
	f.SetColWidth(instructionsSheet, "B", "B", 60)
	f.SetColWidth(instructionsSheet, "C", "D", 15)
	f.SetColWidth(instructionsSheet, "E", "E", 40)

	sheetIdx, _ := f.GetSheetIndex(TemplateSheetName)
	f.SetActiveSheet(sheetIdx)

	return f.Write(w)
}

// WriteErrorReport writes validation findings and failed import rows as a
// workbook with one sheet each
func WriteErrorReport(w io.Writer, findings []models.ValidationError, failures []models.ImportHistory) error {
	f := excelize.NewFile()
	defer f.Close()

	const validationSheet = "Validation"
	const failedSheet = "Failed Records"

	if err := f.SetSheetName("Sheet1", validationSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(failedSheet); err != nil {
		return err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	writeRow := func(sheet string, row int, values ...interface{}) {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		f.SetSheetRow(sheet, cell, &values)
	}

	writeRow(validationSheet, 1, "Record", "Field", "Source Column", "Value", "Rule", "Severity", "Message", "Suggested Fix")
	f.SetRowStyle(validationSheet, 1, 1, headerStyle)
	for i, e := range findings {
		record := interface{}(e.RecordIndex + 1)
		if e.RecordIndex < 0 {
			record = "all"
		}
		fix := ""
		if e.AutoFix != nil {
			fix = fmt.Sprintf("%s -> %s", e.AutoFix.Action, e.AutoFix.NewValue)
		}
		writeRow(validationSheet, i+2, record, e.Field, e.SourceField, e.Value, e.RuleID, string(e.Severity), e.Message, fix)
	}

	writeRow(failedSheet, 1, "Record", "Batch", "Error Code", "Error Message", "Retries", "Data")
	f.SetRowStyle(failedSheet, 1, 1, headerStyle)
	for i, h := range failures {
		writeRow(failedSheet, i+2, h.RecordIndex+1, h.BatchNumber, h.ErrorCode, h.ErrorMessage, h.RetryCount, string(h.Data))
	}

	f.SetColWidth(validationSheet, "A", "F", 15)
	f.SetColWidth(validationSheet, "G", "H", 50)
	f.SetColWidth(failedSheet, "A", "C", 15)
	f.SetColWidth(failedSheet, "D", "D", 50)
	f.SetColWidth(failedSheet, "F", "F", 80)

	return f.Write(w)
}
