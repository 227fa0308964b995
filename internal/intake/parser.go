package intake

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"catalog-import-service/internal/models"
	"github.com/xuri/excelize/v2"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// ParsedFile is the tabular content of an upload. Values are kept verbatim.
type ParsedFile struct {
	Format  models.FileFormat
	Columns []string
	Records []map[string]string
}

// DetectFormat picks the file format from the file extension
func DetectFormat(fileName string) (models.FileFormat, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return models.FileFormatCSV, nil
	case ".json":
		return models.FileFormatJSON, nil
	case ".xlsx":
		return models.FileFormatXLSX, nil
	}
	return "", models.NewImportError(models.ErrorKindFileUpload, models.CodeUnsupportedFormat,
		fmt.Sprintf("unsupported file type %q", filepath.Ext(fileName))).
		WithRemediation("upload a .csv, .json or .xlsx file")
}

// Parse decodes an upload into columns and records
func Parse(format models.FileFormat, r io.Reader) (*ParsedFile, error) {
	var (
		parsed *ParsedFile
		err    error
	)
	switch format {
	case models.FileFormatCSV:
		parsed, err = parseCSV(r)
	case models.FileFormatJSON:
		parsed, err = parseJSON(r)
	case models.FileFormatXLSX:
		parsed, err = parseXLSX(r)
	default:
		return nil, models.NewImportError(models.ErrorKindFileUpload, models.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported file format %q", format))
	}
	if err != nil {
		return nil, models.NewImportError(models.ErrorKindFileUpload, models.CodeMalformedFile, err.Error()).
			WithRemediation("check the file is a valid " + string(format) + " export").
			Wrap(err)
	}
	parsed.Format = format
	return parsed, nil
}

func parseCSV(r io.Reader) (*ParsedFile, error) {
	reader := bufio.NewReader(r)
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1

	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return fromRows(rows)
}

func parseXLSX(r io.Reader) (*ParsedFile, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	sheetName := sheets[0]
	// Prefer the sheet the template download names
	for _, name := range sheets {
		if strings.EqualFold(name, TemplateSheetName) {
			sheetName = name
			break
		}
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return fromRows(rows)
}

// fromRows treats the first non-blank row as the header
func fromRows(rows [][]string) (*ParsedFile, error) {
	headerIndex := -1
	for i, row := range rows {
		if !isBlankRow(row) {
			headerIndex = i
			break
		}
	}
	if headerIndex < 0 {
		return &ParsedFile{Records: []map[string]string{}}, nil
	}

	columns := sanitizeHeaders(rows[headerIndex])
	records := make([]map[string]string, 0, len(rows)-headerIndex-1)
	for _, row := range rows[headerIndex+1:] {
		if isBlankRow(row) {
			continue
		}
		record := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(row) {
				record[col] = row[i]
			} else {
				record[col] = ""
			}
		}
		records = append(records, record)
	}

	return &ParsedFile{Columns: columns, Records: records}, nil
}

// parseJSON reads an array of flat objects. Column order follows first
// appearance; nested values are kept as their JSON text.
func parseJSON(r io.Reader) (*ParsedFile, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read json: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("json upload must be an array of objects")
	}

	parsed := &ParsedFile{Records: []map[string]string{}}
	seen := make(map[string]bool)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read json record %d: %w", len(parsed.Records)+1, err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '{' {
			return nil, fmt.Errorf("json record %d is not an object", len(parsed.Records)+1)
		}

		record := make(map[string]string)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("failed to read json record %d: %w", len(parsed.Records)+1, err)
			}
			key := CleanColumnName(fmt.Sprint(keyTok))

			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, fmt.Errorf("failed to read json record %d: %w", len(parsed.Records)+1, err)
			}
			record[key] = jsonScalar(raw)

			if !seen[key] {
				seen[key] = true
				parsed.Columns = append(parsed.Columns, key)
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("failed to read json record %d: %w", len(parsed.Records)+1, err)
		}
		parsed.Records = append(parsed.Records, record)
	}

	for _, record := range parsed.Records {
		for _, col := range parsed.Columns {
			if _, ok := record[col]; !ok {
				record[col] = ""
			}
		}
	}

	return parsed, nil
}

func jsonScalar(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// CleanColumnName trims a header and drops the template's required marker
func CleanColumnName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, "*")
	return strings.TrimSpace(name)
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := CleanColumnName(value)
		if name == "" {
			name = "column_" + strconv.Itoa(idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
