package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/herdtrack/internal/domain"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Table is a parsed upload: unique headers in file order and one Row per data line.
type Table struct {
	Headers []string
	Rows    []domain.Row
}

// ParseTable decodes a CSV or XLSX payload. Files without an extension are read as CSV.
func ParseTable(fileName string, payload []byte) (Table, error) {
	if len(payload) == 0 {
		return Table{}, ErrEmptyFile
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv", ".txt", "":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return Table{}, errors.Wrapf(ErrUnsupportedFormat, "%s", ext)
	}
}

func parseCSV(payload []byte) (Table, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return Table{}, errors.Wrap(err, "failed to read csv")
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return Table{}, errors.Wrap(err, "failed to open xlsx")
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, errors.Wrap(err, "failed to read rows from xlsx")
	}
	return normalizeTable(rows)
}

func normalizeTable(records [][]string) (Table, error) {
	var headerRow []string
	var dataRows [][]string
	for _, row := range records {
		if isBlank(row) {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}
	if headerRow == nil {
		return Table{}, ErrNoHeader
	}

	headers := uniqueHeaders(headerRow)
	rows := make([]domain.Row, 0, len(dataRows))
	for _, record := range dataRows {
		row := make(domain.Row, len(headers))
		for idx, header := range headers {
			if idx < len(record) {
				row[header] = strings.TrimSpace(record[idx])
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}

	return Table{Headers: headers, Rows: rows}, nil
}

// uniqueHeaders trims labels, names blank ones and suffixes duplicates.
func uniqueHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)
	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
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

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// EncodeCSV serializes rows in header order with a header line.
func EncodeCSV(headers []string, rows []map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(headers); err != nil {
		return nil, errors.Wrap(err, "write csv header")
	}
	record := make([]string, len(headers))
	for _, row := range rows {
		for idx, header := range headers {
			record[idx] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, errors.Wrap(err, "write csv row")
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, errors.Wrap(err, "flush csv")
	}
	return buf.Bytes(), nil
}
