package ingestion

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseTableCSV(t *testing.T) {
	payload := "\xEF\xBB\xBFlat, lon,temp_C,ts\n" +
		"-1.5,36.8,21,2024-01-01 10:00:00\n" +
		",,,\n" +
		"-1.6,36.9\n"

	table, err := ParseTable("collar.csv", []byte(payload))
	require.NoError(t, err)

	assert.Equal(t, []string{"lat", "lon", "temp_C", "ts"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "-1.5", table.Rows[0]["lat"])
	assert.Equal(t, "2024-01-01 10:00:00", table.Rows[0]["ts"])
	// short rows are padded with empty cells
	assert.Equal(t, "", table.Rows[1]["ts"])
	_, ok := table.Rows[1].Value("ts")
	assert.False(t, ok)
}

func TestParseTableDuplicateAndBlankHeaders(t *testing.T) {
	table, err := ParseTable("dup.csv", []byte("a,a,,b,a\n1,2,3,4,5\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "a_2", "column_3", "b", "a_3"}, table.Headers)
	assert.Equal(t, "2", table.Rows[0]["a_2"])
	assert.Equal(t, "5", table.Rows[0]["a_3"])
}

func TestParseTableHeaderOnly(t *testing.T) {
	table, err := ParseTable("empty.csv", []byte("lat,lon\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"lat", "lon"}, table.Headers)
	assert.Empty(t, table.Rows)
}

func TestParseTableRejects(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		payload  string
		want     error
	}{
		{name: "empty payload", fileName: "a.csv", payload: "", want: ErrEmptyFile},
		{name: "only blank rows", fileName: "a.csv", payload: ",,\n , \n", want: ErrNoHeader},
		{name: "unsupported extension", fileName: "a.json", payload: "{}", want: ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable(tt.fileName, []byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestParseTableXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Latitude", "Longitude", "Date", "Time"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{-1.5, 36.8, "25/12/2024", "9:30"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]any{-1.25, 36.75, "26/12/2024", "10:00"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := ParseTable("Collar.XLSX", buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, []string{"Latitude", "Longitude", "Date", "Time"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "-1.5", table.Rows[0]["Latitude"])
	assert.Equal(t, "25/12/2024", table.Rows[0]["Date"])
	assert.Equal(t, "10:00", table.Rows[1]["Time"])
}

func TestEncodeCSVRoundTrip(t *testing.T) {
	headers := []string{"name", "note", "timestamp"}
	rows := []map[string]string{
		{"name": "Bella", "note": "grazing, near river", "timestamp": "2024-01-01T10:00:00"},
		{"name": "Max", "note": `said "moo"`, "timestamp": "2024-01-01T11:00:00"},
		{"name": "Daisy", "timestamp": "Invalid date"},
	}

	payload, err := EncodeCSV(headers, rows)
	require.NoError(t, err)

	table, err := ParseTable("roundtrip.csv", payload)
	require.NoError(t, err)
	assert.Equal(t, headers, table.Headers)
	require.Len(t, table.Rows, len(rows))
	for idx, row := range rows {
		for _, header := range headers {
			assert.Equal(t, row[header], table.Rows[idx][header], "row %d column %s", idx, header)
		}
	}
}
