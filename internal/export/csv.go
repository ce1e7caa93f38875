// Package export writes analysed runs to delimited text.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/andresmejia3/barpath/internal/types"
)

// Header is the first CSV record.
var Header = []string{"index", "timestamp_s", "x_m", "y_m"}

// WriteCSV writes a header followed by one record per row.
func WriteCSV(w io.Writer, rows []types.ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.Index),
			formatFloat(r.Timestamp),
			formatFloat(r.X),
			formatFloat(r.Y),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile creates (or truncates) path and writes rows to it.
func WriteCSVFile(path string, rows []types.ExportRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("write csv %s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
