package telemetry

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// WriteCSV writes the readings taken at or after since as CSV. The header is
// timestamp, deviceId and then columns; absent values become empty cells.
// A zero since keeps every reading.
func WriteCSV(w io.Writer, readings []Reading, since time.Time, columns []string) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(columns)+2)
	header = append(header, "timestamp", "deviceId")
	header = append(header, columns...)
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, r := range readings {
		if !since.IsZero() && r.Timestamp.Before(since) {
			continue
		}
		row[0] = FormatTimestamp(r.Timestamp)
		row[1] = r.DeviceID
		for i, col := range columns {
			if v, ok := r.Fields[col]; ok {
				row[i+2] = strconv.FormatFloat(v, 'f', -1, 64)
			} else {
				row[i+2] = ""
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
