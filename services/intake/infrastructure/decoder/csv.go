package decoder

import (
	"encoding/csv"
	"io"

	"github.com/pkg/errors"

	"github.com/cohortmanager/platform/services/intake/domain/service"
)

type csvReader struct {
	reader  *csv.Reader
	header  []string
	row     int
	closers []io.Closer
}

func newCSVReader(r io.Reader, closers []io.Closer) (*csvReader, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("file has no header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}

	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = normalizeColumn(name)
	}
	return &csvReader{reader: reader, header: columns, closers: closers}, nil
}

func (c *csvReader) Next() (service.RawRow, error) {
	record, err := c.reader.Read()
	if err == io.EOF {
		return service.RawRow{}, io.EOF
	}
	c.row++
	if err != nil {
		return service.RawRow{}, errors.Wrapf(err, "failed to read row %d", c.row)
	}
	if len(record) != len(c.header) {
		return service.RawRow{}, &RowError{
			Row:   c.row,
			Cause: errors.Errorf("expected %d fields, got %d", len(c.header), len(record)),
		}
	}

	fields := make(map[string]string, len(record))
	for i, value := range record {
		fields[c.header[i]] = value
	}
	return service.RawRow{Number: c.row, Fields: fields}, nil
}

func (c *csvReader) Close() error {
	return closeAll(c.closers)
}
