package decoder

import (
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"

	"github.com/cohortmanager/platform/services/intake/domain/service"
)

// RowError marks a single unreadable row. The stream stays usable after it.
type RowError struct {
	Row   int
	Cause error
}

func (e *RowError) Error() string {
	return "row " + strconv.Itoa(e.Row) + ": " + e.Cause.Error()
}

func (e *RowError) Unwrap() error {
	return e.Cause
}

// Format returns the row format of name, ignoring a trailing .gz
func Format(name string) (format string, gzipped bool) {
	lower := strings.ToLower(path.Base(name))
	if strings.HasSuffix(lower, ".gz") {
		gzipped = true
		lower = strings.TrimSuffix(lower, ".gz")
	}
	return strings.TrimPrefix(path.Ext(lower), "."), gzipped
}

// Open returns a RowReader for the extract held in r. The reader takes
// ownership of r and closes it.
func Open(name string, r io.ReadCloser) (service.RowReader, error) {
	format, gzipped := Format(name)

	var body io.Reader = r
	closers := []io.Closer{r}
	if gzipped {
		gz, err := pgzip.NewReader(r)
		if err != nil {
			r.Close()
			return nil, errors.Wrapf(err, "failed to open gzip stream of %s", name)
		}
		body = gz
		closers = append([]io.Closer{gz}, closers...)
	}

	var (
		rows service.RowReader
		err  error
	)
	switch format {
	case "csv":
		rows, err = newCSVReader(body, closers)
	case "parquet":
		rows, err = newParquetReader(body, closers)
	default:
		err = errors.Errorf("unsupported file format %q", format)
	}
	if err != nil {
		closeAll(closers)
		return nil, errors.WithMessagef(err, "failed to open %s", name)
	}
	return rows, nil
}

// normalizeColumn maps "Given Name" and "given_name" to the same key
func normalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
	return strings.Join(strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

func closeAll(closers []io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
