package decoder

import (
	"bytes"
	"io"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"

	"github.com/cohortmanager/platform/services/intake/domain/service"
)

const parquetReadAhead = 256

// parquetRow is the column layout of parquet extracts
type parquetRow struct {
	RecordType              *string `parquet:"record_type,optional"`
	IdentityKey             *int64  `parquet:"identity_key,optional"`
	SupersededByKey         *int64  `parquet:"superseded_by_key,optional"`
	PrimaryCareProvider     *string `parquet:"primary_care_provider,optional"`
	PrimaryCareProviderFrom *string `parquet:"primary_care_provider_from,optional"`
	CurrentPosting          *string `parquet:"current_posting,optional"`
	CurrentPostingFrom      *string `parquet:"current_posting_from,optional"`
	NamePrefix              *string `parquet:"name_prefix,optional"`
	GivenName               *string `parquet:"given_name,optional"`
	OtherGivenNames         *string `parquet:"other_given_names,optional"`
	FamilyName              *string `parquet:"family_name,optional"`
	PreviousFamilyName      *string `parquet:"previous_family_name,optional"`
	DateOfBirth             *string `parquet:"date_of_birth,optional"`
	Gender                  *int64  `parquet:"gender,optional"`
	AddressLine1            *string `parquet:"address_line_1,optional"`
	AddressLine2            *string `parquet:"address_line_2,optional"`
	AddressLine3            *string `parquet:"address_line_3,optional"`
	AddressLine4            *string `parquet:"address_line_4,optional"`
	AddressLine5            *string `parquet:"address_line_5,optional"`
	Postcode                *string `parquet:"postcode,optional"`
	ReasonForRemoval        *string `parquet:"reason_for_removal,optional"`
	ReasonForRemovalFrom    *string `parquet:"reason_for_removal_from,optional"`
	DateOfDeath             *string `parquet:"date_of_death,optional"`
	HomeTelephone           *string `parquet:"home_telephone,optional"`
	MobileTelephone         *string `parquet:"mobile_telephone,optional"`
	Email                   *string `parquet:"email,optional"`
	PreferredLanguage       *string `parquet:"preferred_language,optional"`
	InterpreterRequired     *bool   `parquet:"interpreter_required,optional"`
	InvalidFlag             *bool   `parquet:"invalid_flag,optional"`
}

func (p parquetRow) fields() map[string]string {
	fields := make(map[string]string, 32)
	text := func(name string, v *string) {
		if v != nil {
			fields[name] = *v
		}
	}
	number := func(name string, v *int64) {
		if v != nil {
			fields[name] = strconv.FormatInt(*v, 10)
		}
	}
	flag := func(name string, v *bool) {
		if v != nil {
			fields[name] = strconv.FormatBool(*v)
		}
	}

	text("record_type", p.RecordType)
	number("identity_key", p.IdentityKey)
	number("superseded_by_key", p.SupersededByKey)
	text("primary_care_provider", p.PrimaryCareProvider)
	text("primary_care_provider_from", p.PrimaryCareProviderFrom)
	text("current_posting", p.CurrentPosting)
	text("current_posting_from", p.CurrentPostingFrom)
	text("name_prefix", p.NamePrefix)
	text("given_name", p.GivenName)
	text("other_given_names", p.OtherGivenNames)
	text("family_name", p.FamilyName)
	text("previous_family_name", p.PreviousFamilyName)
	text("date_of_birth", p.DateOfBirth)
	number("gender", p.Gender)
	text("address_line_1", p.AddressLine1)
	text("address_line_2", p.AddressLine2)
	text("address_line_3", p.AddressLine3)
	text("address_line_4", p.AddressLine4)
	text("address_line_5", p.AddressLine5)
	text("postcode", p.Postcode)
	text("reason_for_removal", p.ReasonForRemoval)
	text("reason_for_removal_from", p.ReasonForRemovalFrom)
	text("date_of_death", p.DateOfDeath)
	text("home_telephone", p.HomeTelephone)
	text("mobile_telephone", p.MobileTelephone)
	text("email", p.Email)
	text("preferred_language", p.PreferredLanguage)
	flag("interpreter_required", p.InterpreterRequired)
	flag("invalid_flag", p.InvalidFlag)
	return fields
}

type parquetReader struct {
	reader  *parquet.GenericReader[parquetRow]
	buffer  []parquetRow
	pending []parquetRow
	row     int
	closers []io.Closer
}

// Parquet needs random access to the footer, so the extract is buffered
func newParquetReader(r io.Reader, closers []io.Closer) (*parquetReader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to buffer parquet file")
	}
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open parquet file")
	}
	return &parquetReader{
		reader:  parquet.NewGenericReader[parquetRow](file),
		buffer:  make([]parquetRow, parquetReadAhead),
		closers: closers,
	}, nil
}

func (p *parquetReader) Next() (service.RawRow, error) {
	if len(p.pending) == 0 {
		n, err := p.reader.Read(p.buffer)
		if n == 0 {
			if err == nil || err == io.EOF {
				return service.RawRow{}, io.EOF
			}
			return service.RawRow{}, errors.Wrapf(err, "failed to read rows after row %d", p.row)
		}
		p.pending = p.buffer[:n]
	}

	next := p.pending[0]
	p.pending = p.pending[1:]
	p.row++
	return service.RawRow{Number: p.row, Fields: next.fields()}, nil
}

func (p *parquetReader) Close() error {
	err := p.reader.Close()
	if closeErr := closeAll(p.closers); err == nil {
		err = closeErr
	}
	return err
}
