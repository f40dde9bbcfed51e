package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	testutil "github.com/cohortmanager/platform/pkg/testing"
	"github.com/cohortmanager/platform/shared/common"
	"github.com/cohortmanager/platform/shared/entity"
	"github.com/cohortmanager/platform/shared/exceptions"
	"github.com/cohortmanager/platform/shared/types"
)

const header = "record_type,identity_key,given_name,postcode\n"

var validKeys = []string{
	"9434765919", "9434765870", "9000000009", "9000000017", "9000000025",
	"9000000033", "9000000041", "9000000068", "9000000076", "9000000084",
}

type IntakeSuite struct {
	testutil.TestSuite
	exceptionStore *testutil.ExceptionStore
	dispatcher     *recordingDispatcher
	metricRepo     *memoryMetrics
	screening      *memoryScreening
	intake         *BatchIntake
}

func TestIntakeSuite(t *testing.T) {
	suite.Run(t, new(IntakeSuite))
}

func (s *IntakeSuite) SetupTest() {
	s.TestSuite.SetupTest()
	s.exceptionStore = &testutil.ExceptionStore{}
	s.dispatcher = &recordingDispatcher{failOn: map[int]bool{}}
	s.metricRepo = &memoryMetrics{}
	s.screening = &memoryScreening{services: map[string]types.ScreeningService{
		"BSSelect": {ID: "1", Name: "Breast Screening", Acronym: "BSS"},
		"Nameless": {ID: "2", Acronym: "NL"},
	}}

	resolver := NewScreeningServiceResolver(s.screening, nil, s.Logger)
	handler := exceptions.NewHandler(s.exceptionStore, s.Logger, s.Metrics)
	s.intake = NewBatchIntake(resolver, s.dispatcher, s.metricRepo, handler, Options{
		BatchSize:         3,
		Parallelism:       2,
		CheckDigit:        true,
		AllowedExtensions: []string{"csv", "parquet"},
	}, s.Logger, s.Metrics)
	s.intake.now = fixedNow
}

func csvRows(kinds ...string) string {
	var b strings.Builder
	b.WriteString(header)
	for i, kind := range kinds {
		fmt.Fprintf(&b, "%s,%s,Name%d,BS1 4DJ\n", kind, validKeys[i], i)
	}
	return b.String()
}

func (s *IntakeSuite) TestBatchesRecordsAndWritesMetric() {
	name := "BSS_-_BSSelect_20240101120000_n7.csv"
	src := newMemorySource(map[string]string{
		name: csvRows("ADD", "ADD", "AMENDED", "DEL", "ADD", "ADD", "ADD"),
	})

	result, err := s.intake.Intake(context.Background(), src, name)
	s.Require().NoError(err)

	s.True(result.SourceConsumed)
	s.False(result.Quarantined)
	s.Equal([]string{name}, src.deleted)
	s.Equal(7, result.RowsRead)
	s.Equal(7, result.RecordsDispatched)
	s.Equal(3, result.Batches)
	s.Len(s.dispatcher.records(), 7)
	for _, b := range s.dispatcher.batches {
		s.LessOrEqual(len(b.Records), 3)
		s.Equal("Breast Screening", b.ScreeningService.Name)
	}

	s.Require().Len(s.metricRepo.metrics, 1)
	metric := s.metricRepo.metrics[0]
	s.Equal(entity.AuditProcessName, metric.ProcessName)
	s.Equal(7, metric.RecordCount)
	s.Equal(name, metric.Source)
	s.NotEmpty(metric.MetricAuditID)
	s.Empty(s.exceptionStore.Records())
}

func (s *IntakeSuite) TestMetricCarriesClaimedNotReadCount() {
	name := "BSS_-_BSSelect_20240101120000_n125.csv"
	src := newMemorySource(map[string]string{name: csvRows("ADD", "ADD")})

	_, err := s.intake.Intake(context.Background(), src, name)
	s.Require().NoError(err)
	s.Require().Len(s.metricRepo.metrics, 1)
	s.Equal(125, s.metricRepo.metrics[0].RecordCount)
}

func (s *IntakeSuite) TestBadRowsBecomeRowExceptions() {
	name := "BSS_-_BSSelect_20240101120000_n4.csv"
	content := header +
		"ADD,9434765919,Ada,BS1\n" +
		"ADD,9000000001,Bad,BS1\n" +
		"ADD,9434765870\n" +
		"ADD,9000000009,Grace,BS1\n"
	src := newMemorySource(map[string]string{name: content})

	result, err := s.intake.Intake(context.Background(), src, name)
	s.Require().NoError(err)

	s.Equal(4, result.RowsRead)
	s.Equal(2, result.RowsRejected)
	s.Equal(2, result.RecordsDispatched)
	s.True(result.SourceConsumed)

	records := s.exceptionStore.Records()
	s.Require().Len(records, 2)
	for _, r := range records {
		s.Equal(name, r.FileName)
		s.Equal(exceptions.RuleRowRejected, r.RuleID)
		s.True(r.Fatal)
	}
}

func (s *IntakeSuite) TestFileLevelFailuresQuarantine() {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "bad file name", file: "garbage.csv", content: csvRows("ADD")},
		{name: "unknown workflow", file: "x_-_Unknown_20240101120000_n1.csv", content: csvRows("ADD")},
		{name: "service without name", file: "x_-_Nameless_20240101120000_n1.csv", content: csvRows("ADD")},
		{name: "empty file", file: "x_-_BSSelect_20240101120000_n0.csv", content: header},
		{name: "no header", file: "x_-_BSSelect_20240101120000_n0.csv", content: ""},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			src := newMemorySource(map[string]string{tt.file: tt.content})

			result, err := s.intake.Intake(context.Background(), src, tt.file)
			s.Require().Error(err)
			s.True(result.Quarantined)
			s.True(result.SourceConsumed)
			s.Equal([]string{tt.file}, src.quarantined)
			s.Empty(s.dispatcher.records())
			s.Empty(s.metricRepo.metrics)

			records := s.exceptionStore.Records()
			s.Require().Len(records, 1)
			s.Equal(tt.file, records[0].FileName)
			s.Empty(records[0].IdentityKey)
			s.Equal(types.CategorySystem, records[0].Category)
		})
	}
}

func (s *IntakeSuite) TestTransientLookupLeavesFileInPlace() {
	s.screening.err = common.ErrDatabaseConnection(errors.New("connection refused"))
	name := "x_-_BSSelect_20240101120000_n1.csv"
	src := newMemorySource(map[string]string{name: csvRows("ADD")})

	result, err := s.intake.Intake(context.Background(), src, name)
	s.Require().Error(err)
	s.False(result.SourceConsumed)
	s.Empty(src.quarantined)
	s.Empty(src.deleted)
	s.Empty(s.exceptionStore.Records())
}

func (s *IntakeSuite) TestFailedBatchIsAccountedAsExceptions() {
	s.dispatcher.failOn[1] = true
	name := "x_-_BSSelect_20240101120000_n5.csv"
	src := newMemorySource(map[string]string{name: csvRows("ADD", "ADD", "ADD", "ADD", "ADD")})

	result, err := s.intake.Intake(context.Background(), src, name)
	s.Require().NoError(err)

	s.Equal(3, result.RecordsDispatched)
	s.Equal(2, result.RecordsFailed)
	fatal := s.exceptionStore.Fatal()
	s.Require().Len(fatal, 2)
	s.Equal(types.IdentityKey(validKeys[3]), fatal[0].IdentityKey)
	s.Equal(types.IdentityKey(validKeys[4]), fatal[1].IdentityKey)
}

func (s *IntakeSuite) TestResolverUsesCache() {
	cache := &memoryScreeningCache{entries: map[string]types.ScreeningService{}}
	resolver := NewScreeningServiceResolver(s.screening, cache, s.Logger)

	first, err := resolver.Resolve(context.Background(), "BSSelect")
	s.Require().NoError(err)
	second, err := resolver.Resolve(context.Background(), "BSSelect")
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(1, s.screening.calls)
	s.Contains(cache.entries, "BSSelect")
}

func (s *IntakeSuite) TestPollerConsumesEveryFile() {
	src := newMemorySource(map[string]string{
		"a_-_BSSelect_20240101120000_n1.csv": csvRows("ADD"),
		"b.csv":                              csvRows("ADD"),
	})

	consumed, err := NewPoller(src, s.intake, 0, s.Logger).PollOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(2, consumed)
	s.Equal([]string{"a_-_BSSelect_20240101120000_n1.csv"}, src.deleted)
	s.Equal([]string{"b.csv"}, src.quarantined)
}
