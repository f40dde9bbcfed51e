package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SchemaManager creates the pipeline tables
type SchemaManager struct {
	client *Client
	logger *zap.Logger
}

// NewSchemaManager creates a new schema manager
func NewSchemaManager(client *Client, logger *zap.Logger) *SchemaManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaManager{
		client: client,
		logger: logger,
	}
}

// CreateSchema creates all tables, indexes and triggers. It is safe to run
// on every service start.
func (sm *SchemaManager) CreateSchema(ctx context.Context) error {
	statements := []string{
		screeningLookupSchema,
		participantDemographicSchema,
		participantManagementSchema,
		cohortDistributionSchema,
		appendOnlyTrigger,
		exceptionManagementSchema,
		inboundMetricSchema,
		cohortRequestAuditSchema,
	}

	for _, statement := range statements {
		if _, err := sm.client.DB().ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	sm.logger.Info("Database schema created successfully")
	return nil
}

const screeningLookupSchema = `
	CREATE TABLE IF NOT EXISTS screening_lookup (
		screening_id VARCHAR(20) PRIMARY KEY,
		workflow_code VARCHAR(50) NOT NULL UNIQUE,
		screening_name VARCHAR(100) NOT NULL,
		screening_acronym VARCHAR(10) NOT NULL
	);
`

const participantDemographicSchema = `
	CREATE TABLE IF NOT EXISTS participant_demographic (
		identity_key VARCHAR(10) PRIMARY KEY,
		primary_care_provider VARCHAR(10),
		name_prefix VARCHAR(35),
		given_name VARCHAR(100),
		other_given_names VARCHAR(100),
		family_name VARCHAR(100),
		previous_family_name VARCHAR(100),
		date_of_birth DATE,
		gender SMALLINT NOT NULL DEFAULT 9,
		address_line_1 VARCHAR(100),
		address_line_2 VARCHAR(100),
		address_line_3 VARCHAR(100),
		address_line_4 VARCHAR(100),
		address_line_5 VARCHAR(100),
		postcode VARCHAR(10),
		home_telephone VARCHAR(35),
		mobile_telephone VARCHAR(35),
		email VARCHAR(100),
		preferred_language VARCHAR(35),
		interpreter_required BOOLEAN NOT NULL DEFAULT FALSE,
		date_of_death DATE,
		invalid_flag BOOLEAN NOT NULL DEFAULT FALSE,
		record_inserted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		record_updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
`

const participantManagementSchema = `
	CREATE TABLE IF NOT EXISTS participant_management (
		participant_id BIGSERIAL PRIMARY KEY,
		identity_key VARCHAR(10) NOT NULL,
		screening_id VARCHAR(20) NOT NULL,
		record_type VARCHAR(10) NOT NULL,
		eligibility_flag BOOLEAN NOT NULL DEFAULT TRUE,
		reason_for_removal VARCHAR(10),
		reason_for_removal_from DATE,
		business_rule_version VARCHAR(20),
		exception_flag SMALLINT NOT NULL DEFAULT 0 CHECK (exception_flag IN (0, 1, 2)),
		record_inserted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		record_updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		UNIQUE (identity_key, screening_id)
	);
`

const cohortDistributionSchema = `
	CREATE TABLE IF NOT EXISTS cohort_distribution (
		cohort_distribution_id BIGSERIAL PRIMARY KEY,
		participant_id BIGINT NOT NULL,
		identity_key VARCHAR(10) NOT NULL,
		screening_service_id VARCHAR(20) NOT NULL,
		service_provider VARCHAR(20),
		record_type VARCHAR(10) NOT NULL,
		superseded_by_key VARCHAR(10),
		primary_care_provider VARCHAR(10),
		name_prefix VARCHAR(35),
		given_name VARCHAR(35),
		other_given_names VARCHAR(100),
		family_name VARCHAR(35),
		previous_family_name VARCHAR(35),
		date_of_birth DATE,
		gender SMALLINT NOT NULL,
		address_line_1 VARCHAR(35),
		address_line_2 VARCHAR(35),
		address_line_3 VARCHAR(35),
		address_line_4 VARCHAR(35),
		address_line_5 VARCHAR(35),
		postcode VARCHAR(35),
		home_telephone VARCHAR(32),
		mobile_telephone VARCHAR(32),
		email VARCHAR(32),
		preferred_language VARCHAR(35),
		interpreter_required BOOLEAN NOT NULL DEFAULT FALSE,
		reason_for_removal VARCHAR(10),
		reason_for_removal_from DATE,
		date_of_death DATE,
		is_extracted BOOLEAN NOT NULL DEFAULT FALSE,
		request_id UUID,
		record_inserted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_cohort_distribution_key
		ON cohort_distribution(identity_key, screening_service_id, cohort_distribution_id DESC);
	CREATE INDEX IF NOT EXISTS idx_cohort_distribution_inserted
		ON cohort_distribution(record_inserted_at);
	CREATE INDEX IF NOT EXISTS idx_cohort_distribution_pending
		ON cohort_distribution(screening_service_id, cohort_distribution_id) WHERE is_extracted = FALSE;
`

// Only request_id and is_extracted may change once a distribution row exists
const appendOnlyTrigger = `
	CREATE OR REPLACE FUNCTION cohort_distribution_append_only() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			RAISE EXCEPTION 'cohort_distribution rows cannot be deleted';
		END IF;
		IF (to_jsonb(NEW) - 'request_id' - 'is_extracted') <> (to_jsonb(OLD) - 'request_id' - 'is_extracted') THEN
			RAISE EXCEPTION 'cohort_distribution rows cannot be edited';
		END IF;
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS trg_cohort_distribution_append_only ON cohort_distribution;
	CREATE TRIGGER trg_cohort_distribution_append_only
		BEFORE UPDATE OR DELETE ON cohort_distribution
		FOR EACH ROW EXECUTE FUNCTION cohort_distribution_append_only();
`

const exceptionManagementSchema = `
	CREATE TABLE IF NOT EXISTS exception_management (
		exception_id BIGSERIAL PRIMARY KEY,
		identity_key VARCHAR(10) NOT NULL DEFAULT '',
		file_name VARCHAR(250) NOT NULL DEFAULT '',
		screening_name VARCHAR(100) NOT NULL DEFAULT '',
		rule_id INTEGER NOT NULL,
		rule_description TEXT NOT NULL,
		rule_content TEXT NOT NULL,
		category SMALLINT NOT NULL,
		fatal BOOLEAN NOT NULL,
		error_record TEXT NOT NULL DEFAULT '',
		exception_date TIMESTAMP WITH TIME ZONE NOT NULL,
		date_created TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		date_resolved TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT '9999-12-31'
	);

	CREATE INDEX IF NOT EXISTS idx_exception_management_created
		ON exception_management(date_created);
	CREATE INDEX IF NOT EXISTS idx_exception_management_key
		ON exception_management(identity_key) WHERE identity_key <> '';
`

const inboundMetricSchema = `
	CREATE TABLE IF NOT EXISTS inbound_metric (
		metric_audit_id UUID PRIMARY KEY,
		process_name VARCHAR(50) NOT NULL,
		received_date_time TIMESTAMP WITH TIME ZONE NOT NULL,
		source VARCHAR(250) NOT NULL,
		record_count INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inbound_metric_received
		ON inbound_metric(received_date_time);
`

const cohortRequestAuditSchema = `
	CREATE TABLE IF NOT EXISTS cohort_request_audit (
		request_id UUID PRIMARY KEY,
		status_code VARCHAR(10) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
`
