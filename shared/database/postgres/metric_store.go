package postgres

import (
	"context"
	"time"

	"github.com/cohortmanager/platform/shared/entity"
)

// MetricStore persists inbound file metrics
type MetricStore struct {
	client *Client
}

// NewMetricStore creates a metric store
func NewMetricStore(client *Client) *MetricStore {
	return &MetricStore{client: client}
}

// Insert writes the metric row for one received file
func (s *MetricStore) Insert(ctx context.Context, metric *entity.InboundMetric) error {
	query := `
		INSERT INTO inbound_metric (metric_audit_id, process_name, received_date_time, source, record_count)
		VALUES (:metric_audit_id, :process_name, :received_date_time, :source, :record_count)`
	return s.client.NamedExec(ctx, "inbound_metric", query, metric)
}

// ListSince returns metrics received at or after from
func (s *MetricStore) ListSince(ctx context.Context, from time.Time) ([]entity.InboundMetric, error) {
	var metrics []entity.InboundMetric
	query := `
		SELECT metric_audit_id, process_name, received_date_time, source, record_count
		FROM inbound_metric WHERE received_date_time >= $1`
	if err := s.client.Select(ctx, &metrics, "inbound_metric", query, from); err != nil {
		return nil, err
	}
	return metrics, nil
}
