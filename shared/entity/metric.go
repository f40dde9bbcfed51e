package entity

import "time"

// AuditProcessName is the process name intake stamps on every inbound metric
const AuditProcessName = "AuditProcess"

// InboundMetric is written once per received file
type InboundMetric struct {
	MetricAuditID    string    `json:"metric_audit_id" db:"metric_audit_id"`
	ProcessName      string    `json:"process_name" db:"process_name"`
	ReceivedDateTime time.Time `json:"received_date_time" db:"received_date_time"`
	Source           string    `json:"source" db:"source"`
	RecordCount      int       `json:"record_count" db:"record_count"`
}
