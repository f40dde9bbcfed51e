package entity

import "github.com/cohortmanager/platform/shared/types"

// Batch is the unit of work handed from intake to the record processor
type Batch struct {
	BatchID          string                 `json:"batch_id"`
	FileName         string                 `json:"file_name"`
	Index            int                    `json:"index"`
	ScreeningService types.ScreeningService `json:"screening_service"`
	Records          []IntakeRecord         `json:"records"`
}

// DistributionRequest asks the orchestrator to distribute one admitted record
type DistributionRequest struct {
	IdentityKey      types.IdentityKey      `json:"identity_key"`
	ScreeningService types.ScreeningService `json:"screening_service"`
	OperationKind    types.OperationKind    `json:"operation_kind"`
	FileName         string                 `json:"file_name"`
	Record           IntakeRecord           `json:"record"`
	Attempt          int                    `json:"attempt"`
}
