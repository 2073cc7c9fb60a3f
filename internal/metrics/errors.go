package metrics

import "codeberg.org/mutker/frontpanelctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("metrics_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("metrics_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("metrics_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("metrics_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("metrics_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed

	// Service Errors
	ErrServiceShutdown = errors.ErrCloseMetrics

	// Collection Errors
	ErrMetricsCollection = errors.ErrCollectMetrics
	ErrInvalidMetrics    = errors.ErrorCode("metrics_invalid_metrics")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)

func init() {
	errors.RegisterMessage(ErrInvalidDBPath, "Metrics database path is empty")
	errors.RegisterMessage(ErrSchemaInitFailed, "Failed to initialize metrics schema")
	errors.RegisterMessage(ErrSchemaValidationFailed, "Failed to validate metrics schema")
	errors.RegisterMessage(ErrSchemaMigrationFailed, "Failed to migrate metrics schema")
	errors.RegisterMessage(ErrTransactionFailed, "Metrics transaction failed")
	errors.RegisterMessage(ErrInvalidMetrics, "Invalid metrics snapshot")
}
