// Package types defines the public domain types for lakeloader.
package types

// Fixed warehouse namespaces. Staging tables live in TransientSchema and are
// rebuilt every run; destination tables live in PublicSchema and only grow.
const (
	TransientSchema = "transient_data"
	PublicSchema    = "public"
)

// IdentifierField is the document identifier carried into every row.
const IdentifierField = "_id"

// StepKind identifies what a graph node does when executed.
type StepKind string

// StepKind values. The seven per-migration kinds double as node name suffixes.
const (
	StepDropTransient    StepKind = "drop_transient_table_if_exists"
	StepMigrate          StepKind = "migrate_to_postgres"
	StepAnalyzeTransient StepKind = "refresh_transient_table_stats"
	StepEnsureTable      StepKind = "ensure_public_schema_exists"
	StepAnalyzeDatalake  StepKind = "refresh_datalake_table_stats"
	StepReconcileColumns StepKind = "ensure_public_columns_uptodate"
	StepAppend           StepKind = "append_to_datalake"
	StepEnsureSchema     StepKind = "ensure_schema"
	StepBarrier          StepKind = "barrier"
	StepSensor           StepKind = "sensor"
	StepReport           StepKind = "report"
)

// ChainSteps is the fixed order of the per-migration chain.
var ChainSteps = []StepKind{
	StepDropTransient,
	StepMigrate,
	StepAnalyzeTransient,
	StepEnsureTable,
	StepAnalyzeDatalake,
	StepReconcileColumns,
	StepAppend,
}

// StepStatus is the state of one node within a run.
type StepStatus string

// StepStatus values.
const (
	StepPending        StepStatus = "PENDING"
	StepRunning        StepStatus = "RUNNING"
	StepSucceeded      StepStatus = "SUCCEEDED"
	StepFailed         StepStatus = "FAILED"
	StepUpstreamFailed StepStatus = "UPSTREAM_FAILED"
	StepSkipped        StepStatus = "SKIPPED"
	StepCancelled      StepStatus = "CANCELLED"
)

// RunStatus represents the overall state of a workflow run.
type RunStatus string

// RunStatus values.
const (
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// SelectionMode tags a FieldSelection.
type SelectionMode string

// SelectionMode values.
const (
	SelectAll      SelectionMode = "all"
	SelectPreserve SelectionMode = "preserve"
	SelectDiscard  SelectionMode = "discard"
)

// ConvertType is the scalar target of a convert_fields entry.
type ConvertType string

// ConvertType values. Aliases are normalized by ParseConvertType.
const (
	ConvertString    ConvertType = "string"
	ConvertInteger   ConvertType = "integer"
	ConvertFloat     ConvertType = "float"
	ConvertNumeric   ConvertType = "numeric"
	ConvertBoolean   ConvertType = "boolean"
	ConvertTimestamp ConvertType = "timestamp"
	ConvertDate      ConvertType = "date"
)

var convertAliases = map[string]ConvertType{
	"string":    ConvertString,
	"text":      ConvertString,
	"str":       ConvertString,
	"integer":   ConvertInteger,
	"int":       ConvertInteger,
	"bigint":    ConvertInteger,
	"float":     ConvertFloat,
	"double":    ConvertFloat,
	"numeric":   ConvertNumeric,
	"decimal":   ConvertNumeric,
	"boolean":   ConvertBoolean,
	"bool":      ConvertBoolean,
	"timestamp": ConvertTimestamp,
	"datetime":  ConvertTimestamp,
	"date":      ConvertDate,
}

// ParseConvertType normalizes a configured target type name.
func ParseConvertType(s string) (ConvertType, bool) {
	t, ok := convertAliases[s]
	return t, ok
}

// AlertType defines the alert sink type.
type AlertType string

// AlertType values enumerate the supported alert sink backends.
const (
	AlertConsole     AlertType = "console"
	AlertWebhook     AlertType = "webhook"
	AlertFile        AlertType = "file"
	AlertSQS         AlertType = "sqs"
	AlertEventBridge AlertType = "eventbridge"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)
