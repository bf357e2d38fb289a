package types

// ProjectConfig represents the top-level lakeloader.yaml configuration.
type ProjectConfig struct {
	Name         string              `yaml:"name" json:"name"`
	Warehouse    WarehouseConfig     `yaml:"warehouse" json:"warehouse"`
	Source       SourceConfig        `yaml:"source" json:"source"`
	CatalogDirs  []string            `yaml:"catalogDirs" json:"catalogDirs"`
	SchemaDirs   []string            `yaml:"schemaDirs" json:"schemaDirs"`
	Reports      []ReportSpec        `yaml:"reports,omitempty" json:"reports,omitempty"`
	ReportDirs   []string            `yaml:"reportDirs,omitempty" json:"reportDirs,omitempty"`
	WaitFor      *WaitForConfig      `yaml:"waitFor,omitempty" json:"waitFor,omitempty"`
	Retry        *RetryPolicy        `yaml:"retry,omitempty" json:"retry,omitempty"`
	MaxParallel  int                 `yaml:"maxParallel,omitempty" json:"maxParallel,omitempty"`
	Loader       LoaderConfig        `yaml:"loader,omitempty" json:"loader,omitempty"`
	Alerts       []AlertConfig       `yaml:"alerts,omitempty" json:"alerts,omitempty"`
	Telemetry    *TelemetryConfig    `yaml:"telemetry,omitempty" json:"telemetry,omitempty"`
	Server       *ServerConfig       `yaml:"server,omitempty" json:"server,omitempty"`
	StateMachine *StateMachineConfig `yaml:"stateMachine,omitempty" json:"stateMachine,omitempty"`
}

// WarehouseConfig holds the Postgres connection settings. DSNSecret names a
// Secrets Manager secret whose value is the DSN.
type WarehouseConfig struct {
	DSN       string `yaml:"dsn,omitempty" json:"-"`
	DSNSecret string `yaml:"dsnSecret,omitempty" json:"dsnSecret,omitempty"`
}

// SourceConfig holds the MongoDB connection settings.
type SourceConfig struct {
	URI      string `yaml:"uri" json:"-"`
	Database string `yaml:"database" json:"database"`
}

// WaitForConfig gates the run on another workflow's latest run succeeding.
type WaitForConfig struct {
	Workflow     string `yaml:"workflow" json:"workflow"`
	PollInterval string `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"` // e.g. "1m"
	Timeout      string `yaml:"timeout,omitempty" json:"timeout,omitempty"`           // e.g. "6h"
}

// RetryPolicy configures automatic step retry behavior.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"maxAttempts" json:"maxAttempts"`
	BackoffSeconds    int     `yaml:"backoffSeconds" json:"backoffSeconds"`
	BackoffMultiplier float64 `yaml:"backoffMultiplier,omitempty" json:"backoffMultiplier,omitempty"`
}

// DefaultRetryPolicy mirrors the daily load's historical settings: three
// attempts, five minutes apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffSeconds: 300, BackoffMultiplier: 1}
}

// LoaderConfig tunes the staging loader.
type LoaderConfig struct {
	BatchSize  int32 `yaml:"batchSize,omitempty" json:"batchSize,omitempty"`
	MaxRecords int   `yaml:"maxRecords,omitempty" json:"maxRecords,omitempty"` // 0 = unlimited
}

// AlertConfig configures an alert sink.
type AlertConfig struct {
	Type     AlertType `yaml:"type" json:"type"`
	URL      string    `yaml:"url,omitempty" json:"url,omitempty"`
	Path     string    `yaml:"path,omitempty" json:"path,omitempty"`
	Timeout  string    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	QueueURL string    `yaml:"queueUrl,omitempty" json:"queueUrl,omitempty"`
	EventBus string    `yaml:"eventBus,omitempty" json:"eventBus,omitempty"`
	Region   string    `yaml:"region,omitempty" json:"region,omitempty"`
}

// TelemetryConfig configures OTLP export. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	ServiceName  string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	APIKey         string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty" json:"maxRequestBody,omitempty"`
}

// StateMachineConfig describes the Step Functions deployment of the graph.
type StateMachineConfig struct {
	Name         string `yaml:"name" json:"name"`
	RoleARN      string `yaml:"roleArn" json:"roleArn"`
	TaskResource string `yaml:"taskResource" json:"taskResource"`
	Region       string `yaml:"region,omitempty" json:"region,omitempty"`

	// Schedule is an EventBridge Scheduler expression that starts the
	// state machine, e.g. "cron(0 2 * * ? *)". Empty leaves cadence to
	// whatever else starts executions.
	Schedule         string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	ScheduleTimezone string `yaml:"scheduleTimezone,omitempty" json:"scheduleTimezone,omitempty"`
	SchedulerRoleARN string `yaml:"schedulerRoleArn,omitempty" json:"schedulerRoleArn,omitempty"`
}
