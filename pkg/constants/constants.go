package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "ipdsynth"
	AppDescription = "Disclosure-safe stratified summaries and synthetic IPD reconstruction"
	AppVersion     = "0.1.0"
	EnvPrefix      = "IPDSYNTH"

	// API constants
	APIVersion = "v1"
	APIPrefix  = "/api/v1"

	// Default configuration values
	DefaultServerAddr      = ":8080"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultWorkers         = 4
)

// Normalization and curve simplification defaults
const (
	// DefaultQuantileCap bounds the number of points kept per back-transformation table.
	DefaultQuantileCap = 10
	// DefaultCurveStep is the probability spacing of the full quantile curve (0.1%).
	DefaultCurveStep = 0.001
	// DefaultLogitFitMax is n_logit_fit, the maximum observations used for the tail model.
	DefaultLogitFitMax = 10000

	DefaultEpsilonStart = 0.001
	DefaultEpsilonStep  = 0.001
	DefaultEpsilonMax   = 1.0
)

// Disclosure control defaults
const (
	// SmallCellThreshold is the largest count replaced by a small-cell sentinel.
	SmallCellThreshold = 10
	// SmallCellPrefix starts a suppressed count; the threshold follows it.
	SmallCellPrefix   = "≤"
	SmallCellSentinel = SmallCellPrefix + "10"
	// DefaultCorrMinN is the stratum size a correlation needs to feed the cross-stratum summary.
	DefaultCorrMinN     = 20
	DefaultRoundDigits  = 2
	DefaultJitterLow    = 0.95
	DefaultJitterHigh   = 1.05
	MissingValueLiteral = "NA"
)

// Persisted column naming
const (
	// PairSeparator joins two variable names into a correlation column name.
	PairSeparator = "__"
	// ListSeparator joins variable names in the bundle manifest.
	ListSeparator = ","
)

// Covariance repair defaults
const (
	DefaultEigenTolerance = 1e-8
	DefaultRepairMaxIter  = 100
)

// Storage backends
const (
	StorageBackendFile  = "file"
	StorageBackendSQL   = "sql"
	StorageBackendS3    = "s3"
	StorageBackendRedis = "redis"

	SQLDriverPostgres = "postgres"
	SQLDriverSQLite   = "sqlite"
)
