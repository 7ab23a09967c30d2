package errors

import "net/http"

// Category groups error codes by subsystem behavior. Propagation rules:
// validation errors are never retried, resource errors only for version
// conflicts and locks, infrastructure errors always up to the attempt cap.
type Category string

const (
	CategoryValidation Category = "VAL"
	CategoryResource   Category = "RES"
	CategoryExecution  Category = "EXEC"
	CategoryMatch      Category = "MATCH"
	CategoryMerge      Category = "MERGE"
	CategoryBlast      Category = "BLAST"
	CategoryLimit      Category = "LIMIT"
	CategoryPermission Category = "PERM"
	CategoryInfra      Category = "INFRA"
	CategoryState      Category = "STATE"
)

// Severity scales audit/log treatment of an error.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Code is a stable machine-readable error code.
type Code string

// Validation errors (4xx, never retryable).
const (
	CodeInvalidConfig   Code = "ROLLUP_VAL_INVALID_CONFIG"
	CodeInvalidMatcher  Code = "ROLLUP_VAL_INVALID_MATCHER"
	CodeInvalidPattern  Code = "ROLLUP_VAL_INVALID_PATTERN"
	CodeInvalidSchedule Code = "ROLLUP_VAL_INVALID_SCHEDULE"
	CodeInvalidQuery    Code = "ROLLUP_VAL_INVALID_QUERY"
	CodeDuplicateName   Code = "ROLLUP_VAL_DUPLICATE_NAME"
)

// Resource errors.
const (
	CodeNotFound        Code = "ROLLUP_RES_NOT_FOUND"
	CodeVersionConflict Code = "ROLLUP_RES_VERSION_CONFLICT"
	CodeLocked          Code = "ROLLUP_RES_LOCKED"
)

// Execution errors.
const (
	CodeExecTimeout     Code = "ROLLUP_EXEC_TIMEOUT"
	CodeExecCancelled   Code = "ROLLUP_EXEC_CANCELLED"
	CodeExecInProgress  Code = "ROLLUP_EXEC_IN_PROGRESS"
	CodeExecFetchFailed Code = "ROLLUP_EXEC_FETCH_FAILED"
	CodeExecMatchFailed Code = "ROLLUP_EXEC_MATCH_FAILED"
	CodeExecMergeFailed Code = "ROLLUP_EXEC_MERGE_FAILED"
	CodeExecStoreFailed Code = "ROLLUP_EXEC_STORE_FAILED"
	CodeExecIndexFailed Code = "ROLLUP_EXEC_INDEX_FAILED"
)

// Match warnings/errors.
const (
	CodeMatchAmbiguous Code = "ROLLUP_MATCH_AMBIGUOUS"
)

// Merge errors (never retryable, partial merges never persisted).
const (
	CodeMergeConflict      Code = "ROLLUP_MERGE_CONFLICT"
	CodeMergeCyclic        Code = "ROLLUP_MERGE_CYCLIC_DEPENDENCY"
	CodeMergeInvalidEdge   Code = "ROLLUP_MERGE_INVALID_EDGE"
	CodeMergeLimitExceeded Code = "ROLLUP_MERGE_LIMIT_EXCEEDED"
)

// Blast-radius errors.
const (
	CodeBlastError    Code = "ROLLUP_BLAST_ERROR"
	CodeBlastNotReady Code = "ROLLUP_BLAST_NOT_READY"
)

// Limit errors.
const (
	CodeRateLimited   Code = "ROLLUP_LIMIT_RATE"
	CodeMaxConcurrent Code = "ROLLUP_LIMIT_MAX_CONCURRENT"
)

// Permission errors.
const (
	CodePermissionDenied Code = "ROLLUP_PERM_DENIED"
)

// Infrastructure errors (retryable).
const (
	CodeInfraStorage     Code = "ROLLUP_INFRA_STORAGE"
	CodeInfraCache       Code = "ROLLUP_INFRA_CACHE"
	CodeInfraUnavailable Code = "ROLLUP_INFRA_UNAVAILABLE"
)

// State errors.
const (
	CodeStateArchived          Code = "ROLLUP_STATE_ARCHIVED"
	CodeStateInvalidTransition Code = "ROLLUP_STATE_INVALID_TRANSITION"
)

// codeMeta carries the static attributes of each code.
type codeMeta struct {
	category   Category
	httpStatus int
	retryable  bool
	severity   Severity
	action     string
}

var catalog = map[Code]codeMeta{
	CodeInvalidConfig:   {CategoryValidation, http.StatusBadRequest, false, SeverityWarning, "fix the rollup configuration and retry"},
	CodeInvalidMatcher:  {CategoryValidation, http.StatusBadRequest, false, SeverityWarning, "fix the matcher configuration and retry"},
	CodeInvalidPattern:  {CategoryValidation, http.StatusBadRequest, false, SeverityWarning, "fix the pattern so it compiles"},
	CodeInvalidSchedule: {CategoryValidation, http.StatusBadRequest, false, SeverityWarning, "provide a 5-field cron expression"},
	CodeInvalidQuery:    {CategoryValidation, http.StatusBadRequest, false, SeverityWarning, "fix the query parameters"},
	CodeDuplicateName:   {CategoryValidation, http.StatusConflict, false, SeverityWarning, "choose a name unique within the tenant"},

	CodeNotFound:        {CategoryResource, http.StatusNotFound, false, SeverityInfo, "verify the resource id"},
	CodeVersionConflict: {CategoryResource, http.StatusConflict, true, SeverityWarning, "refetch the resource and retry with the current version"},
	CodeLocked:          {CategoryResource, http.StatusConflict, true, SeverityInfo, "wait for the in-flight operation to finish"},

	CodeExecTimeout:     {CategoryExecution, http.StatusGatewayTimeout, true, SeverityError, "retry; consider raising timeouts or shrinking the rollup"},
	CodeExecCancelled:   {CategoryExecution, http.StatusConflict, false, SeverityInfo, "restart the execution if still needed"},
	CodeExecInProgress:  {CategoryExecution, http.StatusConflict, false, SeverityInfo, "wait for the running execution"},
	CodeExecFetchFailed: {CategoryExecution, http.StatusBadGateway, true, SeverityError, "retry; verify the scan source is reachable"},
	CodeExecMatchFailed: {CategoryExecution, http.StatusUnprocessableEntity, false, SeverityError, "inspect matcher configuration"},
	CodeExecMergeFailed: {CategoryExecution, http.StatusUnprocessableEntity, false, SeverityError, "inspect merge options and source graphs"},
	CodeExecStoreFailed: {CategoryExecution, http.StatusBadGateway, true, SeverityError, "retry; verify storage availability"},
	CodeExecIndexFailed: {CategoryExecution, http.StatusBadGateway, true, SeverityError, "retry the index build"},

	CodeMatchAmbiguous: {CategoryMatch, http.StatusOK, false, SeverityWarning, "review matcher priorities for the ambiguous nodes"},

	CodeMergeConflict:      {CategoryMerge, http.StatusUnprocessableEntity, false, SeverityError, "resolve attribute conflicts or relax conflictResolution"},
	CodeMergeCyclic:        {CategoryMerge, http.StatusUnprocessableEntity, false, SeverityError, "disable cross-repo edges or break the dependency cycle"},
	CodeMergeInvalidEdge:   {CategoryMerge, http.StatusUnprocessableEntity, false, SeverityError, "report: merged graph contained a dangling edge"},
	CodeMergeLimitExceeded: {CategoryMerge, http.StatusUnprocessableEntity, false, SeverityError, "raise mergeOptions.maxNodes or shrink the rollup"},

	CodeBlastError:    {CategoryBlast, http.StatusInternalServerError, true, SeverityError, "retry the blast-radius query"},
	CodeBlastNotReady: {CategoryBlast, http.StatusConflict, false, SeverityInfo, "wait for the execution to complete"},

	CodeRateLimited:   {CategoryLimit, http.StatusTooManyRequests, true, SeverityInfo, "back off and retry after the indicated delay"},
	CodeMaxConcurrent: {CategoryLimit, http.StatusTooManyRequests, true, SeverityInfo, "retry once a running execution finishes"},

	CodePermissionDenied: {CategoryPermission, http.StatusForbidden, false, SeverityWarning, "request access to the resource"},

	CodeInfraStorage:     {CategoryInfra, http.StatusServiceUnavailable, true, SeverityCritical, "retry; check storage backend health"},
	CodeInfraCache:       {CategoryInfra, http.StatusServiceUnavailable, true, SeverityError, "retry; check cache backend health"},
	CodeInfraUnavailable: {CategoryInfra, http.StatusServiceUnavailable, true, SeverityCritical, "retry; check dependency health"},

	CodeStateArchived:          {CategoryState, http.StatusConflict, false, SeverityWarning, "unarchive or recreate the rollup"},
	CodeStateInvalidTransition: {CategoryState, http.StatusConflict, false, SeverityError, "report: illegal execution phase transition"},
}
