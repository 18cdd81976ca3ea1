package errors

// ErrorBuilder provides a fluent API for creating ClassifiedError instances.
type ErrorBuilder struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	stage    Stage
	message  string
	cause    error
	context  ErrorContext
}

// NewError creates a new ErrorBuilder with the specified category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{
		category: category,
		severity: SeverityError,
		retry:    RetryNever,
		message:  message,
		context:  make(ErrorContext),
	}
}

// WrapError creates a new ErrorBuilder that wraps an existing error.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithCause(err)
}

// WithCause sets the underlying error.
func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.cause = err
	return b
}

// WithSeverity sets the error severity.
func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.severity = severity
	return b
}

// WithRetry sets the retry strategy.
func (b *ErrorBuilder) WithRetry(strategy RetryStrategy) *ErrorBuilder {
	b.retry = strategy
	return b
}

// WithStage records the pipeline stage.
func (b *ErrorBuilder) WithStage(stage Stage) *ErrorBuilder {
	b.stage = stage
	return b
}

// WithContext adds a context key-value pair.
func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.context = b.context.Set(key, value)
	return b
}

// Fatal sets the severity to fatal.
func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	return b.WithSeverity(SeverityFatal)
}

// Retryable sets the retry strategy to backoff.
func (b *ErrorBuilder) Retryable() *ErrorBuilder {
	return b.WithRetry(RetryBackoff)
}

// UserAction sets the retry strategy to require operator action.
func (b *ErrorBuilder) UserAction() *ErrorBuilder {
	return b.WithRetry(RetryUserAction)
}

// Build creates the final ClassifiedError.
func (b *ErrorBuilder) Build() *ClassifiedError {
	return &ClassifiedError{
		category: b.category,
		severity: b.severity,
		retry:    b.retry,
		stage:    b.stage,
		message:  b.message,
		cause:    b.cause,
		context:  b.context,
	}
}

// Convenience constructors for common error patterns

// ConfigError creates a configuration error.
func ConfigError(message string) *ErrorBuilder {
	return NewError(CategoryConfig, message).Fatal()
}

// ValidationError creates a request validation error. Requests failing
// validation never enter the queue.
func ValidationError(message string) *ErrorBuilder {
	return NewError(CategoryValidation, message).WithStage(StageValidation)
}

// NotFoundError creates a lookup error.
func NotFoundError(message string) *ErrorBuilder {
	return NewError(CategoryNotFound, message)
}

// ConflictError creates an error for an operation invalid in the current state.
func ConflictError(message string) *ErrorBuilder {
	return NewError(CategoryConflict, message)
}

// ContentError creates a content acquisition error.
func ContentError(message string) *ErrorBuilder {
	return NewError(CategoryContent, message)
}

// GitError creates a git operation error.
func GitError(message string) *ErrorBuilder {
	return NewError(CategoryGit, message)
}

// RecoveryError creates an error for a tree the recovery supervisor cannot reconcile.
func RecoveryError(message string) *ErrorBuilder {
	return NewError(CategoryRecovery, message).Fatal().WithStage(StageRecovery)
}

// PatchError creates an error for an unexpected failure while rewriting the tree.
func PatchError(message string) *ErrorBuilder {
	return NewError(CategoryPatch, message).WithStage(StagePatch)
}

// BuildError creates an error for an external build tool failure.
func BuildError(message string) *ErrorBuilder {
	return NewError(CategoryBuild, message).WithStage(StageBuild)
}

// TimeoutError creates an error for a build that exceeded its time bound.
func TimeoutError(message string) *ErrorBuilder {
	return NewError(CategoryTimeout, message).WithStage(StageBuild).Retryable()
}

// ArtifactError creates an error for a failure copying the produced artifact.
func ArtifactError(message string) *ErrorBuilder {
	return NewError(CategoryArtifact, message).WithStage(StageArtifactCopy)
}

// FileSystemError creates a filesystem error.
func FileSystemError(message string) *ErrorBuilder {
	return NewError(CategoryFileSystem, message).Retryable()
}

// EventStoreError creates an event store error.
func EventStoreError(message string) *ErrorBuilder {
	return NewError(CategoryEventStore, message)
}

// QueueError creates a coordinator error.
func QueueError(message string) *ErrorBuilder {
	return NewError(CategoryQueue, message)
}

// InternalError creates an internal error.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal().WithStage(StageInternal)
}
