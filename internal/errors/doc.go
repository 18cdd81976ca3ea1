// Package errors provides the classified error type used across webapk.
//
// A ClassifiedError carries a category, a severity, a retry strategy and
// structured context. Errors are built with the fluent ErrorBuilder:
//
//	err := errors.PatchError("rename package directory").
//		WithCause(ioErr).
//		WithContext("from", oldID).
//		WithContext("to", newID).
//		Build()
//
// The pipeline attaches the stage that failed (recovery, patch, build,
// artifact-copy) so that callers can report Failure{stage, message} without
// string parsing. CLIErrorAdapter and HTTPErrorAdapter translate errors into
// exit codes and HTTP status codes.
package errors
