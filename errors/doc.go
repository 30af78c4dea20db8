// Package errors provides structured error types for the wasm-bridge module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries a human-readable detail, the offending module or message
// type, and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindInvalidData).
//		Module("echo").
//		Detail("field %q must be a string", "type").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Load("compile module", cause)
//	err := errors.Decode("envelope", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
