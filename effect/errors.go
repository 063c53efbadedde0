package effect

import "errors"

// Failure taxonomy for operation dispatch and continuation use. Callers
// distinguish these with errors.Is; everything is fatal to the evaluation
// that raised it.
var (
	// ErrUnknownOperation: the operation name is not declared by any effect.
	ErrUnknownOperation = errors.New("Unknown operation")

	// ErrUnhandledOperation: the operation is declared, but no handler for
	// it is in dynamic scope at the call site.
	ErrUnhandledOperation = errors.New("No handler in scope for operation")

	// ErrExpiredContinuation: a continuation was resumed after the frame
	// that captured it left its dynamic extent.
	ErrExpiredContinuation = errors.New("Continuation has expired")

	// ErrDuplicateEffect: an effect with this name is already declared.
	ErrDuplicateEffect = errors.New("Effect already declared")

	// ErrDuplicateOperation: the operation name is already claimed,
	// possibly by another effect. Operation names form one global
	// namespace so call sites stay unambiguous.
	ErrDuplicateOperation = errors.New("Operation already declared")

	// ErrBadArity: an operation call's argument count does not match its
	// declaration.
	ErrBadArity = errors.New("Wrong number of operation arguments")
)
