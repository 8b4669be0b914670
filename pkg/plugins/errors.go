package plugins

import (
	"errors"
	"fmt"
)

// Kind classifies a plugin lifecycle failure
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindTransientNetwork  Kind = "transient_network"
	KindRateLimited       Kind = "rate_limited"
	KindValidationFailure Kind = "validation_failure"
	KindPartialInstall    Kind = "partial_install"
	KindLoadFailure       Kind = "load_failure"
	KindDependencyFailure Kind = "dependency_failure"
	KindInternal          Kind = "internal"
)

// Retryable reports whether an operation failing with this kind may succeed if repeated.
func (k Kind) Retryable() bool {
	return k == KindTransientNetwork
}

// Plugin system errors.
var (
	// ErrPluginNotFound is returned when a plugin cannot be located locally or in a registry.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrManifestNotFound is returned when a plugin directory has no manifest.json.
	ErrManifestNotFound = errors.New("manifest.json not found")

	// ErrClassNotFound is returned when the declared class is absent from the loaded module.
	ErrClassNotFound = errors.New("plugin class not found in module")

	// ErrNotAClass is returned when the declared class name resolves to something that cannot be instantiated.
	ErrNotAClass = errors.New("plugin class is not a class")

	// ErrEntryPointMissing is returned when the entry-point file does not exist.
	ErrEntryPointMissing = errors.New("plugin entry point not found")

	// ErrDependenciesFailed marks a load failure that follows a failed dependency install.
	ErrDependenciesFailed = errors.New("plugin dependencies failed to install")
)

// Error is the typed failure surfaced by every lifecycle component.
type Error struct {
	Kind     Kind
	Op       string
	PluginID string
	Err      error
}

// NewError creates a typed error
func NewError(kind Kind, op, pluginID string, err error) *Error {
	return &Error{Kind: kind, Op: op, PluginID: pluginID, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.PluginID != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.PluginID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so callers can write errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
