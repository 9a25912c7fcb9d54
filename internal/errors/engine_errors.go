package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCategory groups errors by the layer that raised them
type ErrorCategory string

const (
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategoryData       ErrorCategory = "DATA"
	ErrorCategoryModel      ErrorCategory = "MODEL"
	ErrorCategoryStorage    ErrorCategory = "STORAGE"
	ErrorCategoryRisk       ErrorCategory = "RISK"
	ErrorCategoryTimeout    ErrorCategory = "TIMEOUT"
	ErrorCategoryInternal   ErrorCategory = "INTERNAL"
)

// Sentinel kinds. Match with errors.Is.
var (
	ErrInvalidProbability = stderrors.New("invalid probability")
	ErrInvalidParameter   = stderrors.New("invalid parameter")
	ErrSchemaMismatch     = stderrors.New("feature schema mismatch")
	ErrUntrainedModel     = stderrors.New("model is not trained")
	ErrModelNotFound      = stderrors.New("model not found")
	ErrInsufficientData   = stderrors.New("insufficient data")
	ErrRiskLimitExceeded  = stderrors.New("risk limit exceeded")
	ErrTimeout            = stderrors.New("deadline exceeded")
)

// EngineError is a categorized error with context
type EngineError struct {
	Category   ErrorCategory
	Kind       error
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s: ", e.Category, e.Component, e.Operation)
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
		if e.Message != "" {
			b.WriteString(": ")
		}
	}
	b.WriteString(e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

// Unwrap returns the underlying error for error unwrapping
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// Is matches the sentinel kind of the error.
func (e *EngineError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap attaches an underlying cause
func (e *EngineError) Wrap(err error) *EngineError {
	e.Underlying = err
	return e
}

// New creates a categorized error of the given kind
func New(category ErrorCategory, kind error, component, operation, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   message,
	}
}

// Common error constructors

func NewInvalidProbability(component, operation string, format string, args ...interface{}) *EngineError {
	return New(ErrorCategoryValidation, ErrInvalidProbability, component, operation, fmt.Sprintf(format, args...))
}

func NewInvalidParameter(component, operation string, format string, args ...interface{}) *EngineError {
	return New(ErrorCategoryValidation, ErrInvalidParameter, component, operation, fmt.Sprintf(format, args...))
}

func NewSchemaMismatch(component, operation string, missing []string) *EngineError {
	return New(ErrorCategoryModel, ErrSchemaMismatch, component, operation,
		"missing features: "+strings.Join(missing, ", "))
}

func NewUntrainedModel(component, operation string) *EngineError {
	return New(ErrorCategoryModel, ErrUntrainedModel, component, operation, "")
}

func NewModelNotFound(component, operation, token string, version int) *EngineError {
	return New(ErrorCategoryStorage, ErrModelNotFound, component, operation, "").
		WithContext("token", token).
		WithContext("version", version)
}

func NewInsufficientData(component, operation string, have, need int) *EngineError {
	return New(ErrorCategoryData, ErrInsufficientData, component, operation,
		fmt.Sprintf("have %d rows, need at least %d", have, need))
}

func NewRiskLimitExceeded(component, operation, reason string) *EngineError {
	return New(ErrorCategoryRisk, ErrRiskLimitExceeded, component, operation, reason)
}

func NewTimeout(component, operation string, err error) *EngineError {
	return New(ErrorCategoryTimeout, ErrTimeout, component, operation, "").Wrap(err)
}

func NewStorageError(component, operation string, err error) *EngineError {
	return New(ErrorCategoryStorage, nil, component, operation, "operation failed").Wrap(err)
}

// CategoryOf returns the category of the first EngineError in the chain.
func CategoryOf(err error) (ErrorCategory, bool) {
	var e *EngineError
	if stderrors.As(err, &e) {
		return e.Category, true
	}
	return "", false
}
