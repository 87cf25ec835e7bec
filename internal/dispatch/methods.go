package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/AltairaLabs/codereview-mcp/internal/config"
	"github.com/AltairaLabs/codereview-mcp/internal/scanner"
	"github.com/AltairaLabs/codereview-mcp/internal/types"
)

var (
	// ErrUnknownMethod is returned for methods with no registered handler
	ErrUnknownMethod = errors.New("unknown method")
	// ErrInvalidParams is returned when params fail to decode or validate
	ErrInvalidParams = errors.New("invalid params")
)

// Call is a prepared method invocation, run later by a worker
type Call func(ctx context.Context) (any, error)

// Method validates params at submission time and returns the deferred call.
// Errors returned here are reported synchronously to the client.
type Method func(params json.RawMessage) (Call, error)

// Methods maps method names to handlers
type Methods struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewMethods creates an empty method registry
func NewMethods() *Methods {
	return &Methods{methods: make(map[string]Method)}
}

// Register adds or replaces a method
func (m *Methods) Register(name string, method Method) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[name] = method
}

// Names returns the registered method names, sorted
func (m *Methods) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.methods))
	for name := range m.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Prepare resolves and validates a method call
func (m *Methods) Prepare(name string, params json.RawMessage) (Call, error) {
	m.mu.RLock()
	method, ok := m.methods[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: "+config.MsgUnknownMethod, ErrUnknownMethod, name)
	}
	return method(params)
}

// Reviewer runs a review; implemented by review.Orchestrator
type Reviewer interface {
	Review(ctx context.Context, req types.ReviewRequest) *types.ReviewResult
}

// Catalog exposes scanner status; implemented by scanner.Registry
type Catalog interface {
	Describe() []scanner.Descriptor
	Refresh(ctx context.Context) []scanner.Descriptor
}

// ScannerList is the result of scanners.list and scanners.refresh
type ScannerList struct {
	Scanners  []scanner.Descriptor `json:"scanners"`
	Available int                  `json:"available"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ReviewFile handles review.file {file, content, scanners?, failOn?}
func ReviewFile(reviewer Reviewer) Method {
	return func(params json.RawMessage) (Call, error) {
		req, err := DecodeReviewRequest(params)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			return reviewer.Review(ctx, req), nil
		}, nil
	}
}

// DecodeReviewRequest strictly decodes and validates review.file params
func DecodeReviewRequest(params json.RawMessage) (types.ReviewRequest, error) {
	var req types.ReviewRequest
	if len(bytes.TrimSpace(params)) == 0 {
		return req, fmt.Errorf("%w: params required", ErrInvalidParams)
	}
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := validate.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return req, nil
}

// ScannersList handles scanners.list {}
func ScannersList(catalog Catalog) Method {
	return func(json.RawMessage) (Call, error) {
		return func(context.Context) (any, error) {
			return newScannerList(catalog.Describe()), nil
		}, nil
	}
}

// ScannersRefresh handles scanners.refresh {}
func ScannersRefresh(catalog Catalog) Method {
	return func(json.RawMessage) (Call, error) {
		return func(ctx context.Context) (any, error) {
			return newScannerList(catalog.Refresh(ctx)), nil
		}, nil
	}
}

func newScannerList(descriptors []scanner.Descriptor) ScannerList {
	available := 0
	for _, d := range descriptors {
		if d.Available {
			available++
		}
	}
	if descriptors == nil {
		descriptors = []scanner.Descriptor{}
	}
	return ScannerList{Scanners: descriptors, Available: available}
}

// DefaultMethods registers every built-in method
func DefaultMethods(reviewer Reviewer, catalog Catalog) *Methods {
	m := NewMethods()
	m.Register(config.MethodReviewFile, ReviewFile(reviewer))
	m.Register(config.MethodScannersList, ScannersList(catalog))
	m.Register(config.MethodScannersRefresh, ScannersRefresh(catalog))
	return m
}
