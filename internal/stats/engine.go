package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"golang.org/x/sync/semaphore"

	"exphub/internal/domain"
)

// maxConcurrentInvocations bounds in-flight external engine calls.
const maxConcurrentInvocations = 3

// MetricConfig is the metric metadata the engine needs.
type MetricConfig struct {
	ID          string            `json:"id"`
	Type        domain.MetricType `json:"type"`
	IgnoreNulls bool              `json:"ignoreNulls"`
	Inverse     bool              `json:"inverse"`
}

// VariationData holds one variation's aggregate inputs for a metric: Users
// is all assigned users, Count users with a defined metric value, Sum the
// aggregate metric value.
type VariationData struct {
	Users  int64   `json:"users"`
	Count  int64   `json:"count"`
	Sum    float64 `json:"sum"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
}

// ABTestParams is one baseline-vs-variation engine invocation.
type ABTestParams struct {
	Metric    MetricConfig  `json:"metric"`
	Baseline  VariationData `json:"baseline"`
	Variation VariationData `json:"variation"`
}

// ABTestResult is the engine's output for one variation pair.
type ABTestResult struct {
	ChanceToWin float64              `json:"chanceToWin"`
	CI          [2]float64           `json:"ci"`
	Expected    float64              `json:"expected"`
	Buckets     []domain.BucketPoint `json:"buckets"`
}

// NoResult is the canonical empty stats object used when either side of a
// pair has a zero aggregate value, guarding the engine against degenerate
// inputs.
func NoResult() *ABTestResult {
	return &ABTestResult{Buckets: []domain.BucketPoint{}, CI: [2]float64{0, 0}}
}

// Engine is the external significance-test collaborator. Implementations are
// pure functions of their input; failures propagate as errors.
type Engine interface {
	ABTest(ctx context.Context, params *ABTestParams) (*ABTestResult, error)
}

// ProcessEngine invokes the external stats executable, exchanging JSON on
// stdin/stdout, at most maxConcurrentInvocations at a time.
type ProcessEngine struct {
	path   string
	args   []string
	sem    *semaphore.Weighted
	logger *slog.Logger
}

var _ Engine = (*ProcessEngine)(nil)

// NewProcessEngine creates a ProcessEngine for the given executable path and
// extra arguments.
func NewProcessEngine(path string, args []string, logger *slog.Logger) *ProcessEngine {
	return &ProcessEngine{
		path:   path,
		args:   args,
		sem:    semaphore.NewWeighted(maxConcurrentInvocations),
		logger: logger,
	}
}

// ABTest runs one engine invocation.
func (e *ProcessEngine) ABTest(ctx context.Context, params *ABTestParams) (*ABTestResult, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire stats engine slot: %w", err)
	}
	defer e.sem.Release(1)

	input, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal engine input: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.path, e.args...) //nolint:gosec // path is operator-controlled config
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("stats engine: %s: %w", detail, err)
		}
		return nil, fmt.Errorf("stats engine: %w", err)
	}

	var result ABTestResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("decode engine output: %w", err)
	}
	return &result, nil
}
