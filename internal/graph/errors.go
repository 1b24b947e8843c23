package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrorType classifies an engine failure.
type ErrorType string

// Error classes, from most to least actionable.
const (
	ErrorConnection ErrorType = "connection"
	ErrorTimeout    ErrorType = "timeout"
	ErrorQuery      ErrorType = "query"
	ErrorConstraint ErrorType = "constraint"
	ErrorPermission ErrorType = "permission"
	ErrorUnknown    ErrorType = "unknown"
)

// Severity grades how urgent an error class is.
type Severity string

// Severity levels.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classification is the outcome of classifying one error.
type Classification struct {
	Type            ErrorType `json:"type"`
	Severity        Severity  `json:"severity"`
	Retryable       bool      `json:"retryable"`
	SuggestedAction string    `json:"suggested_action"`
}

// classRule maps one error class to message tokens and its handling profile.
// Rules are tested in order and the first match wins: a message carrying
// both connection and timeout tokens classifies as connection.
type classRule struct {
	errType   ErrorType
	tokens    []string
	severity  Severity
	retryable bool
	action    string
}

var classRules = []classRule{
	{
		errType:   ErrorConnection,
		// "timeout" deliberately sits in the connection list: a bare
		// "timeout" token classifies as connection. The timeout class is
		// reached through "timed out" / "deadline exceeded".
		tokens:    []string{"connection", "network", "econnrefused", "timeout", "refused", "unreachable"},
		severity:  SeverityCritical,
		retryable: true,
		action:    "reconnect_and_retry",
	},
	{
		// "timeout" is listed here too but the connection rule above
		// consumes it first; only the multi-word tokens reach this class.
		errType:   ErrorTimeout,
		tokens:    []string{"timeout", "timed out", "deadline exceeded"},
		severity:  SeverityMedium,
		retryable: true,
		action:    "retry_with_backoff",
	},
	{
		errType:   ErrorQuery,
		tokens:    []string{"syntax", "parse error", "invalid query", "semantic error"},
		severity:  SeverityHigh,
		retryable: false,
		action:    "fix_query",
	},
	{
		errType:   ErrorConstraint,
		tokens:    []string{"duplicate", "unique", "constraint", "foreign key", "already exists"},
		severity:  SeverityMedium,
		retryable: false,
		action:    "resolve_conflict",
	},
	{
		errType:   ErrorPermission,
		tokens:    []string{"permission", "denied", "unauthorized", "forbidden"},
		severity:  SeverityHigh,
		retryable: false,
		action:    "check_credentials",
	},
}

var unknownClassification = Classification{
	Type:            ErrorUnknown,
	Severity:        SeverityMedium,
	Retryable:       false,
	SuggestedAction: "inspect_logs",
}

// Classify maps an error to its class by matching message tokens in rule
// order. A nil error classifies as unknown.
func Classify(err error) Classification {
	if err == nil {
		return unknownClassification
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classRules {
		for _, token := range rule.tokens {
			if strings.Contains(msg, token) {
				return Classification{
					Type:            rule.errType,
					Severity:        rule.severity,
					Retryable:       rule.retryable,
					SuggestedAction: rule.action,
				}
			}
		}
	}
	return unknownClassification
}

// suggestions is the fixed per-type checklist surfaced on recovery failure.
var suggestions = map[ErrorType][]string{
	ErrorConnection: {
		"verify the graph engine is running and reachable",
		"check network connectivity and firewall rules",
		"confirm the configured engine URI and port",
	},
	ErrorTimeout: {
		"retry with a smaller batch size",
		"raise the operation timeout",
		"check engine load and slow-query logs",
	},
	ErrorQuery: {
		"inspect the generated statement for syntax errors",
		"confirm the schema has been applied to the space",
	},
	ErrorConstraint: {
		"check for duplicate vertex or edge identifiers",
		"verify referenced vertices exist before inserting edges",
	},
	ErrorPermission: {
		"verify the configured credentials",
		"confirm the account has access to the space",
	},
	ErrorUnknown: {
		"inspect the engine logs for details",
		"retry the operation manually",
	},
}

// Suggestions returns the fixed checklist for an error class.
func Suggestions(t ErrorType) []string {
	return suggestions[t]
}

// ErrorRecord is one entry in the bounded error history.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	ErrorType ErrorType `json:"error_type"`
	Component string    `json:"component"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	Recovered bool      `json:"recovered"`
}

// errorHistory is a fixed-capacity ring buffer with O(1) insert and
// oldest-first eviction.
type errorHistory struct {
	mu      sync.Mutex
	records []ErrorRecord
	start   int
	size    int
}

func newErrorHistory(capacity int) *errorHistory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &errorHistory{records: make([]ErrorRecord, capacity)}
}

func (h *errorHistory) append(r ErrorRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := (h.start + h.size) % len(h.records)
	h.records[idx] = r
	if h.size < len(h.records) {
		h.size++
	} else {
		h.start = (h.start + 1) % len(h.records)
	}
}

// last returns up to n most recent records, oldest first.
func (h *errorHistory) last(n int) []ErrorRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > h.size {
		n = h.size
	}
	out := make([]ErrorRecord, 0, n)
	for i := h.size - n; i < h.size; i++ {
		out = append(out, h.records[(h.start+i)%len(h.records)])
	}
	return out
}

func (h *errorHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// RecoveryStrategy attempts to recover from one error class. A nil return
// means recovered.
type RecoveryStrategy func(ctx context.Context, c Classification) error

// RecoveryContext carries the failure surroundings returned to callers.
type RecoveryContext struct {
	Timestamp    time.Time     `json:"timestamp"`
	Component    string        `json:"component"`
	Operation    string        `json:"operation"`
	Message      string        `json:"message"`
	RetryCount   int           `json:"retry_count"`
	RecentErrors []ErrorRecord `json:"recent_errors"`
}

// RecoveryResult is the outcome of handling one error.
type RecoveryResult struct {
	Handled        bool            `json:"handled"`
	Recovered      bool            `json:"recovered"`
	Action         string          `json:"action"`
	Classification Classification  `json:"classification"`
	Suggestions    []string        `json:"suggestions,omitempty"`
	Context        RecoveryContext `json:"context"`
}

// ManualInterventionAction is returned when no strategy recovers.
const ManualInterventionAction = "manual_intervention_required"

// Coordinator classifies raised errors, runs bounded recovery strategies,
// and keeps a capped history of what happened.
type Coordinator struct {
	mu         sync.Mutex
	history    *errorHistory
	strategies map[ErrorType]RecoveryStrategy
	retries    map[string]int
	logger     *slog.Logger
	now        func() time.Time
}

// NewCoordinator creates a coordinator with a history capped at
// historyCap records (1000 when zero or negative).
func NewCoordinator(historyCap int, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		history:    newErrorHistory(historyCap),
		strategies: make(map[ErrorType]RecoveryStrategy),
		retries:    make(map[string]int),
		logger:     logger,
		now:        time.Now,
	}
}

// RegisterStrategy installs the recovery strategy for one error class.
func (c *Coordinator) RegisterStrategy(t ErrorType, s RecoveryStrategy) {
	c.mu.Lock()
	c.strategies[t] = s
	c.mu.Unlock()
}

// RegisterEngineProbes installs the default strategies for the retryable
// classes, backed by a real connectivity probe rather than a guess.
func (c *Coordinator) RegisterEngineProbes(engine Engine, retryDelay time.Duration) {
	probe := func(ctx context.Context, _ Classification) error {
		return engine.Ping(ctx)
	}
	c.RegisterStrategy(ErrorConnection, probe)
	c.RegisterStrategy(ErrorTimeout, func(ctx context.Context, cls Classification) error {
		timer := time.NewTimer(retryDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		return engine.Ping(ctx)
	})
}

// Handle classifies err, logs it, records it, and runs the matching
// recovery strategy if one is registered. A strategy that fails or panics
// degrades to manual intervention; it never propagates. A nil error is
// not handled and leaves the history untouched.
func (c *Coordinator) Handle(ctx context.Context, err error, component, operation string) RecoveryResult {
	if err == nil {
		return RecoveryResult{Classification: unknownClassification}
	}
	cls := Classify(err)

	c.logger.Error("graph operation failed",
		"component", component,
		"operation", operation,
		"errorType", string(cls.Type),
		"severity", string(cls.Severity),
		"retryable", cls.Retryable,
		"error", err,
	)

	c.mu.Lock()
	key := component + ":" + operation
	c.retries[key]++
	retryCount := c.retries[key]
	strategy := c.strategies[cls.Type]
	c.mu.Unlock()

	recovered := false
	if strategy != nil {
		recovered = c.runStrategy(ctx, strategy, cls)
	}

	record := ErrorRecord{
		Timestamp: c.now(),
		ErrorType: cls.Type,
		Component: component,
		Operation: operation,
		Message:   err.Error(),
		Recovered: recovered,
	}
	c.history.append(record)

	result := RecoveryResult{
		Handled:        true,
		Recovered:      recovered,
		Classification: cls,
		Context: RecoveryContext{
			Timestamp:    record.Timestamp,
			Component:    component,
			Operation:    operation,
			Message:      err.Error(),
			RetryCount:   retryCount,
			RecentErrors: c.history.last(5),
		},
	}
	if recovered {
		result.Action = cls.SuggestedAction
		c.mu.Lock()
		delete(c.retries, key)
		c.mu.Unlock()
	} else {
		result.Action = ManualInterventionAction
		result.Suggestions = Suggestions(cls.Type)
	}
	return result
}

// runStrategy executes a strategy, converting panics and errors into
// recovery failure.
func (c *Coordinator) runStrategy(ctx context.Context, strategy RecoveryStrategy, cls Classification) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovery strategy panicked",
				"errorType", string(cls.Type), "panic", fmt.Sprintf("%v", r))
			ok = false
		}
	}()

	if err := strategy(ctx, cls); err != nil {
		c.logger.Warn("recovery strategy failed",
			"errorType", string(cls.Type), "error", err)
		return false
	}
	return true
}

// History returns up to n most recent error records, oldest first.
func (c *Coordinator) History(n int) []ErrorRecord {
	return c.history.last(n)
}

// HistoryLen returns the number of retained records.
func (c *Coordinator) HistoryLen() int {
	return c.history.len()
}
