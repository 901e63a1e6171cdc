// Package intel runs analysis over ingested evidence through a closed set of
// tools. Every tool call is audited, and a run can be replayed from its audit
// trail without touching the tools again.
package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/telhawk-systems/finops/common/audit"
	"github.com/telhawk-systems/finops/common/logging"
	"github.com/telhawk-systems/finops/internal/hashing"
	"github.com/telhawk-systems/finops/internal/metrics"
	"github.com/telhawk-systems/finops/internal/models"
	"github.com/telhawk-systems/finops/internal/repository"
)

// ErrRuntime marks a run that violated a runtime rule: a tool outside the
// allow-list, a claim without citations, an empty or tampered audit trail.
var ErrRuntime = errors.New("intel runtime error")

// ErrInvalidRun rejects a run spec before anything is stored.
var ErrInvalidRun = errors.New("invalid intel run")

const maxClaims = 3

const noDocumentsSummary = "No matching documents were found for the requested query."

// Store is the persistence the runtime needs.
type Store interface {
	repository.IntelRepository
	NewsSearcher
}

// Runtime executes intel runs in live or replay mode.
type Runtime struct {
	store        Store
	tools        map[string]Tool
	signer       *audit.Signer
	validate     *validator.Validate
	defaultLimit int
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithSigner signs audit records on write and verifies them on replay.
func WithSigner(s *audit.Signer) Option {
	return func(r *Runtime) { r.signer = s }
}

// WithDefaultLimit sets the search limit used when a run's input has none.
func WithDefaultLimit(limit int) Option {
	return func(r *Runtime) {
		if limit > 0 {
			r.defaultLimit = limit
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger.With(logging.Component("intel"))
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// NewRuntime returns a runtime whose only tool is news_document_search.
func NewRuntime(store Store, opts ...Option) *Runtime {
	validate := validator.New()
	r := &Runtime{
		store:        store,
		validate:     validate,
		defaultLimit: 5,
		logger:       slog.Default().With(logging.Component("intel")),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.tools = map[string]Tool{
		ToolNewsDocumentSearch: newNewsSearchTool(store, validate),
	}
	return r
}

// CreateRun persists a new run from spec and executes it. When execution
// fails the stored failed run is returned together with the error.
func (r *Runtime) CreateRun(ctx context.Context, tenantID uuid.UUID, spec *models.RunSpec) (*models.IntelRun, error) {
	if err := r.validate.Struct(spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	mode := spec.ExecutionMode
	if mode == "" {
		mode = models.ModeLive
	}
	payload := spec.InputPayload
	if len(bytes.TrimSpace(payload)) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = json.RawMessage("{}")
	}

	now := r.now()
	run := &models.IntelRun{
		ID:                repository.NewID(),
		TenantID:          tenantID,
		RunType:           spec.RunType,
		Status:            models.RunPending,
		ModelName:         spec.ModelName,
		PromptVersion:     spec.PromptVersion,
		InputSnapshotURI:  spec.InputSnapshotURI,
		InputPayload:      payload,
		GraphVersion:      models.GraphVersion,
		ExecutionMode:     mode,
		ReplaySourceRunID: spec.ReplaySourceRunID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return r.ExecuteRun(ctx, run)
}

// CreateReplay creates and executes a replay of sourceRunID. Fields not
// overridden are copied from the source run.
func (r *Runtime) CreateReplay(ctx context.Context, tenantID, sourceRunID uuid.UUID, overrides models.ReplayOverrides) (*models.IntelRun, error) {
	src, err := r.store.GetRun(ctx, tenantID, sourceRunID)
	if err != nil {
		return nil, err
	}
	spec := &models.RunSpec{
		RunType:           firstNonEmpty(overrides.RunType, src.RunType),
		ModelName:         firstNonEmpty(overrides.ModelName, src.ModelName),
		PromptVersion:     firstNonEmpty(overrides.PromptVersion, src.PromptVersion),
		InputSnapshotURI:  src.InputSnapshotURI,
		InputPayload:      src.InputPayload,
		ExecutionMode:     models.ModeReplay,
		ReplaySourceRunID: &src.ID,
	}
	return r.CreateRun(ctx, tenantID, spec)
}

// GetRun returns a tenant's run.
func (r *Runtime) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*models.IntelRun, error) {
	return r.store.GetRun(ctx, tenantID, runID)
}

// Audits returns a run's tool call trail in call order.
func (r *Runtime) Audits(ctx context.Context, tenantID, runID uuid.UUID) ([]models.ToolCallAudit, error) {
	return r.store.ListAudits(ctx, tenantID, runID)
}

// ExecuteRun moves run through running to completed or failed.
func (r *Runtime) ExecuteRun(ctx context.Context, run *models.IntelRun) (*models.IntelRun, error) {
	ctx = logging.ContextWith(ctx,
		logging.TenantID(run.TenantID.String()),
		logging.RunID(run.ID.String()),
	)
	log := logging.FromContext(ctx, r.logger)

	if err := r.store.MarkRunRunning(ctx, run.TenantID, run.ID, r.now()); err != nil {
		return nil, fmt.Errorf("mark run running: %w", err)
	}

	var (
		output *models.RunOutput
		err    error
	)
	if run.ExecutionMode == models.ModeReplay {
		output, err = r.replay(ctx, run)
	} else {
		output, err = r.live(ctx, run)
	}

	mode := string(run.ExecutionMode)
	if err == nil {
		var payload []byte
		payload, err = json.Marshal(output)
		if err == nil {
			err = r.store.CompleteRun(ctx, run.TenantID, run.ID, payload, r.now())
		}
	}
	if err != nil {
		metrics.IntelRuns.WithLabelValues(mode, string(models.RunFailed)).Inc()
		if markErr := r.store.FailRun(context.WithoutCancel(ctx), run.TenantID, run.ID, err.Error(), r.now()); markErr != nil {
			log.Error("failed to record run failure", logging.Error(markErr))
		}
		log.Warn("intel run failed", logging.Error(err))
		failed, getErr := r.store.GetRun(context.WithoutCancel(ctx), run.TenantID, run.ID)
		if getErr != nil {
			return nil, err
		}
		return failed, err
	}

	metrics.IntelRuns.WithLabelValues(mode, string(models.RunCompleted)).Inc()
	log.Info("intel run completed", "mode", mode, "tool_count", output.ToolCount)
	return r.store.GetRun(ctx, run.TenantID, run.ID)
}

func (r *Runtime) live(ctx context.Context, run *models.IntelRun) (*models.RunOutput, error) {
	request, toolName, err := buildLiveRequest(run, r.defaultLimit)
	if err != nil {
		return nil, err
	}
	tool, ok := r.tools[toolName]
	if !ok {
		return nil, fmt.Errorf("%w: tool not allowlisted: %s", ErrRuntime, toolName)
	}

	input, err := tool.ParseInput(request)
	if err != nil {
		return nil, err
	}
	out, err := tool.Execute(ctx, run.TenantID, input)
	if err != nil {
		return nil, err
	}

	citations := collectCitations(out)
	if len(citations) == 0 {
		return nil, errCitationsRequired()
	}

	reqJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode tool request: %w", err)
	}
	respJSON, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode tool response: %w", err)
	}
	if err := r.appendAudit(ctx, run, tool.Name(), models.AuditSuccess, reqJSON, respJSON, citations); err != nil {
		return nil, err
	}

	claims, err := buildClaims(out)
	if err != nil {
		return nil, err
	}
	return &models.RunOutput{
		GraphVersion:  models.GraphVersion,
		ExecutionMode: models.ModeLive,
		Summary:       buildSummary(out),
		Claims:        claims,
		Citations:     citations,
		ToolCount:     1,
	}, nil
}

func (r *Runtime) replay(ctx context.Context, run *models.IntelRun) (*models.RunOutput, error) {
	if run.ReplaySourceRunID == nil {
		return nil, fmt.Errorf("%w: replay mode requires replay_source_run_id", ErrRuntime)
	}
	sources, err := r.store.ListAudits(ctx, run.TenantID, *run.ReplaySourceRunID)
	if err != nil {
		return nil, fmt.Errorf("list source audits: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no source tool calls available for replay", ErrRuntime)
	}

	outputs := make([]*ToolOutput, 0, len(sources))
	for _, src := range sources {
		tool, ok := r.tools[src.ToolName]
		if !ok {
			return nil, fmt.Errorf("%w: tool not allowlisted for replay: %s", ErrRuntime, src.ToolName)
		}
		if err := r.verifyAudit(&src); err != nil {
			return nil, err
		}
		if _, err := tool.ParseInput(src.RequestPayload); err != nil {
			return nil, err
		}
		out, err := tool.ParseOutput(src.ResponsePayload)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)

		if err := r.appendAudit(ctx, run, src.ToolName, models.AuditReplayed,
			src.RequestPayload, src.ResponsePayload, collectCitations(out)); err != nil {
			return nil, err
		}
	}

	primary := outputs[0]
	citations := collectCitations(primary)
	if len(citations) == 0 {
		return nil, errCitationsRequired()
	}
	claims, err := buildClaims(primary)
	if err != nil {
		return nil, err
	}
	return &models.RunOutput{
		GraphVersion:  models.GraphVersion,
		ExecutionMode: models.ModeReplay,
		Summary:       buildSummary(primary),
		Claims:        claims,
		Citations:     citations,
		ToolCount:     len(outputs),
	}, nil
}

func (r *Runtime) appendAudit(ctx context.Context, run *models.IntelRun, toolName string, status models.AuditStatus, request, response json.RawMessage, citations []string) error {
	entry := &models.ToolCallAudit{
		ID:              repository.NewID(),
		TenantID:        run.TenantID,
		RunID:           run.ID,
		ToolName:        toolName,
		Status:          status,
		RequestPayload:  request,
		ResponsePayload: response,
		Citations:       citations,
		CreatedAt:       r.now(),
	}
	if r.signer.Enabled() {
		fields, err := signatureFields(entry)
		if err != nil {
			return err
		}
		entry.Signature = r.signer.Sign(fields...)
	}
	if err := r.store.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	logging.FromContext(ctx, r.logger).Debug("tool call audited",
		logging.Tool(toolName), "status", string(status), "citations", len(citations))
	return nil
}

func (r *Runtime) verifyAudit(a *models.ToolCallAudit) error {
	if !r.signer.Enabled() {
		return nil
	}
	fields, err := signatureFields(a)
	if err != nil {
		return err
	}
	if !r.signer.Verify(a.Signature, fields...) {
		return fmt.Errorf("%w: audit signature mismatch for %s call %s", ErrRuntime, a.ToolName, a.ID)
	}
	return nil
}

// signatureFields covers payloads in canonical form so a round trip through
// a JSONB column, which rewrites key order and whitespace, still verifies.
func signatureFields(a *models.ToolCallAudit) ([][]byte, error) {
	req, err := hashing.Canonical(a.RequestPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: canonical request payload: %v", ErrRuntime, err)
	}
	resp, err := hashing.Canonical(a.ResponsePayload)
	if err != nil {
		return nil, fmt.Errorf("%w: canonical response payload: %v", ErrRuntime, err)
	}
	fields := [][]byte{
		[]byte(a.TenantID.String()),
		[]byte(a.RunID.String()),
		[]byte(a.ToolName),
		[]byte(a.Status),
		req,
		resp,
	}
	for _, c := range a.Citations {
		fields = append(fields, []byte(c))
	}
	return fields, nil
}

// buildLiveRequest derives the tool request from a run's input payload. The
// query falls back to the input snapshot URI.
func buildLiveRequest(run *models.IntelRun, defaultLimit int) (json.RawMessage, string, error) {
	fields := map[string]any{}
	if raw := bytes.TrimSpace(run.InputPayload); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return nil, "", fmt.Errorf("%w: invalid input payload: %v", ErrRuntime, err)
		}
	}

	query := strings.TrimSpace(stringValue(fields["query"]))
	if query == "" {
		query = strings.TrimSpace(run.InputSnapshotURI)
	}
	limit, err := parseLimit(fields["limit"], defaultLimit)
	if err != nil {
		return nil, "", err
	}
	toolName := stringValue(fields["tool_name"])
	if toolName == "" {
		toolName = ToolNewsDocumentSearch
	}

	request := map[string]any{
		"tool_name": toolName,
		"query":     query,
		"limit":     limit,
	}
	if jobID := stringValue(fields["job_id"]); jobID != "" {
		request["job_id"] = jobID
	}
	raw, err := json.Marshal(request)
	if err != nil {
		return nil, "", fmt.Errorf("encode tool request: %w", err)
	}
	return raw, toolName, nil
}

func parseLimit(v any, defaultLimit int) (int, error) {
	switch limit := v.(type) {
	case nil:
		return defaultLimit, nil
	case json.Number:
		n, err := strconv.Atoi(limit.String())
		if err != nil {
			return 0, fmt.Errorf("%w: invalid limit value", ErrRuntime)
		}
		return n, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(limit))
		if err != nil {
			return 0, fmt.Errorf("%w: invalid limit value", ErrRuntime)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: invalid limit value", ErrRuntime)
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

// collectCitations returns every citation in out, trimmed, deduplicated and
// in first-seen order.
func collectCitations(out *ToolOutput) []string {
	seen := make(map[string]struct{})
	citations := []string{}
	for _, doc := range out.Documents {
		for _, c := range doc.Citations {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			citations = append(citations, c)
		}
	}
	return citations
}

func buildClaims(out *ToolOutput) ([]models.Claim, error) {
	n := min(len(out.Documents), maxClaims)
	claims := make([]models.Claim, 0, n)
	for _, doc := range out.Documents[:n] {
		if len(doc.Citations) == 0 {
			return nil, fmt.Errorf("%w: each claim must include at least one citation", ErrRuntime)
		}
		claims = append(claims, models.Claim{Claim: doc.Title, Citations: doc.Citations})
	}
	return claims, nil
}

func buildSummary(out *ToolOutput) string {
	if len(out.Documents) == 0 {
		return noDocumentsSummary
	}
	n := min(len(out.Documents), maxClaims)
	titles := make([]string, 0, n)
	for _, doc := range out.Documents[:n] {
		titles = append(titles, doc.Title)
	}
	return "Top documents: " + strings.Join(titles, " | ")
}

func errCitationsRequired() error {
	return fmt.Errorf("%w: citations are required for web-derived claims", ErrRuntime)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
