package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type ExecutionMode string

const (
	ModeLive   ExecutionMode = "live"
	ModeReplay ExecutionMode = "replay"
)

// GraphVersion identifies the tool graph that produced a run's output.
const GraphVersion = "v1"

// IntelRun is one execution of the tool runtime.
type IntelRun struct {
	ID                uuid.UUID       `json:"id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	RunType           string          `json:"run_type"`
	Status            RunStatus       `json:"status"`
	ModelName         string          `json:"model_name"`
	PromptVersion     string          `json:"prompt_version"`
	InputSnapshotURI  string          `json:"input_snapshot_uri"`
	InputPayload      json.RawMessage `json:"input_payload"`
	GraphVersion      string          `json:"graph_version"`
	ExecutionMode     ExecutionMode   `json:"execution_mode"`
	ReplaySourceRunID *uuid.UUID      `json:"replay_source_run_id,omitempty"`
	ErrorMessage      *string         `json:"error_message,omitempty"`
	OutputPayload     json.RawMessage `json:"output_payload"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RunSpec is the inbound request to create an intel run.
type RunSpec struct {
	RunType           string          `json:"run_type" validate:"required,min=2,max=64"`
	ModelName         string          `json:"model_name" validate:"required,min=2,max=128"`
	PromptVersion     string          `json:"prompt_version" validate:"required,min=1,max=64"`
	InputSnapshotURI  string          `json:"input_snapshot_uri" validate:"required,min=3"`
	InputPayload      json.RawMessage `json:"input_payload"`
	ExecutionMode     ExecutionMode   `json:"execution_mode" validate:"omitempty,oneof=live replay"`
	ReplaySourceRunID *uuid.UUID      `json:"replay_source_run_id,omitempty"`
}

// ReplayOverrides replaces fields copied from the source run when creating
// a replay.
type ReplayOverrides struct {
	RunType       string `json:"run_type,omitempty"`
	ModelName     string `json:"model_name,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`
}

type AuditStatus string

const (
	AuditSuccess  AuditStatus = "success"
	AuditReplayed AuditStatus = "replayed"
)

// ToolCallAudit is an append-only record of one tool invocation.
type ToolCallAudit struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	RunID           uuid.UUID       `json:"run_id"`
	ToolName        string          `json:"tool_name"`
	Status          AuditStatus     `json:"status"`
	RequestPayload  json.RawMessage `json:"request_payload"`
	ResponsePayload json.RawMessage `json:"response_payload"`
	Citations       []string        `json:"citations"`
	Signature       string          `json:"signature,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Claim is one statement in a run output and the URLs supporting it.
type Claim struct {
	Claim     string   `json:"claim"`
	Citations []string `json:"citations"`
}

// RunOutput is the output payload of a completed run.
type RunOutput struct {
	GraphVersion  string        `json:"graph_version"`
	ExecutionMode ExecutionMode `json:"execution_mode"`
	Summary       string        `json:"summary"`
	Claims        []Claim       `json:"claims"`
	Citations     []string      `json:"citations"`
	ToolCount     int           `json:"tool_count"`
}
