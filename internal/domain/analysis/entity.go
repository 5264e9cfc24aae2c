package analysis

import (
	"encoding/json"
	"time"
)

// SessionID correlates an upload batch, its storage prefix and its workflow execution.
type SessionID string

// ExecutionStatus mirrors the workflow execution status.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusSucceeded ExecutionStatus = "SUCCEEDED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusTimedOut  ExecutionStatus = "TIMED_OUT"
	StatusAborted   ExecutionStatus = "ABORTED"
)

// Terminal reports whether no further transitions are expected.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusAborted:
		return true
	}
	return false
}

// UploadedFile is one stored PDF of a session.
type UploadedFile struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	S3Key string `json:"s3Key"`
	Index int    `json:"index"`
}

// Session is the aggregate recorded for every upload batch.
type Session struct {
	ID           SessionID       `json:"sessionId"`
	ExecutionARN string          `json:"executionArn"`
	Bucket       string          `json:"bucket"`
	Files        []UploadedFile  `json:"files"`
	Status       ExecutionStatus `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ExecutionInput is the payload handed to the workflow.
type ExecutionInput struct {
	SessionID SessionID      `json:"sessionId"`
	S3Bucket  string         `json:"s3Bucket"`
	Files     []UploadedFile `json:"files"`
	Timestamp string         `json:"timestamp"`
}

// Execution is a snapshot of a workflow execution.
type Execution struct {
	ARN       string
	Name      string
	Status    ExecutionStatus
	StartDate time.Time
	StopDate  time.Time
	Input     json.RawMessage
	Output    json.RawMessage
	Error     string
	Cause     string
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ContentType  string    `json:"contentType,omitempty"`
}

// Object is a fetched object with its body.
type Object struct {
	Info ObjectInfo
	Body []byte
}
