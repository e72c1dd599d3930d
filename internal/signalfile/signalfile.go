// Package signalfile reads the per-project JSON signal files a dispatched
// coding session (or an external scanner) drops under a project's
// .orchestrator/ directory. Writing these files is out of scope here; this
// package only parses what's already on disk.
package signalfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const signalDir = ".orchestrator"

// Session mirrors session.json: session metadata written by the dispatcher.
type Session struct {
	HeadBefore string     `json:"headBefore"`
	StartedAt  time.Time  `json:"startedAt"`
	StoppedAt  *time.Time `json:"stoppedAt,omitempty"`
}

// Evaluation mirrors evaluation.json: the latest per-project evaluation
// artifact, a subset of model.EvaluationRecord's fields.
type Evaluation struct {
	Score          int       `json:"score"`
	Recommendation string    `json:"recommendation"`
	EvaluatedAt    time.Time `json:"evaluatedAt"`
}

// Error mirrors error.json: an optional error signal surfaced to the
// Context Assembler's Projects section.
type Error struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// MCPConfig mirrors mcp-config.json: optional per-project tool config
// passed through to a dispatched session untouched.
type MCPConfig struct {
	Raw json.RawMessage
}

// Reader is the narrow adapter other packages (Scan Loop, Context
// Assembler) depend on, so they can be tested against a fake without
// touching the filesystem.
type Reader interface {
	ReadSession(workspace string) (*Session, error)
	ReadEvaluation(workspace string) (*Evaluation, error)
	ReadError(workspace string) (*Error, error)
	ReadMCPConfig(workspace string) (*MCPConfig, error)
}

// FileReader is the real Reader, reading from workspace/.orchestrator/*.json.
type FileReader struct{}

// NewFileReader constructs the filesystem-backed Reader.
func NewFileReader() FileReader { return FileReader{} }

func (FileReader) ReadSession(workspace string) (*Session, error) {
	var s Session
	ok, err := readJSON(filepath.Join(workspace, signalDir, "session.json"), &s)
	if !ok || err != nil {
		return nil, err
	}
	return &s, nil
}

func (FileReader) ReadEvaluation(workspace string) (*Evaluation, error) {
	var e Evaluation
	ok, err := readJSON(filepath.Join(workspace, signalDir, "evaluation.json"), &e)
	if !ok || err != nil {
		return nil, err
	}
	return &e, nil
}

func (FileReader) ReadError(workspace string) (*Error, error) {
	var e Error
	ok, err := readJSON(filepath.Join(workspace, signalDir, "error.json"), &e)
	if !ok || err != nil {
		return nil, err
	}
	return &e, nil
}

func (FileReader) ReadMCPConfig(workspace string) (*MCPConfig, error) {
	path := filepath.Join(workspace, signalDir, "mcp-config.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &MCPConfig{Raw: json.RawMessage(data)}, nil
}

// readJSON unmarshals path into dst. Returns ok=false (no error) when the
// file doesn't exist, matching the "signal absent" contract every caller
// here relies on.
func readJSON(path string, dst any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}
