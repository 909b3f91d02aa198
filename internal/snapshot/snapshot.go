// Package snapshot defines the versioned records stored in trash items.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"processline/internal/domain"
)

// SchemaVersion is written into every new envelope.
const SchemaVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported snapshot schema version")

type Envelope struct {
	SchemaVersion int               `json:"schema_version"`
	Kind          string            `json:"kind"`
	Process       *ProcessSnapshot  `json:"process,omitempty"`
	Document      *DocumentSnapshot `json:"document,omitempty"`
}

// ProcessSnapshot holds a process and every row that referenced it, with
// their original identifiers.
type ProcessSnapshot struct {
	Process     domain.Process          `json:"process"`
	Stages      []domain.Stage          `json:"stages"`
	Answers     []domain.Answer         `json:"answers"`
	Comments    []domain.Comment        `json:"comments"`
	Documents   []domain.Document       `json:"documents"`
	History     []domain.HistoryEvent   `json:"history"`
	Transitions []domain.Transition     `json:"transitions"`
	Checklist   []domain.ChecklistEntry `json:"checklist"`
}

type DocumentSnapshot struct {
	Document     domain.Document `json:"document"`
	ProcessTitle string          `json:"process_title,omitempty"`
}

func ForProcess(s ProcessSnapshot) Envelope {
	return Envelope{SchemaVersion: SchemaVersion, Kind: domain.TrashKindProcess, Process: &s}
}

func ForDocument(s DocumentSnapshot) Envelope {
	return Envelope{SchemaVersion: SchemaVersion, Kind: domain.TrashKindDocument, Document: &s}
}

func Encode(env Envelope) ([]byte, error) {
	if env.SchemaVersion == 0 {
		env.SchemaVersion = SchemaVersion
	}
	if err := env.check(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses an envelope and rejects versions this build cannot restore.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode snapshot: %w", err)
	}
	if env.SchemaVersion != SchemaVersion {
		return env, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.SchemaVersion)
	}
	return env, env.check()
}

func (env Envelope) check() error {
	switch env.Kind {
	case domain.TrashKindProcess:
		if env.Process == nil {
			return errors.New("process snapshot missing")
		}
	case domain.TrashKindDocument:
		if env.Document == nil {
			return errors.New("document snapshot missing")
		}
	default:
		return fmt.Errorf("unknown snapshot kind %q", env.Kind)
	}
	return nil
}
