package types

import (
	"encoding/json"
	"time"
)

// Document is the structured record handed to sinks. For log events it holds
// the named capture groups plus "line" and "pattern"; for command events it
// holds the execution record produced by CommandEvent.Document.
type Document map[string]any

// Clone returns a shallow copy of the document
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// String returns the value of key if it is a string
func (d Document) String(key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok
}

// Time returns the document timestamp, falling back to now
func (d Document) Time() time.Time {
	switch ts := d["timestamp"].(type) {
	case time.Time:
		return ts
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t
		}
	}
	return time.Now()
}

// JSON serializes the document
func (d Document) JSON() ([]byte, error) {
	return json.Marshal(d)
}

// TargetKind selects the sink a target is written to
type TargetKind string

const (
	TargetElasticsearch TargetKind = "elasticsearch"
	TargetKafka         TargetKind = "kafka"
	TargetS3            TargetKind = "s3"
	TargetStdout        TargetKind = "stdout"
)

// TargetKinds lists every supported sink kind
func TargetKinds() []TargetKind {
	return []TargetKind{TargetElasticsearch, TargetKafka, TargetS3, TargetStdout}
}

// Valid reports whether the kind is supported
func (k TargetKind) Valid() bool {
	for _, known := range TargetKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Target is a sink selector plus sink-specific parameters
type Target struct {
	Type   TargetKind        `yaml:"type" json:"type"`
	Config map[string]string `yaml:"config" json:"config"`
}

// Param returns a target config value
func (t Target) Param(key string) string {
	if t.Config == nil {
		return ""
	}
	return t.Config[key]
}

// CommandEvent is the record of one command execution
type CommandEvent struct {
	Name       string    `json:"name"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	WorkingDir *string   `json:"chdir"`
	Repeat     *float64  `json:"repeat"`
	Timestamp  time.Time `json:"timestamp"`
}

// Document converts the record into a sink document
func (e *CommandEvent) Document() Document {
	doc := Document{
		"name":      e.Name,
		"command":   e.Command,
		"exit_code": e.ExitCode,
		"stdout":    e.Stdout,
		"stderr":    e.Stderr,
		"chdir":     nil,
		"repeat":    nil,
		"timestamp": e.Timestamp,
	}
	if e.WorkingDir != nil {
		doc["chdir"] = *e.WorkingDir
	}
	if e.Repeat != nil {
		doc["repeat"] = *e.Repeat
	}
	return doc
}
