// internal/models/submission.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type AttachmentStatus string

const (
	AttachmentNone       AttachmentStatus = "None"
	AttachmentProcessing AttachmentStatus = "Processing"
	AttachmentSaved      AttachmentStatus = "Saved"
	AttachmentFailed     AttachmentStatus = "Failed"
)

// Field is one named business attribute of a submission.
type Field struct {
	Name  string
	Value string
}

// Fields keeps submission attributes in intake order. It serializes as a
// JSON object whose key order is preserved.
type Fields []Field

// Get returns the value of name and whether it is present.
func (f Fields) Get(name string) (string, bool) {
	for _, field := range f {
		if field.Name == name {
			return field.Value, true
		}
	}
	return "", false
}

// Value returns the value of name or "".
func (f Fields) Value(name string) string {
	v, _ := f.Get(name)
	return v
}

func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	copy(out, f)
	return out
}

// Map returns the fields as an unordered map.
func (f Fields) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(f))
	for _, field := range f {
		out[field.Name] = field.Value
	}
	return out
}

// TrimSpace returns a copy with surrounding whitespace removed from every value.
func (f Fields) TrimSpace() Fields {
	out := f.Clone()
	for i := range out {
		out[i].Value = strings.TrimSpace(out[i].Value)
	}
	return out
}

func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(field.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("fields: expected object, got %v", tok)
	}

	out := Fields{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("fields: expected string key, got %v", keyTok)
		}
		var raw interface{}
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("fields: value of %q: %w", key, err)
		}
		out = append(out, Field{Name: key, Value: stringify(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}

// SubmissionRecord is one accepted intake event.
type SubmissionRecord struct {
	ID               string           `json:"id"`
	Fields           Fields           `json:"fields"`
	AttachmentStatus AttachmentStatus `json:"attachmentStatus"`
	AttachmentError  string           `json:"attachmentError,omitempty"`
	RemoteSynced     bool             `json:"remoteSynced"`
	RemoteError      string           `json:"remoteError,omitempty"`
	// RemoteCellsStale marks a synced row whose attachment cells still
	// hold an older status than the record.
	RemoteCellsStale bool             `json:"remoteCellsStale,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// Clone returns a deep copy.
func (r SubmissionRecord) Clone() SubmissionRecord {
	r.Fields = r.Fields.Clone()
	return r
}

// JournalEntry is a record together with its position in the journal.
type JournalEntry struct {
	Index int `json:"index"`
	SubmissionRecord
}

// Attachment is one uploaded file as received at intake.
type Attachment struct {
	Filename string
	Content  []byte
}

// UploadOutcome is the result of uploading one attachment.
type UploadOutcome struct {
	Filename   string
	RemoteName string
	Success    bool
	Err        error
}

// AggregateOutcomes folds per-item outcomes into the record-level status
// and a combined error text naming only the failed items.
func AggregateOutcomes(outcomes []UploadOutcome) (AttachmentStatus, string) {
	if len(outcomes) == 0 {
		return AttachmentNone, ""
	}
	succeeded := 0
	var failures []string
	for _, o := range outcomes {
		if o.Success {
			succeeded++
			continue
		}
		msg := "upload failed"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		failures = append(failures, fmt.Sprintf("%s: %s", o.Filename, msg))
	}
	status := AttachmentFailed
	if succeeded > 0 {
		status = AttachmentSaved
	}
	return status, strings.Join(failures, "; ")
}

// Succeeded counts successful outcomes.
func Succeeded(outcomes []UploadOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Success {
			n++
		}
	}
	return n
}
