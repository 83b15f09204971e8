// Package streams holds the typed configuration document: the node name and
// the ordered, individually toggleable log streams.
package streams

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrNoConfiguration is returned when the configuration document is missing
// or cannot be decoded at startup.
var ErrNoConfiguration = errors.New("no configuration")

// ErrUnknownStream is returned when a filter names a stream that is not configured
var ErrUnknownStream = errors.New("unknown stream")

// Document is the configuration document
type Document struct {
	NodeName string
	Streams  []Stream // Declaration order; drives output order and colours
}

// Stream groups sources under one toggleable name
type Stream struct {
	Name     string
	Active   bool
	LogFiles []string
	DB       *DatabaseSource
}

// DatabaseSource holds connection parameters for a table source
type DatabaseSource struct {
	Driver   string `json:"driver,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Charset  string `json:"charset,omitempty"`
	Table    string `json:"table,omitempty"`
}

// Key returns the cursor key, host:database
func (d *DatabaseSource) Key() string {
	return d.Host + ":" + d.Database
}

// SourceSpec is one member source of a stream
type SourceSpec struct {
	ID   string
	Path string          // File sources
	DB   *DatabaseSource // Table sources
}

// IsTable reports whether the source is the stream's audit table
func (s SourceSpec) IsTable() bool {
	return s.DB != nil
}

// Sources lists the stream's members: files in declaration order, then the table
func (s Stream) Sources() []SourceSpec {
	out := make([]SourceSpec, 0, len(s.LogFiles)+1)
	for _, path := range s.LogFiles {
		out = append(out, SourceSpec{ID: path, Path: path})
	}
	if s.DB != nil {
		out = append(out, SourceSpec{ID: s.DB.Key(), DB: s.DB})
	}
	return out
}

// Stream returns the named stream
func (d *Document) Stream(name string) (*Stream, bool) {
	for i := range d.Streams {
		if d.Streams[i].Name == name {
			return &d.Streams[i], true
		}
	}
	return nil, false
}

// ActiveMap returns stream name → activation flag
func (d *Document) ActiveMap() map[string]bool {
	out := make(map[string]bool, len(d.Streams))
	for _, s := range d.Streams {
		out[s.Name] = s.Active
	}
	return out
}

// Clone returns a deep copy
func (d *Document) Clone() *Document {
	out := &Document{NodeName: d.NodeName, Streams: make([]Stream, len(d.Streams))}
	for i, s := range d.Streams {
		s.LogFiles = slices.Clone(s.LogFiles)
		if s.DB != nil {
			db := *s.DB
			s.DB = &db
		}
		out.Streams[i] = s
	}
	return out
}

type streamBody struct {
	Active   *bool           `json:"active,omitempty"`
	LogFiles []string        `json:"logFiles,omitempty"`
	DB       *DatabaseSource `json:"db,omitempty"`
}

// UnmarshalJSON decodes the document keeping logStreams in declaration order
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		NodeName   string          `json:"nodeName"`
		LogStreams json.RawMessage `json:"logStreams"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	streams, err := decodeStreams(raw.LogStreams)
	if err != nil {
		return err
	}

	d.NodeName = raw.NodeName
	d.Streams = streams
	return nil
}

func decodeStreams(data json.RawMessage) ([]Stream, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("logStreams must be an object")
	}

	var streams []Stream
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)
		if name == "" {
			return nil, fmt.Errorf("stream with empty name")
		}
		if seen[name] {
			return nil, fmt.Errorf("stream %q declared twice", name)
		}
		seen[name] = true

		var body json.RawMessage
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("stream %q: %w", name, err)
		}
		s, err := decodeStream(name, body)
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", name, err)
		}
		streams = append(streams, s)
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return streams, nil
}

func decodeStream(name string, body json.RawMessage) (Stream, error) {
	body = bytes.TrimSpace(body)

	// Legacy shape: the stream maps straight to its file list
	if len(body) > 0 && body[0] == '[' {
		var files []string
		if err := json.Unmarshal(body, &files); err != nil {
			return Stream{}, err
		}
		return Stream{Name: name, Active: true, LogFiles: files}, nil
	}

	var sb streamBody
	if err := json.Unmarshal(body, &sb); err != nil {
		return Stream{}, err
	}
	if sb.DB != nil && sb.DB.Database == "" {
		return Stream{}, fmt.Errorf("db.database is required")
	}

	s := Stream{Name: name, Active: true, LogFiles: sb.LogFiles, DB: sb.DB}
	if sb.Active != nil {
		s.Active = *sb.Active
	}
	if s.LogFiles == nil {
		s.LogFiles = []string{}
	}
	return s, nil
}

// MarshalJSON writes the typed shape with logStreams in declaration order
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	nodeName, err := json.Marshal(d.NodeName)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"nodeName":`)
	buf.Write(nodeName)
	buf.WriteString(`,"logStreams":{`)

	for i, s := range d.Streams {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.Name)
		if err != nil {
			return nil, err
		}
		active := s.Active
		body, err := json.Marshal(streamBody{Active: &active, LogFiles: s.LogFiles, DB: s.DB})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(body)
	}

	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

// Encode renders the document as indented JSON
func Encode(d *Document) ([]byte, error) {
	compact, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "    "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// Decode parses a configuration document
func Decode(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
