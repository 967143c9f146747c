// Package snapshot reads and writes the whole agentgraph state as JSONL,
// one record per line: a header followed by projects, tasks, artifacts,
// relationships and interactions.
package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"agentgraph/internal/domain"
)

const FormatVersion = 1

const (
	recordHeader       = "header"
	recordProject      = "project"
	recordTask         = "task"
	recordArtifact     = "artifact"
	recordRelationship = "relationship"
	recordInteraction  = "interaction"
)

type Data struct {
	ExportedAt    time.Time                 `json:"exported_at"`
	Projects      []domain.Project          `json:"projects"`
	Tasks         []domain.Task             `json:"tasks"`
	Artifacts     []domain.Artifact         `json:"artifacts"`
	Relationships []domain.RelationshipEdge `json:"relationships"`
	Interactions  []domain.Interaction      `json:"interactions"`
}

// Counts summarizes a snapshot per record kind.
func (d Data) Counts() map[string]int {
	return map[string]int{
		recordProject:      len(d.Projects),
		recordTask:         len(d.Tasks),
		recordArtifact:     len(d.Artifacts),
		recordRelationship: len(d.Relationships),
		recordInteraction:  len(d.Interactions),
	}
}

type record struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type header struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
}

// Store writes snapshots to a single file on an afero filesystem.
// Use afero.NewOsFs() in production and afero.NewMemMapFs() in tests.
type Store struct {
	Fs   afero.Fs
	Path string
}

func NewStore(fs afero.Fs, path string) Store {
	return Store{Fs: fs, Path: path}
}

// Export writes d atomically: records go to a temp file in the target
// directory which is then renamed over the snapshot path.
func (s Store) Export(d Data) error {
	dir := filepath.Dir(s.Path)
	if err := s.Fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := afero.TempFile(s.Fs, dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			s.Fs.Remove(tmp.Name())
		}
	}()
	if err := Write(tmp, d); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	name := tmp.Name()
	tmp = nil
	if err := s.Fs.Rename(name, s.Path); err != nil {
		s.Fs.Remove(name)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Import reads the snapshot file.
func (s Store) Import() (Data, error) {
	f, err := s.Fs.Open(s.Path)
	if err != nil {
		return Data{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Write encodes d as JSONL.
func Write(w io.Writer, d Data) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	exportedAt := d.ExportedAt
	if exportedAt.IsZero() {
		exportedAt = time.Now().UTC()
	}
	if err := writeRecord(enc, recordHeader, header{Version: FormatVersion, ExportedAt: exportedAt}); err != nil {
		return err
	}
	for _, p := range d.Projects {
		if err := writeRecord(enc, recordProject, p); err != nil {
			return err
		}
	}
	for _, t := range d.Tasks {
		if err := writeRecord(enc, recordTask, t); err != nil {
			return err
		}
	}
	for _, a := range d.Artifacts {
		if err := writeRecord(enc, recordArtifact, a); err != nil {
			return err
		}
	}
	for _, e := range d.Relationships {
		if err := writeRecord(enc, recordRelationship, e); err != nil {
			return err
		}
	}
	for _, it := range d.Interactions {
		if err := writeRecord(enc, recordInteraction, it); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func writeRecord(enc *json.Encoder, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	if err := enc.Encode(record{Kind: kind, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	return nil
}

// Read decodes a JSONL snapshot. The header must come first and carry a
// supported version; unknown record kinds are rejected.
func Read(r io.Reader) (Data, error) {
	dec := json.NewDecoder(r)
	var d Data
	line := 0
	for {
		var rec record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return Data{}, fmt.Errorf("snapshot record %d: %w", line, err)
		}
		if line == 1 {
			if rec.Kind != recordHeader {
				return Data{}, fmt.Errorf("snapshot must start with a header record, got %q", rec.Kind)
			}
			var h header
			if err := json.Unmarshal(rec.Data, &h); err != nil {
				return Data{}, fmt.Errorf("snapshot header: %w", err)
			}
			if h.Version != FormatVersion {
				return Data{}, fmt.Errorf("unsupported snapshot version %d", h.Version)
			}
			d.ExportedAt = h.ExportedAt
			continue
		}
		if err := decodeRecord(&d, rec); err != nil {
			return Data{}, fmt.Errorf("snapshot record %d: %w", line, err)
		}
	}
	if line == 0 {
		return Data{}, errors.New("snapshot is empty")
	}
	return d, nil
}

func decodeRecord(d *Data, rec record) error {
	switch rec.Kind {
	case recordProject:
		var p domain.Project
		if err := json.Unmarshal(rec.Data, &p); err != nil {
			return err
		}
		d.Projects = append(d.Projects, p)
	case recordTask:
		var t domain.Task
		if err := json.Unmarshal(rec.Data, &t); err != nil {
			return err
		}
		d.Tasks = append(d.Tasks, t)
	case recordArtifact:
		var a domain.Artifact
		if err := json.Unmarshal(rec.Data, &a); err != nil {
			return err
		}
		d.Artifacts = append(d.Artifacts, a)
	case recordRelationship:
		var e domain.RelationshipEdge
		if err := json.Unmarshal(rec.Data, &e); err != nil {
			return err
		}
		d.Relationships = append(d.Relationships, e)
	case recordInteraction:
		var it domain.Interaction
		if err := json.Unmarshal(rec.Data, &it); err != nil {
			return err
		}
		d.Interactions = append(d.Interactions, it)
	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}
	return nil
}
