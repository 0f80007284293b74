package provenance

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Details carries operation parameters. The core never interprets it.
type Details map[string]any

// Clone copies d together with any nested maps and slices, as decoded from
// JSON or YAML.
func (d Details) Clone() Details {
	if d == nil {
		return Details{}
	}
	out := make(Details, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case Details:
		return v.Clone()
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Operation is one changelog entry. Change holds the patch that restores the
// design as it was before this operation ran.
type Operation struct {
	OperationCode    string    `json:"operationCode"`
	OperationDetails Details   `json:"operationDetails"`
	Change           string    `json:"change"`
	Timestamp        Timestamp `json:"timestamp"`
	Tool             string    `json:"tool"`
}

// Record is the provenance aggregate for a single design lineage.
type Record struct {
	ID               string      `json:"id"`
	ParentMetadataID *string     `json:"parentMetadataId"`
	DesignName       *string     `json:"designName"`
	DesignChecksum   string      `json:"designChecksum"`
	Author           string      `json:"author"`
	Description      string      `json:"description"`
	LastUpdated      Timestamp   `json:"lastUpdated"`
	Changelog        []Operation `json:"changelog"`
}

// NewRecordInput describes a design at its initial creation state.
type NewRecordInput struct {
	ParentMetadataID string
	DesignName       string
	Author           string
	Description      string
	Design           string
	Now              time.Time
}

// OperationInput describes one tool-level edit.
type OperationInput struct {
	Code    string
	Details Details
	Tool    string
}

func NewRecord(in NewRecordInput) Record {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	return Record{
		ID:               uuid.NewString(),
		ParentMetadataID: optional(in.ParentMetadataID),
		DesignName:       optional(in.DesignName),
		DesignChecksum:   Checksum(in.Design),
		Author:           strings.TrimSpace(in.Author),
		Description:      in.Description,
		LastUpdated:      NewTimestamp(now),
		Changelog:        []Operation{},
	}
}

// Append records the edit that turned current into next. current must be the
// design the record currently describes; the stored change steps next back
// to current.
func (r *Record) Append(current, next string, in OperationInput, now time.Time) (Operation, error) {
	if r == nil {
		return Operation{}, FormatError("append", "record is required")
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return Operation{}, FormatError("append", "operation code is required")
	}
	if got := Checksum(current); got != r.DesignChecksum {
		return Operation{}, IntegrityError("append", "current design checksum %s does not match record checksum %s", got, r.DesignChecksum)
	}
	if now.IsZero() {
		now = time.Now()
	}
	ts := NewTimestamp(now)
	if last, ok := r.lastTimestamp(); ok && ts.Before(last.Time) {
		ts = last
	}

	change, err := Diff(current, next)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{
		OperationCode:    code,
		OperationDetails: in.Details.Clone(),
		Change:           change,
		Timestamp:        ts,
		Tool:             strings.TrimSpace(in.Tool),
	}
	r.Changelog = append(r.Changelog, op)
	r.DesignChecksum = Checksum(next)
	r.LastUpdated = ts
	return op, nil
}

func (r Record) lastTimestamp() (Timestamp, bool) {
	if len(r.Changelog) == 0 {
		return Timestamp{}, false
	}
	return r.Changelog[len(r.Changelog)-1].Timestamp, true
}

// Validate checks the structural invariants of a record. It cannot prove the
// patches are consistent; ReconstructRevisions does that.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return FormatError("validate record", "id is required")
	}
	if !ValidChecksum(r.DesignChecksum) {
		return FormatError("validate record", "designChecksum must be 64 lowercase hex characters")
	}
	var prev time.Time
	for i, op := range r.Changelog {
		if strings.TrimSpace(op.OperationCode) == "" {
			return FormatError("validate record", "changelog[%d]: operationCode is required", i)
		}
		if !op.Timestamp.IsZero() {
			if op.Timestamp.Before(prev) {
				return IntegrityError("validate record", "changelog[%d]: timestamp %s precedes %s", i, op.Timestamp, NewTimestamp(prev))
			}
			prev = op.Timestamp.Time
		}
	}
	return nil
}

func (r Record) Clone() Record {
	out := r
	out.ParentMetadataID = cloneString(r.ParentMetadataID)
	out.DesignName = cloneString(r.DesignName)
	out.Changelog = make([]Operation, len(r.Changelog))
	for i, op := range r.Changelog {
		op.OperationDetails = op.OperationDetails.Clone()
		out.Changelog[i] = op
	}
	return out
}

// Parent returns the parent record id, or "" for a lineage root.
func (r Record) Parent() string {
	if r.ParentMetadataID == nil {
		return ""
	}
	return strings.TrimSpace(*r.ParentMetadataID)
}

// Name returns the design name, or "".
func (r Record) Name() string {
	if r.DesignName == nil {
		return ""
	}
	return *r.DesignName
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
