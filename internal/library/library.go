package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lattice-labs/bmde-go/internal/provenance"
)

const (
	OpCreate = "CREATE"
	OpImport = "IMPORT"
	OpExport = "EXPORT"
)

// Entry is a design together with the record that describes it.
type Entry struct {
	Name      string
	Design    string
	Record    provenance.Record
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is one row of List.
type Summary struct {
	Name             string
	MetadataID       string
	ParentMetadataID string
	DesignChecksum   string
	Operations       int
	UpdatedAt        time.Time
}

type CreateInput struct {
	Name        string
	Design      string
	Author      string
	Description string
	Tool        string
	Details     provenance.Details
}

// Create stores a new design whose record starts with a CREATE operation.
func (s *Store) Create(ctx context.Context, in CreateInput) (Entry, error) {
	return s.insertNew(ctx, in, "", OpCreate)
}

type DeriveInput struct {
	Parent string
	CreateInput
	// Code names the operation that produced the new design, e.g. SPLIT.
	Code string
}

// Derive stores a new design whose record points at the parent's record
// through parentMetadataId.
func (s *Store) Derive(ctx context.Context, in DeriveInput) (Entry, error) {
	parent, err := s.Get(ctx, in.Parent)
	if err != nil {
		return Entry{}, fmt.Errorf("parent: %w", err)
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		code = OpCreate
	}
	details := in.Details.Clone()
	details["parent_design"] = parent.Name
	in.Details = details
	return s.insertNew(ctx, in.CreateInput, parent.Record.ID, code)
}

func (s *Store) insertNew(ctx context.Context, in CreateInput, parentID, code string) (Entry, error) {
	name, err := validName(in.Name)
	if err != nil {
		return Entry{}, err
	}
	now := s.now().UTC()
	rec := provenance.NewRecord(provenance.NewRecordInput{
		ParentMetadataID: parentID,
		DesignName:       name,
		Author:           in.Author,
		Description:      in.Description,
		Design:           in.Design,
		Now:              now,
	})
	if _, err := rec.Append(in.Design, in.Design, provenance.OperationInput{Code: code, Details: in.Details, Tool: in.Tool}, now); err != nil {
		return Entry{}, err
	}
	entry := Entry{Name: name, Design: in.Design, Record: rec, CreatedAt: now, UpdatedAt: now}
	if err := s.insert(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

type ImportInput struct {
	Name   string
	Design string
	Record provenance.Record
	Tool   string
	// Details are recorded on the IMPORT operation, e.g. source paths.
	Details provenance.Details
}

// Import adds a design received from elsewhere. The record must verify
// against the design before anything is stored.
func (s *Store) Import(ctx context.Context, in ImportInput) (Entry, error) {
	name, err := validName(in.Name)
	if err != nil {
		return Entry{}, err
	}
	if _, err := provenance.ReconstructRevisions(in.Record, in.Design); err != nil {
		return Entry{}, err
	}
	rec := in.Record.Clone()
	now := s.now().UTC()
	details := in.Details.Clone()
	details["source"] = "from_file"
	if _, err := rec.Append(in.Design, in.Design, provenance.OperationInput{Code: OpImport, Details: details, Tool: in.Tool}, now); err != nil {
		return Entry{}, err
	}
	entry := Entry{Name: name, Design: in.Design, Record: rec, CreatedAt: now, UpdatedAt: now}
	if err := s.insert(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

type EditInput struct {
	// Design is the new design. Nil records an operation that leaves the
	// design unchanged, such as EXPORT.
	Design  *string
	Code    string
	Details provenance.Details
	Tool    string
}

// Edit appends one operation to the named design's record and stores the
// resulting design.
func (s *Store) Edit(ctx context.Context, name string, in EditInput) (Entry, error) {
	return s.update(ctx, name, in, nil)
}

// Sealer encrypts a record for export. *envelope.Envelope satisfies it.
type Sealer interface {
	SealRecord(rec provenance.Record) (string, error)
}

type Export struct {
	Entry        Entry
	DesignFile   string
	MetadataFile string
	Sidecar      string
}

// Export records an EXPORT operation and seals the resulting record. The
// operation is only committed if sealing succeeds.
func (s *Store) Export(ctx context.Context, name, ext, tool string, sealer Sealer) (Export, error) {
	if sealer == nil {
		return Export{}, provenance.ConfigurationError("export", "no encryption key configured")
	}
	var out Export
	entry, err := s.update(ctx, name, EditInput{
		Code:    OpExport,
		Details: provenance.Details{"include_metadata": true},
		Tool:    tool,
	}, func(e Entry) error {
		sidecar, err := sealer.SealRecord(e.Record)
		if err != nil {
			return err
		}
		out.Sidecar = sidecar
		return nil
	})
	if err != nil {
		return Export{}, err
	}
	out.Entry = entry
	out.DesignFile = DesignFileName(entry.Name, ext)
	out.MetadataFile = MetadataFileName(entry.Name)
	return out, nil
}

func DesignFileName(name, ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		ext = ".gb"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return name + ext
}

func MetadataFileName(name string) string {
	return "metadata_" + name + ".bmde"
}

func (s *Store) update(ctx context.Context, name string, in EditInput, beforeCommit func(Entry) error) (entry Entry, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	entry, err = getEntry(ctx, tx, name)
	if err != nil {
		return Entry{}, err
	}
	next := entry.Design
	if in.Design != nil {
		next = *in.Design
	}
	now := s.now().UTC()
	if _, err = entry.Record.Append(entry.Design, next, provenance.OperationInput{Code: in.Code, Details: in.Details, Tool: in.Tool}, now); err != nil {
		return Entry{}, err
	}
	entry.Design = next
	entry.UpdatedAt = now

	blob, err := provenance.MarshalRecord(entry.Record)
	if err != nil {
		return Entry{}, err
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE designs SET design = ?, design_checksum = ?, record = ?, operations = ?, updated_at = ? WHERE name = ?`,
		entry.Design,
		entry.Record.DesignChecksum,
		string(blob),
		len(entry.Record.Changelog),
		formatTime(now),
		entry.Name,
	); err != nil {
		return Entry{}, err
	}
	if beforeCommit != nil {
		if err = beforeCommit(entry); err != nil {
			return Entry{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (s *Store) Get(ctx context.Context, name string) (Entry, error) {
	return getEntry(ctx, s.db, name)
}

func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, metadata_id, COALESCE(parent_metadata_id, ''), design_checksum, operations, updated_at
		 FROM designs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			updated string
		)
		if err := rows.Scan(&sum.Name, &sum.MetadataID, &sum.ParentMetadataID, &sum.DesignChecksum, &sum.Operations, &updated); err != nil {
			return nil, err
		}
		sum.UpdatedAt = parseTime(updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEntry(ctx context.Context, q rowQuerier, name string) (Entry, error) {
	name, err := validName(name)
	if err != nil {
		return Entry{}, err
	}
	var (
		entry            Entry
		blob             string
		created, updated string
	)
	err = q.QueryRowContext(ctx,
		`SELECT name, design, record, created_at, updated_at FROM designs WHERE name = ?`, name,
	).Scan(&entry.Name, &entry.Design, &blob, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Entry{}, err
	}
	entry.Record, err = provenance.UnmarshalRecord([]byte(blob))
	if err != nil {
		return Entry{}, fmt.Errorf("%s: stored record: %w", name, err)
	}
	entry.CreatedAt = parseTime(created)
	entry.UpdatedAt = parseTime(updated)
	return entry, nil
}

func (s *Store) insert(ctx context.Context, entry Entry) (err error) {
	blob, err := provenance.MarshalRecord(entry.Record)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM designs WHERE name = ?`, entry.Name).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		err = fmt.Errorf("%s: %w", entry.Name, ErrExists)
		return err
	}
	var parent sql.NullString
	if p := entry.Record.Parent(); p != "" {
		parent = sql.NullString{String: p, Valid: true}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO designs(name, metadata_id, parent_metadata_id, design, design_checksum, record, operations, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Name,
		entry.Record.ID,
		parent,
		entry.Design,
		entry.Record.DesignChecksum,
		string(blob),
		len(entry.Record.Changelog),
		formatTime(entry.CreatedAt),
		formatTime(entry.UpdatedAt),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// validName keeps names usable as file stems on export.
func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("design name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("design name %q must not contain path separators", name)
	}
	return name, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
