package provenance

import (
	"errors"
	"testing"
	"time"
)

func TestNewRecord(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	rec := NewRecord(NewRecordInput{
		DesignName:  "my-design",
		Author:      " Jane Doe ",
		Description: "stop codon test",
		Design:      "ATGC",
		Now:         now,
	})
	if rec.ID == "" {
		t.Fatalf("expected id")
	}
	if rec.ParentMetadataID != nil {
		t.Fatalf("ParentMetadataID=%v, want nil", *rec.ParentMetadataID)
	}
	if rec.Name() != "my-design" {
		t.Fatalf("Name()=%q, want my-design", rec.Name())
	}
	if rec.Author != "Jane Doe" {
		t.Fatalf("Author=%q, want trimmed", rec.Author)
	}
	if rec.DesignChecksum != Checksum("atgc") {
		t.Fatalf("DesignChecksum=%s, want checksum of design", rec.DesignChecksum)
	}
	if !rec.LastUpdated.Equal(now) {
		t.Fatalf("LastUpdated=%v, want %v", rec.LastUpdated, now)
	}
	if len(rec.Changelog) != 0 {
		t.Fatalf("expected empty changelog")
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	other := NewRecord(NewRecordInput{Design: "ATGC"})
	if other.ID == rec.ID {
		t.Fatalf("expected distinct ids")
	}
}

func TestRecordAppend(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := NewRecord(NewRecordInput{Design: "ATGC", Now: t0})

	op, err := rec.Append("ATGC", "ATGCTGA", OperationInput{
		Code:    "APPEND",
		Details: Details{"sequence_appended": "TGA"},
		Tool:    "bmde",
	}, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Append() err=%v", err)
	}
	if rec.DesignChecksum != Checksum("ATGCTGA") {
		t.Fatalf("checksum not recomputed")
	}
	if !rec.LastUpdated.Equal(op.Timestamp.Time) {
		t.Fatalf("LastUpdated=%v, want %v", rec.LastUpdated, op.Timestamp)
	}
	prev, err := Apply(op.Change, "ATGCTGA")
	if err != nil {
		t.Fatalf("Apply() err=%v", err)
	}
	if prev != "ATGC" {
		t.Fatalf("stored change restores %q, want ATGC", prev)
	}
	if len(rec.Changelog) != 1 || rec.Changelog[0].Tool != "bmde" {
		t.Fatalf("unexpected changelog: %+v", rec.Changelog)
	}
}

func TestRecordAppend_RejectsStaleCurrent(t *testing.T) {
	rec := NewRecord(NewRecordInput{Design: "ATGC"})
	_, err := rec.Append("ATGG", "ATGGA", OperationInput{Code: "APPEND"}, time.Now())
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("err=%v, want integrity error", err)
	}
	if len(rec.Changelog) != 0 {
		t.Fatalf("changelog mutated on failure")
	}
}

func TestRecordAppend_RejectsInvalidUTF8(t *testing.T) {
	rec := NewRecord(NewRecordInput{Design: "ATGC"})
	before := rec.DesignChecksum
	_, err := rec.Append("ATGC", "ATGC\xffA", OperationInput{Code: "INSERT"}, time.Now())
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("err=%v, want format error", err)
	}
	if len(rec.Changelog) != 0 || rec.DesignChecksum != before {
		t.Fatalf("record mutated on failure: %d ops, checksum %s", len(rec.Changelog), rec.DesignChecksum)
	}

	bin := NewRecord(NewRecordInput{Design: "\xff\xfe"})
	if _, err := bin.Append("\xff\xfe", "\xff\xfe", OperationInput{Code: "CREATE"}, time.Now()); !errors.Is(err, ErrFormat) {
		t.Fatalf("err=%v, want format error", err)
	}
}

func TestRecordAppend_RequiresCode(t *testing.T) {
	rec := NewRecord(NewRecordInput{Design: "ATGC"})
	_, err := rec.Append("ATGC", "ATGCA", OperationInput{Code: "  "}, time.Now())
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("err=%v, want format error", err)
	}
}

func TestRecordAppend_TimestampsNeverDecrease(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := NewRecord(NewRecordInput{Design: "A", Now: t0})
	if _, err := rec.Append("A", "AC", OperationInput{Code: "INSERT"}, t0.Add(time.Hour)); err != nil {
		t.Fatalf("Append() err=%v", err)
	}
	op, err := rec.Append("AC", "ACG", OperationInput{Code: "INSERT"}, t0)
	if err != nil {
		t.Fatalf("Append() err=%v", err)
	}
	if !op.Timestamp.Equal(t0.Add(time.Hour)) {
		t.Fatalf("Timestamp=%v, want clamped to %v", op.Timestamp, t0.Add(time.Hour))
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestRecordValidate(t *testing.T) {
	base := NewRecord(NewRecordInput{Design: "ACGT"})

	noID := base.Clone()
	noID.ID = ""
	if err := noID.Validate(); !errors.Is(err, ErrFormat) {
		t.Fatalf("missing id err=%v, want format error", err)
	}

	badSum := base.Clone()
	badSum.DesignChecksum = "abc"
	if err := badSum.Validate(); !errors.Is(err, ErrFormat) {
		t.Fatalf("bad checksum err=%v, want format error", err)
	}

	t0 := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	outOfOrder := base.Clone()
	outOfOrder.Changelog = []Operation{
		{OperationCode: "A", Timestamp: NewTimestamp(t0.Add(time.Hour))},
		{OperationCode: "B", Timestamp: NewTimestamp(t0)},
	}
	if err := outOfOrder.Validate(); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("out of order err=%v, want integrity error", err)
	}

	noCode := base.Clone()
	noCode.Changelog = []Operation{{Timestamp: NewTimestamp(t0)}}
	if err := noCode.Validate(); !errors.Is(err, ErrFormat) {
		t.Fatalf("missing code err=%v, want format error", err)
	}
}

func TestRecordClone_IsDeep(t *testing.T) {
	rec := NewRecord(NewRecordInput{Design: "A", ParentMetadataID: "parent-1", DesignName: "d"})
	if _, err := rec.Append("A", "AC", OperationInput{Code: "INSERT", Details: Details{"k": "v"}}, time.Now()); err != nil {
		t.Fatalf("Append() err=%v", err)
	}
	rec.Changelog[0].OperationDetails["nested"] = map[string]any{"codons": []any{"ATG", "TGA"}}
	c := rec.Clone()
	c.Changelog[0].OperationDetails["k"] = "changed"
	c.Changelog[0].OperationDetails["nested"].(map[string]any)["codons"].([]any)[0] = "GGG"
	*c.ParentMetadataID = "other"
	if rec.Changelog[0].OperationDetails["k"] != "v" {
		t.Fatalf("clone shares operation details")
	}
	if got := rec.Changelog[0].OperationDetails["nested"].(map[string]any)["codons"].([]any)[0]; got != "ATG" {
		t.Fatalf("nested detail=%v, want ATG", got)
	}
	if rec.Parent() != "parent-1" {
		t.Fatalf("clone shares parent id")
	}
}
