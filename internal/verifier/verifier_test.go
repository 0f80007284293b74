package verifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lattice-labs/bmde-go/internal/designsource"
	"github.com/lattice-labs/bmde-go/internal/envelope"
	"github.com/lattice-labs/bmde-go/internal/platform/auditlog"
	"github.com/lattice-labs/bmde-go/internal/platform/lineageevent"
	"github.com/lattice-labs/bmde-go/internal/provenance"
)

const testKey = "0123456789abcdef0123456789abcdef"

type mapSource struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
	reads int
}

func (m *mapSource) Open(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, designsource.ErrNotFound)
	}
	return data, nil
}

type stubRecorder struct {
	audits  []auditlog.Event
	derived []lineageevent.Event
	graph   lineageevent.Graph
	err     error
}

func (r *stubRecorder) RecordVerification(ctx context.Context, event auditlog.Event) error {
	r.audits = append(r.audits, event)
	return r.err
}

func (r *stubRecorder) RecordDerivation(ctx context.Context, event lineageevent.Event) error {
	r.derived = append(r.derived, event)
	return r.err
}

func (r *stubRecorder) Subgraph(ctx context.Context, root string, depth, maxEdges int) (lineageevent.Graph, error) {
	g := r.graph
	g.Root = root
	return g, r.err
}

type countingOpener struct {
	RecordOpener
	opens int
}

func (c *countingOpener) OpenRecord(sealed string) (provenance.Record, error) {
	c.opens++
	return c.RecordOpener.OpenRecord(sealed)
}

func newEnvelope(t *testing.T) *envelope.Envelope {
	t.Helper()
	e, err := envelope.New(envelope.Config{Key: testKey})
	if err != nil {
		t.Fatalf("envelope.New() err=%v", err)
	}
	return e
}

// sealedChain builds S0 -> S1 -> S2 and returns the final design and sidecar.
func sealedChain(t *testing.T, e *envelope.Envelope, parent string) (provenance.Record, string) {
	t.Helper()
	t0 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	states := []string{"ATGCATGC", "ATGCATGCTTAA", "GGATGCATGCTTAA"}
	rec := provenance.NewRecord(provenance.NewRecordInput{
		ParentMetadataID: parent,
		DesignName:       "plasmid",
		Author:           "alice",
		Design:           states[0],
		Now:              t0,
	})
	if _, err := rec.Append(states[0], states[0], provenance.OperationInput{Code: "CREATE", Tool: "test"}, t0); err != nil {
		t.Fatalf("Append(CREATE) err=%v", err)
	}
	for i := 1; i < len(states); i++ {
		if _, err := rec.Append(states[i-1], states[i], provenance.OperationInput{Code: "INSERT", Tool: "test"}, t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("Append(%d) err=%v", i, err)
		}
	}
	sealed, err := e.SealRecord(rec)
	if err != nil {
		t.Fatalf("SealRecord() err=%v", err)
	}
	return rec, sealed
}

func newService(t *testing.T, src designsource.Source, opener RecordOpener, rec Recorder, cache Cache) *Service {
	t.Helper()
	svc, err := New(Deps{
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Source:   src,
		Opener:   opener,
		Recorder: rec,
		Cache:    cache,
		Now:      func() time.Time { return time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC) },
		NewID:    func() string { return "order-1" },
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return svc
}

func TestPlaceOrder_Accepted(t *testing.T) {
	e := newEnvelope(t)
	rec, sealed := sealedChain(t, e, "parent-1")
	src := &mapSource{files: map[string][]byte{
		"plasmid.gb":            []byte("GGATGCATGCTTAA"),
		"metadata_plasmid.bmde": []byte(sealed + "\n"),
	}}
	recorder := &stubRecorder{}
	svc := newService(t, src, e, recorder, nil)

	order, err := svc.PlaceOrder(context.Background(), Request{DesignPath: "plasmid.gb", MetadataPath: "metadata_plasmid.bmde", RequestID: "rid"})
	if err != nil {
		t.Fatalf("PlaceOrder() err=%v", err)
	}
	if order.ID != "order-1" {
		t.Fatalf("order.ID=%q, want order-1", order.ID)
	}
	if got := len(order.History.Revisions); got != 3 {
		t.Fatalf("revisions=%d, want 3", got)
	}
	if order.History.InitialDesign != "ATGCATGC" {
		t.Fatalf("InitialDesign=%q", order.History.InitialDesign)
	}

	if len(recorder.audits) != 1 {
		t.Fatalf("audits=%d, want 1", len(recorder.audits))
	}
	ev := recorder.audits[0]
	if ev.Action != auditlog.ActionOrderAccepted || ev.MetadataID != rec.ID || ev.Reason != "" || ev.RequestID != "rid" {
		t.Fatalf("audit event=%+v", ev)
	}
	if ev.DesignChecksum != rec.DesignChecksum {
		t.Fatalf("audit checksum=%q, want %q", ev.DesignChecksum, rec.DesignChecksum)
	}
	if len(recorder.derived) != 1 || recorder.derived[0].ChildID != rec.ID || recorder.derived[0].ParentID != "parent-1" {
		t.Fatalf("derived=%+v", recorder.derived)
	}
}

func TestRevisions_NoParentRecordsNoLineage(t *testing.T) {
	e := newEnvelope(t)
	_, sealed := sealedChain(t, e, "")
	src := &mapSource{files: map[string][]byte{"d": []byte("GGATGCATGCTTAA"), "m": []byte(sealed)}}
	recorder := &stubRecorder{}
	svc := newService(t, src, e, recorder, nil)

	hist, err := svc.Revisions(context.Background(), Request{DesignPath: "d", MetadataPath: "m"})
	if err != nil {
		t.Fatalf("Revisions() err=%v", err)
	}
	if hist.Revisions[0].Number != 1 || hist.Revisions[2].Design != "GGATGCATGCTTAA" {
		t.Fatalf("revisions=%+v", hist.Revisions)
	}
	if len(recorder.derived) != 0 {
		t.Fatalf("derived=%d, want 0", len(recorder.derived))
	}
	if recorder.audits[0].Action != auditlog.ActionRevisionsServed {
		t.Fatalf("action=%q", recorder.audits[0].Action)
	}
}

func TestPlaceOrder_Rejections(t *testing.T) {
	e := newEnvelope(t)
	_, sealed := sealedChain(t, e, "")

	cases := []struct {
		name   string
		files  map[string][]byte
		opener RecordOpener
		want   Reason
	}{
		{
			name:   "tampered design",
			files:  map[string][]byte{"d": []byte("GGATGCATGCTTAT"), "m": []byte(sealed)},
			opener: e,
			want:   ReasonMismatch,
		},
		{
			name:   "garbage sidecar",
			files:  map[string][]byte{"d": []byte("GGATGCATGCTTAA"), "m": []byte("not an envelope")},
			opener: e,
			want:   ReasonMalformed,
		},
		{
			name:   "missing design",
			files:  map[string][]byte{"m": []byte(sealed)},
			opener: e,
			want:   ReasonNotFound,
		},
		{
			name:   "no key",
			files:  map[string][]byte{"d": []byte("GGATGCATGCTTAA"), "m": []byte(sealed)},
			opener: nil,
			want:   ReasonMissingKey,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := &stubRecorder{}
			svc := newService(t, &mapSource{files: tc.files}, tc.opener, recorder, nil)
			_, err := svc.PlaceOrder(context.Background(), Request{DesignPath: "d", MetadataPath: "m"})
			var rej *Rejection
			if !errors.As(err, &rej) {
				t.Fatalf("PlaceOrder() err=%v, want *Rejection", err)
			}
			if rej.Reason != tc.want {
				t.Fatalf("reason=%q, want %q (err=%v)", rej.Reason, tc.want, rej.Err)
			}
			if rej.Message == "" {
				t.Fatalf("empty message")
			}
			if len(recorder.audits) != 1 || recorder.audits[0].Action != auditlog.ActionOrderRejected || recorder.audits[0].Reason != string(tc.want) {
				t.Fatalf("audits=%+v", recorder.audits)
			}
		})
	}
}

func TestPlaceOrder_OversizedFileIsMalformed(t *testing.T) {
	e := newEnvelope(t)
	_, sealed := sealedChain(t, e, "")
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "m"), []byte(sealed), 0o644); err != nil {
		t.Fatalf("WriteFile err=%v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "d"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile err=%v", err)
	}
	if err := os.Truncate(filepath.Join(root, "d"), designsource.MaxFileBytes+1); err != nil {
		t.Fatalf("Truncate err=%v", err)
	}

	recorder := &stubRecorder{}
	svc := newService(t, designsource.Dir{Root: root}, e, recorder, nil)
	_, err := svc.PlaceOrder(context.Background(), Request{DesignPath: "d", MetadataPath: "m"})
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("PlaceOrder() err=%v, want *Rejection", err)
	}
	if rej.Reason != ReasonMalformed {
		t.Fatalf("reason=%q, want %q", rej.Reason, ReasonMalformed)
	}
	if len(recorder.audits) != 1 || recorder.audits[0].Reason != string(ReasonMalformed) {
		t.Fatalf("audits=%+v", recorder.audits)
	}
}

func TestPlaceOrder_WrongKeyIsMalformed(t *testing.T) {
	e := newEnvelope(t)
	_, sealed := sealedChain(t, e, "")
	other, err := envelope.New(envelope.Config{Key: "ffffffffffffffffffffffffffffffff"})
	if err != nil {
		t.Fatalf("envelope.New() err=%v", err)
	}
	svc := newService(t, &mapSource{files: map[string][]byte{"d": []byte("GGATGCATGCTTAA"), "m": []byte(sealed)}}, other, nil, nil)
	_, err = svc.PlaceOrder(context.Background(), Request{DesignPath: "d", MetadataPath: "m"})
	var rej *Rejection
	if !errors.As(err, &rej) || rej.Reason != ReasonMalformed {
		t.Fatalf("PlaceOrder() err=%v, want malformed rejection", err)
	}
}

func TestPlaceOrder_InfrastructureErrorIsNotRejection(t *testing.T) {
	src := &mapSource{err: errors.New("bucket unreachable")}
	recorder := &stubRecorder{}
	svc := newService(t, src, newEnvelope(t), recorder, nil)

	_, err := svc.PlaceOrder(context.Background(), Request{DesignPath: "d", MetadataPath: "m"})
	if err == nil {
		t.Fatalf("PlaceOrder() expected error")
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		t.Fatalf("PlaceOrder() err=%v, want plain error", err)
	}
	if len(recorder.audits) != 0 {
		t.Fatalf("audits=%d, want 0", len(recorder.audits))
	}
}

func TestPlaceOrder_AuditFailureDoesNotRejectOrder(t *testing.T) {
	e := newEnvelope(t)
	_, sealed := sealedChain(t, e, "p")
	src := &mapSource{files: map[string][]byte{"d": []byte("GGATGCATGCTTAA"), "m": []byte(sealed)}}
	svc := newService(t, src, e, &stubRecorder{err: errors.New("db down")}, nil)

	if _, err := svc.PlaceOrder(context.Background(), Request{DesignPath: "d", MetadataPath: "m"}); err != nil {
		t.Fatalf("PlaceOrder() err=%v", err)
	}
}

func TestPlaceOrder_UsesCache(t *testing.T) {
	cache, err := OpenBadgerCache(CacheConfig{TTL: time.Minute}, nil)
	if err != nil {
		t.Fatalf("OpenBadgerCache() err=%v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	e := newEnvelope(t)
	_, sealed := sealedChain(t, e, "")
	src := &mapSource{files: map[string][]byte{
		"d":   []byte("GGATGCATGCTTAA"),
		"bad": []byte("GGATGCATGCTTAT"),
		"m":   []byte(sealed),
	}}
	opener := &countingOpener{RecordOpener: e}
	svc := newService(t, src, opener, nil, cache)

	for i := 0; i < 3; i++ {
		order, err := svc.PlaceOrder(context.Background(), Request{DesignPath: "d", MetadataPath: "m"})
		if err != nil {
			t.Fatalf("PlaceOrder(%d) err=%v", i, err)
		}
		if len(order.History.Revisions) != 3 || order.History.InitialDesign != "ATGCATGC" {
			t.Fatalf("PlaceOrder(%d) history=%+v", i, order.History)
		}
	}
	if opener.opens != 1 {
		t.Fatalf("opens=%d, want 1", opener.opens)
	}

	for i := 0; i < 2; i++ {
		_, err := svc.PlaceOrder(context.Background(), Request{DesignPath: "bad", MetadataPath: "m"})
		var rej *Rejection
		if !errors.As(err, &rej) || rej.Reason != ReasonMismatch {
			t.Fatalf("PlaceOrder(bad,%d) err=%v, want mismatch", i, err)
		}
	}
	if opener.opens != 2 {
		t.Fatalf("opens=%d, want 2", opener.opens)
	}
}

func TestLineage(t *testing.T) {
	recorder := &stubRecorder{graph: lineageevent.Graph{Nodes: []string{"a", "b"}}}
	svc := newService(t, &mapSource{}, newEnvelope(t), recorder, nil)
	g, err := svc.Lineage(context.Background(), "a", 3, 10)
	if err != nil {
		t.Fatalf("Lineage() err=%v", err)
	}
	if g.Root != "a" || len(g.Nodes) != 2 {
		t.Fatalf("graph=%+v", g)
	}

	bare := newService(t, &mapSource{}, newEnvelope(t), nil, nil)
	if _, err := bare.Lineage(context.Background(), "a", 3, 10); err == nil {
		t.Fatalf("Lineage() expected error without recorder")
	}
}

func TestReady(t *testing.T) {
	if err := newService(t, &mapSource{}, newEnvelope(t), nil, nil).Ready(context.Background()); err != nil {
		t.Fatalf("Ready() err=%v", err)
	}
	err := newService(t, &mapSource{}, nil, nil, nil).Ready(context.Background())
	if !errors.Is(err, provenance.ErrConfiguration) {
		t.Fatalf("Ready() err=%v, want configuration error", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Reason
		ok   bool
	}{
		{err: fmt.Errorf("x: %w", designsource.ErrNotFound), want: ReasonNotFound, ok: true},
		{err: designsource.ErrInvalidName, want: ReasonNotFound, ok: true},
		{err: provenance.ConfigurationError("op", "no key"), want: ReasonMissingKey, ok: true},
		{err: provenance.FormatError("op", "bad"), want: ReasonMalformed, ok: true},
		{err: fmt.Errorf("big.gb exceeds limit: %w", designsource.ErrTooLarge), want: ReasonMalformed, ok: true},
		{err: provenance.IntegrityError("op", "bad"), want: ReasonMismatch, ok: true},
		{err: provenance.PatchError("op", "bad"), want: ReasonMismatch, ok: true},
		{err: errors.New("other")},
		{err: nil},
	}
	for _, tc := range cases {
		got, ok := Classify(tc.err)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("Classify(%v)=(%q,%v), want (%q,%v)", tc.err, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNew_RequiresSource(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatalf("New() expected error without source")
	}
}
