// Package verifier is the provider-side verification boundary. It resolves a
// design file and its sealed metadata sidecar, proves the design matches the
// record's provenance chain, and records every decision.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-labs/bmde-go/internal/designsource"
	"github.com/lattice-labs/bmde-go/internal/platform/auditlog"
	"github.com/lattice-labs/bmde-go/internal/platform/lineageevent"
	"github.com/lattice-labs/bmde-go/internal/provenance"
)

type Reason string

const (
	ReasonMismatch   Reason = "mismatch"
	ReasonMalformed  Reason = "malformed"
	ReasonMissingKey Reason = "missing_key"
	ReasonNotFound   Reason = "not_found"
)

const (
	OperationOrder     = "order"
	OperationRevisions = "revisions"
)

// Messages returned to the client per reason.
var messages = map[Reason]string{
	ReasonMismatch:   "Design file and metadata file do not match. Please upload matching files.",
	ReasonMalformed:  "Metadata file could not be read. Please upload a valid metadata file.",
	ReasonMissingKey: "Verification is unavailable: no encryption key is configured.",
	ReasonNotFound:   "Design file or metadata file was not found.",
}

// Rejection is a classified verification failure. Err is kept for logs and
// never sent to clients.
type Rejection struct {
	Reason  Reason
	Message string
	Err     error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Err.Error()
}

func (r *Rejection) Unwrap() error { return r.Err }

// Classify maps an error to a rejection reason. It reports false for errors
// that are not a property of the submitted files, such as a failing store.
func Classify(err error) (Reason, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, designsource.ErrNotFound), errors.Is(err, designsource.ErrInvalidName):
		return ReasonNotFound, true
	case errors.Is(err, provenance.ErrConfiguration):
		return ReasonMissingKey, true
	case errors.Is(err, provenance.ErrFormat), errors.Is(err, designsource.ErrTooLarge):
		return ReasonMalformed, true
	case errors.Is(err, provenance.ErrIntegrity), errors.Is(err, provenance.ErrPatch):
		return ReasonMismatch, true
	}
	return "", false
}

func reject(err error) error {
	reason, ok := Classify(err)
	if !ok {
		return err
	}
	return &Rejection{Reason: reason, Message: messages[reason], Err: err}
}

// RecordOpener decrypts and parses a metadata sidecar. *envelope.Envelope
// satisfies it.
type RecordOpener interface {
	OpenRecord(sealed string) (provenance.Record, error)
	Fingerprint() (string, error)
}

// Recorder persists verification decisions and provenance edges.
type Recorder interface {
	RecordVerification(ctx context.Context, event auditlog.Event) error
	RecordDerivation(ctx context.Context, event lineageevent.Event) error
	Subgraph(ctx context.Context, root string, depth, maxEdges int) (lineageevent.Graph, error)
}

type Request struct {
	DesignPath   string
	MetadataPath string
	RequestID    string
	IP           net.IP
	UserAgent    string
}

type Order struct {
	ID      string
	History provenance.History
}

type Deps struct {
	Logger   *slog.Logger
	Source   designsource.Source
	Opener   RecordOpener
	Recorder Recorder
	Cache    Cache
	Actor    string
	Now      func() time.Time
	NewID    func() string
}

type Service struct {
	logger   *slog.Logger
	source   designsource.Source
	opener   RecordOpener
	recorder Recorder
	cache    Cache
	actor    string
	now      func() time.Time
	newID    func() string
}

func New(deps Deps) (*Service, error) {
	if deps.Source == nil {
		return nil, errors.New("design source is required")
	}
	s := &Service{
		logger:   deps.Logger,
		source:   deps.Source,
		opener:   deps.Opener,
		recorder: deps.Recorder,
		cache:    deps.Cache,
		actor:    strings.TrimSpace(deps.Actor),
		now:      deps.Now,
		newID:    deps.NewID,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.actor == "" {
		s.actor = "provider"
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// Ready reports whether the service can verify anything at all.
func (s *Service) Ready(ctx context.Context) error {
	if s.opener == nil {
		return provenance.ConfigurationError("ready", "no encryption key configured")
	}
	_, err := s.opener.Fingerprint()
	return err
}

// PlaceOrder accepts an order only if the design matches its metadata and
// the whole changelog reconstructs. Rejections are returned as *Rejection.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (Order, error) {
	history, err := s.verify(ctx, OperationOrder, req)
	if err != nil {
		return Order{}, err
	}
	return Order{ID: s.newID(), History: history}, nil
}

// Revisions returns the verified revision history of the submitted design.
func (s *Service) Revisions(ctx context.Context, req Request) (provenance.History, error) {
	return s.verify(ctx, OperationRevisions, req)
}

// Lineage returns the recorded provenance forest around one record.
func (s *Service) Lineage(ctx context.Context, metadataID string, depth, maxEdges int) (lineageevent.Graph, error) {
	if s.recorder == nil {
		return lineageevent.Graph{}, errors.New("lineage store is not configured")
	}
	return s.recorder.Subgraph(ctx, metadataID, depth, maxEdges)
}

func (s *Service) verify(ctx context.Context, operation string, req Request) (provenance.History, error) {
	start := s.now()
	defer func() {
		verificationDuration.WithLabelValues(operation).Observe(s.now().Sub(start).Seconds())
	}()

	history, out, err := s.resolveAndCheck(ctx, operation, req)
	if err != nil {
		var rej *Rejection
		if !errors.As(err, &rej) {
			verificationsTotal.WithLabelValues(operation, "error").Inc()
			return provenance.History{}, err
		}
		verificationsTotal.WithLabelValues(operation, string(rej.Reason)).Inc()
		s.logger.Info("verification rejected",
			"request_id", req.RequestID,
			"operation", operation,
			"reason", rej.Reason,
			"design_path", req.DesignPath,
			"metadata_path", req.MetadataPath,
			"error", rej.Err,
		)
		s.audit(ctx, operation, req, out, rej.Reason)
		return provenance.History{}, rej
	}

	verificationsTotal.WithLabelValues(operation, "ok").Inc()
	revisionsPerChain.Observe(float64(len(history.Revisions)))
	s.logger.Info("verification accepted",
		"request_id", req.RequestID,
		"operation", operation,
		"metadata_id", history.ID,
		"revisions", len(history.Revisions),
	)
	s.audit(ctx, operation, req, out, "")
	s.derive(ctx, req, history.Header)
	return history, nil
}

// checked carries what is known about the submission for the audit trail,
// even when verification fails part way.
type checked struct {
	metadataID string
	checksum   string
}

func (s *Service) resolveAndCheck(ctx context.Context, operation string, req Request) (provenance.History, checked, error) {
	var out checked

	design, err := s.source.Open(ctx, req.DesignPath)
	if err != nil {
		return provenance.History{}, out, reject(fmt.Errorf("design file: %w", err))
	}
	sealed, err := s.source.Open(ctx, req.MetadataPath)
	if err != nil {
		return provenance.History{}, out, reject(fmt.Errorf("metadata file: %w", err))
	}
	out.checksum = provenance.Checksum(string(design))

	if s.opener == nil {
		return provenance.History{}, out, reject(provenance.ConfigurationError("verify", "no encryption key configured"))
	}

	key, cached := s.lookup(operation, design, sealed)
	if cached != nil {
		if cached.History != nil {
			h := *cached.History
			h.InitialDesign = cached.InitialDesign
			out.metadataID = h.ID
			return h, out, nil
		}
		return provenance.History{}, out, &Rejection{Reason: cached.Reason, Message: cached.Message, Err: errors.New("cached rejection")}
	}

	history, err := s.check(string(design), string(sealed), &out)
	s.store(key, history, err)
	return history, out, err
}

func (s *Service) check(design, sealed string, out *checked) (provenance.History, error) {
	rec, err := s.opener.OpenRecord(sealed)
	if err != nil {
		return provenance.History{}, reject(err)
	}
	out.metadataID = rec.ID

	history, err := provenance.ReconstructRevisions(rec, design)
	if err != nil {
		return provenance.History{}, reject(err)
	}
	return history, nil
}

func (s *Service) lookup(operation string, design, sealed []byte) ([]byte, *Outcome) {
	if s.cache == nil {
		return nil, nil
	}
	fingerprint, err := s.opener.Fingerprint()
	if err != nil {
		return nil, nil
	}
	key := cacheKey(operation, fingerprint, design, sealed)
	outcome, ok, err := s.cache.Get(key)
	if err != nil {
		s.logger.Warn("verification cache read failed", "error", err)
		cacheLookups.WithLabelValues("error").Inc()
		return key, nil
	}
	if !ok {
		cacheLookups.WithLabelValues("miss").Inc()
		return key, nil
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return key, &outcome
}

// store caches deterministic outcomes only; a missing key or an I/O failure
// may resolve itself on the next attempt.
func (s *Service) store(key []byte, history provenance.History, err error) {
	if s.cache == nil || key == nil {
		return
	}
	var outcome Outcome
	if err != nil {
		var rej *Rejection
		if !errors.As(err, &rej) || rej.Reason == ReasonMissingKey || rej.Reason == ReasonNotFound {
			return
		}
		outcome = Outcome{Reason: rej.Reason, Message: rej.Message}
	} else {
		h := history
		outcome = Outcome{History: &h, InitialDesign: history.InitialDesign}
	}
	if err := s.cache.Put(key, outcome); err != nil {
		s.logger.Warn("verification cache write failed", "error", err)
	}
}

func (s *Service) audit(ctx context.Context, operation string, req Request, out checked, reason Reason) {
	if s.recorder == nil {
		return
	}
	event := auditlog.Event{
		OccurredAt:     s.now().UTC(),
		Actor:          s.actor,
		Action:         auditAction(operation, reason == ""),
		MetadataID:     out.metadataID,
		DesignPath:     req.DesignPath,
		MetadataPath:   req.MetadataPath,
		DesignChecksum: out.checksum,
		Reason:         string(reason),
		RequestID:      req.RequestID,
		IP:             req.IP,
		UserAgent:      req.UserAgent,
		Payload:        map[string]any{"operation": operation},
	}
	if err := s.recorder.RecordVerification(ctx, event); err != nil {
		recordErrors.WithLabelValues("audit").Inc()
		s.logger.Error("audit insert failed", "request_id", req.RequestID, "error", err)
	}
}

func (s *Service) derive(ctx context.Context, req Request, header provenance.Header) {
	if s.recorder == nil || header.ParentMetadataID == nil || strings.TrimSpace(*header.ParentMetadataID) == "" {
		return
	}
	if strings.TrimSpace(*header.ParentMetadataID) == header.ID {
		s.logger.Warn("record names itself as parent", "metadata_id", header.ID)
		return
	}
	metadata := map[string]any{"design_checksum": header.DesignChecksum}
	if header.DesignName != nil {
		metadata["design_name"] = *header.DesignName
	}
	event := lineageevent.Event{
		OccurredAt: s.now().UTC(),
		Actor:      s.actor,
		RequestID:  req.RequestID,
		ChildID:    header.ID,
		ParentID:   *header.ParentMetadataID,
		Metadata:   metadata,
	}
	if err := s.recorder.RecordDerivation(ctx, event); err != nil {
		recordErrors.WithLabelValues("lineage").Inc()
		s.logger.Error("lineage insert failed", "request_id", req.RequestID, "metadata_id", header.ID, "error", err)
	}
}

func auditAction(operation string, accepted bool) string {
	switch {
	case operation == OperationOrder && accepted:
		return auditlog.ActionOrderAccepted
	case operation == OperationOrder:
		return auditlog.ActionOrderRejected
	case accepted:
		return auditlog.ActionRevisionsServed
	default:
		return auditlog.ActionRevisionsRejected
	}
}
