// Package auditlog persists verification decisions as append-only,
// integrity-hashed audit events.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	ActionOrderAccepted     = "order.accepted"
	ActionOrderRejected     = "order.rejected"
	ActionRevisionsServed   = "revisions.served"
	ActionRevisionsRejected = "revisions.rejected"
)

type Event struct {
	OccurredAt time.Time
	Actor      string
	Action     string
	// MetadataID is the record id, when the sidecar could be opened.
	MetadataID     string
	DesignPath     string
	MetadataPath   string
	DesignChecksum string
	Reason         string
	RequestID      string
	IP             net.IP
	UserAgent      string
	Payload        any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.DesignPath) == "" {
		return errors.New("DesignPath is required")
	}
	if strings.TrimSpace(e.MetadataPath) == "" {
		return errors.New("MetadataPath is required")
	}
	return nil
}

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	integrity, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO verification_events (
			occurred_at,
			actor,
			action,
			metadata_id,
			design_path,
			metadata_path,
			design_checksum,
			reason,
			request_id,
			ip,
			user_agent,
			payload,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.Actor),
		strings.TrimSpace(event.Action),
		nullString(event.MetadataID),
		strings.TrimSpace(event.DesignPath),
		strings.TrimSpace(event.MetadataPath),
		nullString(event.DesignChecksum),
		nullString(event.Reason),
		nullString(event.RequestID),
		nullString(ipString(event.IP)),
		nullString(event.UserAgent),
		payloadJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert verification event: %w", err)
	}
	return id, nil
}

func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt     time.Time       `json:"occurred_at"`
		Actor          string          `json:"actor"`
		Action         string          `json:"action"`
		MetadataID     string          `json:"metadata_id,omitempty"`
		DesignPath     string          `json:"design_path"`
		MetadataPath   string          `json:"metadata_path"`
		DesignChecksum string          `json:"design_checksum,omitempty"`
		Reason         string          `json:"reason,omitempty"`
		RequestID      string          `json:"request_id,omitempty"`
		IP             string          `json:"ip,omitempty"`
		UserAgent      string          `json:"user_agent,omitempty"`
		Payload        json.RawMessage `json:"payload"`
	}

	in := integrityInput{
		OccurredAt:     event.OccurredAt.UTC(),
		Actor:          strings.TrimSpace(event.Actor),
		Action:         strings.TrimSpace(event.Action),
		MetadataID:     strings.TrimSpace(event.MetadataID),
		DesignPath:     strings.TrimSpace(event.DesignPath),
		MetadataPath:   strings.TrimSpace(event.MetadataPath),
		DesignChecksum: strings.TrimSpace(event.DesignChecksum),
		Reason:         strings.TrimSpace(event.Reason),
		RequestID:      strings.TrimSpace(event.RequestID),
		IP:             ipString(event.IP),
		UserAgent:      strings.TrimSpace(event.UserAgent),
		Payload:        payloadJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	s := strings.TrimSpace(ip.String())
	if s == "<nil>" {
		return ""
	}
	return s
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
