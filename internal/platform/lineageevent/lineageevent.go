// Package lineageevent records and walks the provenance forest formed by
// parentMetadataId references between BMDE records.
package lineageevent

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	NodeTypeRecord    = "bmde_record"
	PredicateDerived  = "derived_from"
	maxEdgesPerLookup = 500
)

// Event is a derived_from edge: Child was derived from Parent.
type Event struct {
	OccurredAt time.Time
	Actor      string
	RequestID  string
	ChildID    string
	ParentID   string
	Metadata   any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(e.ChildID) == "" {
		return errors.New("ChildID is required")
	}
	if strings.TrimSpace(e.ParentID) == "" {
		return errors.New("ParentID is required")
	}
	if strings.TrimSpace(e.ChildID) == strings.TrimSpace(e.ParentID) {
		return errors.New("record cannot derive from itself")
	}
	return nil
}

// Insert records the edge once. A repeated edge is not an error; it returns
// id 0 and inserted=false.
func Insert(ctx context.Context, q QueryRower, event Event) (id int64, inserted bool, err error) {
	if q == nil {
		return 0, false, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, false, err
	}

	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, false, fmt.Errorf("marshal metadata: %w", err)
	}

	integrity, err := ComputeIntegritySHA256(event, metadataJSON)
	if err != nil {
		return 0, false, err
	}

	var requestID sql.NullString
	if strings.TrimSpace(event.RequestID) != "" {
		requestID = sql.NullString{String: strings.TrimSpace(event.RequestID), Valid: true}
	}

	err = q.QueryRowContext(
		ctx,
		`INSERT INTO lineage_events (
			occurred_at,
			actor,
			request_id,
			subject_type,
			subject_id,
			predicate,
			object_type,
			object_id,
			metadata,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (subject_type, subject_id, predicate, object_type, object_id) DO NOTHING
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.Actor),
		requestID,
		NodeTypeRecord,
		strings.TrimSpace(event.ChildID),
		PredicateDerived,
		NodeTypeRecord,
		strings.TrimSpace(event.ParentID),
		metadataJSON,
		integrity,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert lineage event: %w", err)
	}
	return id, true, nil
}

func ComputeIntegritySHA256(event Event, metadataJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt  time.Time       `json:"occurred_at"`
		Actor       string          `json:"actor"`
		RequestID   string          `json:"request_id,omitempty"`
		SubjectType string          `json:"subject_type"`
		SubjectID   string          `json:"subject_id"`
		Predicate   string          `json:"predicate"`
		ObjectType  string          `json:"object_type"`
		ObjectID    string          `json:"object_id"`
		Metadata    json.RawMessage `json:"metadata"`
	}

	in := integrityInput{
		OccurredAt:  event.OccurredAt.UTC(),
		Actor:       strings.TrimSpace(event.Actor),
		RequestID:   strings.TrimSpace(event.RequestID),
		SubjectType: NodeTypeRecord,
		SubjectID:   strings.TrimSpace(event.ChildID),
		Predicate:   PredicateDerived,
		ObjectType:  NodeTypeRecord,
		ObjectID:    strings.TrimSpace(event.ParentID),
		Metadata:    metadataJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

type Edge struct {
	EventID    int64           `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      string          `json:"actor"`
	RequestID  string          `json:"request_id,omitempty"`
	ChildID    string          `json:"child_id"`
	Predicate  string          `json:"predicate"`
	ParentID   string          `json:"parent_id"`
	Metadata   json.RawMessage `json:"metadata"`
}

type Graph struct {
	Root  string   `json:"root"`
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// Subgraph walks derived_from edges in both directions from root, breadth
// first, up to depth hops and maxEdges edges.
func Subgraph(ctx context.Context, q Querier, root string, depth int, maxEdges int) (Graph, error) {
	if q == nil {
		return Graph{}, errors.New("querier is required")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		return Graph{}, errors.New("root is required")
	}

	type queueItem struct {
		ID    string
		Depth int
	}

	nodes := map[string]struct{}{root: {}}
	seenEdges := make(map[int64]struct{})
	edges := make([]Edge, 0, 16)

	queue := []queueItem{{ID: root, Depth: 0}}
	for len(queue) > 0 && len(edges) < maxEdges {
		item := queue[0]
		queue = queue[1:]

		if item.Depth >= depth {
			continue
		}

		limit := maxEdges - len(edges)
		if limit > maxEdgesPerLookup {
			limit = maxEdgesPerLookup
		}

		found, err := edgesTouching(ctx, q, item.ID, limit)
		if err != nil {
			return Graph{}, err
		}
		for _, edge := range found {
			if _, ok := seenEdges[edge.EventID]; ok {
				continue
			}
			seenEdges[edge.EventID] = struct{}{}
			edges = append(edges, edge)

			for _, id := range []string{edge.ChildID, edge.ParentID} {
				if id == "" {
					continue
				}
				if _, ok := nodes[id]; !ok {
					nodes[id] = struct{}{}
					queue = append(queue, queueItem{ID: id, Depth: item.Depth + 1})
				}
			}
			if len(edges) >= maxEdges {
				break
			}
		}
	}

	nodeList := make([]string, 0, len(nodes))
	for id := range nodes {
		nodeList = append(nodeList, id)
	}
	sort.Strings(nodeList)
	sort.Slice(edges, func(i, j int) bool { return edges[i].EventID > edges[j].EventID })

	return Graph{Root: root, Nodes: nodeList, Edges: edges}, nil
}

func edgesTouching(ctx context.Context, q Querier, id string, limit int) ([]Edge, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT event_id, occurred_at, actor, request_id, subject_id, predicate, object_id, metadata
		 FROM lineage_events
		 WHERE predicate = $1
		   AND ((subject_type = $2 AND subject_id = $3) OR (object_type = $2 AND object_id = $3))
		 ORDER BY event_id DESC
		 LIMIT $4`,
		PredicateDerived,
		NodeTypeRecord,
		id,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query lineage events: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var (
			edge        Edge
			requestID   sql.NullString
			metadataRaw []byte
		)
		if err := rows.Scan(&edge.EventID, &edge.OccurredAt, &edge.Actor, &requestID, &edge.ChildID, &edge.Predicate, &edge.ParentID, &metadataRaw); err != nil {
			return nil, fmt.Errorf("scan lineage event: %w", err)
		}
		edge.RequestID = strings.TrimSpace(requestID.String)
		edge.ChildID = strings.TrimSpace(edge.ChildID)
		edge.ParentID = strings.TrimSpace(edge.ParentID)
		edge.Metadata = normalizeJSON(metadataRaw)
		out = append(out, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lineage events: %w", err)
	}
	return out, nil
}

func normalizeJSON(raw []byte) json.RawMessage {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}
