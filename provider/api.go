package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lattice-labs/bmde-go/internal/platform/httpserver"
	"github.com/lattice-labs/bmde-go/internal/platform/lineageevent"
	"github.com/lattice-labs/bmde-go/internal/provenance"
	"github.com/lattice-labs/bmde-go/internal/verifier"
)

const (
	msgFilesRequired = "Both design file and metadata file are required."
	msgBadRequest    = "Request body must be a JSON object with designFilePath and metadataFilePath."
	msgOrderPlaced   = "Order placed successfully."
)

type verificationService interface {
	PlaceOrder(ctx context.Context, req verifier.Request) (verifier.Order, error)
	Revisions(ctx context.Context, req verifier.Request) (provenance.History, error)
	Lineage(ctx context.Context, metadataID string, depth, maxEdges int) (lineageevent.Graph, error)
}

type providerAPI struct {
	logger   *slog.Logger
	svc      verificationService
	validate *validator.Validate
}

func newProviderAPI(logger *slog.Logger, svc verificationService) *providerAPI {
	return &providerAPI{
		logger:   logger,
		svc:      svc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (api *providerAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /order", api.handleOrder)
	mux.HandleFunc("POST /revisions", api.handleRevisions)
	mux.HandleFunc("GET /lineage/{metadata_id}", api.handleLineage)
}

type orderRequest struct {
	DesignFilePath   string `json:"designFilePath" validate:"required"`
	MetadataFilePath string `json:"metadataFilePath" validate:"required"`
}

type rejectionResponse struct {
	Error   bool            `json:"error"`
	Reason  verifier.Reason `json:"reason,omitempty"`
	Message string          `json:"message"`
}

type orderResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

type revisionsResponse struct {
	Error bool `json:"error"`
	provenance.Header
	Revisions []provenance.Revision `json:"revisions"`
}

func (api *providerAPI) handleOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := api.decodeOrder(w, r)
	if !ok {
		return
	}
	order, err := api.svc.PlaceOrder(r.Context(), req)
	if err != nil {
		api.writeVerifyError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, orderResponse{
		Error:   false,
		Message: msgOrderPlaced,
		OrderID: order.ID,
	})
}

func (api *providerAPI) handleRevisions(w http.ResponseWriter, r *http.Request) {
	req, ok := api.decodeOrder(w, r)
	if !ok {
		return
	}
	history, err := api.svc.Revisions(r.Context(), req)
	if err != nil {
		api.writeVerifyError(w, r, err)
		return
	}
	revisions := history.Revisions
	if revisions == nil {
		revisions = []provenance.Revision{}
	}
	api.writeJSON(w, http.StatusOK, revisionsResponse{
		Error:     false,
		Header:    history.Header,
		Revisions: revisions,
	})
}

func (api *providerAPI) handleLineage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("metadata_id"))
	if id == "" {
		api.writeError(w, r, http.StatusBadRequest, "metadata_id_required")
		return
	}
	depth := clampInt(parseIntQuery(r, "depth", 3), 1, 10)
	maxEdges := clampInt(parseIntQuery(r, "max_edges", 500), 1, 2000)

	graph, err := api.svc.Lineage(r.Context(), id, depth, maxEdges)
	if err != nil {
		api.logger.Error("lineage query failed", "metadata_id", id, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "lineage_unavailable")
		return
	}
	if graph.Edges == nil {
		graph.Edges = []lineageevent.Edge{}
	}
	if graph.Nodes == nil {
		graph.Nodes = []string{}
	}
	api.writeJSON(w, http.StatusOK, graph)
}

func (api *providerAPI) decodeOrder(w http.ResponseWriter, r *http.Request) (verifier.Request, bool) {
	var body orderRequest
	if err := decodeJSON(r, &body); err != nil {
		api.writeJSON(w, http.StatusBadRequest, rejectionResponse{Error: true, Message: msgBadRequest})
		return verifier.Request{}, false
	}
	body.DesignFilePath = strings.TrimSpace(body.DesignFilePath)
	body.MetadataFilePath = strings.TrimSpace(body.MetadataFilePath)
	if err := api.validate.Struct(body); err != nil {
		api.writeJSON(w, http.StatusBadRequest, rejectionResponse{Error: true, Message: msgFilesRequired})
		return verifier.Request{}, false
	}

	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	return verifier.Request{
		DesignPath:   body.DesignFilePath,
		MetadataPath: body.MetadataFilePath,
		RequestID:    requestID,
		IP:           clientIP(r),
		UserAgent:    r.UserAgent(),
	}, true
}

func (api *providerAPI) writeVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	var rej *verifier.Rejection
	if !errors.As(err, &rej) {
		requestID, _ := httpserver.RequestIDFromContext(r.Context())
		api.logger.Error("verification failed", "request_id", requestID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "verification_unavailable")
		return
	}
	api.writeJSON(w, statusForReason(rej.Reason), rejectionResponse{
		Error:   true,
		Reason:  rej.Reason,
		Message: rej.Message,
	})
}

// statusForReason keeps 200 for rejections the client can fix by uploading
// different files, as the web UI expects.
func statusForReason(reason verifier.Reason) int {
	switch reason {
	case verifier.ReasonNotFound:
		return http.StatusNotFound
	case verifier.ReasonMissingKey:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *providerAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *providerAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteError(w, r, status, code)
}

func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// withCORS answers browser preflights for the order UI.
func withCORS(origin string, next http.Handler) http.Handler {
	if origin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
