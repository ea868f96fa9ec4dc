package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/langmodel/internal/inference"
	"github.com/raaihank/langmodel/internal/lm"
	"github.com/raaihank/langmodel/internal/pooling"
	"github.com/raaihank/langmodel/internal/processor"
	"github.com/raaihank/langmodel/internal/vector"
	"github.com/raaihank/langmodel/internal/websocket"
)

// VectorsRequest is the body of POST /v1/vectors
type VectorsRequest struct {
	Texts []string `json:"texts"`
}

// VectorsResponse is returned by POST /v1/vectors
type VectorsResponse struct {
	RequestID   string               `json:"request_id"`
	Model       string               `json:"model"`
	Family      lm.Family            `json:"family"`
	Extraction  pooling.Extraction   `json:"extraction"`
	Dims        int                  `json:"dims"`
	Predictions []pooling.Prediction `json:"predictions"`
}

// SearchRequest is the body of POST /v1/search
type SearchRequest struct {
	Text          string  `json:"text"`
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
}

// ExtractionRequest is the body of PUT /v1/extraction. An omitted layer
// selects the final layer and an omitted ignore_first_token means true.
type ExtractionRequest struct {
	Strategy         pooling.Strategy `json:"strategy"`
	Layer            *int             `json:"layer"`
	IgnoreFirstToken *bool            `json:"ignore_first_token"`
}

// FamilyInfo describes one supported model family
type FamilyInfo struct {
	Name        lm.Family `json:"name"`
	Description string    `json:"description"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo reports the loaded model and server state
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":          "langmodel",
		"version":       Version,
		"model":         s.extractor.Info(),
		"store_enabled": s.searcher != nil,
		"uptime":        time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.wsHub != nil {
		info["websocket"] = s.wsHub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleFamilies(w http.ResponseWriter, r *http.Request) {
	families := lm.AllFamilies()
	out := make([]FamilyInfo, len(families))
	for i, f := range families {
		out[i] = FamilyInfo{Name: f, Description: f.Description()}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleVectors extracts one vector per input text
func (s *Server) handleVectors(w http.ResponseWriter, r *http.Request) {
	requestID := getRequestID(r.Context())
	start := time.Now()

	var req VectorsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Texts) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "texts must not be empty", 0)
		return
	}
	if limit := s.config.Server.MaxTexts; limit > 0 && len(req.Texts) > limit {
		writeError(w, http.StatusBadRequest, "too_many_texts",
			fmt.Sprintf("at most %d texts per request, got %d", limit, len(req.Texts)), 0)
		return
	}

	preds, err := s.extractor.ExtractVectors(r.Context(), req.Texts)
	info := s.extractor.Info()
	s.broadcastExtraction(r, requestID, info, len(req.Texts), start, err)
	if err != nil {
		s.logger.WithRequestID(requestID).Error("Vector extraction failed", zap.Error(err))
		s.writeExtractionError(w, err)
		return
	}
	s.totalVectors.Add(int64(len(preds)))
	s.logger.WithRequestID(requestID).
		LogExtraction(info.Name, info.Extraction.String(), len(req.Texts), info.OutputDims, time.Since(start))

	writeJSON(w, http.StatusOK, VectorsResponse{
		RequestID:   requestID,
		Model:       info.Name,
		Family:      info.Family,
		Extraction:  info.Extraction,
		Dims:        info.OutputDims,
		Predictions: preds,
	})
}

func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.extractor.Info().Extraction)
}

// handleSetExtraction swaps the active strategy and layer
func (s *Server) handleSetExtraction(w http.ResponseWriter, r *http.Request) {
	var req ExtractionRequest
	if !s.decode(w, r, &req) {
		return
	}
	e := pooling.Extraction{
		Strategy:         req.Strategy,
		Layer:            pooling.FinalLayer,
		IgnoreFirstToken: true,
	}
	if e.Strategy == "" {
		e.Strategy = pooling.ReduceMean
	}
	if req.Layer != nil {
		e.Layer = *req.Layer
	}
	if req.IgnoreFirstToken != nil {
		e.IgnoreFirstToken = *req.IgnoreFirstToken
	}

	if err := s.extractor.SetExtraction(e); err != nil {
		s.writeExtractionError(w, err)
		return
	}

	active := s.extractor.Info().Extraction
	if s.wsHub != nil {
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeConfigReload,
			Timestamp: time.Now(),
			RequestID: getRequestID(r.Context()),
			Data: websocket.ConfigReloadEvent{
				Strategy:         string(active.Strategy),
				Layer:            active.Layer,
				IgnoreFirstToken: active.IgnoreFirstToken,
			},
		})
	}
	writeJSON(w, http.StatusOK, active)
}

// handleSearch extracts a query vector and looks up its nearest stored vectors
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text must not be empty", 0)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	info := s.extractor.Info()
	if info.Extraction.Strategy == pooling.PerToken {
		writeError(w, http.StatusBadRequest, "invalid_strategy", "per_token vectors cannot be searched", 0)
		return
	}

	preds, err := s.extractor.ExtractVectors(r.Context(), []string{req.Text})
	if err != nil {
		s.writeExtractionError(w, err)
		return
	}

	// The extraction can change between Info and ExtractVectors.
	if len(preds) == 0 || len(preds[0].Vec) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_strategy", "per_token vectors cannot be searched", 0)
		return
	}

	results, err := s.searcher.FindSimilar(r.Context(), preds[0].Vec, &vector.SearchOptions{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		Model:         info.Name,
		Strategy:      string(info.Extraction.Strategy),
	})
	if err != nil {
		s.logger.Error("Vector search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search_failed", err.Error(), 0)
		return
	}
	if results == nil {
		results = []*vector.SimilarityResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   req.Text,
		"results": results,
	})
}

func (s *Server) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.searcher.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error(), 0)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) broadcastExtraction(r *http.Request, requestID string, info inference.Info, texts int, start time.Time, err error) {
	if s.wsHub == nil {
		return
	}
	ev := websocket.ExtractionEvent{
		RequestID:    requestID,
		Model:        info.Name,
		Family:       string(info.Family),
		Strategy:     string(info.Extraction.Strategy),
		Layer:        info.Extraction.Layer,
		Texts:        texts,
		Dims:         info.OutputDims,
		ClientIP:     websocket.ClientIP(r),
		ProcessingMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeExtraction,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data:      ev,
	})
}

// decode reads a JSON body and writes a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := r.Body
	if s.config.Server.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error(), 0)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), 0)
		return false
	}
	return true
}

// writeExtractionError maps package errors onto HTTP statuses
func (s *Server) writeExtractionError(w http.ResponseWriter, err error) {
	var poolErr *pooling.Error
	var lmErr *lm.Error
	switch {
	case errors.As(err, &poolErr):
		writeError(w, http.StatusBadRequest, poolErr.Type, err.Error(), poolErr.Code)
	case errors.Is(err, inference.ErrNoTexts), errors.Is(err, processor.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), 0)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "canceled", err.Error(), 0)
	case errors.As(err, &lmErr):
		status := http.StatusInternalServerError
		switch lmErr {
		case lm.ErrInvalidInput:
			status = http.StatusBadRequest
		case lm.ErrNotImplemented:
			status = http.StatusNotImplemented
		case lm.ErrBackendUnavailable:
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, lmErr.Type, err.Error(), lmErr.Code)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), 0)
	}
}

func writeError(w http.ResponseWriter, status int, errType, message string, code int) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Type: errType, Message: message, Code: code},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
