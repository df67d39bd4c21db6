package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ratepulse/ratepulse/internal/domain"
	"github.com/ratepulse/ratepulse/internal/repository"
	"github.com/ratepulse/ratepulse/internal/service"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type itemCreateRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type itemResponse struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	RatingCount    int64   `json:"rating_count"`
	AggregateScore float64 `json:"aggregate_score"`
}

type itemListResponse struct {
	Items []domain.ItemSummary `json:"items"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

type ratingRequest struct {
	UserID string `json:"user_id"`
	Score  int    `json:"score"`
}

type ratingResponse struct {
	ItemID     string  `json:"item_id"`
	UserID     string  `json:"user_id"`
	Score      int     `json:"score"`
	NewAverage float64 `json:"new_average"`
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 1
	if val := strings.TrimSpace(query.Get("page")); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil || parsed < 1 {
			s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid page value")
			return
		}
		page = parsed
	}

	limit := 20
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil || parsed < 1 {
			s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid limit value")
			return
		}
		limit = parsed
	}

	userID := strings.TrimSpace(query.Get("user_id"))

	summaries, err := s.listing.List(r.Context(), userID, page, limit)
	if err != nil {
		s.logger.Error("list items failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Failed to list items")
		return
	}

	s.respondJSON(w, http.StatusOK, itemListResponse{Items: summaries, Page: page, Limit: limit})
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return
	}

	var req itemCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required")
		return
	}

	item, err := s.repo.Items.Create(r.Context(), repository.ItemCreateParams{
		Title:   strings.TrimSpace(req.Title),
		Content: req.Content,
	})
	if err != nil {
		s.logger.Error("create item failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Failed to create item")
		return
	}

	w.Header().Set("Location", "/items/"+item.ID)
	s.respondJSON(w, http.StatusCreated, itemResponse{
		ID:             item.ID,
		Title:          item.Title,
		Content:        item.Content,
		RatingCount:    item.RatingCount,
		AggregateScore: item.AggregateScore,
	})
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")
	if itemID == "" {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "missing item id")
		return
	}

	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "user_id is required")
		return
	}

	result, err := s.ingest.Submit(r.Context(), itemID, userID, req.Score)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidScore):
			s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("score must be between %d and %d", s.cfg.RatingMin, s.cfg.RatingMax))
		case errors.Is(err, service.ErrItemNotFound):
			s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
		default:
			s.logger.Error("submit rating failed",
				zap.String("item_id", itemID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Failed to process rating")
		}
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}

	s.respondJSON(w, status, ratingResponse{
		ItemID:     itemID,
		UserID:     userID,
		Score:      result.Score,
		NewAverage: result.NewAverage,
	})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("encode response failed", zap.Error(err))
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

func (s *Server) verifyBearer(header string) bool {
	if header == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token == s.cfg.AuthToken
}
