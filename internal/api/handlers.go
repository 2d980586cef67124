package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/agent"
	"github.com/wwwzy/ShopAgent/internal/cart"
	"github.com/wwwzy/ShopAgent/internal/service"
)

const maxBodyBytes = 1 << 20

type ragRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id"`
}

type cartEntry struct {
	Price           *float64 `json:"price"`
	Quantity        int      `json:"quantity"`
	Currency        string   `json:"currency"`
	ProductImageURL *string  `json:"product_image_url"`
	TotalPrice      *float64 `json:"total_price"`
}

type ragResponse struct {
	RequestID     string             `json:"request_id"`
	Answer        string             `json:"answer"`
	UsedImageURLs []service.ImageRef `json:"used_image_urls"`
	TraceID       string             `json:"trace_id"`
	ShoppingCart  []cartEntry        `json:"shopping_cart"`
	Termination   string             `json:"termination"`
}

type feedbackRequest struct {
	FeedbackScore      *int   `json:"feedback_score"`
	FeedbackText       string `json:"feedback_text"`
	TraceID            string `json:"trace_id"`
	ThreadID           string `json:"thread_id"`
	FeedbackSourceType string `json:"feedback_source_type"`
}

type feedbackResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func (s *Server) handleRAG(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	ans, err := s.assistant.Ask(r.Context(), req.Query, req.ThreadID)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidRequest) {
			s.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("rag request failed",
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.String("thread_id", req.ThreadID),
			zap.Error(err),
		)
		s.writeError(w, r, http.StatusInternalServerError, "internal server error")
		return
	}

	images := ans.UsedImages
	if images == nil {
		images = []service.ImageRef{}
	}
	s.writeJSON(w, http.StatusOK, ragResponse{
		RequestID:     RequestIDFrom(r.Context()),
		Answer:        ans.Answer,
		UsedImageURLs: images,
		TraceID:       ans.TraceID,
		ShoppingCart:  cartEntries(ans.ShoppingCart),
		Termination:   string(ans.Termination),
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.assistant.SubmitFeedback(r.Context(), service.Feedback{
		Score:      req.FeedbackScore,
		Text:       req.FeedbackText,
		TraceID:    req.TraceID,
		ThreadID:   req.ThreadID,
		SourceType: req.FeedbackSourceType,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidFeedback) {
			s.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit feedback failed", zap.String("request_id", RequestIDFrom(r.Context())), zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, feedbackResponse{RequestID: RequestIDFrom(r.Context()), Status: "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func cartEntries(lines []cart.Line) []cartEntry {
	out := make([]cartEntry, 0, len(lines))
	for _, l := range lines {
		out = append(out, cartEntry{
			Price:           l.Price,
			Quantity:        l.Quantity,
			Currency:        l.Currency,
			ProductImageURL: l.ProductImageURL,
			TotalPrice:      l.TotalPrice,
		})
	}
	return out
}
