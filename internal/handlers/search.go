package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/search"
)

type SearchHandler struct {
	log           *logger.Logger
	searchService search.Service
}

func NewSearchHandler(log *logger.Logger, ssvc search.Service) *SearchHandler {
	return &SearchHandler{
		log:           log.With("handler", "SearchHandler"),
		searchService: ssvc,
	}
}

type SearchRequest struct {
	Query   string `json:"query"`
	OwnerID string `json:"owner_id"`
	TopK    int    `json:"top_k"`
	// MinScore nil means the service default; an explicit 0 keeps everything.
	MinScore        *float64 `json:"min_score"`
	VideoID         *string  `json:"video_id"`
	Rerank          bool     `json:"rerank"`
	RerankThreshold float64  `json:"rerank_threshold"`
}

// POST /v1/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("invalid request body: %v", err))
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("owner_id must be a valid uuid"))
		return
	}

	params := search.Params{
		Query:           req.Query,
		OwnerID:         ownerID,
		TopK:            req.TopK,
		MinScore:        -1,
		Rerank:          req.Rerank,
		RerankThreshold: req.RerankThreshold,
	}
	if req.MinScore != nil {
		params.MinScore = *req.MinScore
	}
	if req.VideoID != nil && *req.VideoID != "" {
		videoID, err := uuid.Parse(*req.VideoID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("video_id must be a valid uuid"))
			return
		}
		params.VideoID = &videoID
	}

	resp, err := h.searchService.Search(c.Request.Context(), params)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, resp)
}
