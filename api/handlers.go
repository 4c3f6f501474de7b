package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"otodom-stats/browser"
	"otodom-stats/config"
	"otodom-stats/models"
	"otodom-stats/queue"
	"otodom-stats/services"
	"otodom-stats/storage"
	"otodom-stats/utils"
)

// TaskQueue is the part of the queue the HTTP layer uses.
type TaskQueue interface {
	EnqueueBatch(ctx context.Context, city string, districts []config.District, roomTypes []models.RoomType, fetchDate time.Time) ([]models.ScrapeTask, error)
	Status(ctx context.Context) models.QueueStatus
	Pending() []models.ScrapeTask
	History() []models.ScrapeTask
	InProgress() *models.ScrapeTask
}

type Handler struct {
	queue    TaskQueue
	writer   storage.AggregateWriter
	reader   storage.AggregateReader
	sessions *browser.Manager
	insights *services.InsightService
	logger   *utils.Logger
	now      func() time.Time
}

// NewHandler builds the handler set. writer, reader and sessions may be nil;
// the endpoints that need them then answer 503.
func NewHandler(q TaskQueue, writer storage.AggregateWriter, reader storage.AggregateReader,
	sessions *browser.Manager, logger *utils.Logger) *Handler {
	return &Handler{
		queue:    q,
		writer:   writer,
		reader:   reader,
		sessions: sessions,
		insights: services.NewInsightService(logger),
		logger:   logger,
		now:      time.Now,
	}
}

type RefreshRequest struct {
	City      string   `json:"city" binding:"required"`
	Districts []string `json:"districts"`
	RoomTypes []string `json:"roomTypes"`
	// FetchDate is YYYY-MM-DD; today when empty.
	FetchDate string `json:"fetchDate"`
	// Replace drops the city's stored aggregates first.
	Replace bool `json:"replace"`
}

// Refresh enqueues one task per district and room type and returns at once.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	city := config.GetCityByCode(req.City)
	if city == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Unsupported city",
			"supported": config.GetCityNames(),
		})
		return
	}

	districts := city.FilterDistricts(req.Districts)
	if len(districts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No matching districts"})
		return
	}

	roomTypes := models.AllRoomTypes()
	if len(req.RoomTypes) > 0 {
		roomTypes = nil
		for _, raw := range req.RoomTypes {
			rt, err := models.ParseRoomType(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			roomTypes = append(roomTypes, rt)
		}
	}

	fetchDate := h.now().UTC().Truncate(24 * time.Hour)
	if req.FetchDate != "" {
		d, err := time.Parse("2006-01-02", req.FetchDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "fetchDate must be YYYY-MM-DD"})
			return
		}
		fetchDate = d
	}

	ctx := c.Request.Context()
	if req.Replace {
		if h.writer == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Aggregate storage not configured"})
			return
		}
		if err := h.writer.DeleteAggregatesForCity(ctx, city.Code); err != nil {
			h.logger.Error("[api] Failed to delete aggregates for %s: %v", city.Code, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete existing aggregates"})
			return
		}
	}

	tasks, err := h.queue.EnqueueBatch(ctx, city.Code, districts, roomTypes, fetchDate)
	if err != nil {
		if errors.Is(err, queue.ErrNothingToQueue) || errors.Is(err, queue.ErrInvalidTarget) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("[api] Failed to enqueue refresh for %s: %v", city.Code, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue tasks"})
		return
	}

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	h.logger.Info("[api] Refresh queued for %s: %d tasks", city.Code, len(tasks))
	c.JSON(http.StatusAccepted, gin.H{
		"enqueued": len(tasks),
		"taskIds":  ids,
		"status":   h.queue.Status(ctx),
	})
}

// Status reports queue counts, the running task and the browser session.
func (h *Handler) Status(c *gin.Context) {
	resp := gin.H{
		"queue":      h.queue.Status(c.Request.Context()),
		"inProgress": h.queue.InProgress(),
	}
	if h.sessions != nil {
		if s := h.sessions.Current(); s != nil {
			resp["session"] = gin.H{
				"id":          s.ID,
				"engine":      s.Engine,
				"createdAt":   s.CreatedAt,
				"pagesServed": s.PagesServed(),
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Tasks lists tasks, optionally filtered by ?status=.
func (h *Handler) Tasks(c *gin.Context) {
	filter := strings.ToUpper(strings.TrimSpace(c.Query("status")))

	var tasks []models.ScrapeTask
	switch filter {
	case "":
		if t := h.queue.InProgress(); t != nil {
			tasks = append(tasks, *t)
		}
		tasks = append(tasks, h.queue.Pending()...)
		tasks = append(tasks, h.queue.History()...)
	case string(models.StatusPending):
		tasks = h.queue.Pending()
	case string(models.StatusRetry):
		for _, t := range h.queue.Pending() {
			if t.Status == models.StatusRetry {
				tasks = append(tasks, t)
			}
		}
	case string(models.StatusInProgress):
		if t := h.queue.InProgress(); t != nil {
			tasks = append(tasks, *t)
		}
	case string(models.StatusCompleted), string(models.StatusFailed):
		for _, t := range h.queue.History() {
			if string(t.Status) == filter {
				tasks = append(tasks, t)
			}
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status filter"})
		return
	}

	if tasks == nil {
		tasks = []models.ScrapeTask{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(tasks), "tasks": tasks})
}

// Aggregates serves stored statistics for a city. ?summary=true adds a
// per-room-type and per-district summary.
func (h *Handler) Aggregates(c *gin.Context) {
	city := config.GetCityByCode(c.Param("city"))
	if city == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown city"})
		return
	}
	if h.reader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Aggregate storage not configured"})
		return
	}

	records, err := h.reader.ListAggregates(c.Request.Context(), city.Code)
	if err != nil {
		h.logger.Error("[api] Failed to list aggregates for %s: %v", city.Code, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get aggregates"})
		return
	}
	if records == nil {
		records = []storage.AggregateRecord{}
	}

	resp := gin.H{"city": city.Code, "count": len(records), "aggregates": records}
	if c.Query("summary") == "true" {
		resp["summary"] = h.insights.Generate(city.Code, records)
	}
	c.JSON(http.StatusOK, resp)
}

// Cities lists the supported cities and their districts.
func (h *Handler) Cities(c *gin.Context) {
	c.JSON(http.StatusOK, config.SupportedCities)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
