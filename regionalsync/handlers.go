package regionalsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/seplag/regional_sync/models"
	"github.com/seplag/regional_sync/utils"
)

// Triggerer starts a cycle on demand.
type Triggerer interface {
	Trigger(ctx context.Context, triggeredBy string) (CycleReport, error)
}

// RunReader reads sync history.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]models.RegionalSyncRun, error)
	GetRun(ctx context.Context, id uint) (*models.RegionalSyncRun, error)
}

type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageId  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func ListActiveHandler(reader *Reader) gin.HandlerFunc {
	return func(c *gin.Context) {
		regionals, err := reader.ListActive(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		items := make([]RegionalResponse, 0, len(regionals))
		for _, r := range regionals {
			items = append(items, toRegionalResponse(r))
		}
		c.JSON(http.StatusOK, RegionalListResponse{Items: items, Total: len(items)})
	}
}

func FindActiveByNameHandler(reader *Reader) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := strings.TrimSpace(c.Param("name"))
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		regional, found, err := reader.FindActiveByName(c.Request.Context(), name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, toRegionalResponse(regional))
	}
}

func TriggerSyncHandler(trigger Triggerer) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := trigger.Trigger(c.Request.Context(), models.SyncTriggeredManual)
		if err == nil {
			c.JSON(http.StatusOK, SyncTriggerResponse{Success: true, Report: &report})
			return
		}
		status := triggerErrorStatus(err)
		resp := SyncTriggerResponse{Success: false, Message: err.Error()}
		if !errors.Is(err, ErrCycleInProgress) && !errors.Is(err, ErrSyncDisabled) {
			resp.Report = &report
		}
		c.JSON(status, resp)
	}
}

func triggerErrorStatus(err error) int {
	var fe *FetchError
	switch {
	case errors.Is(err, ErrCycleInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrSyncDisabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &fe), errors.Is(err, ErrEmptyPayload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func SyncHistoryHandler(runs RunReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		items, err := runs.ListRuns(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, SyncRunListResponse{Items: items})
	}
}

func SyncRunDetailHandler(runs RunReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		run, err := runs.GetRun(c.Request.Context(), uint(id))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

// PubSubPushHandler runs a cycle for each push delivery. It always answers 204
// so Pub/Sub does not redeliver; the ticker is the retry mechanism.
func PubSubPushHandler(trigger Triggerer) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		ctx := c.Request.Context()
		if cid := envelope.Message.Attributes["correlation_id"]; cid != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, cid)
		}
		_, _ = trigger.Trigger(ctx, models.SyncTriggeredPubSub)
		c.Status(http.StatusNoContent)
	}
}

// DisabledTrigger answers manual triggers when REGIONAL_SYNC_ENABLED is off.
type DisabledTrigger struct{}

func (DisabledTrigger) Trigger(context.Context, string) (CycleReport, error) {
	return CycleReport{}, ErrSyncDisabled
}

// Routes holds what RegisterRoutes wires.
type Routes struct {
	Reader     *Reader
	Trigger    Triggerer
	Runs       RunReader
	Auth       gin.HandlerFunc
	EnablePush bool
}

func RegisterRoutes(r gin.IRouter, routes Routes) {
	v1 := r.Group("/v1/regionais")
	v1.GET("", ListActiveHandler(routes.Reader))
	v1.GET("/nome/:name", FindActiveByNameHandler(routes.Reader))

	admin := v1.Group("")
	if routes.Auth != nil {
		admin.Use(routes.Auth)
	}
	if routes.Trigger != nil {
		admin.POST("/sincronizar", TriggerSyncHandler(routes.Trigger))
	}
	if routes.Runs != nil {
		admin.GET("/sync-runs", SyncHistoryHandler(routes.Runs))
		admin.GET("/sync-runs/:id", SyncRunDetailHandler(routes.Runs))
	}

	if routes.EnablePush && routes.Trigger != nil {
		r.POST("/pubsub/regional-sync", PubSubPushHandler(routes.Trigger))
	}
}
