package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/dlqmanager/pkg/observability/logger"
	"github.com/nimburion/dlqmanager/pkg/remediation"
	"github.com/nimburion/dlqmanager/pkg/version"
)

// Response headers describing an action outcome.
const (
	SequenceHeader = "X-DLQ-Sequence"
	StaleHeader    = "X-DLQ-Stale"
)

// QueueView is the JSON representation of a catalog entry.
type QueueView struct {
	QueueURL            string   `json:"queue_url"`
	QueueARN            string   `json:"queue_arn,omitempty"`
	SourceQueueARN      string   `json:"source_queue_arn,omitempty"`
	SourceQueues        []string `json:"source_queues,omitempty"`
	ApproximateMessages int64    `json:"approximate_messages"`
}

// ResultView is the JSON representation of one per-queue outcome.
type ResultView struct {
	QueueURL string `json:"queue_url"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ResultsResponse is returned by GET /dlqs/results.
type ResultsResponse struct {
	Sequence uint64       `json:"sequence"`
	Results  []ResultView `json:"results"`
}

// ActionBody is the request body of the redrive and purge endpoints.
type ActionBody struct {
	Queues []QueueRef `json:"queues"`
}

// QueueRef accepts either a bare queue URL or an object with a queue_url field.
type QueueRef string

// UnmarshalJSON implements json.Unmarshaler.
func (q *QueueRef) UnmarshalJSON(data []byte) error {
	var url string
	if err := json.Unmarshal(data, &url); err == nil {
		*q = QueueRef(url)
		return nil
	}
	var obj struct {
		QueueURL string `json:"queue_url"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.New("queue must be a url string or an object with queue_url")
	}
	*q = QueueRef(obj.QueueURL)
	return nil
}

type handlers struct {
	catalog       *remediation.Catalog
	controller    *remediation.Controller
	actionTimeout time.Duration
	serviceName   string
	log           logger.Logger
}

func (h *handlers) listQueues(c *gin.Context) {
	queues, err := h.catalog.Refresh(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		writeError(c, err)
		return
	}

	views := make([]QueueView, 0, len(queues))
	for _, q := range queues {
		views = append(views, NewQueueView(q))
	}
	c.JSON(http.StatusOK, views)
}

func (h *handlers) action(kind remediation.ActionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body ActionBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		targets := make([]string, 0, len(body.Queues))
		for _, q := range body.Queues {
			targets = append(targets, string(q))
		}

		// The action runs to completion even if the client disconnects, so the
		// ledger always reflects what the backend did.
		ctx := context.WithoutCancel(c.Request.Context())
		if h.actionTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.actionTimeout)
			defer cancel()
		}

		outcome, err := h.controller.Execute(ctx, kind, targets)
		if err != nil {
			_ = c.Error(err)
			writeError(c, err)
			return
		}

		c.Header(SequenceHeader, strconv.FormatUint(outcome.Request.Sequence, 10))
		if outcome.Stale {
			c.Header(StaleHeader, "true")
		}

		views := NewResultViews(outcome.Results)
		if outcome.Err != nil {
			_ = c.Error(outcome.Err)
			c.AbortWithStatusJSON(http.StatusBadGateway, ErrorResponse{
				Error:     "bad_gateway",
				Code:      CodeBackendUnavailable,
				Message:   remediation.FailedActionMessage,
				RequestID: logger.RequestIDFromContext(c.Request.Context()),
				Details:   map[string]interface{}{"results": views},
			})
			return
		}
		c.JSON(http.StatusOK, views)
	}
}

func (h *handlers) results(c *gin.Context) {
	ledger := h.controller.Ledger()
	c.JSON(http.StatusOK, ResultsResponse{
		Sequence: ledger.Sequence(),
		Results:  NewResultViews(ledger.Snapshot()),
	})
}

func (h *handlers) version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Current(h.serviceName))
}

// NewQueueView converts a catalog entry to its JSON representation.
func NewQueueView(q remediation.Queue) QueueView {
	view := QueueView{
		QueueURL:            q.ID,
		QueueARN:            q.ARN,
		SourceQueues:        q.Sources,
		ApproximateMessages: q.ApproximateMessages,
	}
	if len(q.SourceARNs) > 0 {
		view.SourceQueueARN = q.SourceARNs[0]
	}
	return view
}

// NewResultViews converts ledger entries to their JSON representation.
func NewResultViews(results []remediation.ActionResult) []ResultView {
	views := make([]ResultView, 0, len(results))
	for _, r := range results {
		view := ResultView{QueueURL: r.QueueID}
		if r.Failed {
			view.Error = r.Message
		} else {
			view.Status = r.Message
		}
		views = append(views, view)
	}
	return views
}
