package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/nimasrn/digest-dispatcher/internal/dispatch"
	"github.com/nimasrn/digest-dispatcher/internal/dispatcher"
	"github.com/nimasrn/digest-dispatcher/internal/model"
	"github.com/nimasrn/digest-dispatcher/internal/repository"
	"github.com/nimasrn/digest-dispatcher/internal/services"
	xhttp "github.com/nimasrn/digest-dispatcher/pkg/http"
	"github.com/nimasrn/digest-dispatcher/pkg/logger"
)

type DigestService interface {
	SendNow(ctx context.Context, req dispatcher.SendNowRequest) (*dispatcher.SendNowResult, error)
	Preview(ctx context.Context, tenantID int64, displayName, timezone string) (*model.ReportDocument, error)
	DueCheck(ctx context.Context, id int64) (*services.DueCheck, error)
	Stats() map[string]interface{}
}

type DigestHandler struct {
	svc DigestService
}

func RegisterDigestRoutes(e *router.Group, h *DigestHandler) {
	e.POST("/digests/send-now", h.SendNow)
	e.POST("/digests/preview", h.Preview)
	e.GET("/recipients/{id}/due", h.DueCheck)
	e.GET("/scheduler/stats", h.Stats)
}

func NewDigestHandler(svc DigestService) *DigestHandler {
	return &DigestHandler{
		svc: svc,
	}
}

type previewRequest struct {
	TenantID    int64  `json:"tenant_id"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"timezone,omitempty"`
}

func (h *DigestHandler) SendNow(ctx *xhttp.RequestCtx) {
	var req dispatcher.SendNowRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := h.svc.SendNow(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, res)
}

func (h *DigestHandler) Preview(ctx *xhttp.RequestCtx) {
	var req previewRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	doc, err := h.svc.Preview(ctx, req.TenantID, req.DisplayName, req.Timezone)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	ctx.Response.Header.Set("Content-Type", "text/html; charset=utf-8")
	ctx.Response.Header.Set("X-Digest-Subject", doc.Subject)
	ctx.Response.SetStatusCode(xhttp.StatusOK)
	ctx.Response.SetBodyString(doc.HTML)
}

func (h *DigestHandler) DueCheck(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid recipient id")
		return
	}

	check, err := h.svc.DueCheck(ctx, id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, check)
}

func (h *DigestHandler) Stats(ctx *xhttp.RequestCtx) {
	writeJSON(ctx, xhttp.StatusOK, h.svc.Stats())
}

func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidTenant),
		errors.Is(err, model.ErrInvalidRecipient),
		errors.Is(err, dispatch.ErrEmptyDestination):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, repository.ErrRecipientNotFound),
		errors.Is(err, repository.ErrTenantNotFound):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrDispatchFailed):
		writeError(ctx, xhttp.StatusBadGateway, err.Error())
	default:
		logger.Error("digest request failed", "path", string(ctx.Path()), "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, ok := ctx.UserValue(name).(string)
	if !ok {
		return 0, fmt.Errorf("missing path parameter %s", name)
	}
	return strconv.ParseInt(v, 10, 64)
}
