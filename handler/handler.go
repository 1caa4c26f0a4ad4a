package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"student-helpdesk/internal/domain"
	"student-helpdesk/internal/id"
	"student-helpdesk/internal/logger"
	"student-helpdesk/internal/platform"
	"student-helpdesk/internal/signature"
	"student-helpdesk/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	webhookPrefix     = "/webhook/"
)

type Ingester interface {
	IngestBatch(ctx context.Context, envs []domain.Envelope) []usecase.IngestResult
}

// Platform binds an adapter to the secrets used on its webhook route.
type Platform struct {
	Adapter     platform.Adapter
	VerifyToken string
	AppSecret   string
}

type Handler struct {
	ingester  Ingester
	verifier  signature.Verifier
	platforms map[domain.Platform]Platform
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

func NewHandler(ingester Ingester, verifier signature.Verifier, platforms ...Platform) (*Handler, error) {
	if ingester == nil {
		return nil, errors.New("handler: ingester must not be nil")
	}
	h := &Handler{
		ingester:  ingester,
		verifier:  verifier,
		platforms: make(map[domain.Platform]Platform, len(platforms)),
	}
	for _, p := range platforms {
		if p.Adapter == nil {
			return nil, errors.New("handler: platform adapter must not be nil")
		}
		h.platforms[p.Adapter.Platform()] = p
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := strings.TrimSpace(header(req, correlationHeader))
	if correlationID == "" {
		correlationID = id.NewUUID()
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		CorrelationID: correlationID,
		Component:     "helpdesk.handler",
	})

	resp := h.route(ctx, req)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID
	return resp, nil
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	path := strings.TrimRight(req.Path, "/")
	method := strings.ToUpper(req.HTTPMethod)

	if path == "/health" && method == http.MethodGet {
		return jsonResponse(http.StatusOK, healthResponse{OK: true})
	}

	name, ok := strings.CutPrefix(path, webhookPrefix)
	if !ok {
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "Route not found"})
	}
	p, ok := h.platforms[domain.Platform(name)]
	if !ok {
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "Route not found"})
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Platform: name})

	switch method {
	case http.MethodGet:
		return h.verifySubscription(ctx, req, p)
	case http.MethodPost:
		return h.receive(ctx, req, p)
	default:
		resp := jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		resp.Headers["Allow"] = "GET, POST"
		return resp
	}
}

// verifySubscription answers the platform's hub challenge.
func (h *Handler) verifySubscription(ctx context.Context, req events.APIGatewayProxyRequest, p Platform) events.APIGatewayProxyResponse {
	q := req.QueryStringParameters
	mode, token, challenge := q["hub.mode"], q["hub.verify_token"], q["hub.challenge"]

	if mode != "subscribe" || p.VerifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(p.VerifyToken)) != 1 {
		slog.WarnContext(ctx, "webhook verification rejected", "mode", mode)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusForbidden,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       "Forbidden",
		}
	}
	slog.InfoContext(ctx, "webhook verified")
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       challenge,
	}
}

func (h *Handler) receive(ctx context.Context, req events.APIGatewayProxyRequest, p Platform) events.APIGatewayProxyResponse {
	raw := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			slog.WarnContext(ctx, "webhook body is not valid base64", "error", err)
			return jsonResponse(http.StatusBadRequest, errorResponse{Error: "invalid body encoding"})
		}
		raw = decoded
	}

	if err := h.verifier.Verify(raw, header(req, signature.HeaderName), p.AppSecret); err != nil {
		slog.WarnContext(ctx, "webhook signature rejected",
			"code", usecase.ErrorAuth,
			"error", err,
		)
		return jsonResponse(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}

	envs, err := p.Adapter.ParseInbound(raw)
	if err != nil {
		slog.WarnContext(ctx, "webhook payload ignored", "error", err, "body", logger.Truncate(string(raw), 256))
		return jsonResponse(http.StatusOK, statusResponse{Status: "ok"})
	}

	results := h.ingester.IngestBatch(ctx, envs)
	counts := make(map[usecase.Outcome]int, 4)
	for _, r := range results {
		counts[r.Outcome]++
	}
	slog.InfoContext(ctx, "webhook processed",
		"envelopes", len(envs),
		"processed", counts[usecase.OutcomeProcessed],
		"skipped", counts[usecase.OutcomeSkipped],
		"duplicate", counts[usecase.OutcomeDuplicate],
		"failed", counts[usecase.OutcomeFailed],
	)
	return jsonResponse(http.StatusOK, statusResponse{Status: "ok"})
}

// header looks name up case-insensitively in both header maps.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, vs := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

func jsonResponse(status int, body any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"internal error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(buf),
	}
}
