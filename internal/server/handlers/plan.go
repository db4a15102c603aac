package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/studyforge/studyforge/internal/admission"
	apperrors "github.com/studyforge/studyforge/internal/errors"
	"github.com/studyforge/studyforge/internal/metrics"
	"github.com/studyforge/studyforge/internal/observability"
	"github.com/studyforge/studyforge/internal/planner"
)

// Caller-facing messages of the plan endpoint.
const (
	MsgTooManyRequests  = "too many requests, please try again later"
	MsgInvalidBody      = "request body must be a JSON object"
	MsgMethodNotAllowed = "method not allowed"
	MsgConfigError      = "service configuration error, please contact the administrator"
	MsgGenerationFailed = "failed to generate plan, please try again"
)

// maxPlanBodyBytes bounds the request body.
const maxPlanBodyBytes = 64 << 10

// PlanGenerator produces a study plan for a normalized topic.
type PlanGenerator interface {
	Generate(ctx context.Context, topic string) (*planner.Plan, error)
	Model() string
}

// PlanRequest is the body of POST /generate.
type PlanRequest struct {
	Topic any `json:"topic"`
}

// PlanResponse is the success body of POST /generate.
type PlanResponse struct {
	Plan string `json:"plan"`
}

// PlanHandler serves POST /generate.
type PlanHandler struct {
	limiter   admission.Limiter
	generator PlanGenerator
	backend   string
}

// NewPlanHandler wires the handler. backend labels limiter failure metrics.
func NewPlanHandler(limiter admission.Limiter, generator PlanGenerator, backend string) *PlanHandler {
	if backend == "" {
		backend = "memory"
	}
	return &PlanHandler{limiter: limiter, generator: generator, backend: backend}
}

func (h *PlanHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondWithMessage(w, r, apperrors.NewMethodNotAllowedError(MsgMethodNotAllowed))
		return
	}

	identity := ClientIdentity(r)

	if !h.admit(w, r, identity) {
		metrics.RecordPlanRequest(metrics.OutcomeRejected)
		respondWithMessage(w, r, apperrors.NewRateLimitedError(MsgTooManyRequests))
		return
	}

	topic, err := decodeTopic(w, r)
	if err != nil {
		metrics.RecordPlanRequest(metrics.OutcomeInvalid)
		respondWithMessage(w, r, err)
		return
	}

	// A client disconnect does not cancel generation; the forwarder
	// timeout bounds the call.
	start := time.Now()
	plan, err := h.generator.Generate(context.WithoutCancel(r.Context()), topic)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordPlanGeneration(h.generator.Model(), false, elapsed)
		h.respondGenerationError(w, r, identity, err)
		return
	}

	metrics.RecordPlanGeneration(plan.Model, true, elapsed)
	if plan.Usage != nil {
		metrics.RecordUpstreamTokens(plan.Model, plan.Usage.PromptTokens, plan.Usage.CompletionTokens)
	}
	metrics.RecordPlanRequest(metrics.OutcomeSuccess)

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("plan generated",
			zap.String("identity", identity),
			zap.String("model", plan.Model),
			zap.String("title", plan.Title()),
			zap.Duration("duration", elapsed),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(PlanResponse{Plan: plan.Text})
}

// admit consults the limiter and sets the rate limit headers. Limiter errors
// admit the request.
func (h *PlanHandler) admit(w http.ResponseWriter, r *http.Request, identity string) bool {
	d, err := h.limiter.Admit(r.Context(), identity)
	if err != nil {
		metrics.RecordAdmissionError(h.backend)
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("admission check failed, admitting request",
				zap.String("identity", identity),
				zap.String("backend", h.backend),
				zap.Error(err),
			)
		}
		return true
	}

	metrics.RecordAdmission(d.Allowed)

	hdr := w.Header()
	hdr.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	hdr.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		hdr.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if !d.Allowed {
		hdr.Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("admission rejected",
				zap.String("identity", identity),
				zap.Duration("retry_after", d.RetryAfter),
			)
		}
	}
	return d.Allowed
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// decodeTopic reads the body and returns the normalized topic, or a
// validation envelope.
func decodeTopic(w http.ResponseWriter, r *http.Request) (string, error) {
	var req PlanRequest
	body := http.MaxBytesReader(w, r.Body, maxPlanBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return "", apperrors.WrapValidationError(r.Context(), err, MsgInvalidBody)
	}

	raw, ok := req.Topic.(string)
	if !ok {
		return "", apperrors.WrapValidationError(r.Context(), planner.ErrTopicMissing, planner.ErrTopicMissing.Error())
	}

	topic, err := planner.NormalizeTopic(raw)
	if err != nil {
		return "", apperrors.WrapValidationError(r.Context(), err, err.Error())
	}
	return topic, nil
}

func (h *PlanHandler) respondGenerationError(w http.ResponseWriter, r *http.Request, identity string, err error) {
	ctx := r.Context()
	kind := planner.Classify(err)

	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn("plan generation failed",
			zap.String("identity", identity),
			zap.String("kind", kind.String()),
			zap.Bool("client_gone", errors.Is(ctx.Err(), context.Canceled)),
			zap.Error(err),
		)
	}

	switch kind {
	case planner.KindUpstreamAuth:
		metrics.RecordPlanRequest(metrics.OutcomeUpstreamAuth)
		respondWithMessage(w, r, apperrors.WrapConfigInvalid(ctx, err, MsgConfigError))
	case planner.KindUpstreamRateLimit:
		metrics.RecordPlanRequest(metrics.OutcomeUpstreamRateLimit)
		respondWithMessage(w, r, apperrors.WrapUpstreamRateLimited(ctx, err, MsgTooManyRequests))
	case planner.KindUpstreamEmpty:
		metrics.RecordPlanRequest(metrics.OutcomeUpstreamEmpty)
		respondWithMessage(w, r, apperrors.WrapInternal(ctx, err, MsgGenerationFailed))
	default:
		metrics.RecordPlanRequest(metrics.OutcomeError)
		respondWithMessage(w, r, apperrors.WrapInternal(ctx, err, MsgGenerationFailed))
	}
}
