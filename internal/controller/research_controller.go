package controller

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"ai-research-be/internal/dto"
	"ai-research-be/internal/pkg/serverutils"
	"ai-research-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IResearchController interface {
	RegisterRoutes(r fiber.Router)
	StartRun(ctx *fiber.Ctx) error
	ListSessions(ctx *fiber.Ctx) error
	GetSession(ctx *fiber.Ctx) error
	GetDigest(ctx *fiber.Ctx) error
}

type researchController struct {
	research service.IResearchService
	sessions service.ISessionService
	digest   service.IDigestService
	// defaultMaxDuration bounds a run whose request names no bound
	defaultMaxDuration time.Duration
}

func NewResearchController(
	research service.IResearchService,
	sessions service.ISessionService,
	digest service.IDigestService,
	defaultMaxDuration time.Duration,
) IResearchController {
	return &researchController{
		research:           research,
		sessions:           sessions,
		digest:             digest,
		defaultMaxDuration: defaultMaxDuration,
	}
}

func (c *researchController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/research/v1")
	h.Post("/runs", c.StartRun)
	h.Get("/sessions", c.ListSessions)
	h.Get("/sessions/:topic", c.GetSession)
	h.Get("/digest", c.GetDigest)
}

// StartRun runs the loop synchronously and answers with the digest.
func (c *researchController) StartRun(ctx *fiber.Ctx) error {
	var req dto.StartRunRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	runReq := &dto.RunRequest{
		Topic:         strings.TrimSpace(req.Topic),
		MaxIterations: req.MaxIterations,
		Seeds:         req.Seeds,
	}
	if req.MaxDuration != "" {
		d, err := time.ParseDuration(req.MaxDuration)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "max_duration must be a duration such as 2h or 45m")
		}
		runReq.MaxDuration = d
	}
	if runReq.MaxDuration == 0 && runReq.MaxIterations == 0 {
		runReq.MaxDuration = c.defaultMaxDuration
	}

	out, err := c.research.Run(ctx.UserContext(), runReq)
	if errors.Is(err, service.ErrInvalidRequest) {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}

	// a run stopped by shutdown still answers with its digest
	digest, err := c.digest.AssembleRun(context.WithoutCancel(ctx.UserContext()), out)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Research run finished", &dto.RunResponse{
		Run:    out,
		Digest: digest,
	}))
}

func (c *researchController) ListSessions(ctx *fiber.Ctx) error {
	topics, err := c.sessions.ListTopics(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success list sessions", topics))
}

func (c *researchController) GetSession(ctx *fiber.Ctx) error {
	topic, err := url.PathUnescape(ctx.Params("topic"))
	if err != nil || strings.TrimSpace(topic) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid topic")
	}

	res, err := c.sessions.Status(ctx.UserContext(), topic)
	if err != nil {
		return err
	}
	if !res.Exists {
		return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(fiber.StatusNotFound, "No session for topic"))
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get session", res))
}

func (c *researchController) GetDigest(ctx *fiber.Ctx) error {
	topic := strings.TrimSpace(ctx.Query("topic"))
	if topic == "" {
		return fiber.NewError(fiber.StatusBadRequest, "topic is required")
	}

	var rng dto.TimeRange
	res := &dto.DigestResponse{Topic: topic}
	if raw := ctx.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "from must be RFC3339")
		}
		rng.From = t
		res.From = &t
	}
	if raw := ctx.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "to must be RFC3339")
		}
		rng.To = t
		res.To = &t
	}

	markdown, err := c.digest.Assemble(ctx.UserContext(), topic, rng)
	if err != nil {
		return err
	}

	if ctx.Query("format") == "markdown" {
		ctx.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
		return ctx.SendString(markdown)
	}

	res.Markdown = markdown
	return ctx.JSON(serverutils.SuccessResponse("Success assemble digest", res))
}
