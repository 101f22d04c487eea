package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"talkops/internal/chat"
	"talkops/internal/config"
	"talkops/internal/logger"
)

type askRequest struct {
	Text string `json:"text"`
	Name string `json:"name"`
}

type askResponse struct {
	Answer string `json:"answer"`
}

// Server exposes named agents over HTTP. Each request is one synchronous
// turn: POST /v1/agent/:name with a text body yields the answer.
type Server struct {
	app          *fiber.App
	cfg          *config.Config
	orchestrator *chat.Orchestrator
	logger       logger.Logger
}

func NewServer(cfg *config.Config, orchestrator *chat.Orchestrator, log logger.Logger) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		logger:       log,
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Post("/v1/agent/:name", s.auth, s.handleAsk)
	s.app = app

	return s
}

func (s *Server) Start(ctx context.Context) error {
	httpCfg := s.cfg.HTTPAPI()
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.WithError(err).Error("HTTP server shutdown failed")
		}
	}()
	s.logger.WithField("listen", httpCfg.Listen).Info("HTTP API started")
	return s.app.Listen(httpCfg.Listen)
}

func (s *Server) auth(c *fiber.Ctx) error {
	token := s.cfg.HTTPAPI().Token
	if token == "" {
		return c.Next()
	}
	if c.Get("Authorization") != "Bearer "+token {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	return c.Next()
}

func (s *Server) handleAsk(c *fiber.Ctx) error {
	chatCfg, ok := s.cfg.ChatByAgent(c.Params("name"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown agent"})
	}

	var req askRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}

	s.logger.WithFields(logger.Fields{
		"agent":   c.Params("name"),
		"chat_id": chatCfg.ID,
	}).Debug("Agent request")

	answer := s.orchestrator.Ask(c.Context(), chatCfg, chat.Turn{
		ChatID: chatCfg.ID,
		Text:   req.Text,
		Name:   req.Name,
	})
	return c.JSON(askResponse{Answer: answer})
}
