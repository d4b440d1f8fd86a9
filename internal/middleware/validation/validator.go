package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	DefaultThreadID       = "default_thread"
	DefaultMaxQueryLength = 1000
	MaxThreadIDLength     = 128

	localsKey = "chat_request"
)

var (
	threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

	ErrEmptyQuery      = errors.New("query is required")
	ErrQueryTooLong    = errors.New("query exceeds maximum length")
	ErrInvalidThreadID = errors.New("thread_id must be 1-128 characters of letters, digits, '_', '.', ':' or '-'")
)

// ChatRequest is the body accepted by the chat endpoints.
type ChatRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id"`
}

type Config struct {
	MaxQueryLength int
	Logger         *zap.Logger
}

// Validate normalizes req in place and reports the first problem found.
func Validate(req *ChatRequest, maxQueryLength int) error {
	if maxQueryLength <= 0 {
		maxQueryLength = DefaultMaxQueryLength
	}

	req.Query = sanitizeString(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if utf8.RuneCountInString(req.Query) > maxQueryLength {
		return fmt.Errorf("%w (%d characters)", ErrQueryTooLong, maxQueryLength)
	}

	req.ThreadID = strings.TrimSpace(req.ThreadID)
	if req.ThreadID == "" {
		req.ThreadID = DefaultThreadID
	}
	if len(req.ThreadID) > MaxThreadIDLength || !threadIDPattern.MatchString(req.ThreadID) {
		return ErrInvalidThreadID
	}

	return nil
}

// Middleware parses and validates a ChatRequest body and stores it for the
// handler; see RequestFrom.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = DefaultMaxQueryLength
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Content-Type must be application/json",
			})
		}

		var req ChatRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if err := Validate(&req, cfg.MaxQueryLength); err != nil {
			cfg.Logger.Debug("Rejected chat request",
				zap.String("ip", c.IP()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		c.Locals(localsKey, req)
		return c.Next()
	}
}

// RequestFrom returns the request stored by Middleware.
func RequestFrom(c *fiber.Ctx) (ChatRequest, bool) {
	req, ok := c.Locals(localsKey).(ChatRequest)
	return req, ok
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
