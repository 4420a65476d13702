package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// IdentityHeader carries the caller's participant name.
const IdentityHeader = "User"

const requestTimeout = 5 * time.Second

// Streamer upgrades a request to the realtime message feed for user.
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, user string) error
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	streamer   Streamer
}

func NewHTTPServer(service *Service, corsOrigin string, streamer Streamer) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, streamer: streamer}
}

var registerTagNames sync.Once

func (s *HTTPServer) Handler() http.Handler {
	registerTagNames.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonFieldName)
		}
	})

	router := gin.New()
	router.Use(gin.Recovery(), s.withMiddleware())

	router.GET("/health", s.handleHealth)
	router.HEAD("/health", s.handleHealth)
	router.GET("/ready", s.handleReady)

	router.POST("/participants", s.handleJoin)
	router.GET("/participants", s.handleListParticipants)
	router.POST("/status", s.handleHeartbeat)

	router.POST("/messages", s.handlePostMessage)
	router.GET("/messages", s.handleListMessages)
	router.GET("/messages/stream", s.handleStream)
	router.PUT("/messages/:id", s.handleEditMessage)
	router.DELETE("/messages/:id", s.handleDeleteMessage)

	router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	return router
}

func (s *HTTPServer) withMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		started := time.Now()
		setCORSHeaders(c.Writer.Header(), s.corsOrigin)
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
		} else {
			c.Next()
		}

		log.Info().
			Str("module", "http").
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	}
}

func setCORSHeaders(header http.Header, origin string) {
	if origin == "" {
		origin = "*"
	}
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, User, X-Request-ID")
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := gin.H{"store": gin.H{"status": "ok"}}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = gin.H{"status": "error", "error": err.Error()}
	}
	c.JSON(statusCode, gin.H{"ok": status == "ready", "status": status, "checks": checks})
}

func (s *HTTPServer) handleJoin(c *gin.Context) {
	var body struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, bindError(err))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if _, err := s.service.Join(ctx, body.Name); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *HTTPServer) handleListParticipants(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	items, err := s.service.ListParticipants(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *HTTPServer) handleHeartbeat(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := s.service.Heartbeat(ctx, c.GetHeader(IdentityHeader)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *HTTPServer) handlePostMessage(c *gin.Context) {
	var body PostInput
	if err := c.ShouldBindJSON(&body); err != nil {
		bindErr := bindError(err)
		if c.GetHeader(IdentityHeader) == "" {
			bindErr.Details = append([]string{`"user" header is required`}, bindErr.Details...)
		}
		s.fail(c, bindErr)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if _, err := s.service.PostMessage(ctx, c.GetHeader(IdentityHeader), body); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (s *HTTPServer) handleListMessages(c *gin.Context) {
	limit := 0
	if raw, ok := c.GetQuery("limit"); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || parsed <= 0 {
			s.fail(c, validationError(`"limit" must be a positive integer`))
			return
		}
		limit = parsed
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	items, err := s.service.ListMessages(ctx, c.GetHeader(IdentityHeader), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *HTTPServer) handleEditMessage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	id, user := c.Param("id"), c.GetHeader(IdentityHeader)
	// Ownership is settled before the body is looked at.
	if err := s.service.AuthorizeChange(ctx, id, user); err != nil {
		s.fail(c, err)
		return
	}
	var body EditInput
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, bindError(err))
		return
	}

	msg, err := s.service.EditMessage(ctx, id, user, body)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *HTTPServer) handleDeleteMessage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := s.service.DeleteMessage(ctx, c.Param("id"), c.GetHeader(IdentityHeader)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *HTTPServer) handleStream(c *gin.Context) {
	if s.streamer == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	user := c.GetHeader(IdentityHeader)
	if user == "" {
		user = c.Query("user")
	}
	if strings.TrimSpace(user) == "" {
		s.fail(c, validationError(`"user" header or query parameter is required`))
		return
	}
	// The connection is hijacked on success; errors here are upgrade failures
	// the upgrader has already answered.
	if err := s.streamer.ServeWS(c.Writer, c.Request, user); err != nil {
		log.Debug().Err(err).Str("module", "http").Str("user", user).Msg("stream closed")
	}
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		requestID, _ := c.Get("request_id")
		log.Error().Err(err).Str("module", "http").Interface("request_id", requestID).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	writeError(c, status, code, message, details)
}

func writeError(c *gin.Context, status int, code, message string, details []string) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if len(details) > 0 {
		response["details"] = details
	}
	c.AbortWithStatusJSON(status, response)
}

func mapError(err error) (status int, code, message string, details []string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// bindError turns a gin binding failure into a ValidationError with one
// detail per offending field.
func bindError(err error) *DomainError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, fieldDetail(fe))
		}
		return validationError(details...)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return validationError(fmt.Sprintf("%q must be a %s", typeErr.Field, typeErr.Type.String()))
	}
	e := validationError("request body must be a JSON object")
	e.Code = "INVALID_BODY"
	return e
}

func fieldDetail(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%q is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%q must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%q failed %s", fe.Field(), fe.Tag())
	}
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}
