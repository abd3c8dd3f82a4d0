package controller

import (
	"context"

	"codesandbox/internal/sandbox"
	"codesandbox/internal/sandbox/result"
	"codesandbox/pkg/errors"
	"codesandbox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Judger runs one submission to a response.
type Judger interface {
	Judge(ctx context.Context, req sandbox.Request) result.Response
	Backend() string
}

// SandboxController exposes the judging workflows over HTTP.
type SandboxController struct {
	judgers        map[string]Judger
	defaultBackend string
}

// NewSandboxController creates a controller. defaultBackend must name one of judgers.
func NewSandboxController(defaultBackend string, judgers ...Judger) *SandboxController {
	m := make(map[string]Judger, len(judgers))
	for _, j := range judgers {
		m[j.Backend()] = j
	}
	return &SandboxController{judgers: m, defaultBackend: defaultBackend}
}

// Backends lists the configured backend names.
func (h *SandboxController) Backends() []string {
	names := make([]string, 0, len(h.judgers))
	for name := range h.judgers {
		names = append(names, name)
	}
	return names
}

// Execute judges on the default backend.
func (h *SandboxController) Execute(c *gin.Context) {
	h.execute(c, h.defaultBackend)
}

// ExecuteOn returns a handler pinned to one backend.
func (h *SandboxController) ExecuteOn(backend string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.execute(c, backend)
	}
}

func (h *SandboxController) execute(c *gin.Context, backend string) {
	judger, ok := h.judgers[backend]
	if !ok {
		response.ErrorWithCode(c, errors.ServiceUnavailable, "backend "+backend+" is not enabled")
		return
	}

	var req sandbox.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	response.Raw(c, judger.Judge(c.Request.Context(), req))
}
