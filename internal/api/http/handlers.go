package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/GriffinCanCode/nodebox/internal/host"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MaxUpload bounds a single PUT /fs body.
const MaxUpload = 16 << 20

// Handlers serves the REST surface over a supervisor.
type Handlers struct {
	supervisor *host.Supervisor
	metrics    *monitoring.Metrics
	logger     *logging.Logger
}

func NewHandlers(supervisor *host.Supervisor, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handlers{supervisor: supervisor, metrics: metrics, logger: logger.Named("http")}
}

func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "nodebox",
		"endpoints": []string{
			"GET /ws", "GET /health", "GET /guests", "DELETE /guests/:id",
			"GET /fs?path=", "PUT /fs?path=", "POST /fs/snapshot", "GET /metrics",
		},
	})
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"guests": h.supervisor.Running(),
	})
}

// ListGuests returns running guests in start order.
func (h *Handlers) ListGuests(c *gin.Context) {
	guests := h.supervisor.List()
	if guests == nil {
		guests = []host.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"guests": guests})
}

// KillGuest stops a running guest abruptly.
func (h *Handlers) KillGuest(c *gin.Context) {
	gid := c.Param("id")
	if !h.supervisor.Kill(gid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "guest not found"})
		return
	}
	h.logger.Info("guest killed via api", zap.String("guest_id", gid))
	c.Status(http.StatusNoContent)
}

// ReadFS serves a file's bytes with a sniffed content type, or a
// directory's listing as JSON.
func (h *Handlers) ReadFS(c *gin.Context) {
	p, ok := fsPath(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	info, err := h.supervisor.Stat(ctx, p)
	if err != nil {
		h.fail(c, err)
		return
	}
	if info.IsDir() {
		names, err := h.supervisor.ReadDir(ctx, p)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"path": p, "kind": vfs.Directory.String(), "children": names})
		return
	}

	data, err := h.supervisor.ReadFile(ctx, p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

// WriteFS seeds a file host-side from the request body.
func (h *Handlers) WriteFS(c *gin.Context) {
	p, ok := fsPath(c)
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxUpload+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(data) > MaxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	h.supervisor.WriteFile(p, data)
	h.logger.Debug("fs seeded", zap.String("path", p), zap.Int("bytes", len(data)))
	c.Status(http.StatusNoContent)
}

// SaveSnapshot persists the VFS to the configured snapshot path.
func (h *Handlers) SaveSnapshot(c *gin.Context) {
	if err := h.supervisor.Save(); err != nil {
		h.logger.Error("snapshot save failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// MetricsJSON returns the metrics snapshot.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusOK, monitoring.MetricsSnapshot{})
		return
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

func fsPath(c *gin.Context) (string, bool) {
	p := c.Query("path")
	if !strings.HasPrefix(p, "/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path must be absolute"})
		return "", false
	}
	return vfs.Clean(p), true
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fault.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fault.ErrIsDirectory), errors.Is(err, fault.ErrNotADirectory):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": fault.Code(err)})
}
