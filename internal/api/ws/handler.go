package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/nodebox/internal/host"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxFrameSize = 1 << 20
	startTimeout = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler bridges WebSocket clients to guest sessions.
type Handler struct {
	supervisor *host.Supervisor
	metrics    *monitoring.Metrics
	logger     *logging.Logger
}

func NewHandler(supervisor *host.Supervisor, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{supervisor: supervisor, metrics: metrics, logger: logger.Named("ws")}
}

// HandleConnection upgrades the request, starts a guest from the first
// frame and relays frames until the guest exits or the client leaves.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}
	logger := h.logger.With(zap.String("conn_id", uuid.NewString()))

	start, err := h.awaitStart(conn)
	if err != nil {
		logger.Info("no start frame", zap.Error(err))
		h.closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	sess, err := h.supervisor.Start(host.StartRequest{
		Args: start.Args,
		Cwd:  start.Env.Cwd,
		Vars: start.Env.Vars,
	})
	if err != nil {
		logger.Error("guest start failed", zap.Error(err))
		h.closeWith(conn, websocket.CloseInternalServerErr, "guest start failed")
		return
	}
	logger = logger.With(zap.String("guest_id", sess.ID()))
	logger.Info("session attached")

	outbox := protocol.NewMailbox()
	unsubscribe := sess.Subscribe(func(m protocol.Message) {
		_ = outbox.Post(m)
	})
	defer unsubscribe()
	go func() {
		<-sess.Done()
		outbox.Close()
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- h.readLoop(conn, sess)
	}()

	if err := h.writeLoop(conn, outbox); err != nil {
		logger.Info("client write failed", zap.Error(err))
		sess.Kill()
		return
	}

	h.closeWith(conn, websocket.CloseNormalClosure, "guest exited")
	select {
	case <-readErr:
	case <-time.After(time.Second):
	}
}

func (h *Handler) awaitStart(conn *websocket.Conn) (protocol.Start, error) {
	_ = conn.SetReadDeadline(time.Now().Add(startTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Start{}, err
	}
	m, err := protocol.Decode(data)
	if err != nil {
		return protocol.Start{}, err
	}
	start, ok := m.(protocol.Start)
	if !ok {
		return protocol.Start{}, errors.New("first frame must be start")
	}
	return start, nil
}

// readLoop forwards stdin frames until the client goes away, then kills
// the guest.
func (h *Handler) readLoop(conn *websocket.Conn, sess *host.Session) error {
	defer sess.Kill()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m, err := protocol.Decode(data)
		if err != nil {
			h.logger.Debug("bad frame", zap.Error(err))
			continue
		}
		in, ok := m.(protocol.Stdin)
		if !ok {
			h.logger.Debug("unexpected frame", zap.String("type", string(m.Type())))
			continue
		}
		if err := sess.Stdin(in); err != nil {
			return err
		}
	}
}

// writeLoop sends guest messages until the outbox is closed and drained.
func (h *Handler) writeLoop(conn *websocket.Conn, outbox *protocol.Mailbox) error {
	for {
		m, err := outbox.Next(context.Background())
		if err != nil {
			return nil
		}
		data, err := protocol.Encode(m)
		if err != nil {
			h.logger.Warn("encode failed", zap.String("type", string(m.Type())), zap.Error(err))
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
