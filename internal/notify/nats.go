package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"hybrid_monitor/internal/alert"
)

// Publisher is the part of *nats.Conn the transport uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type NATS struct {
	pub     Publisher
	subject string
}

func NewNATS(pub Publisher, subject string) *NATS {
	return &NATS{pub: pub, subject: subject}
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Send(ctx context.Context, rec alert.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return n.pub.Publish(n.subject, data)
}

// ConnectNATS dials url with unlimited reconnects, logging connection state
// changes through logger.
func ConnectNATS(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
}
