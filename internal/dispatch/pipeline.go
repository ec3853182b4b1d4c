package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/hpungsan/scoper/internal/brief"
	"github.com/hpungsan/scoper/internal/logging"
)

// Pipeline starts downstream analysis for an approved brief.
type Pipeline interface {
	Start(ctx context.Context, b *brief.Brief) error
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, b *brief.Brief) error

// Start calls f.
func (f PipelineFunc) Start(ctx context.Context, b *brief.Brief) error { return f(ctx, b) }

// LogPipeline only logs the handoff. It is used when no broker is configured.
type LogPipeline struct {
	Logger *zap.Logger
}

// Start logs the brief and succeeds.
func (p LogPipeline) Start(_ context.Context, b *brief.Brief) error {
	logging.OrNop(p.Logger).Info("pipeline start (log only)",
		zap.String("brief_id", b.ID),
		zap.String("user_id", b.UserRaw),
		zap.String("conversation_id", b.ConversationID),
		zap.Int("brief_chars", b.BriefChars),
		zap.Strings("missing_sections", b.MissingSections),
	)
	return nil
}

// Publisher is the part of jetstream.JetStream the NATS pipeline uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// StreamName is the JetStream stream briefs are published to.
const StreamName = "SCOPER_BRIEFS"

// NATSPipeline publishes each brief as JSON on <prefix>.<user>. The message id
// is the conversation id, so a retried handoff is dropped by the stream's
// duplicate window instead of starting the analysis twice.
type NATSPipeline struct {
	js     Publisher
	prefix string
	logger *zap.Logger
}

// NewNATSPipeline wraps an existing JetStream publisher.
func NewNATSPipeline(js Publisher, prefix string, logger *zap.Logger) *NATSPipeline {
	if prefix == "" {
		prefix = "scoper.briefs"
	}
	return &NATSPipeline{js: js, prefix: prefix, logger: logging.OrNop(logger)}
}

// ConnectNATS dials url, ensures the brief stream exists and returns the
// pipeline plus a function that drains the connection.
func ConnectNATS(ctx context.Context, url, prefix string, logger *zap.Logger) (*NATSPipeline, func(), error) {
	nc, err := nats.Connect(url, nats.Name("scoper"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("get jetstream: %w", err)
	}

	p := NewNATSPipeline(js, prefix, logger)
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{p.prefix + ".>"},
		Duplicates: 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create stream: %w", err)
	}

	closeFn := func() {
		if err := nc.Drain(); err != nil {
			p.logger.Warn("nats drain failed", zap.Error(err))
		}
	}
	return p, closeFn, nil
}

// Subject returns the subject a user's briefs are published on.
func (p *NATSPipeline) Subject(userNorm string) string {
	return p.prefix + "." + subjectToken(userNorm)
}

// Start publishes the brief and waits for the stream ack.
func (p *NATSPipeline) Start(ctx context.Context, b *brief.Brief) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal brief: %w", err)
	}

	subject := p.Subject(b.UserNorm)
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(b.ConversationID))
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	p.logger.Info("brief published",
		zap.String("subject", subject),
		zap.String("brief_id", b.ID),
		zap.Uint64("seq", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate),
	)
	return nil
}

// subjectToken maps a user id to a single NATS subject token.
func subjectToken(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
