// Package nats implements the resumable stream store on NATS JetStream:
// frames go to a per-session subject of one stream and session status lives
// in a KV bucket.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/ChatForge/internal/config"
	"github.com/Strob0t/ChatForge/internal/domain/event"
	"github.com/Strob0t/ChatForge/internal/port/streamstore"
)

const subjectPrefix = "turns.frames."

// fetchWait bounds one poll of the resume consumer; between polls the
// session status is checked to notice streams that finished.
var fetchWait = time.Second

// Conn is a JetStream-enabled NATS connection.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Dial connects to NATS and initialises JetStream.
func Dial(url string, timeout time.Duration) (*Conn, error) {
	opts := []nats.Option{nats.Name("chatforge")}
	if timeout > 0 {
		opts = append(opts, nats.Timeout(timeout))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	slog.Info("nats connected", "url", url)
	return &Conn{nc: nc, js: js}, nil
}

// JetStream exposes the JetStream context, e.g. for KV-backed caches.
func (c *Conn) JetStream() jetstream.JetStream { return c.js }

// Healthy reports whether the connection is up.
func (c *Conn) Healthy() bool { return c.nc.IsConnected() }

// Close drains the connection.
func (c *Conn) Close() error {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Streams implements streamstore.Store.
type Streams struct {
	conn   *Conn
	stream string
	status jetstream.KeyValue
}

var _ streamstore.Store = (*Streams)(nil)

// OpenStreams ensures the frame stream and status bucket exist. Frames and
// status entries expire after cfg.FrameTTL.
func OpenStreams(ctx context.Context, conn *Conn, cfg config.NATS) (*Streams, error) {
	_, err := conn.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{subjectPrefix + ">"},
		MaxAge:   cfg.FrameTTL,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	kv, err := conn.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.StatusBucket,
		Description: "chatforge stream session status",
		TTL:         cfg.FrameTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream status bucket: %w", err)
	}

	slog.Info("resumable streams ready", "stream", cfg.Stream, "status_bucket", cfg.StatusBucket)
	return &Streams{conn: conn, stream: cfg.Stream, status: kv}, nil
}

// Create registers a new active session. Creating an existing session fails.
func (s *Streams) Create(ctx context.Context, streamID string) (streamstore.Writer, error) {
	if _, err := s.status.Create(ctx, streamID, []byte(event.StatusActive)); err != nil {
		return nil, fmt.Errorf("nats create stream %s: %w", streamID, err)
	}
	return &writer{js: s.conn.js, status: s.status, streamID: streamID, subject: subjectPrefix + streamID}, nil
}

// Resume replays the frames after afterSeq and follows the live tail until
// the terminal frame, the session finishing, or ctx ending.
func (s *Streams) Resume(ctx context.Context, streamID string, afterSeq uint64) (<-chan event.Frame, bool, error) {
	st, found, err := s.sessionStatus(ctx, streamID)
	if err != nil {
		return nil, false, err
	}
	if !found || st.Finished() {
		return nil, false, nil
	}

	cons, err := s.conn.js.OrderedConsumer(ctx, s.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subjectPrefix + streamID},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, false, fmt.Errorf("nats resume consumer %s: %w", streamID, err)
	}

	out := make(chan event.Frame, 16)
	go s.follow(ctx, cons, streamID, afterSeq, out)
	return out, true, nil
}

func (s *Streams) follow(ctx context.Context, cons jetstream.Consumer, streamID string, afterSeq uint64, out chan<- event.Frame) {
	defer close(out)

	finished := false
	for ctx.Err() == nil {
		batch, err := cons.Fetch(64, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			slog.WarnContext(ctx, "nats resume fetch failed", "stream_id", streamID, "error", err)
			return
		}

		received := 0
		for msg := range batch.Messages() {
			received++
			var f event.Frame
			if err := json.Unmarshal(msg.Data(), &f); err != nil {
				slog.WarnContext(ctx, "nats resume: undecodable frame", "stream_id", streamID, "error", err)
				continue
			}
			if f.Seq <= afterSeq {
				continue
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
			if f.Type.Terminal() {
				return
			}
		}
		if err := batch.Error(); err != nil && !isFetchTimeout(err) {
			slog.WarnContext(ctx, "nats resume batch failed", "stream_id", streamID, "error", err)
			return
		}
		if received > 0 {
			continue
		}

		// Status is written after the last frame, so one empty poll after
		// observing a finished status means the tail is drained.
		if finished {
			return
		}
		st, found, err := s.sessionStatus(ctx, streamID)
		if err != nil || !found {
			return
		}
		finished = st.Finished()
	}
}

func (s *Streams) sessionStatus(ctx context.Context, streamID string) (event.Status, bool, error) {
	entry, err := s.status.Get(ctx, streamID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("nats stream status %s: %w", streamID, err)
	}
	return event.Status(entry.Value()), true, nil
}

func isFetchTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, jetstream.ErrNoMessages) || errors.Is(err, context.DeadlineExceeded)
}

type writer struct {
	js       jetstream.JetStream
	status   jetstream.KeyValue
	streamID string
	subject  string
}

// Append publishes one frame. The message id makes a retried publish of the
// same seq a no-op on the server.
func (w *writer) Append(ctx context.Context, f event.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("nats encode frame: %w", err)
	}
	msgID := w.streamID + "-" + strconv.FormatUint(f.Seq, 10)
	if _, err := w.js.Publish(ctx, w.subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("nats publish %s: %w", w.subject, err)
	}
	return nil
}

func (w *writer) Close(ctx context.Context, st event.Status) error {
	if _, err := w.status.Put(ctx, w.streamID, []byte(st)); err != nil {
		return fmt.Errorf("nats close stream %s: %w", w.streamID, err)
	}
	return nil
}
