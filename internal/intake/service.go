package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/voxrelay/internal/auth"
	"github.com/your-org/voxrelay/pkg/media"
	"github.com/your-org/voxrelay/pkg/metrics"
	"github.com/your-org/voxrelay/pkg/notify"
	"github.com/your-org/voxrelay/pkg/storage/objectstore"
	"github.com/your-org/voxrelay/pkg/tracing"
)

// ErrFetch wraps failures to download the attachment; it also matches
// media.ErrIO.
var ErrFetch = fmt.Errorf("fetch attachment: %w", media.ErrIO)

// AudioPathPrefix is where the file server exposes artifacts.
const AudioPathPrefix = "/audio/"

// Gate is the authorization surface the pipeline consults.
type Gate interface {
	CheckAndMaybeAuthorize(ctx context.Context, userID int64, args []string) (auth.Outcome, error)
	RequireAuthorized(ctx context.Context, userID int64) (bool, error)
}

// Fetcher downloads attachment bytes from the upstream transport.
type Fetcher interface {
	Fetch(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Converter turns raw bytes into a published artifact.
type Converter interface {
	Convert(ctx context.Context, req media.Request) (*media.Artifact, error)
}

// Replier sends the acknowledgment text back to the submitter.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// Service runs the per-message sequence: authorize, fetch, convert,
// acknowledge, notify.
type Service struct {
	gate      Gate
	fetcher   Fetcher
	converter Converter
	notifier  notify.Notifier
	mirror    objectstore.Client
	replier   Replier
	logger    *zap.Logger
	tracer    trace.Tracer

	scheme string
	domain string
	topic  string
}

type Params struct {
	Gate      Gate
	Fetcher   Fetcher
	Converter Converter
	Notifier  notify.Notifier
	// Mirror is optional.
	Mirror  objectstore.Client
	Replier Replier
	Logger  *zap.Logger

	PublicScheme  string
	PublicDomain  string
	CommandsTopic string
}

// NewService constructs an intake Service.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	scheme := p.PublicScheme
	if scheme == "" {
		scheme = "https"
	}
	return &Service{
		gate:      p.Gate,
		fetcher:   p.Fetcher,
		converter: p.Converter,
		notifier:  notifier,
		mirror:    p.Mirror,
		replier:   p.Replier,
		logger:    logger,
		tracer:    tracing.Tracer("voxrelay/intake"),
		scheme:    scheme,
		domain:    strings.TrimSpace(p.PublicDomain),
		topic:     p.CommandsTopic,
	}
}

// PublicURL composes the externally resolvable address of fileName.
func (s *Service) PublicURL(fileName string) string {
	u := url.URL{
		Scheme: s.scheme,
		Host:   s.domain,
		Path:   AudioPathPrefix + fileName,
	}
	return u.String()
}

// Dispatch routes one inbound message and always sends exactly one reply.
func (s *Service) Dispatch(ctx context.Context, msg Message) {
	switch strings.ToLower(msg.Command) {
	case "":
		s.HandleVoice(ctx, msg)
	case CommandAuth:
		s.HandleAuth(ctx, msg)
	default:
		s.reply(ctx, msg, ReplyGreeting)
	}
}

// HandleAuth processes "/auth <secret>".
func (s *Service) HandleAuth(ctx context.Context, msg Message) {
	outcome, err := s.gate.CheckAndMaybeAuthorize(ctx, msg.UserID, msg.Args)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("unavailable").Inc()
		s.logger.Error("authorization store unavailable", zap.Int64("user_id", msg.UserID), zap.Error(err))
		s.reply(ctx, msg, ReplyUnavailable)
		return
	}
	metrics.AuthAttemptsTotal.WithLabelValues(outcome.String()).Inc()

	switch outcome {
	case auth.OutcomeAuthorized:
		s.reply(ctx, msg, ReplyAuthorized)
	case auth.OutcomeAlreadyAuthorized:
		s.reply(ctx, msg, ReplyAlreadyAuthorized)
	case auth.OutcomeWrongSecret:
		s.reply(ctx, msg, ReplyWrongPassword)
	default:
		s.reply(ctx, msg, ReplyAuthUsage)
	}
}

// HandleVoice converts the attached recording and publishes it.
func (s *Service) HandleVoice(ctx context.Context, msg Message) {
	ctx, span := s.tracer.Start(ctx, "intake.voice", trace.WithAttributes(attribute.Int64("user_id", msg.UserID)))
	defer span.End()

	logger := s.logger.With(zap.Int64("user_id", msg.UserID), zap.Int64("chat_id", msg.ChatID))

	if msg.Voice == nil {
		metrics.VoiceMessagesTotal.WithLabelValues("no_voice").Inc()
		s.reply(ctx, msg, ReplyNoVoice)
		return
	}

	allowed, err := s.gate.RequireAuthorized(ctx, msg.UserID)
	if err != nil {
		metrics.VoiceMessagesTotal.WithLabelValues("store_unavailable").Inc()
		logger.Error("authorization check failed", zap.Error(err))
		span.SetStatus(codes.Error, "store unavailable")
		s.reply(ctx, msg, ReplyUnavailable)
		return
	}
	if !allowed {
		metrics.VoiceMessagesTotal.WithLabelValues("rejected").Inc()
		logger.Info("voice rejected for unauthorized user")
		s.reply(ctx, msg, ReplyNotAuthorized)
		return
	}

	id, err := msg.Voice.ArtifactID()
	if err != nil {
		metrics.VoiceMessagesTotal.WithLabelValues("failed").Inc()
		logger.Warn("unusable attachment id", zap.String("file_id", msg.Voice.FileID), zap.Error(err))
		s.reply(ctx, msg, ReplyConversionFailed)
		return
	}
	span.SetAttributes(attribute.String("artifact_id", string(id)))
	logger = logger.With(zap.String("artifact_id", string(id)))

	// Once bytes are being fetched the job runs to completion.
	work := context.WithoutCancel(ctx)

	started := time.Now()
	artifact, err := s.fetchAndConvert(work, id, msg.Voice)
	metrics.ConversionDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.VoiceMessagesTotal.WithLabelValues("failed").Inc()
		logger.Error("conversion failed",
			zap.Bool("decode_error", errors.Is(err, media.ErrDecode)),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")
		s.reply(ctx, msg, ReplyConversionFailed)
		return
	}

	publicURL := s.PublicURL(artifact.FileName())
	s.reply(ctx, msg, fmt.Sprintf(replyReadyFormat, publicURL))
	metrics.VoiceMessagesTotal.WithLabelValues("published").Inc()
	logger.Info("artifact published", zap.String("url", publicURL), zap.Int64("size_bytes", artifact.Size))

	s.mirrorArtifact(work, logger, artifact, msg.UserID)
	s.notify(work, logger, NewNotificationEvent(string(artifact.ID), publicURL, msg.UserID))
}

func (s *Service) fetchAndConvert(ctx context.Context, id media.ArtifactID, voice *Attachment) (*media.Artifact, error) {
	fetchCtx, fetchSpan := s.tracer.Start(ctx, "intake.fetch")
	body, err := s.fetcher.Fetch(fetchCtx, voice.FileID)
	fetchSpan.End()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer body.Close()

	convCtx, convSpan := s.tracer.Start(ctx, "intake.convert")
	defer convSpan.End()
	artifact, err := s.converter.Convert(convCtx, media.Request{
		ID:        id,
		Source:    body,
		CodecHint: voice.MimeType,
	})
	if err != nil {
		convSpan.RecordError(err)
		return nil, err
	}
	return artifact, nil
}

func (s *Service) mirrorArtifact(ctx context.Context, logger *zap.Logger, artifact *media.Artifact, userID int64) {
	if s.mirror == nil {
		return
	}
	obj := objectstore.Object{
		Key:         strings.TrimPrefix(AudioPathPrefix, "/") + artifact.FileName(),
		ContentType: "audio/mpeg",
		Metadata: map[string]string{
			"artifact_id": string(artifact.ID),
			"user_id":     fmt.Sprintf("%d", userID),
		},
	}
	if err := objectstore.PutFile(ctx, s.mirror, obj, artifact.Path); err != nil {
		logger.Warn("artifact mirror upload failed", zap.Error(err))
	}
}

// notify publishes once and only logs the outcome; the submitter has
// already been acknowledged.
func (s *Service) notify(ctx context.Context, logger *zap.Logger, event NotificationEvent) {
	ctx, span := s.tracer.Start(ctx, "intake.notify", trace.WithAttributes(attribute.String("topic", s.topic)))
	defer span.End()

	if err := s.notifier.Publish(ctx, event.Message(s.topic)); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		logger.Warn("notification failed", zap.String("topic", s.topic), zap.String("event_id", event.ID), zap.Error(err))
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	logger.Debug("notification sent", zap.String("topic", s.topic), zap.String("event_id", event.ID))
}

func (s *Service) reply(ctx context.Context, msg Message, text string) {
	if err := s.replier.Reply(context.WithoutCancel(ctx), msg.ChatID, text); err != nil {
		s.logger.Error("reply failed", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
}
