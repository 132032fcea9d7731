// Package telegram connects the intake pipeline to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/your-org/voxrelay/internal/intake"
)

// ErrTooLarge is returned by Fetch when the file exceeds MaxFileBytes.
var ErrTooLarge = errors.New("telegram: file exceeds size limit")

type Config struct {
	Token       string
	PollTimeout int
	Debug       bool
	// APIEndpoint and FileEndpoint default to the public Bot API.
	APIEndpoint  string
	FileEndpoint string
	MaxFileBytes int64
	HTTPClient   *http.Client
}

// Bot long-polls for updates and implements intake.Replier and
// intake.Fetcher.
type Bot struct {
	api          *tgbotapi.BotAPI
	client       *http.Client
	fileEndpoint string
	pollTimeout  int
	maxFileBytes int64
	logger       *zap.Logger
}

// New authenticates against the Bot API.
func New(cfg Config, logger *zap.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.PollTimeout+30) * time.Second}
	}
	apiEndpoint := cfg.APIEndpoint
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	fileEndpoint := cfg.FileEndpoint
	if fileEndpoint == "" {
		fileEndpoint = tgbotapi.FileEndpoint
	}

	if err := tgbotapi.SetLogger(zap.NewStdLog(logger.Named("tgbotapi"))); err != nil {
		return nil, fmt.Errorf("telegram: set logger: %w", err)
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, apiEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	api.Debug = cfg.Debug

	logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))
	return &Bot{
		api:          api,
		client:       client,
		fileEndpoint: fileEndpoint,
		pollTimeout:  cfg.PollTimeout,
		maxFileBytes: cfg.MaxFileBytes,
		logger:       logger,
	}, nil
}

// Username is the bot's Telegram handle.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Run polls for updates until ctx is done, handing each message to handle
// on its own goroutine. Handlers never see ctx's cancellation. Run returns
// once every handler has finished.
func (b *Bot) Run(ctx context.Context, handle func(context.Context, intake.Message)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)

	// Messages already taken off the queue are answered after shutdown.
	handlerCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := toMessage(update.Message)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				handle(handlerCtx, msg)
			}()
		}
	}
}

// Reply sends text to chatID.
func (b *Bot) Reply(_ context.Context, chatID int64, text string) error {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Fetch downloads the file identified by fileID.
func (b *Bot) Fetch(ctx context.Context, fileID string) (io.ReadCloser, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file: %w", err)
	}
	if b.maxFileBytes > 0 && int64(file.FileSize) > b.maxFileBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, file.FileSize)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(b.fileEndpoint, b.api.Token, file.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: build download request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("telegram: download: unexpected status %s", resp.Status)
	}
	if b.maxFileBytes > 0 && resp.ContentLength > b.maxFileBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	return resp.Body, nil
}

// toMessage keeps private and group messages with a sender; everything
// else (channel posts, edits, service messages) is dropped.
func toMessage(m *tgbotapi.Message) (intake.Message, bool) {
	if m == nil || m.From == nil || m.Chat == nil {
		return intake.Message{}, false
	}
	out := intake.Message{
		UserID: m.From.ID,
		ChatID: m.Chat.ID,
	}
	if m.IsCommand() {
		out.Command = strings.ToLower(m.Command())
		out.Args = strings.Fields(m.CommandArguments())
		return out, true
	}
	if v := m.Voice; v != nil {
		out.Voice = &intake.Attachment{
			FileID:   v.FileID,
			UniqueID: v.FileUniqueID,
			MimeType: v.MimeType,
			Size:     int64(v.FileSize),
			Duration: v.Duration,
		}
	}
	return out, true
}
