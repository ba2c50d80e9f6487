package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/iconidentify/shadowgate/internal/domain"
	"github.com/iconidentify/shadowgate/internal/orchestrator"
)

// Transport implements orchestrator.Transport on the Bot API. Media is
// passed by file_id or remote URL when possible; local files are streamed
// as multipart uploads.
type Transport struct {
	bot    *tgbot.Bot
	logger *slog.Logger
}

// NewTransport creates a transport over an existing bot client.
func NewTransport(b *tgbot.Bot, logger *slog.Logger) *Transport {
	return &Transport{bot: b, logger: logger}
}

func (t *Transport) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	msg, err := t.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

func (t *Transport) EditText(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := t.bot.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (t *Transport) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := t.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (t *Transport) SendVideo(ctx context.Context, chatID int64, src orchestrator.MediaSource, caption string) (*orchestrator.Sent, error) {
	input, cleanup, err := mediaInput(src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	msg, err := t.bot.SendVideo(ctx, &tgbot.SendVideoParams{
		ChatID:  chatID,
		Video:   input,
		Caption: caption,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: video: %v", domain.ErrSendFailed, err)
	}

	sent := &orchestrator.Sent{}
	if msg.Video != nil {
		sent.FileID = msg.Video.FileID
		sent.Size = int64(msg.Video.FileSize)
		sent.Duration = int(msg.Video.Duration)
	}
	return sent, nil
}

func (t *Transport) SendPhoto(ctx context.Context, chatID int64, src orchestrator.MediaSource, caption string) (*orchestrator.Sent, error) {
	input, cleanup, err := mediaInput(src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	msg, err := t.bot.SendPhoto(ctx, &tgbot.SendPhotoParams{
		ChatID:  chatID,
		Photo:   input,
		Caption: caption,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: photo: %v", domain.ErrSendFailed, err)
	}
	return &orchestrator.Sent{FileID: largestPhotoID(msg)}, nil
}

// SendPhotoBatch posts up to ten photos as a single album. The caption is
// attached to the first photo, the Bot API shows it under the album.
func (t *Transport) SendPhotoBatch(ctx context.Context, chatID int64, urls []string, caption string) ([]orchestrator.Sent, error) {
	media := make([]models.InputMedia, 0, len(urls))
	for i, u := range urls {
		photo := &models.InputMediaPhoto{Media: u}
		if i == 0 {
			photo.Caption = caption
		}
		media = append(media, photo)
	}

	msgs, err := t.bot.SendMediaGroup(ctx, &tgbot.SendMediaGroupParams{
		ChatID: chatID,
		Media:  media,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: media group: %v", domain.ErrSendFailed, err)
	}

	sent := make([]orchestrator.Sent, 0, len(msgs))
	for _, m := range msgs {
		sent = append(sent, orchestrator.Sent{FileID: largestPhotoID(m)})
	}
	return sent, nil
}

func (t *Transport) SendDocument(ctx context.Context, chatID int64, src orchestrator.MediaSource, caption string) (*orchestrator.Sent, error) {
	input, cleanup, err := mediaInput(src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	msg, err := t.bot.SendDocument(ctx, &tgbot.SendDocumentParams{
		ChatID:   chatID,
		Document: input,
		Caption:  caption,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: document: %v", domain.ErrSendFailed, err)
	}

	sent := &orchestrator.Sent{}
	if msg.Document != nil {
		sent.FileID = msg.Document.FileID
		sent.Size = int64(msg.Document.FileSize)
	}
	return sent, nil
}

// mediaInput maps a MediaSource to the Bot API input form. file_id and
// remote URLs go as plain strings; a local path becomes an upload whose
// file handle the returned cleanup closes.
func mediaInput(src orchestrator.MediaSource) (models.InputFile, func(), error) {
	noop := func() {}
	switch {
	case src.FileID != "":
		return &models.InputFileString{Data: src.FileID}, noop, nil
	case src.URL != "":
		return &models.InputFileString{Data: src.URL}, noop, nil
	case src.Path != "":
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open upload: %w", err)
		}
		return &models.InputFileUpload{
			Filename: filepath.Base(src.Path),
			Data:     f,
		}, func() { f.Close() }, nil
	}
	return nil, noop, errors.New("empty media source")
}

// largestPhotoID returns the file_id of the biggest rendition Telegram
// produced for a photo message.
func largestPhotoID(msg *models.Message) string {
	if msg == nil || len(msg.Photo) == 0 {
		return ""
	}
	return msg.Photo[len(msg.Photo)-1].FileID
}
