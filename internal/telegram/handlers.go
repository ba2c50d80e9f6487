package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/iconidentify/shadowgate/internal/cache"
	"github.com/iconidentify/shadowgate/internal/domain"
)

const (
	msgStart = "🗡️ Shadow Gate online. Send a link from a supported realm and the artifact comes back through the gate."
	msgPong  = "⚔️ still standing"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// Runner executes one media request. The orchestrator implements it; each
// accepted message gets its own goroutine and its own deadline, detached
// from the update's context.
type Runner interface {
	Handle(ctx context.Context, req domain.MediaRequest)
}

// Handlers owns inbound update handling: command replies and the URL
// admission gate in front of the orchestrator.
type Handlers struct {
	runner  Runner
	store   cache.Store
	domains []string
	budget  time.Duration
	logger  *slog.Logger
}

// NewHandlers creates the update handlers. domains is the lowercased
// admission allow-list; budget bounds one request end to end.
func NewHandlers(runner Runner, store cache.Store, domains []string, budget time.Duration, logger *slog.Logger) *Handlers {
	return &Handlers{
		runner:  runner,
		store:   store,
		domains: domains,
		budget:  budget,
		logger:  logger,
	}
}

// Register wires the handlers into the bot's dispatch table.
func (h *Handlers) Register(b *tgbot.Bot) {
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.handleStart)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/help", tgbot.MatchTypeExact, h.handleHelp)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/ping", tgbot.MatchTypeExact, h.handlePing)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/stats", tgbot.MatchTypeExact, h.handleStats)
	b.RegisterHandlerMatchFunc(h.matchesText, h.handleMessage)
}

func (h *Handlers) matchesText(update *models.Update) bool {
	return update.Message != nil &&
		update.Message.Text != "" &&
		!strings.HasPrefix(update.Message.Text, "/")
}

func (h *Handlers) handleStart(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	h.reply(ctx, b, update, msgStart)
}

func (h *Handlers) handleHelp(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	var sb strings.Builder
	sb.WriteString("🗡️ Drop a media link and I open a gate to fetch it.\n\nSupported realms:\n")
	for _, d := range h.domains {
		fmt.Fprintf(&sb, "• %s\n", d)
	}
	sb.WriteString("\nVideos over the transport limit are re-encoded to fit. Repeat links are served from the gate's memory instantly.")
	h.reply(ctx, b, update, sb.String())
}

func (h *Handlers) handlePing(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	h.reply(ctx, b, update, msgPong)
}

func (h *Handlers) handleStats(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	count, err := h.store.Count(ctx)
	if err != nil {
		h.logger.Warn("stats query failed", "error", err)
		h.reply(ctx, b, update, "❌ The archive is unreachable.")
		return
	}
	h.reply(ctx, b, update, fmt.Sprintf("🗃️ %d gates memorized.", count))
}

// handleMessage admits plain text messages: the first supported URL spawns
// a request worker, everything else is ignored without a reply.
func (h *Handlers) handleMessage(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	req, ok := h.extractRequest(update)
	if !ok {
		return
	}

	h.logger.Info("request admitted", "url", req.URL, "chat_id", req.ChatID)

	// The update context dies with the polling cycle; the worker gets its
	// own deadline instead.
	go func() {
		workCtx, cancel := context.WithTimeout(context.Background(), h.budget)
		defer cancel()
		h.runner.Handle(workCtx, req)
	}()
}

// extractRequest finds the first allow-listed URL in the message text.
func (h *Handlers) extractRequest(update *models.Update) (domain.MediaRequest, bool) {
	if update.Message == nil || update.Message.Text == "" {
		return domain.MediaRequest{}, false
	}
	msg := update.Message

	for _, match := range urlPattern.FindAllString(msg.Text, -1) {
		candidate := strings.TrimRight(match, ".,;!?)")
		if !h.allowed(candidate) {
			h.logger.Debug("url ignored", "url", candidate, "error", domain.ErrUnsupportedDomain)
			continue
		}
		var userID int64
		if msg.From != nil {
			userID = msg.From.ID
		}
		return domain.MediaRequest{
			URL:        candidate,
			ChatID:     msg.Chat.ID,
			MessageID:  msg.ID,
			UserID:     userID,
			ReceivedAt: time.Now(),
		}, true
	}
	return domain.MediaRequest{}, false
}

// allowed reports whether the URL's host is on the allow-list, matching
// the domain itself or any subdomain of it.
func (h *Handlers) allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range h.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (h *Handlers) reply(ctx context.Context, b *tgbot.Bot, update *models.Update, text string) {
	if update.Message == nil {
		return
	}
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
	})
	if err != nil {
		h.logger.Warn("reply failed", "chat_id", update.Message.Chat.ID, "error", err)
	}
}
