package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/martyniukyurii/KovchegBackend/config"
	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/scraper"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

const (
	platform = "telegram"
	apiBase  = "https://api.telegram.org"
)

var (
	phoneRegexp = regexp.MustCompile(`(?:\+?38)?[\s-]?0[\s-]?\d{2}[\s-]?\d{3}[\s-]?\d{2}[\s-]?\d{2}`)
	priceRegexp = regexp.MustCompile(`(?:\$|€|₴)\s*[\d\s.,]+|[\d\s.,]+\s*(?:\$|€|грн|USD|EUR|UAH|у\.о\.)`)
	areaRegexp  = regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:м²|м2|кв\.?\s*м)`)
)

// Adapter reads real-estate posts from Telegram channels through the Bot
// API. Channel posts are free text, so the adapter only splits out the
// fields it can spot; the normalizer does the rest.
type Adapter struct {
	cfg    *config.SourceConfig
	token  string
	client *http.Client
	logger *utils.Logger
}

// New creates a Telegram Adapter. token is the bot token; the bot must
// be an admin of the monitored channels to receive channel_post updates.
func New(cfg *config.SourceConfig, token string, logger *utils.Logger) *Adapter {
	return &Adapter{
		cfg:    cfg,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (a *Adapter) Platform() string { return platform }

func (a *Adapter) RateLimitHint() time.Duration {
	return time.Duration(a.cfg.RateLimitMs) * time.Millisecond
}

type update struct {
	UpdateID    int64 `json:"update_id"`
	ChannelPost *struct {
		MessageID int64 `json:"message_id"`
		Date      int64 `json:"date"`
		Chat      struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"chat"`
		Text    string `json:"text"`
		Caption string `json:"caption"`
		Photo   []struct {
			FileID string `json:"file_id"`
		} `json:"photo"`
	} `json:"channel_post"`
}

type updatesResponse struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description"`
	Result      []update `json:"result"`
}

// FetchListings polls getUpdates. sinceToken is the last consumed update
// id, so each cycle sees only new channel posts.
func (a *Adapter) FetchListings(ctx context.Context, sinceToken string) ([]*models.RawRecord, string, error) {
	offset := int64(0)
	if sinceToken != "" {
		if v, err := strconv.ParseInt(sinceToken, 10, 64); err == nil {
			offset = v + 1
		}
	}

	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=0&allowed_updates=[\"channel_post\"]&offset=%d",
		apiBase, a.token, offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", &scraper.FetchError{Platform: platform, Err: err}
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", &scraper.FetchError{Platform: platform, Err: err}
	}
	defer resp.Body.Close()

	var parsed updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, "", &scraper.FetchError{Platform: platform, Err: fmt.Errorf("decode updates: %w", err)}
	}
	if !parsed.OK {
		return nil, "", &scraper.FetchError{Platform: platform, Err: fmt.Errorf("telegram api: %s", parsed.Description)}
	}

	var records []*models.RawRecord
	lastID := offset - 1
	for _, u := range parsed.Result {
		if u.UpdateID > lastID {
			lastID = u.UpdateID
		}
		if u.ChannelPost == nil {
			continue
		}
		post := u.ChannelPost
		text := post.Text
		if text == "" {
			text = post.Caption
		}
		if text == "" {
			continue
		}

		rec := a.recordFromPost(post.Chat.Username, post.Chat.ID, post.MessageID, post.Date, text)
		records = append(records, rec)
	}

	a.logger.Info("[telegram] cycle complete — %d posts from %d updates", len(records), len(parsed.Result))

	next := ""
	if lastID >= 0 {
		next = strconv.FormatInt(lastID, 10)
	}
	return records, next, nil
}

// recordFromPost splits what it can out of a free-text channel post.
func (a *Adapter) recordFromPost(username string, chatID, messageID, date int64, text string) *models.RawRecord {
	lines := strings.Split(text, "\n")
	title := strings.TrimSpace(lines[0])
	if len(title) > 120 {
		title = title[:120]
	}

	channel := username
	if channel == "" {
		channel = strconv.FormatInt(chatID, 10)
	}

	rec := &models.RawRecord{
		Platform:    platform,
		SourceID:    fmt.Sprintf("%s:%d", channel, messageID),
		URL:         fmt.Sprintf("https://t.me/%s/%d", channel, messageID),
		FetchedAt:   time.Now().UTC(),
		Title:       title,
		Description: text,
		Phone:       phoneRegexp.FindString(text),
		RawPrice:    strings.TrimSpace(priceRegexp.FindString(text)),
		RawArea:     areaRegexp.FindString(text),
		PostedAt:    time.Unix(date, 0).UTC().Format(time.RFC3339),
	}

	// A location line usually starts with a pin or an address marker.
	for _, line := range lines[1:] {
		l := strings.TrimSpace(line)
		lower := strings.ToLower(l)
		if strings.HasPrefix(l, "📍") || strings.HasPrefix(lower, "адреса") || strings.HasPrefix(lower, "адрес") {
			rec.RawLocation = strings.TrimLeft(l, "📍 ")
			rec.RawLocation = strings.TrimSpace(strings.TrimPrefix(
				strings.TrimPrefix(rec.RawLocation, "Адреса:"), "Адрес:"))
			break
		}
	}

	return rec
}
