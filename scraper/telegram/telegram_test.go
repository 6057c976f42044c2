package telegram

import (
	"testing"
	"time"

	"github.com/martyniukyurii/KovchegBackend/config"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

func testAdapter() *Adapter {
	return New(&config.SourceConfig{Platform: "telegram", RateLimitMs: 1000}, "token", utils.NewLogger())
}

func TestRecordFromPost(t *testing.T) {
	a := testAdapter()
	text := "Продам 2-кімнатну квартиру, 62 м²\n" +
		"📍 Київ, вул. Шевченка 12\n" +
		"Ціна: 50 000 $\n" +
		"Телефон: +380 50 123 45 67"

	rec := a.recordFromPost("kyiv_estate", -100123, 42, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Unix(), text)

	if rec.Platform != "telegram" {
		t.Errorf("Platform = %q", rec.Platform)
	}
	if rec.SourceID != "kyiv_estate:42" {
		t.Errorf("SourceID = %q", rec.SourceID)
	}
	if rec.URL != "https://t.me/kyiv_estate/42" {
		t.Errorf("URL = %q", rec.URL)
	}
	if rec.Title != "Продам 2-кімнатну квартиру, 62 м²" {
		t.Errorf("Title = %q", rec.Title)
	}
	if rec.RawLocation != "Київ, вул. Шевченка 12" {
		t.Errorf("RawLocation = %q", rec.RawLocation)
	}
	if rec.Phone == "" {
		t.Error("phone not spotted in free text")
	}
	if rec.RawArea != "62 м²" {
		t.Errorf("RawArea = %q", rec.RawArea)
	}
	if rec.PostedAt != "2026-03-01T10:00:00Z" {
		t.Errorf("PostedAt = %q", rec.PostedAt)
	}
}

func TestRecordFromPostWithoutUsername(t *testing.T) {
	a := testAdapter()
	rec := a.recordFromPost("", -100123, 7, time.Now().Unix(), "Оренда будинку\nАдреса: Львів, вул. Зелена 5")

	if rec.SourceID != "-100123:7" {
		t.Errorf("SourceID = %q", rec.SourceID)
	}
	if rec.RawLocation != "Львів, вул. Зелена 5" {
		t.Errorf("RawLocation = %q", rec.RawLocation)
	}
}
