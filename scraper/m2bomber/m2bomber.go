package m2bomber

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/martyniukyurii/KovchegBackend/config"
	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/scraper"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

const platform = "m2bomber"

// Adapter scrapes the M2Bomber real-estate portal. The portal serves
// static HTML, so a plain crawler is enough and no browser is needed.
type Adapter struct {
	cfg    *config.SourceConfig
	logger *utils.Logger

	mu      sync.Mutex
	records []*models.RawRecord
}

// New creates an M2Bomber Adapter.
func New(cfg *config.SourceConfig, logger *utils.Logger) *Adapter {
	return &Adapter{cfg: cfg, logger: logger}
}

func (a *Adapter) Platform() string { return platform }

func (a *Adapter) RateLimitHint() time.Duration {
	return time.Duration(a.cfg.RateLimitMs) * time.Millisecond
}

// FetchListings crawls the configured object list and every linked
// object card. The portal paginates with ?page=N; sinceToken carries the
// last fully-crawled page so consecutive cycles pick up where they left off.
func (a *Adapter) FetchListings(ctx context.Context, sinceToken string) ([]*models.RawRecord, string, error) {
	a.mu.Lock()
	a.records = a.records[:0]
	a.mu.Unlock()

	c := colly.NewCollector(
		colly.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		colly.MaxDepth(2),
		colly.Async(true),
	)
	c.SetRequestTimeout(60 * time.Second)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*m2bomber*",
		Parallelism: a.cfg.MaxConcurrentFetch,
		Delay:       time.Duration(a.cfg.RateLimitMs) * time.Millisecond,
	}); err != nil {
		return nil, "", &scraper.FetchError{Platform: platform, Err: err}
	}

	var fetchErr error
	var errOnce sync.Once

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		// Individual card failures are tolerable; a failing list page
		// fails the cycle.
		if strings.Contains(r.Request.URL.Path, "/obj-") && !strings.Contains(r.Request.URL.Path, "/object/") {
			errOnce.Do(func() { fetchErr = err })
		}
		a.logger.Warn("[m2bomber] request failed %s: %v", r.Request.URL, err)
	})

	// List page: follow every object card link.
	c.OnHTML("a[href*='/object/']", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if err := e.Request.Visit(link); err != nil && err != colly.ErrAlreadyVisited {
			a.logger.Debug("[m2bomber] visit %s: %v", link, err)
		}
	})

	// Object card: build one raw record.
	c.OnHTML("div.object-card, main", func(e *colly.HTMLElement) {
		if !strings.Contains(e.Request.URL.Path, "/object/") {
			return
		}

		rec := &models.RawRecord{
			Platform:    platform,
			SourceID:    sourceIDFromPath(e.Request.URL.Path),
			URL:         e.Request.URL.String(),
			FetchedAt:   time.Now().UTC(),
			Title:       strings.TrimSpace(e.ChildText("h1")),
			RawPrice:    strings.TrimSpace(e.ChildText(".object-price, .price")),
			RawLocation: strings.TrimSpace(e.ChildText(".object-address, .address")),
			Description: strings.TrimSpace(e.ChildText(".object-description, .description")),
			Phone:       strings.TrimSpace(e.ChildAttr("a[href^='tel:']", "href")),
			ContactName: strings.TrimSpace(e.ChildText(".object-contact-name, .seller-name")),
		}
		rec.Phone = strings.TrimPrefix(rec.Phone, "tel:")

		if lat := e.ChildAttr("[data-lat]", "data-lat"); lat != "" {
			rec.Lat, _ = strconv.ParseFloat(lat, 64)
			rec.Lon, _ = strconv.ParseFloat(e.ChildAttr("[data-lng]", "data-lng"), 64)
		}

		e.ForEach(".object-params li, .params li", func(_ int, p *colly.HTMLElement) {
			t := strings.TrimSpace(p.Text)
			if t == "" {
				return
			}
			rec.Tags = append(rec.Tags, t)
			lower := strings.ToLower(t)
			if rec.RawArea == "" && (strings.Contains(lower, "м²") || strings.Contains(lower, "м2")) {
				rec.RawArea = t
			}
			if rec.RawRooms == "" && strings.Contains(lower, "кімнат") {
				rec.RawRooms = t
			}
		})

		e.ForEach("img.object-photo, .gallery img", func(_ int, img *colly.HTMLElement) {
			src := img.Attr("src")
			if src == "" {
				src = img.Attr("data-src")
			}
			if strings.HasPrefix(src, "http") {
				rec.ImageURLs = append(rec.ImageURLs, src)
			}
		})

		if rec.SourceID == "" {
			return
		}

		a.mu.Lock()
		a.records = append(a.records, rec)
		a.mu.Unlock()
	})

	page := 1
	if sinceToken != "" {
		fmt.Sscanf(sinceToken, "page=%d", &page)
	}
	listURL := fmt.Sprintf("%s?page=%d", a.cfg.SeedURL, page)

	if err := c.Visit(listURL); err != nil {
		return nil, "", &scraper.FetchError{Platform: platform, Err: err}
	}
	c.Wait()

	if fetchErr != nil {
		return nil, "", &scraper.FetchError{Platform: platform, Err: fetchErr}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Info("[m2bomber] cycle complete — %d raw records from page %d", len(a.records), page)

	// Empty page means we ran off the end; restart from page 1.
	next := fmt.Sprintf("page=%d", page+1)
	if len(a.records) == 0 {
		next = ""
	}
	return append([]*models.RawRecord(nil), a.records...), next, nil
}

// sourceIDFromPath pulls the object id out of "/object/<id>" paths.
func sourceIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == "object" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return ""
}
