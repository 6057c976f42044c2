package olx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/martyniukyurii/KovchegBackend/config"
	"github.com/martyniukyurii/KovchegBackend/models"
	"github.com/martyniukyurii/KovchegBackend/scraper"
	"github.com/martyniukyurii/KovchegBackend/utils"
)

const platform = "olx"

// listingIDRegexp captures the stable id from OLX listing URLs, which
// end in "-ID<digits>.html".
var listingIDRegexp = regexp.MustCompile(`-ID([A-Za-z0-9]+)\.html`)

// Adapter scrapes the OLX classifieds through a headless browser. The
// phone number sits behind a JS click, so plain HTTP is not enough here.
type Adapter struct {
	cfg       *config.SourceConfig
	chromeBin string
	logger    *utils.Logger
	pool      *utils.WorkerPool
	visited   *utils.URLSet
	retry     *utils.RetryConfig

	mu      sync.Mutex
	records []*models.RawRecord
}

// New creates a ready-to-use OLX Adapter.
func New(cfg *config.SourceConfig, chromeBin string, logger *utils.Logger) *Adapter {
	return &Adapter{
		cfg:       cfg,
		chromeBin: chromeBin,
		logger:    logger,
		pool:      utils.NewWorkerPool(cfg.MaxConcurrentFetch, cfg.RateLimitMs),
		visited:   utils.NewURLSet(),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   cfg.BackoffBase,
			MaxDelay:    cfg.BackoffMax,
			Logger:      logger,
		},
	}
}

func (a *Adapter) Platform() string { return platform }

func (a *Adapter) RateLimitHint() time.Duration {
	return time.Duration(a.cfg.RateLimitMs) * time.Millisecond
}

// FetchListings crawls the configured category page and visits each
// listing's detail page. OLX has no incremental feed, so the since token
// is ignored and every cycle re-crawls the category.
func (a *Adapter) FetchListings(ctx context.Context, sinceToken string) ([]*models.RawRecord, string, error) {
	a.mu.Lock()
	a.records = a.records[:0]
	a.mu.Unlock()

	chromeBin := a.chromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	silentCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelSilent()
	allocCtx = silentCtx

	urls, err := a.collectListingURLs(allocCtx, a.cfg.SeedURL)
	if err != nil {
		return nil, "", &scraper.FetchError{Platform: platform, Err: err}
	}
	a.logger.Info("[olx] found %d listing URLs on %s", len(urls), a.cfg.SeedURL)

	for _, u := range urls {
		url := u
		if !a.visited.Add(url) {
			continue
		}
		a.pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			rec, err := a.scrapeDetailPage(allocCtx, url)
			if err != nil {
				a.logger.Warn("[olx] detail page failed for %s: %v", url, err)
				return
			}
			a.mu.Lock()
			a.records = append(a.records, rec)
			a.mu.Unlock()
		})
	}
	a.pool.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.Info("[olx] cycle complete — %d raw records", len(a.records))
	return append([]*models.RawRecord(nil), a.records...), "", nil
}

// collectListingURLs loads the category page and pulls listing links.
func (a *Adapter) collectListingURLs(allocCtx context.Context, pageURL string) ([]string, error) {
	var urls []string

	err := a.retry.Do(allocCtx, "olx-category-page", func() error {
		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 60*time.Second)
		defer cancelTimeout()

		var found []string
		err := chromedp.Run(ctx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(4*time.Second),
			chromedp.Evaluate(`
				(function() {
					var out = [];
					var seen = {};
					var links = document.querySelectorAll('a[href*="/d/obyavlenie/"], a[href*="/d/uk/obyavlenie/"]');
					for (var i = 0; i < links.length; i++) {
						var href = links[i].href.split('#')[0].split('?')[0];
						if (!seen[href]) {
							seen[href] = true;
							out.push(href);
						}
					}
					return out;
				})()
			`, &found),
		)
		if err != nil {
			return fmt.Errorf("chromedp category extract: %w", err)
		}
		urls = found
		return nil
	})

	return urls, err
}

// scrapeDetailPage extracts the full record from one listing page,
// including the click-to-reveal phone number.
func (a *Adapter) scrapeDetailPage(allocCtx context.Context, url string) (*models.RawRecord, error) {
	rec := &models.RawRecord{
		Platform:  platform,
		SourceID:  sourceIDFromURL(url),
		URL:       url,
		FetchedAt: time.Now().UTC(),
	}

	err := a.retry.Do(allocCtx, "olx-detail-page", func() error {
		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, 60*time.Second)
		defer cancelTimeout()

		type detailData struct {
			Title       string   `json:"title"`
			Price       string   `json:"price"`
			Location    string   `json:"location"`
			Description string   `json:"description"`
			Phone       string   `json:"phone"`
			Contact     string   `json:"contact"`
			Images      []string `json:"images"`
			Tags        []string `json:"tags"`
			Posted      string   `json:"posted"`
			Lat         float64  `json:"lat"`
			Lon         float64  `json:"lon"`
		}

		var details detailData

		err := chromedp.Run(ctx,
			chromedp.Navigate(url),
			chromedp.Sleep(3*time.Second),

			// Reveal the phone number if the button is present.
			chromedp.Evaluate(`
				(function() {
					var btn = document.querySelector('button[data-testid="show-phone"]') ||
					          document.querySelector('[data-cy="ad-contact-phone"] button');
					if (btn) btn.click();
					return true;
				})()
			`, nil),
			chromedp.Sleep(2*time.Second),

			chromedp.Evaluate(`
				(function() {
					var result = {title:'', price:'', location:'', description:'',
					              phone:'', contact:'', images:[], tags:[], posted:''};

					var titleEl = document.querySelector('[data-cy="ad_title"] h4') ||
					              document.querySelector('h1') || document.querySelector('h4');
					if (titleEl) result.title = titleEl.innerText.trim();

					var priceEl = document.querySelector('[data-testid="ad-price-container"] h3') ||
					              document.querySelector('[data-cy="ad-price"]');
					if (priceEl) result.price = priceEl.innerText.trim();

					var locEl = document.querySelector('[data-testid="map-aside-section"]') ||
					            document.querySelector('[data-cy="ad-map"] p');
					if (locEl) result.location = locEl.innerText.split('\n')[0].trim();

					var descEl = document.querySelector('[data-cy="ad_description"] div') ||
					             document.querySelector('[data-testid="ad_description"]');
					if (descEl) result.description = descEl.innerText.trim();

					var phoneEl = document.querySelector('[data-testid="contact-phone"]') ||
					              document.querySelector('a[href^="tel:"]');
					if (phoneEl) result.phone = phoneEl.innerText.trim() ||
					                            (phoneEl.getAttribute('href') || '').replace('tel:', '');

					var nameEl = document.querySelector('[data-testid="user-profile-user-name"]');
					if (nameEl) result.contact = nameEl.innerText.trim();

					var imgs = document.querySelectorAll('[data-testid="ad-photo"] img, .swiper-zoom-container img');
					for (var i = 0; i < imgs.length; i++) {
						var src = imgs[i].src || imgs[i].getAttribute('data-src');
						if (src && src.indexOf('http') === 0) result.images.push(src);
					}

					var tags = document.querySelectorAll('[data-testid="ad-parameters-container"] p, ul.parameters li');
					for (var j = 0; j < tags.length; j++) {
						var t = tags[j].innerText.trim();
						if (t) result.tags.push(t);
					}

					var dateEl = document.querySelector('[data-cy="ad-posted-at"]');
					if (dateEl) result.posted = dateEl.innerText.trim();

					// Map pin coordinates live in the prerendered state blob.
					result.lat = 0; result.lon = 0;
					var html = document.documentElement.innerHTML;
					var latM = html.match(/"lat":\s*(-?\d+\.\d+)/);
					var lonM = html.match(/"lon":\s*(-?\d+\.\d+)/);
					if (latM && lonM) {
						result.lat = parseFloat(latM[1]);
						result.lon = parseFloat(lonM[1]);
					}

					return result;
				})()
			`, &details),
		)
		if err != nil {
			return fmt.Errorf("chromedp detail extract: %w", err)
		}

		rec.Title = details.Title
		rec.RawPrice = details.Price
		rec.RawLocation = details.Location
		rec.Description = details.Description
		rec.Phone = details.Phone
		rec.ContactName = details.Contact
		rec.ImageURLs = details.Images
		rec.Tags = details.Tags
		rec.PostedAt = details.Posted
		rec.Lat = details.Lat
		rec.Lon = details.Lon

		// Area and rooms hide inside the parameter tags.
		for _, t := range details.Tags {
			lower := strings.ToLower(t)
			if rec.RawArea == "" && (strings.Contains(lower, "м²") || strings.Contains(lower, "площа")) {
				rec.RawArea = t
			}
			if rec.RawRooms == "" && (strings.Contains(lower, "кімнат") || strings.Contains(lower, "комнат")) {
				rec.RawRooms = t
			}
			if rec.RawFloor == "" && strings.Contains(lower, "поверх") {
				rec.RawFloor = t
			}
		}
		return nil
	})

	return rec, err
}

// sourceIDFromURL derives the stable OLX id. URLs without the -ID suffix
// fall back to the last path segment, which is still stable per posting.
func sourceIDFromURL(url string) string {
	if m := listingIDRegexp.FindStringSubmatch(url); len(m) == 2 {
		return m[1]
	}
	trimmed := strings.TrimSuffix(url, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return strings.TrimSuffix(trimmed[i+1:], ".html")
	}
	return url
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
