package land

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"land-collector/client"
	"land-collector/utils"
)

const defaultStartURL = "https://new.land.naver.com/complexes"

// BrowserTokenSource loads the listing web app in headless Chrome and
// captures the bearer token the page attaches to its own API calls.
type BrowserTokenSource struct {
	startURL  string
	chromeBin string
	userAgent string
	wait      time.Duration
	logger    *utils.Logger
}

type BrowserOptions struct {
	StartURL  string
	ChromeBin string
	UserAgent string
	// Wait bounds how long the page may take to issue an API call.
	Wait time.Duration
}

func NewBrowserTokenSource(opts BrowserOptions, logger *utils.Logger) *BrowserTokenSource {
	start := opts.StartURL
	if start == "" {
		start = defaultStartURL
	}
	wait := opts.Wait
	if wait <= 0 {
		wait = 45 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return &BrowserTokenSource{
		startURL:  start,
		chromeBin: opts.ChromeBin,
		userAgent: ua,
		wait:      wait,
		logger:    logger,
	}
}

// Fetch implements client.TokenSource.
func (b *BrowserTokenSource) Fetch(ctx context.Context) (client.Token, error) {
	chromeBin := b.chromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	b.logger.Info("[browser] Capturing token via %s (binary: %q)", b.startURL, chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(b.userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, b.wait)
	defer cancelTimeout()

	captured := make(chan string, 1)
	var once sync.Once
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || !strings.Contains(req.Request.URL, "/api/") {
			return
		}
		if value := bearerFromHeaders(req.Request.Headers); value != "" {
			once.Do(func() { captured <- value })
		}
	})

	if err := chromedp.Run(browserCtx, network.Enable(), chromedp.Navigate(b.startURL)); err != nil {
		return client.Token{}, fmt.Errorf("chromedp navigate: %w", err)
	}

	select {
	case value := <-captured:
		tok := client.Token{Value: value, IssuedAt: time.Now()}
		if exp, ok := client.JWTExpiry(value); ok {
			tok.ExpiresAt = exp
		}
		return tok, nil
	case <-browserCtx.Done():
		return client.Token{}, errors.New("page issued no authorized API request before timeout")
	}
}

func bearerFromHeaders(headers network.Headers) string {
	for key, v := range headers {
		if !strings.EqualFold(key, "authorization") {
			continue
		}
		s, _ := v.(string)
		s = strings.TrimSpace(s)
		if len(s) > 7 && strings.EqualFold(s[:7], "bearer ") {
			return strings.TrimSpace(s[7:])
		}
	}
	return ""
}

// findChromeBinary locates Chrome/Chromium binary.
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
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
