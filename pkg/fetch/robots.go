package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsChecker fetches, caches and evaluates robots.txt per host.
// A host whose robots.txt cannot be fetched or parsed is treated as allowing everything.
type RobotsChecker struct {
	fetcher *Fetcher
	cache   map[string]*robotstxt.RobotsData // hostname -> parsed data (or nil)
	mu      sync.Mutex
	log     *logrus.Entry
}

// NewRobotsChecker creates a RobotsChecker. The fetcher must not itself carry a RobotsChecker.
func NewRobotsChecker(fetcher *Fetcher, log *logrus.Entry) *RobotsChecker {
	return &RobotsChecker{
		fetcher: fetcher,
		cache:   make(map[string]*robotstxt.RobotsData),
		log:     log,
	}
}

// Allowed reports whether userAgent may fetch target according to the host's robots.txt.
func (rc *RobotsChecker) Allowed(ctx context.Context, target *url.URL, userAgent string) bool {
	data := rc.robotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), userAgent)
}

func (rc *RobotsChecker) robotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Host

	rc.mu.Lock()
	data, found := rc.cache[host]
	rc.mu.Unlock()
	if found {
		return data
	}

	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: host, Path: "/robots.txt"}).String()
	robotsLog := rc.log.WithField("robots_url", robotsURL)
	robotsLog.Info("Fetching robots.txt...")

	data = rc.fetch(ctx, robotsURL, robotsLog)

	rc.mu.Lock()
	rc.cache[host] = data // nil caches the failure
	rc.mu.Unlock()
	return data
}

func (rc *RobotsChecker) fetch(ctx context.Context, robotsURL string, log *logrus.Entry) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		log.Errorf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", rc.fetcher.UserAgent())

	resp, err := rc.fetcher.FetchWithRetry(ctx, req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		log.Warnf("Fetching robots.txt failed, assuming allowed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Errorf("Error reading body: %v", err)
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		log.Errorf("Error parsing content: %v", err)
		return nil
	}
	log.Info("Successfully fetched and parsed robots.txt")
	return data
}
