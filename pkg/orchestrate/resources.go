package orchestrate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/archive"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/crawler"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/fetch"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/storage"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// Resources are shared by every portal crawled in one process: one HTTP client, per-host
// limits, the politeness pause, the case directory locks and the state store.
type Resources struct {
	appCfg *config.AppConfig
	log    *logrus.Entry

	Client     *http.Client
	Hosts      *fetch.HostSemaphorePool
	Limiter    *fetch.RateLimiter
	Politeness *fetch.Politeness
	Robots     *fetch.RobotsChecker // nil unless respect_robots is set
	Locks      *crawler.KeyedMutex
	Store      storage.StateStore // nil when state recording is off
	Sniffer    archive.Sniffer
}

// NewResources builds the shared resources for appCfg. The caller must Close them.
func NewResources(appCfg *config.AppConfig, log *logrus.Entry) (*Resources, error) {
	client := fetch.NewClient(appCfg.HTTPClientSettings, log)
	limiter := fetch.NewRateLimiter(appCfg.DelayPerRequest, log)

	r := &Resources{
		appCfg:     appCfg,
		log:        log,
		Client:     client,
		Hosts:      fetch.NewHostSemaphorePool(appCfg.MaxRequestsPerHost, appCfg.SemaphoreAcquireTimeout, log),
		Limiter:    limiter,
		Politeness: fetch.NewPoliteness(limiter, fetch.DelayFromConfig(appCfg.Politeness), log),
		Locks:      crawler.NewKeyedMutex(),
		Sniffer:    archive.MimeSniffer{},
	}
	if appCfg.RespectRobots {
		r.Robots = fetch.NewRobotsChecker(fetch.NewFetcher(client, appCfg, log), log)
	}
	if appCfg.StateRecordingEnabled() {
		if appCfg.StateDir == "" {
			return nil, fmt.Errorf("%w: state recording needs state_dir", utils.ErrConfigValidation)
		}
		store, err := storage.NewBadgerStore(appCfg.StateDir, log)
		if err != nil {
			return nil, err
		}
		r.Store = store
	}
	return r, nil
}

// RunMaintenance starts host pool eviction and store GC until ctx is done.
func (r *Resources) RunMaintenance(ctx context.Context) {
	go r.Hosts.RunEviction(ctx, 5*time.Minute)
	if r.Store != nil {
		go r.Store.RunGC(ctx, r.appCfg.DBGCInterval)
	}
}

// FetcherFor returns a Fetcher for portal that carries its user agent and the shared limits.
func (r *Resources) FetcherFor(portal config.PortalConfig) *fetch.Fetcher {
	opts := []fetch.Option{
		fetch.WithUserAgent(r.appCfg.EffectiveUserAgent(portal)),
		fetch.WithHostPool(r.Hosts),
		fetch.WithRateLimiter(r.Limiter),
	}
	if r.Robots != nil {
		opts = append(opts, fetch.WithRobots(r.Robots))
	}
	return fetch.NewFetcher(r.Client, r.appCfg, r.log.WithField("portal", portal.Key), opts...)
}

// NewCrawler creates a crawler for portal wired to the shared resources.
func (r *Resources) NewCrawler(portal config.PortalConfig, runID string) (*crawler.Crawler, error) {
	opts := &crawler.CrawlerOptions{
		Politeness: r.Politeness,
		Sniffer:    r.Sniffer,
		Locks:      r.Locks,
		RunID:      runID,
	}
	if r.Store != nil {
		opts.Store = r.Store
	}
	return crawler.NewCrawler(r.appCfg, portal, r.log, r.FetcherFor(portal), opts)
}

// Close releases the state store.
func (r *Resources) Close() error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Close()
}
