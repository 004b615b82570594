package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/kjstillabower/transit-panel/internal/models"
	"github.com/kjstillabower/transit-panel/internal/observability"
)

// TransitClient fetches upcoming arrivals for a set of stops.
type TransitClient interface {
	FetchArrivals(ctx context.Context, stopIDs []string, now time.Time) ([]models.ArrivalEntry, error)
}

// ErrNoFeeds is returned by NewGTFSRealtimeClient when no feed URL is configured.
var ErrNoFeeds = errors.New("at least one GTFS-realtime feed is required")

// GTFSRealtimeConfig configures a GTFSRealtimeClient.
type GTFSRealtimeConfig struct {
	Feeds             []string
	APIKey            string
	StopNames         map[string]string
	Timeout           time.Duration
	Retry             RetryConfig
	RequestsPerMinute int
}

// GTFSRealtimeClient reads trip updates from one or more GTFS-realtime feeds.
type GTFSRealtimeClient struct {
	feeds     []string
	apiKey    string
	stopNames map[string]string
	fetch     *fetcher
	logger    *zap.Logger
}

// NewGTFSRealtimeClient returns a client reading the configured feeds.
func NewGTFSRealtimeClient(cfg GTFSRealtimeConfig, logger *zap.Logger) (*GTFSRealtimeClient, error) {
	if len(cfg.Feeds) == 0 {
		return nil, ErrNoFeeds
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger = observability.OrNop(logger)
	return &GTFSRealtimeClient{
		feeds:     cfg.Feeds,
		apiKey:    cfg.APIKey,
		stopNames: cfg.StopNames,
		fetch:     newFetcher(SourceTransit, cfg.Timeout, cfg.RequestsPerMinute, cfg.Retry, logger),
		logger:    logger,
	}, nil
}

// FetchArrivals reads every feed and returns the arrivals at stopIDs that have not yet departed.
// Any feed failure fails the whole fetch so the panel keeps showing the last complete result.
func (c *GTFSRealtimeClient) FetchArrivals(ctx context.Context, stopIDs []string, now time.Time) ([]models.ArrivalEntry, error) {
	want := make(map[string]struct{}, len(stopIDs))
	for _, id := range stopIDs {
		want[id] = struct{}{}
	}

	var header http.Header
	if c.apiKey != "" {
		header = http.Header{"X-Api-Key": []string{c.apiKey}}
	}

	var arrivals []models.ArrivalEntry
	for _, feedURL := range c.feeds {
		body, err := c.fetch.get(ctx, feedURL, header)
		if err != nil {
			return nil, newFetchError(SourceTransit, err)
		}
		var feed gtfs.FeedMessage
		if err := proto.Unmarshal(body, &feed); err != nil {
			return nil, newFetchError(SourceTransit, fmt.Errorf("%w: decode feed %s: %w", ErrMalformedResponse, feedURL, err))
		}
		arrivals = append(arrivals, c.arrivalsFromFeed(&feed, want, now)...)
	}
	c.logger.Debug("transit fetch complete",
		zap.Int("feeds", len(c.feeds)),
		zap.Int("arrivals", len(arrivals)))
	return arrivals, nil
}

func (c *GTFSRealtimeClient) arrivalsFromFeed(feed *gtfs.FeedMessage, want map[string]struct{}, now time.Time) []models.ArrivalEntry {
	var out []models.ArrivalEntry
	for _, ent := range feed.GetEntity() {
		tu := ent.GetTripUpdate()
		if tu == nil {
			continue
		}
		updates := tu.GetStopTimeUpdate()
		if len(updates) == 0 {
			continue
		}
		routeID := tu.GetTrip().GetRouteId()
		destination := c.stopName(updates[len(updates)-1].GetStopId())

		for _, stu := range updates {
			stopID := stu.GetStopId()
			if _, ok := want[stopID]; !ok {
				continue
			}
			ts := stu.GetArrival().GetTime()
			if ts == 0 {
				ts = stu.GetDeparture().GetTime()
			}
			if ts == 0 {
				continue
			}
			at := time.Unix(ts, 0)
			if at.Before(now) {
				continue
			}
			out = append(out, models.ArrivalEntry{
				RouteID:             routeID,
				StopID:              stopID,
				Destination:         destination,
				MinutesUntilArrival: models.CountdownMinutes(at, now),
				ScheduledTime:       at,
			})
		}
	}
	return out
}

// stopName resolves a stop id to its display name. Directional ids (e.g. "F20N") fall back to
// the parent station id before falling back to the raw id.
func (c *GTFSRealtimeClient) stopName(id string) string {
	if name, ok := c.stopNames[id]; ok {
		return name
	}
	if len(id) > 1 && strings.ContainsAny(id[len(id)-1:], "NS") {
		if name, ok := c.stopNames[id[:len(id)-1]]; ok {
			return name
		}
	}
	return id
}
