// Package pik talks to the PIK property developer's public surfaces: the JSON
// API at api.pik.ru and, as a fallback, the JSON payload embedded in www.pik.ru
// search pages. Both produce RawRecord batches for the normalizer.
package pik

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ProjectInfo is a listing group as reported by the upstream aggregate
// endpoint.
type ProjectInfo struct {
	ExternalID int64
	GUID       string
	Name       string
	Slug       string
	URL        string
	FlatsCount int
	PriceMin   int64
}

// Criteria are the search bounds for a listings fetch. BlockIDs is the set of
// project external ids to cover in one combined request. A room value of 3
// means "3 or more"; 0/1/2 match exactly.
type Criteria struct {
	BlockIDs []int64
	Rooms    []int
	PriceMin int64
	PriceMax int64
	AreaMin  float64
	AreaMax  float64
}

// Source is the upstream abstraction the ingestion cycle consumes.
type Source interface {
	FetchProjects(ctx context.Context) ([]ProjectInfo, error)
	FetchListings(ctx context.Context, c Criteria) ([]RawRecord, error)
}

// Options configures the API client.
type Options struct {
	BaseURL      string
	Version      string
	SiteURL      string
	Timeout      time.Duration
	RequestDelay time.Duration // inter-request throttle; 0 = unthrottled
	PageLimit    int           // flats per page
	MaxOffset    int           // pagination safety cap
	Parallel     int           // bound for the legacy per-block fetch
}

// Client fetches listing data from the PIK JSON API.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	opts    Options
	log     *zap.Logger
}

// NewClient creates an API client with the given options.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.pik.ru"
	}
	if opts.Version == "" {
		opts.Version = "v2"
	}
	if opts.SiteURL == "" {
		opts.SiteURL = "https://www.pik.ru"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 100
	}
	if opts.MaxOffset <= 0 {
		opts.MaxOffset = 2000
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RequestDelay), 1)
	}

	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		opts:    opts,
		log:     zap.L().With(zap.String("component", "pik.client")),
	}
}

// SiteURL returns the configured website base, used for deep links.
func (c *Client) SiteURL() string { return c.opts.SiteURL }

// get performs one throttled GET against the API and decodes the JSON body
// into out. Non-200 responses and malformed JSON come back as errors; callers
// at the cycle boundary decide whether an empty result is worth surfacing.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "pik: rate limiter wait")
	}

	u := fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.opts.BaseURL, "/"), c.opts.Version, endpoint)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return eris.Wrap(err, "pik: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Origin", c.opts.SiteURL)
	req.Header.Set("Referer", c.opts.SiteURL+"/")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "pik: GET %s", endpoint)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("pik: GET %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrapf(err, "pik: GET %s: decode body", endpoint)
	}
	return nil
}

// FetchProjects requests all listing groups in one aggregate call
// (blockLimit=100 overrides the default page of 5) and keeps only groups with
// available units. Falls back to the legacy per-group endpoint when the
// aggregate shape is absent.
func (c *Client) FetchProjects(ctx context.Context) ([]ProjectInfo, error) {
	params := url.Values{}
	params.Set("type", "1")
	params.Set("flatLimit", "0")
	params.Set("blockLimit", "100")

	var body map[string]any
	if err := c.get(ctx, "filter", params, &body); err != nil {
		c.log.Warn("aggregate project fetch failed, trying legacy endpoint", zap.Error(err))
		return c.fetchProjectsLegacy(ctx)
	}

	blocks, ok := body["blocks"].([]any)
	if !ok {
		c.log.Warn("aggregate response missing blocks, trying legacy endpoint")
		return c.fetchProjectsLegacy(ctx)
	}

	var projects []ProjectInfo
	for _, b := range blocks {
		rec, ok := b.(map[string]any)
		if !ok {
			continue
		}
		p, ok := parseProject(RawRecord(rec))
		if !ok || p.Name == "" {
			continue
		}
		// Only groups with units on sale are worth tracking.
		if p.FlatsCount <= 0 {
			continue
		}
		projects = append(projects, p)
	}

	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// fetchProjectsLegacy reads the flat per-group list from /v2/block.
func (c *Client) fetchProjectsLegacy(ctx context.Context) ([]ProjectInfo, error) {
	var body []map[string]any
	if err := c.get(ctx, "block", nil, &body); err != nil {
		return nil, err
	}

	var projects []ProjectInfo
	for _, rec := range body {
		p, ok := parseProject(RawRecord(rec))
		if !ok {
			continue
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("Project #%d", p.ExternalID)
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func parseProject(rec RawRecord) (ProjectInfo, bool) {
	id, ok := rec.ExternalID()
	if !ok {
		return ProjectInfo{}, false
	}
	p := ProjectInfo{ExternalID: id}
	p.GUID, _ = rec.StringField("guid")
	p.Name, _ = rec.StringField("name")
	p.URL, _ = rec.StringField("path", "url")
	if slug, ok := rec.StringField("url"); ok && !strings.Contains(slug, "/") {
		p.Slug = slug
	} else {
		p.Slug = strings.TrimLeft(p.URL, "/")
	}
	if n, ok := rec.Int64Field("count", "flats_count"); ok {
		p.FlatsCount = int(n)
	}
	p.PriceMin, _ = rec.Int64Field("priceMin", "price_min")
	return p, true
}

// filterResponse is the envelope of /v2/filter listing pages.
type filterResponse struct {
	Blocks []struct {
		ID    json.RawMessage `json:"id"`
		Name  string          `json:"name"`
		Flats []RawRecord     `json:"flats"`
	} `json:"blocks"`
}

// FetchListings pulls all flats for the criteria's block set in one combined
// paginated request series. Server-side price/room filters are passed along
// but always re-applied client-side afterward: the upstream is known to
// ignore its own filter parameters. Area bounds are client-side only (the
// upstream errors on them).
func (c *Client) FetchListings(ctx context.Context, crit Criteria) ([]RawRecord, error) {
	if len(crit.BlockIDs) == 0 {
		return nil, nil
	}

	base := url.Values{}
	base.Set("type", "1")
	base.Set("blocks", joinInt64(crit.BlockIDs)) // plural: one request covers every block
	base.Set("onlyFlats", "1")
	if len(crit.Rooms) > 0 {
		base.Set("rooms", joinInt(crit.Rooms))
	}
	if crit.PriceMin > 0 {
		base.Set("priceMin", strconv.FormatInt(crit.PriceMin, 10))
	}
	if crit.PriceMax > 0 {
		base.Set("priceMax", strconv.FormatInt(crit.PriceMax, 10))
	}

	limit := c.opts.PageLimit
	var all []RawRecord
	for offset := 0; ; offset += limit {
		// Guards against upstream pagination bugs looping forever.
		if offset > c.opts.MaxOffset {
			c.log.Warn("pagination offset cap reached", zap.Int("offset", offset))
			break
		}

		params := url.Values{}
		for k, v := range base {
			params[k] = v
		}
		params.Set("flatLimit", strconv.Itoa(limit))
		params.Set("flatOffset", strconv.Itoa(offset))

		var page filterResponse
		if err := c.get(ctx, "filter", params, &page); err != nil {
			// Return what we accumulated; the orchestrator decides.
			return all, err
		}
		if len(page.Blocks) == 0 {
			break
		}

		found := 0
		for _, block := range page.Blocks {
			if len(block.Flats) == 0 {
				continue
			}
			blockID, _ := asInt64(decodeRaw(block.ID))
			for _, flat := range block.Flats {
				if flat == nil {
					continue
				}
				flat["block_id"] = blockID
				flat["block_name"] = block.Name
				all = append(all, flat)
			}
			found += len(block.Flats)
		}

		// A short page means end of data.
		if found < limit {
			break
		}
	}

	return ApplyCriteria(all, crit), nil
}

// FetchBlockListings reads flats per block from the legacy /v2/block/{id}
// endpoint, fetching blocks concurrently with a bounded group. Used when the
// combined filter endpoint misbehaves for specific projects.
func (c *Client) FetchBlockListings(ctx context.Context, blockIDs []int64) ([]RawRecord, error) {
	results := make([][]RawRecord, len(blockIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Parallel)
	for i, id := range blockIDs {
		g.Go(func() error {
			var body struct {
				Name  string      `json:"name"`
				Flats []RawRecord `json:"flats"`
			}
			if err := c.get(gctx, fmt.Sprintf("block/%d", id), nil, &body); err != nil {
				return err
			}
			for _, flat := range body.Flats {
				if flat == nil {
					continue
				}
				flat["block_id"] = id
				flat["block_name"] = body.Name
			}
			results[i] = body.Flats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []RawRecord
	for _, batch := range results {
		all = append(all, batch...)
	}
	return all, nil
}

// ApplyCriteria re-applies search bounds client-side. Room matching follows
// the upstream buckets: 0/1/2 exact, 3 is an open-ended "3 or more".
func ApplyCriteria(records []RawRecord, crit Criteria) []RawRecord {
	out := records[:0]
	for _, rec := range records {
		price, _ := rec.Int64Field("price", "currentPrice")
		if crit.PriceMin > 0 && price < crit.PriceMin {
			continue
		}
		if crit.PriceMax > 0 && price > crit.PriceMax {
			continue
		}

		area, _ := rec.FloatField("area", "square")
		if crit.AreaMin > 0 && area < crit.AreaMin {
			continue
		}
		if crit.AreaMax > 0 && area > crit.AreaMax {
			continue
		}

		if len(crit.Rooms) > 0 && !roomsMatch(rec.Rooms(), crit.Rooms) {
			continue
		}

		out = append(out, rec)
	}
	return out
}

func roomsMatch(rooms *int, wanted []int) bool {
	n := 0
	if rooms != nil {
		n = *rooms
	}
	for _, w := range wanted {
		if w >= 3 && n >= 3 {
			return true
		}
		if n == w {
			return true
		}
	}
	return false
}

func decodeRaw(raw json.RawMessage) any {
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

func joinInt64(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func joinInt(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

var _ Source = (*Client)(nil)
