package pik

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// nextDataRe extracts the JSON payload Next.js embeds in every page.
var nextDataRe = regexp.MustCompile(`(?s)<script id="__NEXT_DATA__"[^>]*>(.*?)</script>`)

// SiteClient reads listing data from the JSON embedded in www.pik.ru search
// pages. It covers fields the public API omits and serves as a fallback
// source when the API misbehaves.
type SiteClient struct {
	http    *http.Client
	baseURL string
	maxPage int
	delay   time.Duration
	log     *zap.Logger

	// slugs maps project external ids to their site slugs; search pages are
	// addressed by slug, not id.
	slugs map[int64]string
}

// NewSiteClient creates a website-backed source.
func NewSiteClient(baseURL string, timeout time.Duration) *SiteClient {
	if baseURL == "" {
		baseURL = "https://www.pik.ru"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SiteClient{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		maxPage: 10,
		delay:   100 * time.Millisecond,
		log:     zap.L().With(zap.String("component", "pik.site")),
		slugs:   make(map[int64]string),
	}
}

// RegisterSlug teaches the client the site slug for a project external id.
func (s *SiteClient) RegisterSlug(externalID int64, slug string) {
	if slug != "" {
		s.slugs[externalID] = slug
	}
}

// fetchPageData downloads a page and decodes its __NEXT_DATA__ payload.
func (s *SiteClient) fetchPageData(ctx context.Context, pageURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "site: create request")
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "site: GET %s", pageURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("site: GET %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	html, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "site: read body")
	}

	m := nextDataRe.FindSubmatch(html)
	if m == nil {
		return nil, eris.Errorf("site: no __NEXT_DATA__ payload in %s", pageURL)
	}

	var data map[string]any
	if err := json.Unmarshal(m[1], &data); err != nil {
		return nil, eris.Wrapf(err, "site: decode __NEXT_DATA__ from %s", pageURL)
	}
	return data, nil
}

// searchData walks to props.pageProps.initialState.searchService.filteredFlats.data.
func searchData(page map[string]any) (map[string]any, bool) {
	cur := any(page)
	for _, seg := range []string{"props", "pageProps", "initialState", "searchService", "filteredFlats", "data"} {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	data, ok := cur.(map[string]any)
	return data, ok
}

// buildSearchURL renders the search page URL for one project slug. A single
// requested room value becomes a path segment the way the site routes them.
func (s *SiteClient) buildSearchURL(slug string, crit Criteria) string {
	roomPath := ""
	if len(crit.Rooms) == 1 {
		switch crit.Rooms[0] {
		case 0:
			roomPath = "/studio"
		case 1:
			roomPath = "/one-room"
		case 2:
			roomPath = "/two-room"
		case 3:
			roomPath = "/three-room"
		}
	}

	u := fmt.Sprintf("%s/search/%s%s", s.baseURL, slug, roomPath)

	q := url.Values{}
	if crit.PriceMin > 0 {
		q.Set("priceFrom", strconv.FormatInt(crit.PriceMin, 10))
	}
	if crit.PriceMax > 0 {
		q.Set("priceTo", strconv.FormatInt(crit.PriceMax, 10))
	}
	if crit.AreaMin > 0 {
		q.Set("areaFrom", strconv.FormatFloat(crit.AreaMin, 'f', -1, 64))
	}
	if crit.AreaMax > 0 {
		q.Set("areaTo", strconv.FormatFloat(crit.AreaMax, 'f', -1, 64))
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// FetchProjects is limited on the website side: only projects with known
// slugs can be described. It re-reads each registered project's page.
func (s *SiteClient) FetchProjects(ctx context.Context) ([]ProjectInfo, error) {
	var projects []ProjectInfo
	for id, slug := range s.slugs {
		info, err := s.BlockInfo(ctx, slug)
		if err != nil {
			s.log.Warn("block info fetch failed", zap.Int64("project", id), zap.Error(err))
			continue
		}
		projects = append(projects, *info)
	}
	// Map iteration order is random; keep parity with the API client.
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// BlockInfo reads a project's id and name from its page.
func (s *SiteClient) BlockInfo(ctx context.Context, slug string) (*ProjectInfo, error) {
	page, err := s.fetchPageData(ctx, s.baseURL+"/"+slug)
	if err != nil {
		return nil, err
	}
	data, ok := searchData(page)
	if !ok {
		return nil, eris.Errorf("site: no search data for %s", slug)
	}
	block, ok := data["block"].(map[string]any)
	if !ok {
		return nil, eris.Errorf("site: no block info for %s", slug)
	}

	rec := RawRecord(block)
	id, ok := rec.ExternalID()
	if !ok {
		return nil, eris.Errorf("site: block for %s has no id", slug)
	}
	name, _ := rec.StringField("name")
	return &ProjectInfo{
		ExternalID: id,
		Name:       name,
		Slug:       slug,
		URL:        "/" + slug,
	}, nil
}

// FetchListings reads flats from each registered project's search pages,
// following page=N pagination up to lastPage (hard cap guards against
// pagination bugs). Client-side criteria are re-applied afterward like the
// API client does.
func (s *SiteClient) FetchListings(ctx context.Context, crit Criteria) ([]RawRecord, error) {
	var all []RawRecord
	var lastErr error

	for _, blockID := range crit.BlockIDs {
		slug, ok := s.slugs[blockID]
		if !ok {
			s.log.Warn("no slug registered for project, skipping", zap.Int64("project", blockID))
			continue
		}

		base := s.buildSearchURL(slug, crit)
		lastPage := 1
		for page := 1; page <= lastPage && page <= s.maxPage; page++ {
			pageURL := base
			if page > 1 {
				sep := "?"
				if strings.Contains(base, "?") {
					sep = "&"
				}
				pageURL = base + sep + "page=" + strconv.Itoa(page)
			}

			data, err := s.fetchPageData(ctx, pageURL)
			if err != nil {
				lastErr = err
				break
			}
			sd, ok := searchData(data)
			if !ok {
				break
			}

			if lp, ok := asInt64(sd["lastPage"]); ok {
				lastPage = int(lp)
			}

			flats, _ := sd["flats"].([]any)
			for _, f := range flats {
				rec, ok := f.(map[string]any)
				if !ok {
					continue
				}
				raw := RawRecord(rec)
				raw["block_id"] = blockID
				if block, ok := sd["block"].(map[string]any); ok {
					raw["block_name"], _ = asString(block["name"])
				}
				all = append(all, raw)
			}

			// Be polite between page loads.
			if page < lastPage {
				select {
				case <-ctx.Done():
					return all, eris.Wrap(ctx.Err(), "site: fetch cancelled")
				case <-time.After(s.delay):
				}
			}
		}
	}

	return ApplyCriteria(all, crit), lastErr
}

var _ Source = (*SiteClient)(nil)
