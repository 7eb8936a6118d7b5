package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/yaml.v3"

	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/model"
)

// Official is one entry of a region's published holiday list.
type Official struct {
	Date model.Date `json:"date" yaml:"date"`
	Name string     `json:"name" yaml:"name"`
}

// Source supplies the official list for a region and year.
type Source interface {
	Fetch(ctx context.Context, region string, year int) ([]Official, error)
}

// HTTPSource reads the Bank of Thailand style endpoint:
// GET <url>?year=YYYY returning {"result":{"data":[{"Date":..., "HolidayDescription":...}]}}.
type HTTPSource struct {
	URL      string
	ClientID string
	// Regions served by the endpoint. Other regions get an empty list.
	Regions []string
	Client  *http.Client
}

func NewHTTPSource(rawURL, clientID string, regions []string) *HTTPSource {
	return &HTTPSource{
		URL:      rawURL,
		ClientID: clientID,
		Regions:  regions,
		Client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type botResponse struct {
	Result struct {
		Data []struct {
			Date                   string `json:"Date"`
			HolidayDescription     string `json:"HolidayDescription"`
			HolidayDescriptionThai string `json:"HolidayDescriptionThai"`
		} `json:"data"`
	} `json:"result"`
}

func (s *HTTPSource) serves(region string) bool {
	if len(s.Regions) == 0 {
		return true
	}
	for _, r := range s.Regions {
		if strings.EqualFold(r, region) {
			return true
		}
	}
	return false
}

func (s *HTTPSource) Fetch(ctx context.Context, region string, year int) ([]Official, error) {
	if !s.serves(region) {
		return nil, nil
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("holiday source url: %w", err))
	}
	q := u.Query()
	q.Set("year", strconv.Itoa(year))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if s.ClientID != "" {
		req.Header.Set("X-IBM-Client-Id", s.ClientID)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("holiday source returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		// 4xx will not improve on retry, apart from throttling.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var payload botResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode holiday response: %w", err))
	}

	out := make([]Official, 0, len(payload.Result.Data))
	for _, item := range payload.Result.Data {
		d, err := model.ParseDate(item.Date)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		name := item.HolidayDescription
		if name == "" {
			name = item.HolidayDescriptionThai
		}
		out = append(out, Official{Date: d, Name: name})
	}
	return out, nil
}

// StaticSource serves a fixed list, typically loaded from a YAML file
// shipped with the deployment.
type StaticSource struct {
	lists map[string][]Official
}

type staticFile struct {
	Regions map[string][]Official `yaml:"regions"`
}

func LoadStaticSource(path string) (*StaticSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeStaticSource(f)
}

func DecodeStaticSource(r io.Reader) (*StaticSource, error) {
	var file staticFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode holiday fallback: %w", err)
	}
	lists := make(map[string][]Official, len(file.Regions))
	for region, list := range file.Regions {
		lists[strings.ToUpper(region)] = list
	}
	return &StaticSource{lists: lists}, nil
}

func (s *StaticSource) Fetch(_ context.Context, region string, year int) ([]Official, error) {
	var out []Official
	for _, o := range s.lists[strings.ToUpper(region)] {
		if o.Date.Year == year {
			out = append(out, o)
		}
	}
	return out, nil
}

// CachedList is a fetched official list as stored in a Cache.
type CachedList struct {
	Region    string     `json:"region"`
	Year      int        `json:"year"`
	FetchedAt time.Time  `json:"fetched_at"`
	Holidays  []Official `json:"holidays"`
}
