package address

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"surveybot/pkg/logx"
)

// Source produces the raw address list an index is built from.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]string, error)
}

var ErrEmptyDataset = errors.New("address: dataset is empty")

// FileSource reads one address per line.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return "file:" + s.Path }

func (s FileSource) Load(ctx context.Context) ([]string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("address: open %s: %w", s.Path, err)
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("address: read %s: %w", s.Path, err)
	}
	if len(out) == 0 {
		return nil, ErrEmptyDataset
	}
	return out, nil
}

// WFSSource downloads the Vienna address register one district at a time.
type WFSSource struct {
	BaseURL     string
	TypeName    string
	Districts   []int
	Concurrency int
	Client      *http.Client
	Log         logx.Logger
}

const (
	DefaultWFSURL      = "https://data.wien.gv.at/daten/geo"
	DefaultWFSTypeName = "ogdwien:ADRESSENOGD"
)

func (s WFSSource) Name() string { return "wfs:" + s.baseURL() }

func (s WFSSource) baseURL() string {
	if s.BaseURL == "" {
		return DefaultWFSURL
	}
	return s.BaseURL
}

func (s WFSSource) districts() []int {
	if len(s.Districts) > 0 {
		return s.Districts
	}
	d := make([]int, 23)
	for i := range d {
		d[i] = i + 1
	}
	return d
}

func (s WFSSource) districtURL(district int) string {
	typeName := s.TypeName
	if typeName == "" {
		typeName = DefaultWFSTypeName
	}
	q := url.Values{}
	q.Set("service", "WFS")
	q.Set("request", "GetFeature")
	q.Set("version", "1.1.0")
	q.Set("typeName", typeName)
	q.Set("srsName", "EPSG:4326")
	q.Set("outputFormat", "csv")
	q.Set("propertyname", "NAME,PLZ,GEB_BEZIRK")
	q.Set("cql_filter", fmt.Sprintf("GEB_BEZIRK='%02d'", district))
	return s.baseURL() + "?" + q.Encode()
}

// Load fetches every district. A district that fails is logged and left
// out; Load fails only when no district could be fetched.
func (s WFSSource) Load(ctx context.Context) ([]string, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	districts := s.districts()
	parts := make([][]string, len(districts))
	errs := make([]error, len(districts))

	var g errgroup.Group
	limit := s.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, d := range districts {
		g.Go(func() error {
			rows, err := s.fetchDistrict(ctx, client, d)
			if err != nil {
				errs[i] = fmt.Errorf("district %02d: %w", d, err)
				s.Log.Warn("district skipped", logx.Int("district", d), logx.Err(err))
				return nil
			}
			parts[i] = rows
			s.Log.Debug("district loaded", logx.Int("district", d), logx.Int("rows", len(rows)))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("address: wfs: %w", err)
	}

	var (
		out    []string
		failed int
	)
	for i, p := range parts {
		if errs[i] != nil {
			failed++
			continue
		}
		out = append(out, p...)
	}
	if failed == len(districts) {
		return nil, fmt.Errorf("address: wfs: %w", errors.Join(errs...))
	}
	if failed > 0 {
		s.Log.Warn("address dataset is partial", logx.Int("failed", failed), logx.Int("districts", len(districts)))
	}
	if len(out) == 0 {
		return nil, ErrEmptyDataset
	}
	return out, nil
}

func (s WFSSource) fetchDistrict(ctx context.Context, client *http.Client, district int) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.districtURL(district), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return ParseWFSCSV(resp.Body)
}

// ParseWFSCSV extracts "street number, postcode" from a WFS csv export.
// The header row and rows that are too short are skipped.
func ParseWFSCSV(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var out []string
	header := true
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header {
			header = false
			continue
		}
		if len(row) < 5 {
			continue
		}
		name := strings.TrimSpace(row[2])
		plz := strings.TrimSpace(row[4])
		if name == "" {
			continue
		}
		out = append(out, name+", "+plz)
	}
	return out, nil
}
