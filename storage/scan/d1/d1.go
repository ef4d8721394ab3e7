package d1

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	cloudflare "github.com/cloudflare/cloudflare-go/v6"
	cfd1 "github.com/cloudflare/cloudflare-go/v6/d1"
	"github.com/cloudflare/cloudflare-go/v6/option"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/storage/scan"
)

// Scanner counts mentions in content tables held in Cloudflare D1, queried
// over the HTTP API.
type Scanner struct {
	cfg     *config.D1ScanStrategy
	client  *cloudflare.Client
	sources map[media.ContentType]config.ScanSource
}

func NewScanner(cfg *config.D1ScanStrategy) (*Scanner, error) {
	return newScannerWithClient(cfg, nil)
}

// newScannerWithClient allows tests to inject an HTTP client.
func newScannerWithClient(cfg *config.D1ScanStrategy, httpClient *http.Client) (*Scanner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("d1 scan config is nil")
	}

	sources, err := scan.ParseSources(cfg.Sources)
	if err != nil {
		return nil, err
	}

	s := &Scanner{cfg: cfg, client: buildClient(cfg, httpClient), sources: sources}

	if _, err := s.executeQuery(context.Background(), "SELECT 1 AS ok", nil); err != nil {
		return nil, fmt.Errorf("d1 initialization failed (check account_id, database_id, and api_token): %w", err)
	}

	return s, nil
}

func buildClient(cfg *config.D1ScanStrategy, httpClient *http.Client) *cloudflare.Client {
	opts := []option.RequestOption{option.WithAPIToken(strings.TrimSpace(cfg.APIToken))}

	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	if base := strings.TrimSpace(cfg.Endpoint); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}

	return cloudflare.NewClient(opts...)
}

func (s *Scanner) CountMentions(ctx context.Context, needle string) (map[media.ContentType]int, error) {
	pattern := "%" + scan.EscapeLike(needle) + "%"
	counts := map[media.ContentType]int{}

	for _, ct := range media.ContentTypes {
		src, ok := s.sources[ct]
		if !ok {
			continue
		}

		query := fmt.Sprintf("SELECT COUNT(*) AS n FROM %s WHERE %s LIKE ? ESCAPE '!'", src.Table, src.Column)
		rows, err := s.executeQuery(ctx, query, []string{pattern})
		if err != nil {
			return nil, fmt.Errorf("scan %s bodies: %w", ct, err)
		}

		n, err := countFromRows(rows)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			counts[ct] = n
		}
	}

	return counts, nil
}

func (s *Scanner) Close() error { return nil }

// executeQuery sends a single statement to D1 and returns the result rows.
func (s *Scanner) executeQuery(ctx context.Context, sql string, params []string) ([]map[string]any, error) {
	body := cfd1.DatabaseQueryParamsBodyD1SingleQuery{Sql: cloudflare.F(sql)}
	if len(params) > 0 {
		body.Params = cloudflare.F(params)
	}

	resp, err := s.client.D1.Database.Query(ctx, s.cfg.DatabaseID, cfd1.DatabaseQueryParams{
		AccountID: cloudflare.F(strings.TrimSpace(s.cfg.AccountID)),
		Body:      body,
	})
	if err != nil {
		return nil, err
	}

	if resp == nil || len(resp.Result) == 0 {
		return nil, nil
	}

	result := resp.Result[0]
	if !result.Success {
		return nil, fmt.Errorf("d1 query execution failed")
	}

	rows := make([]map[string]any, 0, len(result.Results))
	for _, r := range result.Results {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected row type %T", r)
		}
		rows = append(rows, m)
	}

	return rows, nil
}

func countFromRows(rows []map[string]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	switch v := rows[0]["n"].(type) {
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}
