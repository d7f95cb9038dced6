package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"nudgebot/internal/config"
)

const (
	WebSearchHTTPTimeout = 10 * time.Second
	webPageMaxBytes      = 512 * 1024
	webResultMaxRunes    = 4000
)

// WebSearchTool answers information requests through Google Custom Search
// when configured, falling back to DuckDuckGo. A URL query is fetched
// directly first.
type WebSearchTool struct {
	google     tool.InvokableTool
	duck       tool.InvokableTool
	httpClient *http.Client
}

// NewWebSearchTool returns nil, nil when no provider can be built.
func NewWebSearchTool(ctx context.Context, cfg config.SearchConfig) (*WebSearchTool, error) {
	googleTool, err := initGoogleSearch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	duckTool, err := initDDGSearch(ctx)
	if err != nil {
		slog.Warn("duckduckgo search disabled", "err", err)
	}
	if googleTool == nil && duckTool == nil {
		slog.Warn("web search tool disabled: no search providers available")
		return nil, nil
	}
	return newWebSearchTool(googleTool, duckTool, publicHTTPClient()), nil
}

func newWebSearchTool(google, duck tool.InvokableTool, client *http.Client) *WebSearchTool {
	if client == nil {
		client = publicHTTPClient()
	}
	return &WebSearchTool{google: google, duck: duck, httpClient: client}
}

var errNonPublicAddress = errors.New("refusing to fetch a non-public address")

// publicHTTPClient only connects to public unicast addresses. The check runs
// on the resolved address of every dial, redirects included.
func publicHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: WebSearchHTTPTimeout, Control: refuseNonPublic}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: WebSearchHTTPTimeout, Transport: transport}
}

func refuseNonPublic(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() {
		return fmt.Errorf("%w: %s", errNonPublicAddress, ip)
	}
	return nil
}

func initDDGSearch(ctx context.Context) (tool.InvokableTool, error) {
	return duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    WebSearchHTTPTimeout,
	})
}

func initGoogleSearch(ctx context.Context, cfg config.SearchConfig) (tool.InvokableTool, error) {
	if cfg.GoogleAPIKey == "" || cfg.GoogleEngineID == "" {
		slog.Info("google search tool disabled: missing api key or engine id")
		return nil, nil
	}
	t, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         cfg.GoogleAPIKey,
		SearchEngineID: cfg.GoogleEngineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		return nil, fmt.Errorf("init google search: %w", err)
	}
	return t, nil
}

func (*WebSearchTool) Name() string { return "web_search" }
func (*WebSearchTool) Description() string {
	return "Search the web for information; " +
		"automatically fallbacks to another provider if needed; " +
		"can fetch a URL if needed."
}
func (*WebSearchTool) BasePriority() int { return 5 }

func (*WebSearchTool) Parameters() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"query": {
			Desc:     "Natural language query or URL to search",
			Type:     schema.String,
			Required: true,
		},
	}
}

func (*WebSearchTool) Relevance(tc ToolContext) int {
	return ClampScore(tc.Signal(SignalInformationSeeking))
}

func (w *WebSearchTool) Execute(ctx context.Context, tc ToolContext) ToolResult {
	query, ok := tc.StringArg("query")
	if !ok {
		return failed(w.Name(), "query must not be empty")
	}
	result, err := w.search(ctx, query)
	if err != nil {
		return failed(w.Name(), err.Error())
	}
	result = strings.TrimSpace(result)
	if result == "" {
		return nothing(w.Name(), "no results")
	}
	if r := []rune(result); len(r) > webResultMaxRunes {
		result = string(r[:webResultMaxRunes])
	}
	return found(w.Name(), fmt.Sprintf("Web results for %q:\n%s", query, result))
}

func (w *WebSearchTool) search(ctx context.Context, query string) (string, error) {
	if looksLikeURL(query) {
		if content, err := w.fetchURL(ctx, query); err == nil {
			return content, nil
		} else {
			slog.Warn("web url loader failed", "err", err)
		}
	}

	payloadBytes, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	payload := string(payloadBytes)

	if w.google != nil {
		if result, err := w.google.InvokableRun(ctx, payload); err == nil {
			return result, nil
		} else {
			slog.Warn("google search failed", "err", err)
		}
	}
	if w.duck != nil {
		if result, err := w.duck.InvokableRun(ctx, payload); err == nil {
			return result, nil
		} else {
			slog.Warn("duckduckgo search failed", "err", err)
		}
	}
	return "", errors.New("no search provider succeeded")
}

func (w *WebSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "nudgebot-websearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, webPageMaxBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
