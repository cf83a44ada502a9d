// Package tornapi はTorn APIのファクションニュースエンドポイントのクライアントを提供する。
// ページネーション追跡、APIキーのローテーション、レート制御を含む。
package tornapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/hitoshi/armorylog/internal/model"
)

const (
	// defaultBaseURL はTorn APIのベースURL。
	defaultBaseURL = "https://api.torn.com"
	// newsCategory は兵器庫アクションのニュースカテゴリ。
	newsCategory = "armoryAction"
	// pageLimit は1ページあたりの最大取得件数。
	pageLimit = 100
	// maxPages は1ウィンドウあたりのページ数上限。
	// 不正な_metadataによる無限ループを防ぐ。
	maxPages = 200
)

// URLValidator はページネーションリンクの事前検証インターフェース。
// サーバーが返すリンクURLをたどるため、追跡前にホストを検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// PageObserver はウィンドウ取得で読んだページ数の観測インターフェース。
// メトリクス収集側が実装する。
type PageObserver interface {
	RecordPagesFetched(count int)
}

// Client はTorn APIファクションニュースのクライアント。
// ページ間のリクエスト間隔はrate.Limiterで制御する。
type Client struct {
	httpClient *http.Client
	validator  URLValidator
	keys       KeyProvider
	limiter    *rate.Limiter
	logger     *slog.Logger
	baseURL    string
	pages      PageObserver
}

// NewClient はClientの新しいインスタンスを生成する。
// limiterはページリクエストの間隔制御に使用する（nilの場合は制御なし）。
func NewClient(
	httpClient *http.Client,
	validator URLValidator,
	keys KeyProvider,
	limiter *rate.Limiter,
	logger *slog.Logger,
) *Client {
	return &Client{
		httpClient: httpClient,
		validator:  validator,
		keys:       keys,
		limiter:    limiter,
		logger:     logger,
		baseURL:    defaultBaseURL,
	}
}

// SetBaseURL はAPIのベースURLを差し替える。設定やテストサーバー向け。
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// SetPageObserver は取得ページ数の観測先を設定する（nilの場合は観測なし）。
func (c *Client) SetPageObserver(obs PageObserver) {
	c.pages = obs
}

// newsPage はニュースエンドポイントの1ページ分のレスポンス。
type newsPage struct {
	News []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		Timestamp int64  `json:"timestamp"`
	} `json:"news"`
	Metadata *struct {
		Links struct {
			Prev string `json:"prev"`
			Next string `json:"next"`
		} `json:"links"`
	} `json:"_metadata"`
	Error *struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	} `json:"error"`
}

// FetchWindow は指定時間窓 [from, to) の兵器庫ニュースを全ページ取得して返す。
// レスポンスの_metadata.links.prevをたどり、各リンクにstriptags=falseと
// 次のAPIキーを強制的に付け直す。レコードはAPIの返却順（新しい順）のまま返す。
func (c *Client) FetchWindow(ctx context.Context, from, to int64) ([]model.RawNewsRecord, error) {
	pageURL, err := c.windowURL(from, to)
	if err != nil {
		return nil, err
	}

	var records []model.RawNewsRecord

	pages := 0
	for ; pageURL != ""; pages++ {
		if pages >= maxPages {
			return nil, fmt.Errorf("ページ数が上限を超えました: %d", maxPages)
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		result, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		for _, n := range result.News {
			records = append(records, model.RawNewsRecord{
				ID:        n.ID,
				Text:      n.Text,
				Timestamp: n.Timestamp,
			})
		}

		pageURL = ""
		if result.Metadata != nil && result.Metadata.Links.Prev != "" {
			pageURL, err = c.nextPageURL(result.Metadata.Links.Prev)
			if err != nil {
				return nil, err
			}
		}
	}

	if c.pages != nil {
		c.pages.RecordPagesFetched(pages)
	}

	c.logger.Info("兵器庫ニュースのフェッチが完了しました",
		slog.Int64("from", from),
		slog.Int64("to", to),
		slog.Int("page_count", pages),
		slog.Int("record_count", len(records)),
	)

	return records, nil
}

// fetchPage は1ページ分のニュースを取得してデコードする。
func (c *Client) fetchPage(ctx context.Context, pageURL string) (*newsPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Armorylog/1.0 Faction Armory Tracker")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Torn APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("Torn APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Torn APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.Bool("retryable", RetryableHTTPStatus(resp.StatusCode)),
		)
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var page newsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	// Torn APIはステータス200でもエラーエンベロープを返すことがある
	if page.Error != nil {
		apiErr := &APIError{Code: page.Error.Code, Message: page.Error.Error}
		c.logger.Error("Torn APIがエラーエンベロープを返しました",
			slog.Int("code", apiErr.Code),
			slog.String("message", apiErr.Message),
			slog.Bool("retryable", apiErr.Retryable()),
		)
		return nil, apiErr
	}

	return &page, nil
}

// windowURL は時間窓の初回リクエストURLを構築する。
func (c *Client) windowURL(from, to int64) (string, error) {
	u, err := url.Parse(c.baseURL + "/v2/faction/news")
	if err != nil {
		return "", fmt.Errorf("ベースURLのパースに失敗しました: %w", err)
	}

	q := u.Query()
	q.Set("striptags", "false")
	q.Set("limit", strconv.Itoa(pageLimit))
	q.Set("sort", "DESC")
	q.Set("from", strconv.FormatInt(from, 10))
	q.Set("to", strconv.FormatInt(to, 10))
	q.Set("cat", newsCategory)
	q.Set("key", c.keys.NextKey())
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// nextPageURL はサーバーが返したページネーションリンクを検証し、
// striptags=falseの強制と次のAPIキーの付け直しを行って返す。
func (c *Client) nextPageURL(prev string) (string, error) {
	if err := c.validator.ValidateURL(prev); err != nil {
		return "", fmt.Errorf("ページネーションリンクの検証に失敗しました: %w", err)
	}

	u, err := url.Parse(prev)
	if err != nil {
		return "", fmt.Errorf("ページネーションリンクのパースに失敗しました: %w", err)
	}

	q := u.Query()
	q.Set("striptags", "false")
	q.Set("key", c.keys.NextKey())
	u.RawQuery = q.Encode()

	return u.String(), nil
}
