// Package webfetch renders share pages in a headless browser so that the
// embedded video source can be read from the final HTML.
package webfetch

import (
	"context"
	"time"

	"github.com/naozine/nz-html-fetch/pkg/htmlfetch"
)

// DefaultWait は動画要素の出現を待つ上限
const DefaultWait = 15 * time.Second

// Page はレンダリング後のページ
type Page struct {
	URL      string        `json:"url"` // リダイレクト後のURL
	HTML     string        `json:"html"`
	Duration time.Duration `json:"duration"`
}

// Options はレンダラー作成オプション
type Options struct {
	Stealth     bool          // ボット検出回避
	Proxy       string        // プロキシアドレス
	BrowserPath string        // ブラウザパス
	Selector    string        // 待機セレクタ（既定: "video"）
	Wait        time.Duration // セレクタ待機時間
}

// Renderer はブラウザを保持してページを描画する
type Renderer struct {
	fetcher *htmlfetch.Fetcher
	fetch   []htmlfetch.FetchOption
}

// NewRenderer はブラウザを起動する
func NewRenderer(opts Options) (*Renderer, error) {
	var fetcherOpts []htmlfetch.Option
	if opts.BrowserPath != "" {
		fetcherOpts = append(fetcherOpts, htmlfetch.WithBrowserPath(opts.BrowserPath))
	}
	if opts.Proxy != "" {
		fetcherOpts = append(fetcherOpts, htmlfetch.WithProxy(opts.Proxy))
	}
	fetcherOpts = append(fetcherOpts, htmlfetch.WithStealth(opts.Stealth))

	fetcher := htmlfetch.New(fetcherOpts...)
	if err := fetcher.Start(); err != nil {
		return nil, err
	}
	return &Renderer{fetcher: fetcher, fetch: fetchOptions(opts)}, nil
}

// Close はブラウザを終了
func (r *Renderer) Close() error {
	if r.fetcher != nil {
		return r.fetcher.Close()
	}
	return nil
}

// Render はURLを描画し、動画要素が現れた時点のHTMLを返す
func (r *Renderer) Render(ctx context.Context, url string) (*Page, error) {
	result, err := r.fetcher.Fetch(ctx, url, r.fetch...)
	if err != nil {
		return nil, err
	}
	return &Page{URL: result.FinalURL, HTML: result.HTML, Duration: result.Duration}, nil
}

// 広告と画像は動画URLの抽出に不要
func fetchOptions(opts Options) []htmlfetch.FetchOption {
	selector := opts.Selector
	if selector == "" {
		selector = "video"
	}
	wait := opts.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	return []htmlfetch.FetchOption{
		htmlfetch.WithBlocking(htmlfetch.BlockingOptions{Ads: true, Image: true}),
		htmlfetch.WithSelector(selector, wait),
	}
}
