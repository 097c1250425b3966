package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"clipwright/internal/webfetch"
)

type pageRenderer interface {
	Render(ctx context.Context, url string) (*webfetch.Page, error)
}

// Page renders a share page and reads the video source from its markup.
type Page struct {
	renderer pageRenderer
}

// NewPage creates a share page strategy.
func NewPage(renderer pageRenderer) *Page {
	return &Page{renderer: renderer}
}

func (p *Page) Name() string { return "page" }

// Match accepts any web page; Direct and YouTube are tried first.
func (p *Page) Match(raw string) bool { return isHTTP(raw) }

func (p *Page) Resolve(ctx context.Context, raw string) (string, error) {
	page, err := p.renderer.Render(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("failed to render page: %w", err)
	}

	base := page.URL
	if base == "" {
		base = raw
	}
	return ExtractVideoURL(page.HTML, base)
}

// metaPriority orders the meta keys by how reliably they point at a file.
var metaPriority = []string{
	"og:video:secure_url",
	"og:video:url",
	"og:video",
	"twitter:player:stream",
}

var errNoVideoTag = errors.New("no video source in page")

// ExtractVideoURL finds the best video source in an HTML document.
func ExtractVideoURL(document, base string) (string, error) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}

	metas := make(map[string]string)
	var sources []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				key := attr(n, "property")
				if key == "" {
					key = attr(n, "name")
				}
				if content := attr(n, "content"); key != "" && content != "" {
					if _, seen := metas[key]; !seen {
						metas[key] = content
					}
				}
			case "video", "source":
				if src := attr(n, "src"); src != "" && !strings.HasPrefix(src, "blob:") {
					sources = append(sources, src)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	for _, key := range metaPriority {
		if v, ok := metas[key]; ok {
			return absolute(v, base)
		}
	}
	if len(sources) > 0 {
		return absolute(sources[0], base)
	}
	return "", errNoVideoTag
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func absolute(ref, base string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(u).String(), nil
}
