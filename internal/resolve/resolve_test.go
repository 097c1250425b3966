package resolve

import (
	"context"
	"errors"
	"testing"

	"clipwright/internal/webfetch"
)

type countingStrategy struct {
	name   string
	match  bool
	result string
	err    error
	calls  int
}

func (s *countingStrategy) Name() string          { return s.name }
func (s *countingStrategy) Match(raw string) bool { return s.match }
func (s *countingStrategy) Resolve(ctx context.Context, raw string) (string, error) {
	s.calls++
	return s.result, s.err
}

func TestChain_OrderAndCache(t *testing.T) {
	failing := &countingStrategy{name: "a", match: true, err: errors.New("boom")}
	ok := &countingStrategy{name: "b", match: true, result: "https://cdn.example/v.mp4"}
	skipped := &countingStrategy{name: "c", match: false}

	chain, err := NewChain(nil, 8, skipped, failing, ok)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		got, err := chain.Resolve(context.Background(), "https://share.example/p/1")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got != ok.result {
			t.Errorf("Resolve() = %q", got)
		}
	}

	if skipped.calls != 0 {
		t.Errorf("non-matching strategy called %d times", skipped.calls)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1 (second lookup cached)", failing.calls, ok.calls)
	}
}

func TestChain_Unresolvable(t *testing.T) {
	chain, _ := NewChain(nil, 0, &countingStrategy{match: true, err: errors.New("nope")})

	if _, err := chain.Resolve(context.Background(), "https://x.example/a"); !errors.Is(err, ErrUnresolvable) {
		t.Errorf("error = %v, want ErrUnresolvable", err)
	}
	if _, err := chain.Resolve(context.Background(), "ftp://x/a"); !errors.Is(err, ErrUnresolvable) {
		t.Errorf("non-http error = %v, want ErrUnresolvable", err)
	}
}

func TestDirect_Match(t *testing.T) {
	d := Direct{}
	if !d.Match("https://cdn.example/path/clip.MP4?sig=1") {
		t.Error("mp4 link should match")
	}
	if d.Match("https://www.tiktok.com/@user/video/123") {
		t.Error("share page should not match")
	}
}

func TestExtractVideoURL(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "secure url wins",
			doc: `<html><head>
				<meta property="og:video" content="http://cdn.example/a.mp4">
				<meta property="og:video:secure_url" content="https://cdn.example/a.mp4">
				</head></html>`,
			want: "https://cdn.example/a.mp4",
		},
		{
			name: "video tag relative",
			doc:  `<html><body><video><source src="/media/b.mp4"></video></body></html>`,
			want: "https://share.example/media/b.mp4",
		},
		{
			name: "blob ignored",
			doc:  `<video src="blob:https://share.example/123"></video><meta name="twitter:player:stream" content="https://cdn.example/c.mp4">`,
			want: "https://cdn.example/c.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractVideoURL(tt.doc, "https://share.example/p/1")
			if err != nil {
				t.Fatalf("ExtractVideoURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractVideoURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractVideoURL_None(t *testing.T) {
	if _, err := ExtractVideoURL("<html><body>hi</body></html>", "https://x.example"); err == nil {
		t.Fatal("expected error")
	}
}

type fakeFetcher struct{ doc string }

func (f fakeFetcher) Render(ctx context.Context, url string) (*webfetch.Page, error) {
	return &webfetch.Page{URL: "https://final.example/v/9", HTML: f.doc}, nil
}

func TestPage_Resolve(t *testing.T) {
	p := NewPage(fakeFetcher{doc: `<video src="clip.mp4"></video>`})
	got, err := p.Resolve(context.Background(), "https://short.link/x")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://final.example/v/clip.mp4" {
		t.Errorf("Resolve() = %q", got)
	}
}
