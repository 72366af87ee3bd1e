package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/user/agentcouncil/internal/runtime"
	"github.com/user/agentcouncil/internal/types"
)

const maxFetchedChars = 3000

// Page is fetched page content.
type Page struct {
	Title    string
	Markdown string
}

// Scraper turns a URL into markdown.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (*Page, error)
}

// DirectFetcher downloads a page itself and converts its HTML to markdown.
type DirectFetcher struct {
	client *http.Client
}

// NewDirectFetcher creates a DirectFetcher.
func NewDirectFetcher() *DirectFetcher {
	return &DirectFetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

func (d *DirectFetcher) Scrape(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "agentcouncil/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	title := pageTitle(doc)
	md, err := htmltomarkdown.ConvertNode(readableContent(doc))
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}
	return &Page{Title: title, Markdown: string(md)}, nil
}

// boilerplate elements are removed before conversion.
var boilerplate = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Form:     true,
	atom.Iframe:   true,
	atom.Svg:      true,
}

// readableContent strips boilerplate from doc and returns the node holding
// the page's main content: <main>, then <article>, then <body>.
func readableContent(doc *html.Node) *html.Node {
	prune(doc)
	for _, a := range []atom.Atom{atom.Main, atom.Article, atom.Body} {
		if n := findElement(doc, a); n != nil {
			return n
		}
	}
	return doc
}

func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || (c.Type == html.ElementNode && boilerplate[c.DataAtom]) {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func pageTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := pageTitle(c); t != "" {
			return t
		}
	}
	return ""
}

type fetchURLInput struct {
	URL string `json:"url" jsonschema_description:"The URL to fetch"`
}

// NewFetchURL returns the fetch_url tool backed by scraper.
func NewFetchURL(scraper Scraper) runtime.Tool {
	return runtime.NewTool("fetch_url", "Fetch a web page and return its main content as markdown", nil,
		func(ctx context.Context, _ types.AgentID, in fetchURLInput) (string, error) {
			raw := strings.TrimSpace(in.URL)
			if raw == "" {
				return "", types.Invalid("url", "no URL provided")
			}
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return "", types.Invalid("url", "%q is not an http(s) URL", raw)
			}
			page, err := scraper.Scrape(ctx, u.String())
			if err != nil {
				return "", fmt.Errorf("fetching URL: %w", err)
			}
			return formatPage(page), nil
		})
}

func formatPage(p *Page) string {
	if p == nil || strings.TrimSpace(p.Markdown) == "" {
		return "Failed to extract content from URL."
	}
	title := p.Title
	if title == "" {
		title = "Untitled"
	}
	content := truncate(p.Markdown, maxFetchedChars)
	out := "[Fetched Content]\nTitle: " + title + "\n\n" + content
	if len(content) < len(p.Markdown) {
		out += "\n\n... (content truncated)"
	}
	return out
}
