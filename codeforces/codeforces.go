// Package codeforces imports a problem's title and sample tests from the
// Codeforces problem page.
package codeforces

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var (
	// ErrInvalidProblem means the contest id or problem index is malformed.
	ErrInvalidProblem = errors.New("invalid problem reference")
	// ErrFetch covers an unreachable site and pages without a problem statement.
	ErrFetch = errors.New("problem fetch failed")
)

var (
	contestIDPattern = regexp.MustCompile(`^[0-9]{1,6}$`)
	indexPattern     = regexp.MustCompile(`^[A-Za-z][0-9]?$`)
)

const maxPageBytes = 4 << 20

type Sample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type Problem struct {
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Samples []Sample `json:"samples"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ProblemURL is the problemset page for a problem.
func (c *Client) ProblemURL(contestID, index string) string {
	return fmt.Sprintf("%s/problemset/problem/%s/%s", c.baseURL, contestID, strings.ToUpper(index))
}

// Fetch downloads the problem page and extracts its title and samples.
func (c *Client) Fetch(ctx context.Context, contestID, index string) (Problem, error) {
	contestID, index = strings.TrimSpace(contestID), strings.TrimSpace(index)
	if !contestIDPattern.MatchString(contestID) || !indexPattern.MatchString(index) {
		return Problem{}, fmt.Errorf("%w: %q/%q", ErrInvalidProblem, contestID, index)
	}
	url := c.ProblemURL(contestID, index)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Problem{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Problem{}, fmt.Errorf("%w: request failed: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Problem{}, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Problem{}, fmt.Errorf("%w: parse page: %v", ErrFetch, err)
	}

	p, err := parseProblem(doc)
	if err != nil {
		return Problem{}, err
	}
	p.URL = url

	slog.Info("problem imported", "url", url, "samples", len(p.Samples))
	return p, nil
}

// parseProblem reads the statement header and the sample-test block.
func parseProblem(doc *html.Node) (Problem, error) {
	statement := findFirst(doc, withClass("problem-statement"))
	if statement == nil {
		return Problem{}, fmt.Errorf("%w: no problem statement on page", ErrFetch)
	}

	var title string
	if header := findFirst(statement, withClass("header")); header != nil {
		if t := findFirst(header, withClass("title")); t != nil {
			title = strings.TrimSpace(textOf(t))
		}
	}
	if title == "" {
		return Problem{}, fmt.Errorf("%w: problem statement has no title", ErrFetch)
	}

	var inputs, outputs []string
	for _, block := range findAll(statement, withClass("sample-test")) {
		for _, in := range findAll(block, withClass("input")) {
			if pre := findFirst(in, isElement("pre")); pre != nil {
				inputs = append(inputs, strings.TrimSpace(preText(pre)))
			}
		}
		for _, out := range findAll(block, withClass("output")) {
			if pre := findFirst(out, isElement("pre")); pre != nil {
				outputs = append(outputs, strings.TrimSpace(preText(pre)))
			}
		}
	}
	if len(inputs) != len(outputs) {
		return Problem{}, fmt.Errorf("%w: %d sample inputs but %d outputs", ErrFetch, len(inputs), len(outputs))
	}

	samples := make([]Sample, len(inputs))
	for i := range inputs {
		samples[i] = Sample{Input: inputs[i], Output: outputs[i]}
	}
	return Problem{Title: title, Samples: samples}, nil
}

type matcher func(*html.Node) bool

func isElement(tag string) matcher {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

func withClass(class string) matcher {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, a := range n.Attr {
			if a.Key == "class" {
				for _, c := range strings.Fields(a.Val) {
					if c == class {
						return true
					}
				}
			}
		}
		return false
	}
}

// findFirst searches the subtree below n in document order.
func findFirst(n *html.Node, match matcher) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns the outermost matches below n in document order.
func findAll(n *html.Node, match matcher) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if match(c) {
			out = append(out, c)
			continue
		}
		out = append(out, findAll(c, match)...)
	}
	return out
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// preText renders a sample block. Newer pages put each line in its own div,
// older ones separate lines with <br>.
func preText(pre *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			if s := b.String(); s != "" && !strings.HasSuffix(s, "\n") {
				b.WriteByte('\n')
			}
		}
	}
	walk(pre)
	return b.String()
}
