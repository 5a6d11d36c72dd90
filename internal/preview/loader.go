package preview

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxSniffBytes bounds how much of an HTML response is inspected.
const maxSniffBytes = 512 << 10

// errorPageMarkers are lower-cased fragments hosted viewers put in the title
// or body of pages that answer 200 but failed to render the document.
var errorPageMarkers = []string{
	"sorry, we can't open",
	"we're sorry",
	"there was a problem",
	"couldn't be found",
	"no preview available",
	"file not found",
	"access denied",
	"error",
}

// HTTPLoader loads targets headlessly. It is used when no browser frame is
// attached to a session: a 2xx answer counts as a load signal, anything else
// as an error event. HTML answers are sniffed for hosted-viewer error pages,
// which a browser frame cannot distinguish from success.
type HTTPLoader struct {
	client *http.Client
}

// NewHTTPLoader creates a loader using client, or http.DefaultClient.
func NewHTTPLoader(client *http.Client) *HTTPLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLoader{client: client}
}

// Load fetches target.URL.
func (l *HTTPLoader) Load(ctx context.Context, target Target) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("viewer answered %d", resp.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/html" {
		return nil
	}
	if reason, failed := SniffErrorPage(io.LimitReader(resp.Body, maxSniffBytes)); failed {
		return fmt.Errorf("viewer returned an error page: %s", reason)
	}
	return nil
}

// SniffErrorPage inspects an HTML document and reports whether it looks like
// a viewer error page, with the matching text.
func SniffErrorPage(r io.Reader) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", false
	}

	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, marker := range errorPageMarkers {
		if strings.Contains(title, marker) {
			return title, true
		}
	}

	// Body text only counts when the page has no embedded content at all.
	if doc.Find("iframe, embed, object, canvas, img").Length() > 0 {
		return "", false
	}
	body := strings.ToLower(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	for _, marker := range errorPageMarkers[:len(errorPageMarkers)-1] {
		if strings.Contains(body, marker) {
			return marker, true
		}
	}
	return "", false
}
