package preview

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy names used by the default catalog.
const (
	StrategyDirect       = "direct"
	StrategyImage        = "image"
	StrategyGoogleViewer = "google-docs"
	StrategyOfficeOnline = "office-online"
	StrategyGoogleAlt    = "google-docs-alt"
)

// ViewerEndpoint is a hosted document-conversion viewer. The source document
// URL is URL-encoded into Param on BaseURL; Query is appended verbatim.
type ViewerEndpoint struct {
	BaseURL string `yaml:"base_url"`
	Param   string `yaml:"param"`
	Query   string `yaml:"query,omitempty"`
}

// StrategySpec is one entry of a fallback chain. An empty Viewer renders the
// document URL itself.
type StrategySpec struct {
	Name    string        `yaml:"name"`
	Viewer  string        `yaml:"viewer,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// Catalog holds the hosted viewers and the ordered chain per file kind.
type Catalog struct {
	Viewers map[string]ViewerEndpoint `yaml:"viewers"`
	Chains  map[Kind][]StrategySpec   `yaml:"chains"`
}

// Target is a concrete attempt: a strategy bound to the URL it loads.
type Target struct {
	Strategy string        `json:"strategy" msgpack:"strategy"`
	URL      string        `json:"url" msgpack:"url"`
	Timeout  time.Duration `json:"timeout" msgpack:"timeout"`
}

// DefaultCatalog returns the built-in viewers and chains.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Viewers: map[string]ViewerEndpoint{
			StrategyGoogleViewer: {BaseURL: "https://docs.google.com/viewer", Param: "url", Query: "embedded=true"},
			StrategyOfficeOnline: {BaseURL: "https://view.officeapps.live.com/op/view.aspx", Param: "src"},
			StrategyGoogleAlt:    {BaseURL: "https://docs.google.com/gview", Param: "url", Query: "embedded=true"},
		},
		Chains: map[Kind][]StrategySpec{
			KindPDF: {
				{Name: StrategyDirect, Timeout: 15 * time.Second},
				{Name: StrategyGoogleViewer, Viewer: StrategyGoogleViewer, Timeout: 10 * time.Second},
			},
			// Spreadsheets render best in Office Online.
			KindSpreadsheet: {
				{Name: StrategyOfficeOnline, Viewer: StrategyOfficeOnline, Timeout: 8 * time.Second},
				{Name: StrategyGoogleViewer, Viewer: StrategyGoogleViewer, Timeout: 5 * time.Second},
				{Name: StrategyGoogleAlt, Viewer: StrategyGoogleAlt, Timeout: 5 * time.Second},
			},
			KindOffice: {
				{Name: StrategyGoogleViewer, Viewer: StrategyGoogleViewer, Timeout: 5 * time.Second},
				{Name: StrategyOfficeOnline, Viewer: StrategyOfficeOnline, Timeout: 8 * time.Second},
				{Name: StrategyGoogleAlt, Viewer: StrategyGoogleAlt, Timeout: 5 * time.Second},
			},
		},
	}
}

// LoadCatalog reads a YAML catalog. Viewers and chains missing from the file
// keep their defaults. A missing file yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cat, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading viewer catalog: %w", err)
	}

	var overlay Catalog
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing viewer catalog: %w", err)
	}
	for name, v := range overlay.Viewers {
		cat.Viewers[name] = v
	}
	for kind, chain := range overlay.Chains {
		cat.Chains[kind] = chain
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Validate checks that every chain references known viewers with a positive
// timeout.
func (c *Catalog) Validate() error {
	for kind, chain := range c.Chains {
		switch kind {
		case KindPDF, KindSpreadsheet, KindOffice:
		default:
			return fmt.Errorf("viewer catalog: chain for unsupported kind %q", kind)
		}
		for i, spec := range chain {
			if spec.Name == "" {
				return fmt.Errorf("viewer catalog: %s chain entry %d has no name", kind, i)
			}
			if spec.Timeout <= 0 {
				return fmt.Errorf("viewer catalog: %s/%s needs a positive timeout", kind, spec.Name)
			}
			if spec.Viewer == "" {
				continue
			}
			v, ok := c.Viewers[spec.Viewer]
			if !ok {
				return fmt.Errorf("viewer catalog: %s/%s references unknown viewer %q", kind, spec.Name, spec.Viewer)
			}
			if v.BaseURL == "" || v.Param == "" {
				return fmt.Errorf("viewer catalog: viewer %q needs base_url and param", spec.Viewer)
			}
		}
	}
	return nil
}

// Chain builds the ordered targets for a document of the given kind.
func (c *Catalog) Chain(kind Kind, documentURL string) []Target {
	specs := c.Chains[kind]
	targets := make([]Target, 0, len(specs))
	for _, spec := range specs {
		target := Target{Strategy: spec.Name, URL: documentURL, Timeout: spec.Timeout}
		if spec.Viewer != "" {
			target.URL = c.Viewers[spec.Viewer].URLFor(documentURL)
		}
		targets = append(targets, target)
	}
	return targets
}

// URLFor builds the viewer URL that loads documentURL.
func (v ViewerEndpoint) URLFor(documentURL string) string {
	var b strings.Builder
	b.WriteString(v.BaseURL)
	if strings.Contains(v.BaseURL, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	b.WriteString(v.Param)
	b.WriteByte('=')
	b.WriteString(EncodeURIComponent(documentURL))
	if v.Query != "" {
		b.WriteByte('&')
		b.WriteString(v.Query)
	}
	return b.String()
}

// EncodeURIComponent escapes s for use as a single query parameter value,
// encoding spaces as %20 rather than '+'.
func EncodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
