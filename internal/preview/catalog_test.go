package preview

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		want Kind
	}{
		{"report.pdf", KindPDF},
		{"Report.Final.PDF", KindPDF},
		{"budget.xls", KindSpreadsheet},
		{"budget.XLSX", KindSpreadsheet},
		{"memo.doc", KindOffice},
		{"memo.docx", KindOffice},
		{"deck.ppt", KindOffice},
		{"deck.pptx", KindOffice},
		{"photo.jpeg", KindImage},
		{"scan.webp", KindImage},
		{"archive.zip", KindOther},
		{"README", KindOther},
	}
	for _, tc := range cases {
		got, err := Classify(tc.name)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}

	_, err := Classify("   ")
	assert.ErrorIs(t, err, ErrInvalidFilename)
	_, err = Classify("folder/")
	assert.ErrorIs(t, err, ErrInvalidFilename)
}

func TestEncodeURIComponent(t *testing.T) {
	assert.Equal(t, "https%3A%2F%2Fa.example.com%2Fmy%20file.pdf%3Fsig%3Dx%26t%3D1",
		EncodeURIComponent("https://a.example.com/my file.pdf?sig=x&t=1"))
}

func TestDefaultCatalogChains(t *testing.T) {
	cat := DefaultCatalog()
	require.NoError(t, cat.Validate())

	doc := "https://blob.example.com/a b.xlsx"
	enc := EncodeURIComponent(doc)

	chain := cat.Chain(KindSpreadsheet, doc)
	require.Len(t, chain, 3)
	assert.Equal(t, "https://view.officeapps.live.com/op/view.aspx?src="+enc, chain[0].URL)
	assert.Equal(t, 8*time.Second, chain[0].Timeout)
	assert.Equal(t, "https://docs.google.com/viewer?url="+enc+"&embedded=true", chain[1].URL)
	assert.Equal(t, "https://docs.google.com/gview?url="+enc+"&embedded=true", chain[2].URL)

	pdf := cat.Chain(KindPDF, doc)
	require.Len(t, pdf, 2)
	assert.Equal(t, Target{Strategy: StrategyDirect, URL: doc, Timeout: 15 * time.Second}, pdf[0])
	assert.Equal(t, 10*time.Second, pdf[1].Timeout)

	office := cat.Chain(KindOffice, doc)
	assert.Equal(t, StrategyGoogleViewer, office[0].Strategy)
	assert.Equal(t, StrategyOfficeOnline, office[1].Strategy)
	assert.Equal(t, StrategyGoogleAlt, office[2].Strategy)

	assert.Empty(t, cat.Chain(KindImage, doc))
	assert.Empty(t, cat.Chain(KindOther, doc))
}

func TestLoadCatalogOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "viewers.yaml")
	yml := `
viewers:
  internal:
    base_url: https://render.internal/view
    param: doc
chains:
  pdf:
    - name: internal
      viewer: internal
      timeout: 3s
    - name: direct
      timeout: 12s
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)

	pdf := cat.Chain(KindPDF, "https://x/y.pdf")
	require.Len(t, pdf, 2)
	assert.Equal(t, "https://render.internal/view?doc=https%3A%2F%2Fx%2Fy.pdf", pdf[0].URL)
	assert.Equal(t, 3*time.Second, pdf[0].Timeout)
	assert.Equal(t, 12*time.Second, pdf[1].Timeout)

	// Untouched chains keep their defaults.
	assert.Len(t, cat.Chain(KindOffice, "https://x/y.docx"), 3)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Len(t, cat.Chain(KindPDF, "u"), 2)
}

func TestLoadCatalogRejectsUnknownViewer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewers.yaml")
	yml := "chains:\n  office:\n    - name: x\n      viewer: missing\n      timeout: 2s\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	_, err := LoadCatalog(path)
	assert.ErrorContains(t, err, "unknown viewer")
}

func TestValidateRejectsZeroTimeout(t *testing.T) {
	cat := DefaultCatalog()
	cat.Chains[KindPDF][0].Timeout = 0
	assert.Error(t, cat.Validate())
}

func TestViewerEndpointWithExistingQuery(t *testing.T) {
	v := ViewerEndpoint{BaseURL: "https://v.example.com/view?mode=embed", Param: "src"}
	assert.Equal(t, "https://v.example.com/view?mode=embed&src=a%2Fb", v.URLFor("a/b"))
}
