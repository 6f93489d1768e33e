package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

const incumbentHTML = `<html><body>
<table class="infobox vcard">
  <tr><td colspan="2"><span class="mw-default-size"><img src="//upload.wikimedia.org/doe.jpg"></span></td></tr>
  <tr><th colspan="2">United States Senator from Minnesota</th></tr>
  <tr><td colspan="2">Incumbent</td></tr>
  <tr><th>Preceded by</th><td>Someone Else</td></tr>
  <tr><th>Succeeded by</th><td>A Successor</td></tr>
  <tr><th>Political party</th><td><a href="/wiki/Y_Party">Y</a></td></tr>
</table>
<p>See the <a href="https://bioguide.congress.gov/search/bio/D000001">Biographical Directory</a>.</p>
</body></html>`

const formerHTML = `<html><body>
<table class="infobox vcard">
  <tr><th colspan="2">Member of the U.S. House of Representatives</th></tr>
  <tr><th>Succeeded by</th><td>New Member</td></tr>
  <tr><th>Political party</th><td>Republican</td></tr>
</table>
</body></html>`

func wikiServer(t *testing.T, summary, html string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/page/summary/"):
			if summary == "" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(summary))
		case strings.HasPrefix(r.URL.Path, "/page/html/"):
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(html))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestWikipediaEnrich(t *testing.T) {
	summary := `{
	  "type": "standard",
	  "title": "J. Doe (politician)",
	  "description": "American politician",
	  "originalimage": {"source": "https://upload.wikimedia.org/original/doe.jpg"},
	  "thumbnail": {"source": "https://upload.wikimedia.org/thumb/doe.jpg"},
	  "content_urls": {"desktop": {"page": "https://en.wikipedia.org/wiki/J._Doe_(politician)"}}
	}`
	server := wikiServer(t, summary, incumbentHTML)
	defer server.Close()

	enricher := NewWikipediaEnricher(testConfig(server.URL), testHTTPClient(), nil, testLogger())
	subject := models.SourceRecord{
		Source:   models.SourceCongress,
		SourceID: "D000001",
		Name:     "J. Doe",
		Office:   "U.S. Senator",
		Level:    models.LevelFederal,
		Chamber:  models.ChamberUpper,
		State:    "MN",
	}

	records, err := enricher.Enrich(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, models.SourceWikipedia, r.Source)
	assert.False(t, r.HasSourceID())
	assert.Equal(t, "J. Doe", r.Name)
	assert.Equal(t, "Y", r.Party)
	assert.Equal(t, "MN", r.State)
	assert.Equal(t, models.LevelFederal, r.Level)
	assert.False(t, r.Retired)
	assert.Equal(t, "D000001", r.ForeignIDs[models.SourceCongress])
	require.Len(t, r.Photos, 2)
	assert.Equal(t, "original", r.Photos[0].QualityHint)
	assert.Equal(t, "thumbnail", r.Photos[1].QualityHint)
	assert.NoError(t, r.Validate())
}

func TestWikipediaEnrichRetiredMarker(t *testing.T) {
	summary := `{"type": "standard", "title": "Old Member", "description": "American politician"}`
	server := wikiServer(t, summary, formerHTML)
	defer server.Close()

	enricher := NewWikipediaEnricher(testConfig(server.URL), testHTTPClient(), nil, testLogger())
	records, err := enricher.Enrich(context.Background(), models.SourceRecord{
		Source: models.SourceCivic,
		Name:   "Old Member",
		Level:  models.LevelFederal,
		State:  "OH",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.True(t, records[0].Retired)
	assert.Equal(t, "Succeeded by New Member", records[0].RoleNote)
	assert.Equal(t, "Republican", records[0].Party)
	assert.Nil(t, records[0].ForeignIDs)
}

func TestWikipediaEnrichSkips(t *testing.T) {
	tests := []struct {
		name    string
		summary string
	}{
		{name: "missing article", summary: ""},
		{name: "disambiguation", summary: `{"type": "disambiguation", "title": "John Smith", "description": "Topics referred to by the same term"}`},
		{name: "not a politician", summary: `{"type": "standard", "title": "John Smith", "description": "English footballer"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := wikiServer(t, tt.summary, "")
			defer server.Close()

			enricher := NewWikipediaEnricher(testConfig(server.URL), testHTTPClient(), nil, testLogger())
			records, err := enricher.Enrich(context.Background(), models.SourceRecord{
				Source: models.SourceCongress,
				Name:   "John Smith",
				Level:  models.LevelFederal,
			})
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestParseInfobox(t *testing.T) {
	box, err := parseInfobox([]byte(incumbentHTML))
	require.NoError(t, err)

	assert.Equal(t, "Y", box.Party)
	assert.True(t, box.Incumbent)
	assert.Equal(t, "A Successor", box.SucceededBy)
	assert.Equal(t, "D000001", box.BioguideID)
	assert.Equal(t, "https://upload.wikimedia.org/doe.jpg", box.ImageURL)
}

func TestArticleTitle(t *testing.T) {
	assert.Equal(t, "Amy_Klobuchar", articleTitle(models.SourceRecord{Name: "Amy Klobuchar"}))
	assert.Equal(t, "Jane_Doe_(Minnesota_politician)", articleTitle(models.SourceRecord{
		Name:       "Jane Doe",
		ProfileURL: "https://en.wikipedia.org/wiki/Jane_Doe_%28Minnesota_politician%29",
	}))
}
