package sources

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/PuerkitoBio/goquery"

	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
)

var (
	bioguidePattern = regexp.MustCompile(`[A-Z][0-9]{6}`)
	parenthetical   = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	politicianWords = []string{"politician", "senator", "representative", "legislator", "congressman", "congresswoman", "assembly", "member of"}
)

// WikipediaEnricher looks up a known representative's Wikipedia article for
// photos, party, retirement status, and a bioguide cross-reference.
type WikipediaEnricher struct {
	BaseAdapter
}

// NewWikipediaEnricher creates a WikipediaEnricher
func NewWikipediaEnricher(cfg Config, client *httpclient.Client, gate ratelimit.Gate, logger ectologger.Logger) *WikipediaEnricher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://en.wikipedia.org/api/rest_v1"
	}
	return &WikipediaEnricher{BaseAdapter: NewBaseAdapter(models.SourceWikipedia, cfg, client, gate, logger)}
}

type wikiSummary struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Extract     string `json:"extract"`
	Thumbnail   *struct {
		Source string `json:"source"`
	} `json:"thumbnail"`
	OriginalImage *struct {
		Source string `json:"source"`
	} `json:"originalimage"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// infobox is what the article's infobox says about the subject
type infobox struct {
	Party       string
	ImageURL    string
	Incumbent   bool
	SucceededBy string
	BioguideID  string
}

// Enrich returns at most one record for subject. A missing, disambiguation, or
// non-political article yields no records and no error.
func (e *WikipediaEnricher) Enrich(ctx context.Context, subject models.SourceRecord) ([]models.SourceRecord, error) {
	title := articleTitle(subject)
	if title == "" {
		return nil, nil
	}

	var summary wikiSummary
	err := e.getJSON(ctx, httpclient.NewRequest(e.baseURL, "/page/summary/{title}").Param("title", title), &summary)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if summary.Type == "disambiguation" || !looksPolitical(summary.Description+" "+summary.Extract) {
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"source": e.source,
			"title":  title,
		}).Debug("Skipping non-political article")
		return nil, nil
	}

	body, err := e.getBody(ctx, httpclient.NewRequest(e.baseURL, "/page/html/{title}").Param("title", title).Header("Accept", "text/html"))
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	box := infobox{}
	if len(body) > 0 {
		if box, err = parseInfobox(body); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warnf("Failed to parse article HTML for %s", title)
		}
	}

	return []models.SourceRecord{e.toRecord(subject, summary, box)}, nil
}

func (e *WikipediaEnricher) toRecord(subject models.SourceRecord, summary wikiSummary, box infobox) models.SourceRecord {
	name := parenthetical.ReplaceAllString(summary.Title, "")
	if name == "" {
		name = subject.Name
	}

	record := models.SourceRecord{
		Source:      models.SourceWikipedia,
		Name:        name,
		Party:       normalizers.NormalizeParty(box.Party),
		Office:      subject.Office,
		Level:       subject.Level,
		Chamber:     subject.Chamber,
		State:       subject.State,
		District:    subject.District,
		ProfileURL:  summary.ContentURLs.Desktop.Page,
		RetrievedAt: e.now(),
	}

	record.ForeignIDs = make(map[models.Source]string)
	if key, ok := subject.SourceKey(); ok {
		record.ForeignIDs[key.Source] = key.SourceID
	}
	if box.BioguideID != "" {
		record.ForeignIDs[models.SourceCongress] = box.BioguideID
	}
	if len(record.ForeignIDs) == 0 {
		record.ForeignIDs = nil
	}

	if !box.Incumbent && box.SucceededBy != "" {
		record.Retired = true
		record.RoleNote = "Succeeded by " + box.SucceededBy
	}

	switch {
	case summary.OriginalImage != nil && summary.OriginalImage.Source != "":
		record.Photos = append(record.Photos, models.Photo{URL: summary.OriginalImage.Source, Attribution: "Wikimedia Commons", QualityHint: "original"})
	case box.ImageURL != "":
		record.Photos = append(record.Photos, models.Photo{URL: box.ImageURL, Attribution: "Wikimedia Commons", QualityHint: "original"})
	}
	if summary.Thumbnail != nil && summary.Thumbnail.Source != "" {
		record.Photos = append(record.Photos, models.Photo{URL: summary.Thumbnail.Source, Attribution: "Wikimedia Commons", QualityHint: "thumbnail"})
	}

	return record
}

// parseInfobox reads the first infobox table of an article
func parseInfobox(html []byte) (infobox, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return infobox{}, err
	}

	box := infobox{}
	table := doc.Find("table.infobox").First()

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(row.Find("th").First().Text()))
		value := row.Find("td").First()
		text := strings.TrimSpace(value.Text())

		switch {
		case strings.Contains(label, "political party") && box.Party == "":
			if link := value.Find("a").First(); link.Length() > 0 {
				text = link.Text()
			}
			box.Party = strings.TrimSpace(strings.Split(text, "\n")[0])
		case strings.Contains(label, "succeeded by") && box.SucceededBy == "":
			box.SucceededBy = text
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(row.Text())), "incumbent") {
			box.Incumbent = true
		}
	})

	if src, ok := table.Find("img").First().Attr("src"); ok {
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		box.ImageURL = src
	}

	doc.Find(`a[href*="bioguide.congress.gov"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if id := bioguidePattern.FindString(strings.ToUpper(href)); id != "" {
			box.BioguideID = id
			return false
		}
		return true
	})

	return box, nil
}

// articleTitle prefers a Wikipedia profile link on the subject, else its display name
func articleTitle(subject models.SourceRecord) string {
	if idx := strings.Index(subject.ProfileURL, "wikipedia.org/wiki/"); idx >= 0 {
		if t, err := url.PathUnescape(subject.ProfileURL[idx+len("wikipedia.org/wiki/"):]); err == nil && t != "" {
			return t
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(subject.Name), " ", "_")
}

func looksPolitical(text string) bool {
	text = strings.ToLower(text)
	for _, w := range politicianWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
