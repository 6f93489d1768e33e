package sources

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
)

// CongressAdapter lists current members of Congress from the Congress.gov v3 API
type CongressAdapter struct {
	BaseAdapter
}

// NewCongressAdapter creates a CongressAdapter
func NewCongressAdapter(cfg Config, client *httpclient.Client, gate ratelimit.Gate, logger ectologger.Logger) *CongressAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.congress.gov/v3"
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 250 {
		cfg.PageSize = 250
	}
	return &CongressAdapter{BaseAdapter: NewBaseAdapter(models.SourceCongress, cfg, client, gate, logger)}
}

type congressResponse struct {
	Members    []congressMember `json:"members"`
	Pagination struct {
		Count int    `json:"count"`
		Next  string `json:"next"`
	} `json:"pagination"`
}

type congressMember struct {
	BioguideID string `json:"bioguideId"`
	Name       string `json:"name"`
	PartyName  string `json:"partyName"`
	State      string `json:"state"`
	District   *int   `json:"district"`
	URL        string `json:"url"`
	Depiction  *struct {
		ImageURL    string `json:"imageUrl"`
		Attribution string `json:"attribution"`
	} `json:"depiction"`
	Terms struct {
		Item []congressTerm `json:"item"`
	} `json:"terms"`
}

type congressTerm struct {
	Chamber   string `json:"chamber"`
	StartYear int    `json:"startYear"`
	EndYear   int    `json:"endYear"`
}

// Supports reports true for federal scopes
func (a *CongressAdapter) Supports(scope models.Scope) bool {
	return scope.Level == models.LevelFederal
}

// Fetch returns one page of current members. The cursor is the result offset.
func (a *CongressAdapter) Fetch(ctx context.Context, scope models.Scope, cursor string) (*Page, error) {
	offset, _ := strconv.Atoi(cursor)

	req := httpclient.NewRequest(a.baseURL, "/member")
	if scope.State != "" {
		req = httpclient.NewRequest(a.baseURL, "/member/{state}").Param("state", strings.ToUpper(scope.State))
	}
	req.Set("currentMember", "true").
		Set("format", "json").
		Set("offset", strconv.Itoa(offset)).
		Set("limit", strconv.Itoa(a.size)).
		Set("api_key", a.apiKey)

	var resp congressResponse
	if err := a.getJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	now := a.now()
	page := &Page{}
	for _, m := range resp.Members {
		record := a.toRecord(m, now)
		if !scope.Contains(record) {
			continue
		}
		page.accept(record)
	}

	if resp.Pagination.Next != "" && len(resp.Members) > 0 {
		page.NextCursor = strconv.Itoa(offset + len(resp.Members))
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"source":  a.source,
		"offset":  offset,
		"records": len(page.Records),
		"dropped": len(page.Dropped),
	}).Debug("Fetched congress page")

	return page, nil
}

func (a *CongressAdapter) toRecord(m congressMember, now time.Time) models.SourceRecord {
	record := models.SourceRecord{
		Source:      models.SourceCongress,
		SourceID:    strings.TrimSpace(m.BioguideID),
		Name:        normalizers.DisplayName(m.Name),
		Party:       normalizers.NormalizeParty(m.PartyName),
		Level:       models.LevelFederal,
		State:       normalizers.NormalizeState(m.State),
		RetrievedAt: now,
	}

	if term, ok := latestTerm(m.Terms.Item); ok {
		switch {
		case strings.Contains(strings.ToLower(term.Chamber), "senate"):
			record.Chamber = models.ChamberUpper
			record.Office = "U.S. Senator"
		default:
			record.Chamber = models.ChamberLower
			record.Office = "U.S. Representative"
		}
		record.TermStart = termStartDate(term.StartYear)
		if term.EndYear > 0 {
			record.TermEnd = termStartDate(term.EndYear)
		}
	}

	if record.Chamber == models.ChamberLower {
		district := "at-large"
		if m.District != nil {
			district = normalizers.NormalizeDistrict(strconv.Itoa(*m.District))
		}
		record.District = district
	}

	if m.Depiction != nil && m.Depiction.ImageURL != "" {
		record.Photos = append(record.Photos, models.Photo{
			URL:         m.Depiction.ImageURL,
			Attribution: m.Depiction.Attribution,
			QualityHint: "official",
		})
	}

	if record.SourceID != "" {
		record.ProfileURL = "https://bioguide.congress.gov/search/bio/" + record.SourceID
	}

	return record
}

// latestTerm picks the term with the latest start year
func latestTerm(terms []congressTerm) (congressTerm, bool) {
	if len(terms) == 0 {
		return congressTerm{}, false
	}
	latest := terms[0]
	for _, t := range terms[1:] {
		if t.StartYear > latest.StartYear {
			latest = t
		}
	}
	return latest, true
}
