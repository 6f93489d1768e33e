package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
)

// OpenStatesAdapter lists state legislators from the Open States v3 API
type OpenStatesAdapter struct {
	BaseAdapter
}

// NewOpenStatesAdapter creates an OpenStatesAdapter
func NewOpenStatesAdapter(cfg Config, client *httpclient.Client, gate ratelimit.Gate, logger ectologger.Logger) *OpenStatesAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://v3.openstates.org"
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 50 {
		cfg.PageSize = 50
	}
	return &OpenStatesAdapter{BaseAdapter: NewBaseAdapter(models.SourceOpenStates, cfg, client, gate, logger)}
}

type openStatesResponse struct {
	Results    []openStatesPerson `json:"results"`
	Pagination struct {
		Page    int `json:"page"`
		MaxPage int `json:"max_page"`
	} `json:"pagination"`
}

type openStatesPerson struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Party       string `json:"party"`
	Image       string `json:"image"`
	Email       string `json:"email"`
	CurrentRole *struct {
		Title             string `json:"title"`
		OrgClassification string `json:"org_classification"`
		District          string `json:"district"`
		DivisionID        string `json:"division_id"`
		EndDate           string `json:"end_date"`
	} `json:"current_role"`
	Jurisdiction struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"jurisdiction"`
	Offices []struct {
		Name    string `json:"name"`
		Address string `json:"address"`
		Voice   string `json:"voice"`
	} `json:"offices"`
	Links []struct {
		URL  string `json:"url"`
		Note string `json:"note"`
	} `json:"links"`
	OtherIdentifiers []struct {
		Scheme     string `json:"scheme"`
		Identifier string `json:"identifier"`
	} `json:"other_identifiers"`
	OpenStatesURL string `json:"openstates_url"`
}

// Supports reports true for state scopes with a state
func (a *OpenStatesAdapter) Supports(scope models.Scope) bool {
	return scope.Level == models.LevelState && scope.State != ""
}

// Fetch returns one page of legislators. The cursor is the 1-based page number.
func (a *OpenStatesAdapter) Fetch(ctx context.Context, scope models.Scope, cursor string) (*Page, error) {
	pageNum, _ := strconv.Atoi(cursor)
	if pageNum < 1 {
		pageNum = 1
	}

	req := httpclient.NewRequest(a.baseURL, "/people").
		Set("jurisdiction", fmt.Sprintf("ocd-jurisdiction/country:us/state:%s/government", strings.ToLower(scope.State))).
		Set("page", strconv.Itoa(pageNum)).
		Set("per_page", strconv.Itoa(a.size)).
		Set("org_classification", string(scope.Chamber)).
		Set("district", scope.District).
		Add("include", "offices").
		Add("include", "links").
		Add("include", "other_identifiers").
		Header("X-API-KEY", a.apiKey)

	var resp openStatesResponse
	if err := a.getJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	now := a.now()
	page := &Page{}
	for _, p := range resp.Results {
		record := a.toRecord(p, scope, now)
		if !scope.Contains(record) {
			continue
		}
		page.accept(record)
	}

	if resp.Pagination.Page < resp.Pagination.MaxPage {
		page.NextCursor = strconv.Itoa(pageNum + 1)
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"source":  a.source,
		"page":    pageNum,
		"records": len(page.Records),
		"dropped": len(page.Dropped),
	}).Debug("Fetched openstates page")

	return page, nil
}

func (a *OpenStatesAdapter) toRecord(p openStatesPerson, scope models.Scope, now time.Time) models.SourceRecord {
	record := models.SourceRecord{
		Source:      models.SourceOpenStates,
		SourceID:    strings.TrimSpace(p.ID),
		Name:        normalizers.DisplayName(p.Name),
		Party:       normalizers.NormalizeParty(p.Party),
		Level:       models.LevelState,
		State:       normalizers.StateFromOCDID(strings.Replace(p.Jurisdiction.ID, "ocd-jurisdiction", "ocd-division", 1)),
		ProfileURL:  p.OpenStatesURL,
		RetrievedAt: now,
	}
	if record.State == "" {
		record.State = scope.State
	}

	if role := p.CurrentRole; role != nil {
		record.Office = role.Title
		record.District = normalizers.NormalizeDistrict(role.District)
		record.TermEnd = date(role.EndDate)
		switch role.OrgClassification {
		case "upper", "legislature":
			record.Chamber = models.ChamberUpper
		case "lower":
			record.Chamber = models.ChamberLower
		}
	}

	if c, ok := contact(models.ContactEmail, p.Email); ok {
		record.Contacts = append(record.Contacts, c)
	}
	for _, office := range p.Offices {
		if c, ok := contact(models.ContactPhone, office.Voice); ok {
			record.Contacts = append(record.Contacts, c)
		}
		if c, ok := contact(models.ContactAddress, office.Address); ok {
			record.Contacts = append(record.Contacts, c)
		}
	}
	for _, link := range p.Links {
		if account, ok := socialFromURL(link.URL); ok {
			record.SocialMedia = append(record.SocialMedia, account)
			continue
		}
		if c, ok := contact(models.ContactWebsite, link.URL); ok {
			record.Contacts = append(record.Contacts, c)
		}
	}

	if p.Image != "" {
		record.Photos = append(record.Photos, models.Photo{URL: p.Image, QualityHint: "official"})
	}

	for _, id := range p.OtherIdentifiers {
		if strings.EqualFold(id.Scheme, "bioguide") && id.Identifier != "" {
			if record.ForeignIDs == nil {
				record.ForeignIDs = make(map[models.Source]string)
			}
			record.ForeignIDs[models.SourceCongress] = id.Identifier
		}
	}

	return record
}
