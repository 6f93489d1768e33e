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

// FECAdapter lists incumbent federal candidates from the OpenFEC API.
// FEC is the only source with election dates.
type FECAdapter struct {
	BaseAdapter
}

// NewFECAdapter creates an FECAdapter
func NewFECAdapter(cfg Config, client *httpclient.Client, gate ratelimit.Gate, logger ectologger.Logger) *FECAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.open.fec.gov/v1"
	}
	return &FECAdapter{BaseAdapter: NewBaseAdapter(models.SourceFEC, cfg, client, gate, logger)}
}

type fecResponse struct {
	Results    []fecCandidate `json:"results"`
	Pagination struct {
		Page  int `json:"page"`
		Pages int `json:"pages"`
	} `json:"pagination"`
}

type fecCandidate struct {
	CandidateID        string `json:"candidate_id"`
	Name               string `json:"name"`
	PartyFull          string `json:"party_full"`
	Party              string `json:"party"`
	Office             string `json:"office"`
	State              string `json:"state"`
	District           string `json:"district"`
	ElectionYears      []int  `json:"election_years"`
	IncumbentChallenge string `json:"incumbent_challenge"`
	CandidateStatus    string `json:"candidate_status"`
}

// Supports reports true for federal scopes
func (a *FECAdapter) Supports(scope models.Scope) bool {
	return scope.Level == models.LevelFederal
}

// Fetch returns one page of incumbent candidates. The cursor is the 1-based page number.
func (a *FECAdapter) Fetch(ctx context.Context, scope models.Scope, cursor string) (*Page, error) {
	pageNum, _ := strconv.Atoi(cursor)
	if pageNum < 1 {
		pageNum = 1
	}

	req := httpclient.NewRequest(a.baseURL, "/candidates/").
		Set("state", strings.ToUpper(scope.State)).
		Set("is_active_candidate", "true").
		Set("incumbent_challenge", "I").
		Set("page", strconv.Itoa(pageNum)).
		Set("per_page", strconv.Itoa(a.size)).
		Set("sort", "name").
		Set("api_key", a.apiKey)
	switch scope.Chamber {
	case models.ChamberUpper:
		req.Add("office", "S")
	case models.ChamberLower:
		req.Add("office", "H")
		req.Set("district", fecDistrict(scope.District))
	default:
		req.Add("office", "S").Add("office", "H")
	}

	var resp fecResponse
	if err := a.getJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	now := a.now()
	page := &Page{}
	for _, c := range resp.Results {
		record := a.toRecord(c, now)
		if !scope.Contains(record) {
			continue
		}
		page.accept(record)
	}

	if resp.Pagination.Page < resp.Pagination.Pages {
		page.NextCursor = strconv.Itoa(pageNum + 1)
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"source":  a.source,
		"page":    pageNum,
		"records": len(page.Records),
		"dropped": len(page.Dropped),
	}).Debug("Fetched FEC page")

	return page, nil
}

func (a *FECAdapter) toRecord(c fecCandidate, now time.Time) models.SourceRecord {
	party := c.PartyFull
	if party == "" {
		party = c.Party
	}
	record := models.SourceRecord{
		Source:      models.SourceFEC,
		SourceID:    strings.TrimSpace(c.CandidateID),
		Name:        normalizers.DisplayName(c.Name),
		Party:       normalizers.NormalizeParty(party),
		Level:       models.LevelFederal,
		State:       normalizers.NormalizeState(c.State),
		RetrievedAt: now,
	}

	switch c.Office {
	case "S":
		record.Chamber = models.ChamberUpper
		record.Office = "U.S. Senator"
	case "H":
		record.Chamber = models.ChamberLower
		record.Office = "U.S. Representative"
		record.District = normalizers.NormalizeDistrict(c.District)
	}

	latest := 0
	for _, y := range c.ElectionYears {
		if y > latest {
			latest = y
		}
	}
	if latest > 0 {
		day := electionDay(latest)
		record.NextElectionDate = &day
	}

	if record.SourceID != "" {
		record.ProfileURL = "https://www.fec.gov/data/candidate/" + record.SourceID + "/"
	}

	return record
}

// fecDistrict renders a district the way FEC filters expect: two digits, "00" for at-large
func fecDistrict(district string) string {
	d := normalizers.NormalizeDistrict(district)
	switch {
	case d == "":
		return ""
	case d == "at-large":
		return "00"
	case len(d) == 1:
		return "0" + d
	}
	return d
}
