package sources

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/ratelimit"
)

// CivicAdapter lists officeholders by OCD division from the Google Civic Information API.
// Civic records carry no stable identifier, so they resolve by name and jurisdiction.
type CivicAdapter struct {
	BaseAdapter
}

// NewCivicAdapter creates a CivicAdapter
func NewCivicAdapter(cfg Config, client *httpclient.Client, gate ratelimit.Gate, logger ectologger.Logger) *CivicAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.googleapis.com/civicinfo/v2"
	}
	return &CivicAdapter{BaseAdapter: NewBaseAdapter(models.SourceCivic, cfg, client, gate, logger)}
}

type civicAddress struct {
	Line1 string `json:"line1"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

func (a civicAddress) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.Line1, a.City, strings.TrimSpace(a.State + " " + a.Zip)} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}

type civicResponse struct {
	Offices []struct {
		Name            string   `json:"name"`
		DivisionID      string   `json:"divisionId"`
		Levels          []string `json:"levels"`
		Roles           []string `json:"roles"`
		OfficialIndices []int    `json:"officialIndices"`
	} `json:"offices"`
	Officials []civicOfficial `json:"officials"`
}

type civicOfficial struct {
	Name     string         `json:"name"`
	Address  []civicAddress `json:"address"`
	Party    string         `json:"party"`
	Phones   []string       `json:"phones"`
	URLs     []string       `json:"urls"`
	Emails   []string       `json:"emails"`
	PhotoURL string         `json:"photoUrl"`
	Channels []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"channels"`
}

// Supports reports true for any scope with a state
func (a *CivicAdapter) Supports(scope models.Scope) bool {
	return scope.State != ""
}

// Fetch returns every officeholder in the scope's division. Civic responses are not paged.
func (a *CivicAdapter) Fetch(ctx context.Context, scope models.Scope, _ string) (*Page, error) {
	req := httpclient.NewRequest(a.baseURL, "/representatives/{division}").
		Param("division", divisionFor(scope)).
		Set("recursive", "true").
		Set("key", a.apiKey)
	for _, level := range civicLevels(scope.Level) {
		req.Add("levels", level)
	}
	switch scope.Chamber {
	case models.ChamberUpper:
		req.Add("roles", "legislatorUpperBody")
	case models.ChamberLower:
		req.Add("roles", "legislatorLowerBody")
	}

	var resp civicResponse
	if err := a.getJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	now := a.now()
	page := &Page{}
	for _, office := range resp.Offices {
		for _, idx := range office.OfficialIndices {
			if idx < 0 || idx >= len(resp.Officials) {
				continue
			}
			record := a.toRecord(resp.Officials[idx], office.Name, office.DivisionID, office.Levels, office.Roles, now)
			if !scope.Contains(record) {
				continue
			}
			page.accept(record)
		}
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"source":  a.source,
		"records": len(page.Records),
		"dropped": len(page.Dropped),
	}).Debug("Fetched civic representatives")

	return page, nil
}

func (a *CivicAdapter) toRecord(o civicOfficial, office, divisionID string, levels, roles []string, now time.Time) models.SourceRecord {
	record := models.SourceRecord{
		Source:      models.SourceCivic,
		Name:        normalizers.DisplayName(o.Name),
		Party:       normalizers.NormalizeParty(o.Party),
		Office:      office,
		Level:       levelFromCivic(levels),
		State:       normalizers.StateFromOCDID(divisionID),
		RetrievedAt: now,
	}

	for _, role := range roles {
		switch role {
		case "legislatorUpperBody":
			record.Chamber = models.ChamberUpper
		case "legislatorLowerBody":
			record.Chamber = models.ChamberLower
		}
	}
	if _, district, ok := districtFromOCDID(divisionID); ok {
		record.District = district
	} else if record.Chamber == models.ChamberLower && record.Level == models.LevelFederal {
		record.District = "at-large"
	}

	for _, phone := range o.Phones {
		if c, ok := contact(models.ContactPhone, phone); ok {
			record.Contacts = append(record.Contacts, c)
		}
	}
	for _, email := range o.Emails {
		if c, ok := contact(models.ContactEmail, email); ok {
			record.Contacts = append(record.Contacts, c)
		}
	}
	for _, u := range o.URLs {
		if c, ok := contact(models.ContactWebsite, u); ok {
			record.Contacts = append(record.Contacts, c)
		}
	}
	for _, addr := range o.Address {
		if c, ok := contact(models.ContactAddress, addr.String()); ok {
			record.Contacts = append(record.Contacts, c)
		}
	}
	for _, ch := range o.Channels {
		if account, ok := social(ch.Type, ch.ID); ok {
			record.SocialMedia = append(record.SocialMedia, account)
		}
	}
	if o.PhotoURL != "" {
		record.Photos = append(record.Photos, models.Photo{URL: o.PhotoURL, QualityHint: "original"})
	}

	return record
}

// Division is an OCD division an address falls in
type Division struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Level    models.Level   `json:"level,omitempty"`
	Chamber  models.Chamber `json:"chamber,omitempty"`
	District string         `json:"district,omitempty"`
}

// AddressLookup is the set of divisions for a street address
type AddressLookup struct {
	NormalizedAddress string     `json:"normalized_address"`
	State             string     `json:"state"`
	Divisions         []Division `json:"divisions"`
}

// LookupDivisions resolves a street address to its state and legislative districts
func (a *CivicAdapter) LookupDivisions(ctx context.Context, address string) (*AddressLookup, error) {
	req := httpclient.NewRequest(a.baseURL, "/divisionsByAddress").
		Set("address", address).
		Set("key", a.apiKey)

	var resp struct {
		NormalizedInput civicAddress `json:"normalizedInput"`
		Divisions       map[string]struct {
			Name string `json:"name"`
		} `json:"divisions"`
	}
	if err := a.getJSON(ctx, req, &resp); err != nil {
		return nil, err
	}

	lookup := &AddressLookup{
		NormalizedAddress: resp.NormalizedInput.String(),
		State:             normalizers.NormalizeState(resp.NormalizedInput.State),
	}
	for id, div := range resp.Divisions {
		d := Division{ID: id, Name: div.Name}
		if kind, district, ok := districtFromOCDID(id); ok {
			d.District = district
			switch kind {
			case "cd":
				d.Level, d.Chamber = models.LevelFederal, models.ChamberLower
			case "sldu":
				d.Level, d.Chamber = models.LevelState, models.ChamberUpper
			case "sldl":
				d.Level, d.Chamber = models.LevelState, models.ChamberLower
			}
		}
		if lookup.State == "" {
			lookup.State = normalizers.StateFromOCDID(id)
		}
		lookup.Divisions = append(lookup.Divisions, d)
	}
	sort.Slice(lookup.Divisions, func(i, j int) bool { return lookup.Divisions[i].ID < lookup.Divisions[j].ID })

	return lookup, nil
}

// divisionFor returns the OCD division that covers scope
func divisionFor(scope models.Scope) string {
	div := fmt.Sprintf("ocd-division/country:us/state:%s", strings.ToLower(scope.State))
	if scope.District == "" {
		return div
	}
	district := strings.ToLower(scope.District)
	switch {
	case scope.Level == models.LevelFederal:
		return div + "/cd:" + district
	case scope.Level == models.LevelState && scope.Chamber == models.ChamberUpper:
		return div + "/sldu:" + district
	case scope.Level == models.LevelState && scope.Chamber == models.ChamberLower:
		return div + "/sldl:" + district
	}
	return div
}

func civicLevels(level models.Level) []string {
	switch level {
	case models.LevelFederal:
		return []string{"country"}
	case models.LevelState:
		return []string{"administrativeArea1"}
	default:
		return []string{"administrativeArea2", "locality", "subLocality1"}
	}
}

func levelFromCivic(levels []string) models.Level {
	for _, l := range levels {
		switch l {
		case "country":
			return models.LevelFederal
		case "administrativeArea1":
			return models.LevelState
		}
	}
	if len(levels) == 0 {
		return ""
	}
	return models.LevelLocal
}

// districtFromOCDID extracts the district type (cd, sldu, sldl) and number from an OCD division ID
func districtFromOCDID(id string) (string, string, bool) {
	parts := strings.Split(id, "/")
	last := parts[len(parts)-1]
	kind, value, ok := strings.Cut(last, ":")
	if !ok {
		return "", "", false
	}
	switch kind {
	case "cd", "sldu", "sldl":
		return kind, normalizers.NormalizeDistrict(value), true
	}
	return "", "", false
}
