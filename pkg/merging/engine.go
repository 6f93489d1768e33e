// Package merging implements the cross-reference validation that folds every
// record attributed to one canonical entity into consensus fields, unioned
// multi-valued fields, and a conflict report
package merging

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

// MergeResult is the merged entity and the disagreements found while building it
type MergeResult struct {
	Entity *models.CanonicalEntity
	Report models.ConflictReport
}

// Engine handles entity merging
type Engine struct {
	fieldMerger *FieldMerger
}

// NewEngine creates a new merge engine
func NewEngine() *Engine {
	return &Engine{fieldMerger: NewFieldMerger()}
}

// Merge builds the canonical entity from the full attribution set of one canonical ID.
// existing carries the stored entity (or a stub with only the CanonicalID for a new
// one) and is not modified. Scores, status and timestamps are left to later stages.
func (e *Engine) Merge(existing *models.CanonicalEntity, records []models.SourceRecord) MergeResult {
	merged := &models.CanonicalEntity{}
	if existing != nil {
		*merged = *existing
	}

	records = latestPerKey(records)
	report := models.ConflictReport{CanonicalID: merged.CanonicalID}

	merged.Consensus = e.consensus(records, merged.Consensus, &report)
	merged.Contacts = unionContacts(records)
	merged.Photos = unionPhotos(records)
	merged.SocialMedia = unionSocial(records)
	merged.ExternalIDs = e.externalIDs(existing, records, &report)
	merged.Term = term(records)
	merged.SourcesPresent = sourcesPresent(existing, records)
	merged.Contributions = records
	merged.Conflicts = report.Conflicts

	return MergeResult{Entity: merged, Report: report}
}

// latestPerKey keeps one record per Key(), preferring the most recently retrieved,
// and orders the result by reliability then key
func latestPerKey(records []models.SourceRecord) []models.SourceRecord {
	byKey := make(map[string]models.SourceRecord, len(records))
	for _, r := range records {
		prev, ok := byKey[r.Key()]
		if !ok || !r.RetrievedAt.Before(prev.RetrievedAt) {
			byKey[r.Key()] = r
		}
	}

	out := make([]models.SourceRecord, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Source.Reliability(), out[j].Source.Reliability()
		if ri != rj {
			return ri > rj
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

func (e *Engine) consensus(records []models.SourceRecord, fallback models.Consensus, report *models.ConflictReport) models.Consensus {
	claims := func(get func(models.SourceRecord) string, normalize func(string) string) []fieldValue {
		values := make([]fieldValue, 0, len(records))
		for _, r := range records {
			raw := strings.TrimSpace(get(r))
			values = append(values, fieldValue{
				Source:      r.Source,
				Value:       raw,
				Normalized:  normalize(raw),
				RetrievedAt: r.RetrievedAt,
			})
		}
		return values
	}
	lower := func(s string) string { return strings.ToLower(s) }
	// only multi-record entities are validated; a single record has nothing to disagree with
	validate := len(records) > 1

	pick := func(field, rule string, severity models.Severity, values []fieldValue, current string) string {
		chosen, conflict := e.fieldMerger.MergeField(field, rule, severity, values)
		if conflict != nil && validate {
			report.Conflicts = append(report.Conflicts, *conflict)
		}
		if chosen == "" {
			return current
		}
		return chosen
	}

	c := models.Consensus{}
	c.Name = pick("name", models.RuleReliabilityRank, models.SeverityLow,
		claims(func(r models.SourceRecord) string { return r.Name }, normalizers.NormalizeName), fallback.Name)

	// party claims are compared and reported as canonical labels
	partyClaims := claims(func(r models.SourceRecord) string { return normalizers.NormalizeParty(r.Party) }, lower)
	c.Party = pick("party", models.RuleRegistryPrecedence, models.SeverityLow, partyClaims, fallback.Party)

	c.Office = pick("office", models.RuleReliabilityRank, models.SeverityLow,
		claims(func(r models.SourceRecord) string { return r.Office }, lower), fallback.Office)
	c.District = pick("district", models.RuleReliabilityRank, models.SeverityLow,
		claims(func(r models.SourceRecord) string { return normalizers.NormalizeDistrict(r.District) }, lower), fallback.District)

	// jurisdiction fields were already agreed on by the resolver
	level, _ := e.fieldMerger.MergeField("level", models.RuleReliabilityRank, models.SeverityLow,
		claims(func(r models.SourceRecord) string { return string(r.Level) }, lower))
	c.Level = models.Level(valueOr(level, string(fallback.Level)))
	chamber, _ := e.fieldMerger.MergeField("chamber", models.RuleReliabilityRank, models.SeverityLow,
		claims(func(r models.SourceRecord) string { return string(r.Chamber) }, lower))
	c.Chamber = models.Chamber(valueOr(chamber, string(fallback.Chamber)))
	state, _ := e.fieldMerger.MergeField("state", models.RuleReliabilityRank, models.SeverityLow,
		claims(func(r models.SourceRecord) string { return normalizers.NormalizeState(r.State) }, lower))
	c.State = valueOr(state, fallback.State)

	return c
}

// externalIDs collects every identifier claimed for each source: a record's own
// SourceID and the foreign IDs other records embed. Disagreement is a hard conflict
// and the first-seen value is kept.
func (e *Engine) externalIDs(existing *models.CanonicalEntity, records []models.SourceRecord, report *models.ConflictReport) map[models.Source]string {
	claims := make(map[models.Source][]fieldValue)
	if existing != nil {
		for src, id := range existing.ExternalIDs {
			// stored values are older than anything retrieved this run
			claims[src] = append(claims[src], fieldValue{Source: src, Value: id, Normalized: strings.TrimSpace(id)})
		}
	}
	for _, r := range records {
		if r.HasSourceID() {
			claims[r.Source] = append(claims[r.Source], fieldValue{
				Source:      r.Source,
				Value:       r.SourceID,
				Normalized:  strings.TrimSpace(r.SourceID),
				RetrievedAt: r.RetrievedAt,
			})
		}
		for _, src := range models.AllSources {
			id, ok := r.ForeignIDs[src]
			if !ok || src == r.Source {
				continue
			}
			claims[src] = append(claims[src], fieldValue{
				Source:      r.Source,
				Value:       id,
				Normalized:  strings.TrimSpace(id),
				RetrievedAt: r.RetrievedAt,
			})
		}
	}

	if len(claims) == 0 {
		return nil
	}

	ids := make(map[models.Source]string, len(claims))
	for _, src := range models.AllSources {
		values, ok := claims[src]
		if !ok {
			continue
		}
		chosen, conflict := e.fieldMerger.MergeField(fmt.Sprintf("external_id.%s", src), models.RuleFirstSeen, models.SeverityHigh, values)
		if chosen == "" {
			continue
		}
		ids[src] = chosen
		if conflict != nil {
			report.Conflicts = append(report.Conflicts, *conflict)
		}
	}
	return ids
}

// unionContacts merges contact points by type and normalized value
func unionContacts(records []models.SourceRecord) []models.ContactPoint {
	out := make([]models.ContactPoint, 0)
	index := make(map[string]int)
	for _, r := range records {
		for _, c := range r.Contacts {
			normalized := normalizers.Apply(string(c.Type), c.Value)
			if normalized == "" {
				continue
			}
			key := string(c.Type) + "|" + normalized
			if i, ok := index[key]; ok {
				out[i].Verified = out[i].Verified || c.Verified
				out[i].Sources = addSource(out[i].Sources, r.Source)
				continue
			}
			index[key] = len(out)
			out = append(out, models.ContactPoint{
				Type:     c.Type,
				Value:    strings.TrimSpace(c.Value),
				Verified: c.Verified,
				Sources:  []models.Source{r.Source},
			})
		}
	}
	return out
}

// unionPhotos merges photos by normalized URL
func unionPhotos(records []models.SourceRecord) []models.Photo {
	out := make([]models.Photo, 0)
	index := make(map[string]int)
	for _, r := range records {
		for _, p := range r.Photos {
			key := normalizers.NormalizeURL(p.URL)
			if key == "" {
				continue
			}
			if i, ok := index[key]; ok {
				out[i].Sources = addSource(out[i].Sources, r.Source)
				if out[i].Attribution == "" {
					out[i].Attribution = p.Attribution
				}
				continue
			}
			index[key] = len(out)
			out = append(out, models.Photo{
				URL:         p.URL,
				Attribution: p.Attribution,
				QualityHint: p.QualityHint,
				Sources:     []models.Source{r.Source},
			})
		}
	}
	return out
}

// unionSocial merges social accounts by platform and normalized handle
func unionSocial(records []models.SourceRecord) []models.SocialAccount {
	out := make([]models.SocialAccount, 0)
	index := make(map[string]int)
	for _, r := range records {
		for _, s := range r.SocialMedia {
			platform := normalizers.NormalizePlatform(s.Platform)
			handle := normalizers.NormalizeHandle(s.Handle)
			if handle == "" {
				handle = normalizers.NormalizeHandle(s.URL)
			}
			if platform == "" || handle == "" {
				continue
			}
			key := platform + "|" + handle
			if i, ok := index[key]; ok {
				out[i].Verified = out[i].Verified || s.Verified
				out[i].Sources = addSource(out[i].Sources, r.Source)
				if out[i].URL == "" {
					out[i].URL = s.URL
				}
				continue
			}
			index[key] = len(out)
			out = append(out, models.SocialAccount{
				Platform: platform,
				Handle:   handle,
				URL:      s.URL,
				Verified: s.Verified,
				Sources:  []models.Source{r.Source},
			})
		}
	}
	return out
}

// term takes each date from the most reliable record that carries it
func term(records []models.SourceRecord) models.Term {
	var t models.Term
	for _, r := range records {
		if t.Start == nil && r.TermStart != nil {
			t.Start = r.TermStart
		}
		if t.End == nil && r.TermEnd != nil {
			t.End = r.TermEnd
		}
		if t.NextElectionDate == nil && r.NextElectionDate != nil {
			t.NextElectionDate = r.NextElectionDate
		}
	}
	return t
}

// sourcesPresent never shrinks: a source that was not re-fetched still counts
func sourcesPresent(existing *models.CanonicalEntity, records []models.SourceRecord) []models.Source {
	present := make([]models.Source, 0, len(models.AllSources))
	for _, src := range models.AllSources {
		seen := existing != nil && existing.HasSource(src)
		for _, r := range records {
			if r.Source == src {
				seen = true
				break
			}
		}
		if seen {
			present = append(present, src)
		}
	}
	return present
}

func addSource(sources []models.Source, src models.Source) []models.Source {
	if ectolinq.Contains(sources, src) {
		return sources
	}
	return append(sources, src)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
