package incumbency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

var now = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func at(t time.Time) *time.Time {
	return &t
}

func TestClassify_StaleRecordIsNotCurrent(t *testing.T) {
	records := []models.SourceRecord{{
		Source:      models.SourceCongress,
		SourceID:    "D000001",
		Name:        "Jane Doe",
		Level:       models.LevelFederal,
		TermEnd:     at(now.AddDate(-1, 0, 0)),
		RetrievedAt: now.AddDate(0, 0, -400),
	}}

	signals, status := NewClassifier(DefaultConfig()).Classify(records, now)

	assert.False(t, signals.TermActive)
	assert.False(t, signals.Fresh)
	assert.True(t, signals.NoRetiredMarker)
	assert.False(t, signals.ElectionInWindow)
	assert.Equal(t, models.StatusNotCurrent, status)
	assert.Equal(t, now, signals.EvaluatedAt)
}

func TestClassify_SignalThreshold(t *testing.T) {
	classifier := NewClassifier(DefaultConfig())
	base := models.SourceRecord{Source: models.SourceCongress, SourceID: "D000001", Name: "Jane Doe", Level: models.LevelFederal}

	t.Run("one signal is not current", func(t *testing.T) {
		r := base
		r.Retired = true
		r.TermEnd = at(now.AddDate(-1, 0, 0))
		r.NextElectionDate = at(now.AddDate(1, 0, 0))
		r.RetrievedAt = now.AddDate(-2, 0, 0)

		signals, status := classifier.Classify([]models.SourceRecord{r}, now)
		assert.Equal(t, 1, signals.Count())
		assert.Equal(t, models.StatusNotCurrent, status)
	})

	t.Run("two signals are current", func(t *testing.T) {
		r := base
		r.TermEnd = at(now.AddDate(-1, 0, 0))
		r.RetrievedAt = now.AddDate(0, 0, -10)

		signals, status := classifier.Classify([]models.SourceRecord{r}, now)
		assert.Equal(t, 2, signals.Count())
		assert.True(t, signals.NoRetiredMarker)
		assert.True(t, signals.Fresh)
		assert.Equal(t, models.StatusCurrent, status)
	})

	t.Run("all four", func(t *testing.T) {
		r := base
		r.TermStart = at(now.AddDate(-3, 0, 0))
		r.TermEnd = at(now.AddDate(3, 0, 0))
		r.NextElectionDate = at(now.AddDate(0, 5, 0))
		r.RetrievedAt = now.Add(-time.Hour)

		signals, status := classifier.Classify([]models.SourceRecord{r}, now)
		assert.Equal(t, 4, signals.Count())
		assert.Equal(t, models.StatusCurrent, status)
	})
}

func TestClassify_NoEndDateCountsAsActive(t *testing.T) {
	records := []models.SourceRecord{{Source: models.SourceCivic, Name: "Jane Doe", Level: models.LevelLocal, State: "MN"}}

	signals, _ := NewClassifier(DefaultConfig()).Classify(records, now)

	assert.True(t, signals.TermActive)
	assert.False(t, signals.Fresh)
}

func TestClassify_FutureTermStartIsNotActive(t *testing.T) {
	records := []models.SourceRecord{{Source: models.SourceCongress, Name: "Jane Doe", TermStart: at(now.AddDate(0, 6, 0))}}

	signals, _ := NewClassifier(DefaultConfig()).Classify(records, now)

	assert.False(t, signals.TermActive)
}

func TestClassify_UsesMostReliableDates(t *testing.T) {
	records := []models.SourceRecord{
		{Source: models.SourceWikipedia, Name: "Jane Doe", TermEnd: at(now.AddDate(-4, 0, 0))},
		{Source: models.SourceOpenStates, Name: "Jane Doe", TermEnd: at(now.AddDate(1, 0, 0))},
		{Source: models.SourceFEC, Name: "Jane Doe", NextElectionDate: at(now.AddDate(-3, 0, 0)), RetrievedAt: now},
	}

	signals, status := NewClassifier(DefaultConfig()).Classify(records, now)

	assert.True(t, signals.TermActive)
	assert.False(t, signals.ElectionInWindow)
	assert.True(t, signals.Fresh)
	assert.Equal(t, models.StatusCurrent, status)
}

func TestClassify_RetiredMarkers(t *testing.T) {
	tests := []struct {
		name   string
		record models.SourceRecord
		want   bool
	}{
		{name: "flag", record: models.SourceRecord{Retired: true}, want: false},
		{name: "succeeded by", record: models.SourceRecord{RoleNote: "Succeeded by John Roe"}, want: false},
		{name: "former office", record: models.SourceRecord{Office: "Former U.S. Representative"}, want: false},
		{name: "no marker", record: models.SourceRecord{Office: "U.S. Senator"}, want: true},
		{name: "substring is not a marker", record: models.SourceRecord{RoleNote: "Committee on Retirement Security"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.record.Source = models.SourceWikipedia
			signals, _ := NewClassifier(DefaultConfig()).Classify([]models.SourceRecord{tt.record}, now)
			assert.Equal(t, tt.want, signals.NoRetiredMarker)
		})
	}
}

func TestClassify_UnknownWithoutRecords(t *testing.T) {
	_, status := NewClassifier(DefaultConfig()).Classify(nil, now)
	assert.Equal(t, models.StatusUnknown, status)
}

func TestClassifyEntity(t *testing.T) {
	entity := &models.CanonicalEntity{
		Contributions: []models.SourceRecord{{Source: models.SourceCongress, Name: "Jane Doe", RetrievedAt: now}},
	}

	NewClassifier(Config{MinSignals: 3}).ClassifyEntity(entity, now)

	assert.Equal(t, models.StatusCurrent, entity.CurrentStatus)
	assert.Equal(t, 3, entity.Signals.Count())
}
