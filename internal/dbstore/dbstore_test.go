package dbstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatementKindExtractsLeadingVerb(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM guild_settings WHERE guild_id = $1": "SELECT",
		"  insert into events_data values ($1)":             "INSERT",
		"UPDATE guild_roles SET members = $1":                "UPDATE",
		"DELETE FROM welcome_messages":                       "DELETE",
	}
	for query, want := range cases {
		assert.Equal(t, want, statementKind(query))
	}
}

func TestIsConstraintViolationMatchesCommonPhrasing(t *testing.T) {
	assert.True(t, isConstraintViolation(errString("duplicate key value violates unique constraint")))
	assert.True(t, isConstraintViolation(errString("insert or update violates foreign key constraint")))
	assert.False(t, isConstraintViolation(errString("connection refused")))
}

type errString string

func (e errString) Error() string { return string(e) }

func TestRecordMetricAccumulatesCountAndTotalTime(t *testing.T) {
	s := &Store{
		sem:      make(chan struct{}, 4),
		metrics:  make(map[string]*statementMetrics),
		poolSize: 4,
		breaker:  nil,
	}
	s.recordMetric("SELECT", 100)
	s.recordMetric("SELECT", 300)

	s.metricsMu.Lock()
	m := s.metrics["SELECT"]
	s.metricsMu.Unlock()

	assert.Equal(t, int64(2), m.Count)
	assert.Equal(t, int64(400), int64(m.TotalTime))
}
