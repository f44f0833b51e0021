package limits_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tally/internal/limits"
)

// =============================================================================
// Limit Table Test Suite
// =============================================================================

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestParseConfig() {
	s.Run("full table round trip", func() {
		cfg, err := limits.ParseConfig([]byte(`{
			"windows": {
				"US-FED": [
					{"cycle": "2026-general", "limit_cents": 350000,
					 "start": "2026-01-01T00:00:00Z", "end": "2027-01-01T00:00:00Z"},
					{"cycle": "2026-annual", "limit_cents": 1000000}
				]
			}
		}`))
		s.Require().NoError(err)
		s.Require().Len(cfg.Windows["US-FED"], 2)

		limit, ok := cfg.Limit("US-FED", "2026-general")
		s.True(ok)
		s.Equal(int64(3500_00), limit)

		// The bounded window is inactive outside its range; the unbounded
		// annual window always applies.
		outside := time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)
		active := cfg.ActiveWindows("US-FED", outside)
		s.Require().Len(active, 1)
		s.Equal("2026-annual", active[0].Cycle)
	})

	s.Run("rejections", func() {
		cases := map[string]string{
			"not json":        `{`,
			"missing cycle":   `{"windows":{"US-FED":[{"limit_cents":100}]}}`,
			"zero limit":      `{"windows":{"US-FED":[{"cycle":"2026-annual","limit_cents":0}]}}`,
			"start after end": `{"windows":{"US-FED":[{"cycle":"2026-annual","limit_cents":100,"start":"2027-01-01T00:00:00Z","end":"2026-01-01T00:00:00Z"}]}}`,
		}
		for name, raw := range cases {
			_, err := limits.ParseConfig([]byte(raw))
			s.Error(err, name)
		}
	})
}

func (s *ConfigSuite) TestLoadFile() {
	path := s.T().TempDir() + "/limits.json"
	err := os.WriteFile(path, []byte(`{"windows":{"CA-PROV":[{"cycle":"2026-annual","limit_cents":160000}]}}`), 0o600)
	s.Require().NoError(err)

	cfg, err := limits.LoadFile(path)
	s.Require().NoError(err)
	limit, ok := cfg.Limit("CA-PROV", "2026-annual")
	s.True(ok)
	s.Equal(int64(1600_00), limit)

	_, err = limits.LoadFile(path + ".missing")
	s.Error(err)
}
