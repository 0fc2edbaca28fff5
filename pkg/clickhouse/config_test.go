package clickhouse

import (
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{name: "disabled needs nothing", config: Config{}},
		{name: "valid", config: Config{Enabled: true, URL: "http://localhost:8123", Database: "default", Table: "obs"}},
		{name: "missing URL", config: Config{Enabled: true, Database: "default", Table: "obs"}, wantErr: ErrURLRequired},
		{name: "bad table", config: Config{Enabled: true, URL: "http://localhost:8123", Database: "default", Table: "obs`"}, wantErr: ErrInvalidTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var fromTags Config
	require.NoError(t, defaults.Set(&fromTags))

	var fromMethod Config
	fromMethod.SetDefaults()

	assert.Equal(t, fromTags, fromMethod)
	assert.Equal(t, 30*time.Second, fromMethod.QueryTimeout)
	assert.Equal(t, 5*time.Minute, fromMethod.InsertTimeout)
}

func TestMapDatabase(t *testing.T) {
	c := &Config{Database: "gridstat", Table: "observations"}

	assert.Equal(t, "gridstat", c.MapDatabase("gridstat"))
	assert.Equal(t, "gridstat.observations", c.QualifiedTable())

	t.Setenv("GRIDSTAT_DATABASE_PREFIX", "test_123_")

	assert.Equal(t, "test_123_gridstat", c.MapDatabase("gridstat"))
	assert.Equal(t, "test_123_gridstat.observations", c.QualifiedTable())
}
