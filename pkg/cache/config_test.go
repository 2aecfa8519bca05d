package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_UnmarshalJSON_DurationStrings(t *testing.T) {
	tests := []struct {
		name     string
		jsonData string
		want     Config
		wantErr  bool
	}{
		{
			name: "duration strings",
			jsonData: `{
				"max_size": 500,
				"default_ttl": "1h",
				"enable_lru": false,
				"overflow_policy": "replace_oldest",
				"cleanup_interval": "30s"
			}`,
			want: Config{
				MaxSize:         500,
				DefaultTTL:      time.Hour,
				EnableLRU:       false,
				EnableStats:     true,
				OverflowPolicy:  OverflowReplaceOldest,
				CleanupInterval: 30 * time.Second,
			},
		},
		{
			name: "integer nanoseconds",
			jsonData: `{
				"default_ttl": 300000000000,
				"cleanup_interval": 60000000000
			}`,
			want: DefaultConfig(),
		},
		{
			name:     "absent fields keep defaults",
			jsonData: `{"enable_stats": false}`,
			want: func() Config {
				c := DefaultConfig()
				c.EnableStats = false
				return c
			}(),
		},
		{
			name:     "invalid duration string",
			jsonData: `{"default_ttl": "soon"}`,
			wantErr:  true,
		},
		{
			name:     "wrong duration type",
			jsonData: `{"cleanup_interval": true}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultConfig()
			err := json.Unmarshal([]byte(tt.jsonData), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_MarshalRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultTTL = 90 * time.Second

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"default_ttl":"1m30s"`)

	var back Config
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, cfg, back)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 5*time.Minute, cfg.DefaultTTL)
	assert.True(t, cfg.EnableLRU)
	assert.True(t, cfg.EnableStats)
	assert.Equal(t, OverflowReject, cfg.OverflowPolicy)
	assert.Equal(t, 60*time.Second, cfg.CleanupInterval)
	assert.NoError(t, cfg.Validate())
}
