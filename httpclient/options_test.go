package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigPresets(t *testing.T) {
	tests := []struct {
		name           string
		cfg            Config
		wantTimeout    time.Duration
		wantMaxIdle    int
		wantMaxPerHost int
		wantConnsHost  int
		wantDial       time.Duration
	}{
		{
			name:           "given default config, then returns balanced settings",
			cfg:            DefaultConfig(),
			wantTimeout:    30 * time.Second,
			wantMaxIdle:    100,
			wantMaxPerHost: 20,
			wantConnsHost:  100,
			wantDial:       10 * time.Second,
		},
		{
			name:           "given high throughput config, then pooling is aggressive and per-host unlimited",
			cfg:            HighThroughputConfig(),
			wantTimeout:    60 * time.Second,
			wantMaxIdle:    500,
			wantMaxPerHost: 100,
			wantConnsHost:  0,
			wantDial:       10 * time.Second,
		},
		{
			name:           "given low latency config, then timeouts are short",
			cfg:            LowLatencyConfig(),
			wantTimeout:    5 * time.Second,
			wantMaxIdle:    50,
			wantMaxPerHost: 25,
			wantConnsHost:  50,
			wantDial:       2 * time.Second,
		},
		{
			name:           "given conservative config, then pools are small",
			cfg:            ConservativeConfig(),
			wantTimeout:    20 * time.Second,
			wantMaxIdle:    20,
			wantMaxPerHost: 5,
			wantConnsHost:  20,
			wantDial:       10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantTimeout, tt.cfg.Timeout)
			assert.Equal(t, tt.wantMaxIdle, tt.cfg.MaxIdleConns)
			assert.Equal(t, tt.wantMaxPerHost, tt.cfg.MaxIdleConnsPerHost)
			assert.Equal(t, tt.wantConnsHost, tt.cfg.MaxConnsPerHost)
			assert.Equal(t, tt.wantDial, tt.cfg.DialTimeout)
			assert.True(t, tt.cfg.TCPNoDelay)
			assert.False(t, tt.cfg.DisableCompression)
		})
	}
}

func TestDefaultSettings(t *testing.T) {
	s := defaultSettings()

	assert.Equal(t, DefaultConfig(), s.Transport)
	assert.True(t, s.CookieStore)
	assert.True(t, s.Referer)
	assert.True(t, s.FollowRedirects)
	assert.True(t, s.Verify)
	assert.Equal(t, defaultMaxRedirects, s.MaxRedirects)
	assert.False(t, s.SplitCookies)
	assert.Zero(t, s.RetryCount)
}

func TestWithConfig(t *testing.T) {
	t.Run("given a preset, then the client reports its timeout", func(t *testing.T) {
		c := newTestClient(t, NewMockEngine(), WithConfig(LowLatencyConfig()))

		assert.Equal(t, 5*time.Second, c.Timeout())
	})

	t.Run("given WithTimeout after a preset, then the later option wins", func(t *testing.T) {
		c := newTestClient(t, NewMockEngine(), WithConfig(LowLatencyConfig()), WithTimeout(time.Minute))

		assert.Equal(t, time.Minute, c.Timeout())
	})

	t.Run("given a preset after WithTimeout, then the preset replaces it", func(t *testing.T) {
		c := newTestClient(t, NewMockEngine(), WithTimeout(time.Minute), WithConfig(ConservativeConfig()))

		assert.Equal(t, 20*time.Second, c.Timeout())
	})
}

func TestBaseAttributes(t *testing.T) {
	assert.Empty(t, newConfig().baseAttributes())

	attrs := newConfig(WithServiceName("shop")).baseAttributes()
	v, ok := spanAttr(attrs, "http.client.name")
	assert.True(t, ok)
	assert.Equal(t, "shop", v.AsString())
}
