package procpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFactory() ManagerFactory {
	return func() (ProcessManager, error) { return nil, nil }
}

func TestPoolConfig_SetDefaults(t *testing.T) {
	cfg := PoolConfig{}
	cfg.setDefaults()
	assert.Equal(t, time.Duration(0), cfg.KeepAlive)
	assert.Equal(t, 30*time.Second, cfg.StartupGrace)
	assert.Equal(t, 5*time.Second, cfg.TerminationGrace)
}

func TestPoolConfig_SetDefaults_NegativeKeepAliveNormalizes(t *testing.T) {
	cfg := PoolConfig{KeepAlive: -1}
	cfg.setDefaults()
	assert.Equal(t, time.Duration(0), cfg.KeepAlive)
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PoolConfig
		wantErr bool
	}{
		{
			name:    "missing factory",
			cfg:     PoolConfig{Min: 1, Max: 2},
			wantErr: true,
		},
		{
			name:    "negative min",
			cfg:     PoolConfig{ManagerFactory: validFactory(), Min: -1, Max: 2},
			wantErr: true,
		},
		{
			name:    "zero max",
			cfg:     PoolConfig{ManagerFactory: validFactory(), Min: 0, Max: 0},
			wantErr: true,
		},
		{
			name:    "min greater than max",
			cfg:     PoolConfig{ManagerFactory: validFactory(), Min: 3, Max: 2},
			wantErr: true,
		},
		{
			name:    "negative reserve",
			cfg:     PoolConfig{ManagerFactory: validFactory(), Min: 0, Max: 2, Reserve: -1},
			wantErr: true,
		},
		{
			name:    "reserve equal to max",
			cfg:     PoolConfig{ManagerFactory: validFactory(), Min: 0, Max: 2, Reserve: 2},
			wantErr: true,
		},
		{
			name:    "valid minimal config",
			cfg:     PoolConfig{ManagerFactory: validFactory(), Min: 1, Max: 4, Reserve: 1},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				var confErr *ConfigurationError
				assert.ErrorAs(t, err, &confErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
