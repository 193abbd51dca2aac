package godurastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GoDuraStore/go-dura-store/models"
)

func baseStoreConfig() models.StoreConfig {
	return models.StoreConfig{
		ExpiryMode:          models.ExpiryModeFixed,
		DefaultTTL:          time.Hour,
		MaxCapacity:         0,
		EvictionTargetRatio: 0.9,
	}
}

func TestNamespaceStoreConfig_OverlaysOntoBase(t *testing.T) {
	resolved, err := namespaceStoreConfig(baseStoreConfig(), map[string]any{
		"expiry_mode": "sliding",
		"default_ttl": "30m",
	})
	assert.NoError(t, err)
	assert.Equal(t, models.ExpiryModeSliding, resolved.ExpiryMode)
	assert.Equal(t, 30*time.Minute, resolved.DefaultTTL)
	// Unmentioned fields inherit the base.
	assert.Equal(t, 0.9, resolved.EvictionTargetRatio)
	assert.Equal(t, 0, resolved.MaxCapacity)
}

func TestNamespaceStoreConfig_AcceptsDurationValues(t *testing.T) {
	resolved, err := namespaceStoreConfig(baseStoreConfig(), map[string]any{
		"default_ttl":  15 * time.Minute,
		"max_capacity": 500,
	})
	assert.NoError(t, err)
	assert.Equal(t, 15*time.Minute, resolved.DefaultTTL)
	assert.Equal(t, 500, resolved.MaxCapacity)
}

func TestNamespaceStoreConfig_EmptyOptionsKeepBase(t *testing.T) {
	resolved, err := namespaceStoreConfig(baseStoreConfig(), map[string]any{})
	assert.NoError(t, err)
	assert.Equal(t, baseStoreConfig(), resolved)
}

// A misspelled key in a host application's config file must fail at startup
// rather than silently fall back to defaults.
func TestNamespaceStoreConfig_RejectsUnknownKeys(t *testing.T) {
	_, err := namespaceStoreConfig(baseStoreConfig(), map[string]any{
		"default_tll": "30m",
	})
	assert.Error(t, err)
}

func TestNamespaceStoreConfig_RejectsMalformedDuration(t *testing.T) {
	_, err := namespaceStoreConfig(baseStoreConfig(), map[string]any{
		"default_ttl": "half an hour",
	})
	assert.Error(t, err)
}
