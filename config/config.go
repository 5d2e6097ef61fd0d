// ABOUTME: Connector settings storage and loading
// ABOUTME: Handles the settings file at XDG paths plus .env and environment overrides
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"

	"github.com/harperreed/crmsync/models"
)

const appName = "crmsync"

// Settings holds everything the sync engine consumes: credentials, the
// per-kind outbound field mappings, the segment allow-list and the account
// sync toggle.
type Settings struct {
	// ConnectorID identifies this connector install; part of cache keys.
	ConnectorID string `json:"connector_id"`
	// ConfigVersion changes whenever the settings are saved, so cached
	// discovery results die with the configuration that produced them.
	ConfigVersion string `json:"config_version,omitempty"`
	// Secret is the platform-issued connector secret.
	Secret string `json:"secret,omitempty"`

	APIUsername  string `json:"api_username"`
	APIKey       string `json:"api_key"`
	DiscoveryURL string `json:"discovery_url"`
	// PlatformURL is the base URL of the platform ingestion API.
	PlatformURL string `json:"platform_url"`

	SynchronizedSegments []string `json:"synchronized_segments"`
	AccountSyncEnabled   bool     `json:"account_sync_enabled"`

	AccountMappings []FieldMapping `json:"account_attributes_outbound"`
	ContactMappings []FieldMapping `json:"contact_attributes_outbound"`
	LeadMappings    []FieldMapping `json:"lead_attributes_outbound"`
}

// MappingsFor returns the configured outbound mappings for a kind.
func (s *Settings) MappingsFor(kind models.Kind) []FieldMapping {
	switch kind {
	case models.KindAccount:
		return s.AccountMappings
	case models.KindContact:
		return s.ContactMappings
	case models.KindLead:
		return s.LeadMappings
	}
	return nil
}

// IsConfigured reports whether credentials are present at all. It does not
// validate them against the remote API.
func (s *Settings) IsConfigured() bool {
	return s.APIUsername != "" && s.APIKey != ""
}

// SettingsPath returns the XDG-compliant settings file location.
func SettingsPath() string {
	return filepath.Join(xdg.DataHome, appName, "settings.json")
}

// Load reads settings from the XDG data directory and applies environment
// overrides. A missing file yields empty settings with overrides applied,
// matching how the connector boots before it is configured.
// Overrides: CRMSYNC_API_USERNAME, CRMSYNC_API_KEY, CRMSYNC_DISCOVERY_URL,
// CRMSYNC_PLATFORM_URL, CRMSYNC_CONNECTOR_ID, CRMSYNC_SECRET.
func Load() (*Settings, error) {
	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	s := &Settings{}
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	} else if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	applyEnvOverrides(s)
	return s, nil
}

// Save persists settings to the XDG data directory.
func (s *Settings) Save() error {
	path := SettingsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("CRMSYNC_API_USERNAME"); v != "" {
		s.APIUsername = v
	}
	if v := os.Getenv("CRMSYNC_API_KEY"); v != "" {
		s.APIKey = v
	}
	if v := os.Getenv("CRMSYNC_DISCOVERY_URL"); v != "" {
		s.DiscoveryURL = v
	}
	if v := os.Getenv("CRMSYNC_PLATFORM_URL"); v != "" {
		s.PlatformURL = v
	}
	if v := os.Getenv("CRMSYNC_CONNECTOR_ID"); v != "" {
		s.ConnectorID = v
	}
	if v := os.Getenv("CRMSYNC_SECRET"); v != "" {
		s.Secret = v
	}
}
