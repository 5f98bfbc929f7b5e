package backend

import (
	"fmt"

	"sheetledger/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type: backendType,

		Sheet:        appConfig.TransactionSheet,
		Header:       appConfig.TransactionHeader,
		HeaderRow:    appConfig.HeaderRow,
		FirstDataRow: appConfig.FirstDataRow,

		SpreadsheetID: appConfig.SpreadsheetID,
		XLSXPath:      appConfig.XLSXPath,

		PerDayMode:  appConfig.PerDayMode,
		PerDayRange: appConfig.PerDayRange,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SheetsBackend:
		if c.SpreadsheetID == "" {
			return fmt.Errorf("spreadsheet ID is required for sheets backend")
		}
	case XLSXBackend:
		if c.XLSXPath == "" {
			return fmt.Errorf("workbook path is required for xlsx backend")
		}
	case MemoryBackend:
		// Nothing to check, the store is seeded from the layout.
	}

	switch c.PerDayMode {
	case "", config.PerDayNone, config.PerDayComputed:
	case config.PerDayCell:
		if c.Type != SheetsBackend {
			return fmt.Errorf("per-day cell mode requires the sheets backend")
		}
		if c.PerDayRange == "" {
			return fmt.Errorf("per-day cell mode requires a range")
		}
	default:
		return fmt.Errorf("invalid per-day mode: %s", c.PerDayMode)
	}

	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{MemoryBackend, SheetsBackend, XLSXBackend}
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return names
}
