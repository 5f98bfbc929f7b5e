package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string
	RateLimitPerMinute int

	// Backend selection
	DataBackend string

	// Ledger layout
	TransactionSheet  string
	TransactionHeader string
	HeaderRow         int
	FirstDataRow      int

	// Per-day figure
	PerDayMode  string
	PerDayRange string

	// Google Sheets
	SpreadsheetID         string
	GoogleOAuthClientFile string
	GoogleOAuthTokenFile  string
	GoogleOAuthClientJSON string
	GoogleOAuthTokenJSON  string

	// Local workbook
	XLSXPath string

	// Journal database (empty disables the journal)
	JournalDBPath string

	// AMQP (empty URL disables queued appends)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	AsyncAppend  bool
}

const (
	PerDayNone     = "none"
	PerDayCell     = "cell"
	PerDayComputed = "computed"
)

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		DataBackend: getEnv("DATA_BACKEND", "memory"),

		TransactionSheet:  getEnv("TRANSACTION_SHEET", "T"),
		TransactionHeader: getEnv("TRANSACTION_HEADER", "Date"),
		HeaderRow:         getEnvInt("HEADER_ROW", 1),
		FirstDataRow:      getEnvInt("FIRST_DATA_ROW", 2),

		PerDayMode:  getEnv("PER_DAY_MODE", PerDayNone),
		PerDayRange: getEnv("PER_DAY_RANGE", ""),

		SpreadsheetID:         getEnv("SPREADSHEET_ID", getEnv("GOOGLE_SPREADSHEET_ID", "")),
		GoogleOAuthClientFile: getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:  getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
		GoogleOAuthClientJSON: getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthTokenJSON:  getEnv("GOOGLE_OAUTH_TOKEN_JSON", ""),

		XLSXPath: getEnv("XLSX_PATH", "./data/ledger.xlsx"),

		JournalDBPath: getEnv("JOURNAL_DB_PATH", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "sheetledger"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_appends"),
		AsyncAppend:  getEnvBool("ASYNC_APPEND", false),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimitPerMinute))
	}

	// Validate data backend
	validBackends := []string{"memory", "sheets", "xlsx"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Ledger layout
	if strings.TrimSpace(c.TransactionSheet) == "" {
		errors = append(errors, "transaction sheet name cannot be empty")
	}
	if strings.TrimSpace(c.TransactionHeader) == "" {
		errors = append(errors, "transaction header cannot be empty")
	}
	if c.HeaderRow < 1 {
		errors = append(errors, fmt.Sprintf("invalid header row %d: must be at least 1", c.HeaderRow))
	}
	if c.FirstDataRow <= c.HeaderRow {
		errors = append(errors, fmt.Sprintf("invalid first data row %d: must be below the header row %d", c.FirstDataRow, c.HeaderRow))
	}

	// Per-day figure
	switch c.PerDayMode {
	case PerDayNone, PerDayComputed:
	case PerDayCell:
		if c.PerDayRange == "" {
			errors = append(errors, "PER_DAY_RANGE is required when PER_DAY_MODE is 'cell'")
		}
		if c.DataBackend != "sheets" {
			errors = append(errors, "PER_DAY_MODE 'cell' requires the sheets backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid per-day mode '%s': must be one of [none cell computed]", c.PerDayMode))
	}

	// Validate Google Sheets configuration if backend is sheets
	if c.DataBackend == "sheets" {
		if c.SpreadsheetID == "" {
			errors = append(errors, "SPREADSHEET_ID is required when using sheets backend")
		}

		// Check if client file exists (if specified)
		if c.GoogleOAuthClientFile != "" {
			if _, err := os.Stat(c.GoogleOAuthClientFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth client file does not exist: %s", c.GoogleOAuthClientFile))
			}
		}

		// Check if token file exists (if specified)
		if c.GoogleOAuthTokenFile != "" {
			if _, err := os.Stat(c.GoogleOAuthTokenFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth token file does not exist: %s", c.GoogleOAuthTokenFile))
			}
		}
	}

	if c.DataBackend == "xlsx" && c.XLSXPath == "" {
		errors = append(errors, "XLSX_PATH cannot be empty when using xlsx backend")
	}

	// Journal directory must exist or be creatable
	if c.JournalDBPath != "" {
		dir := filepath.Dir(c.JournalDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create journal database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.AsyncAppend && c.AMQPURL == "" {
		errors = append(errors, "ASYNC_APPEND requires AMQP_URL")
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
