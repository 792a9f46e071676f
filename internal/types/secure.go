package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential (mail password, API key, cron secret,
// database URL). String and MarshalJSON return a placeholder so the value never
// reaches logs or serialized config dumps.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value. Callers are limited to the places
// that hand the secret to a client library or compare it against a request.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether the secret holds a non-empty value.
func (s SecretString) IsSet() bool {
	return s != ""
}
