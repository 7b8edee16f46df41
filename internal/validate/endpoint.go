package validate

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// MaxTelemetryVerbosity is the highest verbosity a telemetry endpoint accepts.
const MaxTelemetryVerbosity = 9

// Endpoint is a telemetry sink URL with the verbosity of events sent to it.
type Endpoint struct {
	URL       string `validate:"required,url"`
	Verbosity uint8  `validate:"max=9"`
}

var endpointSchemes = map[string]bool{
	"ws":    true,
	"wss":   true,
	"http":  true,
	"https": true,
}

// ParseTelemetryEndpoint parses "URL VERBOSITY". The verbosity defaults to 0
// when omitted.
func ParseTelemetryEndpoint(raw string) (Endpoint, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 || len(fields) > 2 {
		return Endpoint{}, fmt.Errorf("telemetry endpoint %q must be 'URL VERBOSITY'", raw)
	}

	ep := Endpoint{URL: fields[0]}
	if len(fields) == 2 {
		v, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil {
			return Endpoint{}, fmt.Errorf("telemetry endpoint %q: invalid verbosity %q", raw, fields[1])
		}
		ep.Verbosity = uint8(v)
	}

	if err := validate.Struct(ep); err != nil {
		return Endpoint{}, fmt.Errorf("telemetry endpoint %q: %w", raw, err)
	}

	u, err := url.Parse(ep.URL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("telemetry endpoint %q: %w", raw, err)
	}
	if !endpointSchemes[u.Scheme] {
		return Endpoint{}, fmt.Errorf("telemetry endpoint %q: unsupported scheme %q", raw, u.Scheme)
	}

	return ep, nil
}

// KeyTypeTag validates a four character lowercase key type tag such as "babe".
func KeyTypeTag(tag string) error {
	if err := ValidateField(tag, "required,len=4,lowercase,alphanum"); err != nil {
		return fmt.Errorf("key type %q must be four lowercase alphanumeric characters", tag)
	}
	return nil
}
