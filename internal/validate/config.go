package validate

import (
	"fmt"
	"time"
)

// ValidatePortRange validates that a port number is within 1-65535. Port 0 is
// rejected because peers must be able to reach the advertised port.
func ValidatePortRange(port int) error {
	return ValidateField(port, "required,min=1,max=65535")
}

// ValidateRequiredString validates that a string field is not empty.
func ValidateRequiredString(value, fieldName string) error {
	if err := ValidateField(value, "required"); err != nil {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	return nil
}

// ValidatePositiveTimeout validates that a duration is positive.
func ValidatePositiveTimeout(timeout time.Duration, name string) error {
	if timeout <= 0 {
		return fmt.Errorf("%s must be positive", name)
	}
	return nil
}

// ValidateBlockRange checks an inclusive [from, to] export range. A nil upper
// bound means "up to the best block".
func ValidateBlockRange(from uint64, to *uint64) error {
	if to != nil && *to < from {
		return fmt.Errorf("block range end %d is before start %d", *to, from)
	}
	return nil
}
