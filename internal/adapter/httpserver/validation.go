package httpserver

import (
	"fmt"
	"regexp"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// Request ids end up as staged filename prefixes where the first underscore
// separates the id from the original name, so underscores are excluded.
var requestIDRe = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// ValidateRequestID checks a caller-supplied request id. Empty is fine, the
// server generates one.
func ValidateRequestID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > 100 {
		return fmt.Errorf("%w: request_id too long (max 100)", domain.ErrInvalidArgument)
	}
	if !requestIDRe.MatchString(id) {
		return fmt.Errorf("%w: request_id may contain only letters, digits and hyphens", domain.ErrInvalidArgument)
	}
	return nil
}
