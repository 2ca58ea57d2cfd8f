package rabbitmq

import (
	"errors"
	"net/url"
	"strings"
)

// sanitizeAMQPURL strips quotes and stray leading characters that commonly sneak into
// secrets managers, then checks that the URL uses an AMQP scheme.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	if clean == "" {
		return "", errors.New("AMQP URL is empty")
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
