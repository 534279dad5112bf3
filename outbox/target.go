package outbox

import (
	"net/url"
	"strings"

	"github.com/syssam/strata"
)

// Target is the destination of a message: a topic and the remote service
// function consuming it.
type Target struct {
	// Scheme and Host are set when the target names a broker,
	// as in "amqp://events/orders/billing.createInvoice".
	Scheme   string
	Host     string
	Topic    string
	Service  string
	Function string
}

// ParseTarget parses "[scheme://host/]topic/service.function".
func ParseTarget(raw string) (Target, error) {
	var t Target
	path := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return t, invalidTarget(raw)
		}
		t.Scheme, t.Host, path = u.Scheme, u.Host, strings.TrimPrefix(u.Path, "/")
	}
	topic, fn, ok := strings.Cut(path, "/")
	if !ok || topic == "" || strings.Contains(fn, "/") {
		return t, invalidTarget(raw)
	}
	service, function, ok := strings.Cut(fn, ".")
	if !ok || service == "" || function == "" || strings.Contains(function, ".") {
		return t, invalidTarget(raw)
	}
	t.Topic, t.Service, t.Function = topic, service, function
	return t, nil
}

func invalidTarget(raw string) error {
	return strata.InvalidArgument("%q is not a remote service function url, expected topic/service.function", raw)
}

// String returns the target in the form ParseTarget accepts.
func (t Target) String() string {
	s := t.Topic + "/" + t.Service + "." + t.Function
	if t.Host != "" {
		s = t.Scheme + "://" + t.Host + "/" + s
	}
	return s
}
