package authfetch

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Classification is the ErrorClassifier verdict for a failed response.
type Classification uint8

const (
	// ClassOther covers every non-auth failure. It is never retried.
	ClassOther Classification = iota
	// ClassExpired is a 401 whose body says the access credential expired
	// while the session itself is structurally valid.
	ClassExpired
	// ClassInvalid is a 401 without an expiry signal, or a 403.
	ClassInvalid
)

func (c Classification) String() string {
	switch c {
	case ClassOther:
		return "other"
	case ClassExpired:
		return "expired"
	case ClassInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Classifier inspects a failed response. Implementations must be pure and
// must not panic; the client maps a panic to ClassInvalid regardless.
type Classifier interface {
	Classify(resp *Response) Classification
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(resp *Response) Classification

// Classify calls f.
func (f ClassifierFunc) Classify(resp *Response) Classification {
	return f(resp)
}

// DefaultClassifier recognises an expired access credential from the JSON
// error body of a 401. Anything ambiguous on a 401 is ClassInvalid.
type DefaultClassifier struct {
	reasonFields    []string
	expiredReasons  map[string]struct{}
	messageFields   []string
	expiredMessages []string
}

// NewDefaultClassifier builds a classifier from cfg. Empty fields fall back
// to DefaultConfig values.
func NewDefaultClassifier(cfg ClassifierConfig) *DefaultClassifier {
	def := defaultConfig().Classifier
	if len(cfg.ReasonFields) == 0 {
		cfg.ReasonFields = def.ReasonFields
	}
	if len(cfg.ExpiredReasons) == 0 {
		cfg.ExpiredReasons = def.ExpiredReasons
	}
	if len(cfg.MessageFields) == 0 {
		cfg.MessageFields = def.MessageFields
	}
	if len(cfg.ExpiredMessages) == 0 {
		cfg.ExpiredMessages = def.ExpiredMessages
	}

	c := &DefaultClassifier{
		reasonFields:   append([]string(nil), cfg.ReasonFields...),
		expiredReasons: make(map[string]struct{}, len(cfg.ExpiredReasons)),
		messageFields:  append([]string(nil), cfg.MessageFields...),
	}
	for _, r := range cfg.ExpiredReasons {
		c.expiredReasons[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	for _, m := range cfg.ExpiredMessages {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			c.expiredMessages = append(c.expiredMessages, m)
		}
	}
	return c
}

// Classify implements Classifier.
func (c *DefaultClassifier) Classify(resp *Response) Classification {
	if resp == nil {
		return ClassInvalid
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if c.signalsExpiry(resp.Body) {
			return ClassExpired
		}
		return ClassInvalid
	case http.StatusForbidden:
		return ClassInvalid
	default:
		return ClassOther
	}
}

func (c *DefaultClassifier) signalsExpiry(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}

	for _, name := range c.reasonFields {
		v, ok := fields[name].(string)
		if !ok {
			continue
		}
		if _, hit := c.expiredReasons[strings.ToLower(strings.TrimSpace(v))]; hit {
			return true
		}
	}

	for _, name := range c.messageFields {
		v, ok := fields[name].(string)
		if !ok {
			continue
		}
		v = strings.ToLower(v)
		for _, phrase := range c.expiredMessages {
			if strings.Contains(v, phrase) {
				return true
			}
		}
	}
	return false
}

// safeClassify runs a host-provided classifier and fails closed on panic.
func safeClassify(c Classifier, resp *Response) (class Classification) {
	defer func() {
		if recover() != nil {
			class = ClassInvalid
		}
	}()
	return c.Classify(resp)
}
