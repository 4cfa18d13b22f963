package httpapi

import (
	"net/url"
	"strconv"
	"strings"
)

type paramError struct {
	param string
	msg   string
}

func (e *paramError) Error() string { return "invalid " + e.param + ": " + e.msg }

func requiredString(q url.Values, name string) (string, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return "", &paramError{param: name, msg: "is required"}
	}
	return v, nil
}

// optionalInt returns nil when the parameter is absent.
func optionalInt(q url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &paramError{param: name, msg: "must be an integer"}
	}
	return &n, nil
}

func intOr(q url.Values, name string, def int) (int, error) {
	v, err := optionalInt(q, name)
	if err != nil || v == nil {
		return def, err
	}
	return *v, nil
}
