// Package inbound turns heterogeneous Kommo webhook bodies into one canonical
// Message and decides whether that message came from the end user.
package inbound

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

var ErrMalformedBody = errors.New("malformed request body")

// Payload is the flattened request: nested JSON objects and arrays use the
// same bracket notation Kommo uses for form posts (message[add][0][text]).
type Payload map[string]string

// Keys returns the payload keys in lexical order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Parse decodes body according to contentType and merges query parameters
// for keys the body does not carry. The "secret" query parameter is never
// copied into the payload.
func Parse(contentType string, body []byte, query url.Values) (Payload, error) {
	p := Payload{}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	trimmed := bytes.TrimSpace(body)

	var err error
	switch {
	case len(trimmed) == 0:
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		err = parseJSON(trimmed, p)
	case mediaType == "application/x-www-form-urlencoded":
		err = parseForm(trimmed, p)
	case trimmed[0] == '{':
		err = parseJSON(trimmed, p)
	default:
		err = parseForm(trimmed, p)
	}
	if err != nil {
		return nil, err
	}

	for k, vs := range query {
		if k == "secret" || len(vs) == 0 {
			continue
		}
		if _, ok := p[k]; !ok {
			p[k] = vs[0]
		}
	}
	return p, nil
}

func parseJSON(body []byte, p Payload) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	for k, v := range root {
		flatten(k, v, p)
	}
	return nil
}

func parseForm(body []byte, p Payload) error {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	for k, vs := range values {
		if len(vs) > 0 {
			p[k] = vs[0]
		}
	}
	return nil
}

func flatten(key string, v any, p Payload) {
	switch val := v.(type) {
	case nil:
	case map[string]any:
		for k, child := range val {
			flatten(key+"["+k+"]", child, p)
		}
	case []any:
		for i, child := range val {
			flatten(key+"["+strconv.Itoa(i)+"]", child, p)
		}
	case string:
		p[key] = val
	case json.Number:
		p[key] = val.String()
	case bool:
		p[key] = strconv.FormatBool(val)
	default:
		p[key] = fmt.Sprint(val)
	}
}
