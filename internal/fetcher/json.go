package fetcher

import (
	"bytes"
	"encoding/json"
	"mime"

	"github.com/rotisserie/eris"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeJSON decodes a JSON API page into T. Bodies cut off at the size cap
// and HTML pages served in place of JSON, such as login walls and bot
// challenges, are rejected rather than half-decoded.
func DecodeJSON[T any](p *Page) (*T, error) {
	if p == nil {
		return nil, eris.New("json: no page")
	}
	body := bytes.TrimSpace(bytes.TrimPrefix(p.Body, utf8BOM))
	if len(body) == 0 {
		return nil, eris.New("json: empty body")
	}
	if p.Truncated {
		return nil, eris.Errorf("json: body truncated at %d bytes", len(p.Body))
	}
	if isHTML(p.ContentType, body) {
		return nil, eris.Errorf("json: got an HTML page from %s", p.URL)
	}

	var obj T
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}

func isHTML(contentType string, body []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "text/html" {
		return true
	}
	return body[0] == '<'
}
