package fetcher

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"slices"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// CharsetReader converts a declared XML encoding (e.g. ISO-8859-1,
// windows-1252) to UTF-8. Suitable for xml.Decoder.CharsetReader.
func CharsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, eris.Wrapf(err, "xml: unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

// DecodeElements decodes, in document order, every element whose local
// name is one of names, so RSS items and Atom entries come out of a single
// pass. Decoding is lenient about HTML entities and sloppy markup, as real
// feeds need. It stops after limit elements when limit is positive.
//
// On a read or decode error the elements decoded so far are returned along
// with the error; a feed with a broken tail is still useful.
func DecodeElements[T any](ctx context.Context, r io.Reader, limit int, names ...string) ([]T, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = CharsetReader
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	var out []T
	for limit <= 0 || len(out) < limit {
		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "xml: decode canceled")
		}

		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, eris.Wrapf(err, "xml: read token after %d elements", len(out))
		}

		se, ok := tok.(xml.StartElement)
		if !ok || !slices.Contains(names, se.Name.Local) {
			continue
		}
		var item T
		if err := dec.DecodeElement(&item, &se); err != nil {
			return out, eris.Wrapf(err, "xml: decode <%s>", se.Name.Local)
		}
		out = append(out, item)
	}
	return out, nil
}
