// Package tlv provides hex fixture helpers and BER-TLV lookups over
// github.com/moov-io/bertlv, used to inspect SELECT responses.
package tlv

import (
	"fmt"
	"strings"

	"github.com/moov-io/bertlv"
)

// Find decodes data and follows path through nested templates, returning the
// value of the last tag. Tags are given in hex, e.g. Find(data, "6F", "A5", "50").
func Find(data []byte, path ...string) ([]byte, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty tag path")
	}

	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("bertlv decode failed: %w", err)
	}

	for depth, tag := range path {
		p, ok := lookup(packets, tag)
		if !ok {
			return nil, fmt.Errorf("tag %s not found", strings.Join(path[:depth+1], "/"))
		}
		if depth == len(path)-1 {
			return p.Value, nil
		}
		packets = p.TLVs
	}
	return nil, nil
}

// Has reports whether Find would succeed for path.
func Has(data []byte, path ...string) bool {
	_, err := Find(data, path...)
	return err == nil
}

func lookup(packets []bertlv.TLV, tag string) (bertlv.TLV, bool) {
	for _, p := range packets {
		if strings.EqualFold(p.Tag, tag) {
			return p, true
		}
	}
	return bertlv.TLV{}, false
}

// EncodeFCI builds a SELECT answer: a 6F template carrying the DF name (84)
// and, when label is set, a proprietary A5 template with the label (50).
func EncodeFCI(aid []byte, label string) ([]byte, error) {
	fields := []bertlv.TLV{bertlv.NewTag("84", aid)}
	if label != "" {
		fields = append(fields, bertlv.NewComposite("A5", bertlv.NewTag("50", []byte(label))))
	}
	return bertlv.Encode([]bertlv.TLV{bertlv.NewComposite("6F", fields...)})
}
