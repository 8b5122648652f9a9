package stock

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
)

// Keys names the payload fields the parser reads.
type Keys struct {
	List      string
	ID        string
	Name      string
	Available string
	Quantity  string
}

func DefaultKeys() Keys {
	return Keys{
		List:      "data",
		ID:        "_id",
		Name:      "name",
		Available: "available",
		Quantity:  "inventory_quantity",
	}
}

// Parser converts raw payloads into ProductStatus records.
// It holds no state and is safe for concurrent use.
type Parser struct {
	keys Keys
}

// NewParser returns a parser; blank keys fall back to DefaultKeys.
func NewParser(keys Keys) *Parser {
	def := DefaultKeys()
	pick := func(v, d string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		return d
	}
	return &Parser{keys: Keys{
		List:      pick(keys.List, def.List),
		ID:        pick(keys.ID, def.ID),
		Name:      pick(keys.Name, def.Name),
		Available: pick(keys.Available, def.Available),
		Quantity:  pick(keys.Quantity, def.Quantity),
	}}
}

// Parse decodes raw and converts every entry of the product list.
//
// Malformed entries are reported in ParseResult.Skipped and never fail the call.
// Only a payload that is not a JSON object returns a *ParseError.
func (p *Parser) Parse(raw []byte) (ParseResult, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var top any
	if err := dec.Decode(&top); err != nil {
		return ParseResult{}, &ParseError{Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return ParseResult{}, &ParseError{Err: errors.New("trailing data after payload")}
	}
	obj, ok := top.(map[string]any)
	if !ok {
		return ParseResult{}, &ParseError{Err: errors.New("payload is not a JSON object")}
	}

	list, ok := obj[p.keys.List].([]any)
	if !ok {
		return ParseResult{ListMissing: true}, nil
	}

	res := ParseResult{Products: make([]ProductStatus, 0, len(list))}
	seen := make(map[string]struct{}, len(list))
	for i, item := range list {
		ps, reason := p.convert(item)
		if reason == "" {
			if _, dup := seen[ps.ID]; dup {
				reason = SkipDuplicateID
			}
		}
		if reason != "" {
			res.Skipped = append(res.Skipped, Skip{Index: i, Reason: reason})
			continue
		}
		seen[ps.ID] = struct{}{}
		res.Products = append(res.Products, ps)
	}
	return res, nil
}

// convert returns a status or a non-empty skip reason.
func (p *Parser) convert(item any) (ProductStatus, string) {
	entry, ok := item.(map[string]any)
	if !ok {
		return ProductStatus{}, SkipNotObject
	}

	id, reason := productID(entry[p.keys.ID])
	if reason != "" {
		return ProductStatus{}, reason
	}

	name := DefaultName
	if s, ok := entry[p.keys.Name].(string); ok && strings.TrimSpace(s) != "" {
		name = s
	}

	qty, hasQty := integer(entry[p.keys.Quantity])
	ps := ProductStatus{
		ID:      id,
		Name:    name,
		InStock: truthy(entry[p.keys.Available]) && hasQty && qty > 0,
	}
	if hasQty {
		ps.Quantity = &qty
	}
	return ps, ""
}

func productID(v any) (string, string) {
	switch x := v.(type) {
	case nil:
		return "", SkipMissingID
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return "", SkipMissingID
		}
		return s, ""
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return "", SkipMalformedID
		}
		return strconv.FormatInt(n, 10), ""
	default:
		return "", SkipMalformedID
	}
}

// truthy accepts exactly JSON true, the integer literal 1 and the string
// "1". Integer-valued floats ("1.0") and padded strings (" 1 ") are false;
// only the quantity accepts integer-valued floats.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case json.Number:
		n, err := x.Int64()
		return err == nil && n == 1
	case string:
		return x == "1"
	default:
		return false
	}
}

// integer reports v as int64 when it is an integer-valued JSON number.
func integer(v any) (int64, bool) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if n, err := num.Int64(); err == nil {
		return n, true
	}
	f, err := num.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
