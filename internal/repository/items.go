package repository

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"shopledger/internal/domain"
)

// EncodeItems serialises line items for the items_json column.
func EncodeItems(items []domain.LineItem) (string, error) {
	if items == nil {
		items = []domain.LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}
	return string(data), nil
}

// DecodeItems reads an items_json cell. Besides JSON it understands the
// literal notation older versions wrote, e.g.
// [{'name': 'Air Max', 'size': 42.0, 'qty': 1, 'price': 5000}].
func DecodeItems(raw string) ([]domain.LineItem, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "nan" {
		return []domain.LineItem{}, nil
	}
	var items []domain.LineItem
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		return nonNilItems(items), nil
	}

	converted, err := literalToJSON(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(converted), &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return nonNilItems(items), nil
}

func nonNilItems(items []domain.LineItem) []domain.LineItem {
	if items == nil {
		return []domain.LineItem{}
	}
	return items
}

// isJSONItems reports whether raw is already stored as JSON.
func isJSONItems(raw string) bool {
	var items []json.RawMessage
	return json.Unmarshal([]byte(strings.TrimSpace(raw)), &items) == nil
}

// literalToJSON rewrites single-quoted strings, True/False/None, tuples and
// trailing commas into their JSON spelling.
func literalToJSON(src string) (string, error) {
	var out strings.Builder
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"':
			end, text, err := readQuoted(runes, i)
			if err != nil {
				return "", err
			}
			quoted, _ := json.Marshal(text)
			out.Write(quoted)
			i = end
		case r == '(':
			out.WriteRune('[')
		case r == ')':
			trimTrailingComma(&out)
			out.WriteRune(']')
		case r == ']' || r == '}':
			trimTrailingComma(&out)
			out.WriteRune(r)
		case (r == 'e' || r == 'E') && i > 0 && (unicode.IsDigit(runes[i-1]) || runes[i-1] == '.'):
			out.WriteRune(r)
		case unicode.IsLetter(r):
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			switch word := string(runes[i:j]); word {
			case "True":
				out.WriteString("true")
			case "False":
				out.WriteString("false")
			case "None", "nan":
				out.WriteString("null")
			default:
				return "", fmt.Errorf("decode items: unexpected identifier %q", word)
			}
			i = j - 1
		default:
			out.WriteRune(r)
		}
	}
	return out.String(), nil
}

func readQuoted(runes []rune, start int) (int, string, error) {
	quote := runes[start]
	var text strings.Builder
	for i := start + 1; i < len(runes); i++ {
		r := runes[i]
		if r == '\\' && i+1 < len(runes) {
			i++
			switch runes[i] {
			case 'n':
				text.WriteRune('\n')
			case 't':
				text.WriteRune('\t')
			case 'r':
				text.WriteRune('\r')
			default:
				text.WriteRune(runes[i])
			}
			continue
		}
		if r == quote {
			return i, text.String(), nil
		}
		text.WriteRune(r)
	}
	return 0, "", fmt.Errorf("decode items: unterminated string")
}

func trimTrailingComma(out *strings.Builder) {
	s := strings.TrimRightFunc(out.String(), unicode.IsSpace)
	if strings.HasSuffix(s, ",") {
		s = s[:len(s)-1]
		out.Reset()
		out.WriteString(s)
	}
}

// InvoiceHash is the duplicate-detection digest of an invoice: the first 12
// hex characters of MD5 over "customer|items|date".
func InvoiceHash(customer, itemsJSON, date string) string {
	sum := md5.Sum([]byte(customer + "|" + itemsJSON + "|" + date))
	return hex.EncodeToString(sum[:])[:12]
}

// ComputeTotals returns the subtotal of items and the grand total after
// discount and delivery, both rounded to cents.
func ComputeTotals(items []domain.LineItem, discount, delivery float64) (float64, float64) {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(decimal.NewFromInt(int64(item.Qty)).Mul(decimal.NewFromFloat(item.Price)))
	}
	subtotal = subtotal.Round(2)
	grand := subtotal.Sub(decimal.NewFromFloat(discount)).Add(decimal.NewFromFloat(delivery)).Round(2)
	return subtotal.InexactFloat64(), grand.InexactFloat64()
}

// returnSubtotal is the negative refund amount for returned items.
func returnSubtotal(items []domain.LineItem) float64 {
	total := decimal.Zero
	for _, item := range items {
		line := decimal.NewFromInt(int64(item.Qty)).Mul(decimal.NewFromFloat(item.Price)).Abs()
		total = total.Sub(line)
	}
	return total.Round(2).InexactFloat64()
}

func validateItems(items []domain.LineItem) error {
	for idx, item := range items {
		if strings.TrimSpace(item.Name) == "" {
			return validationErr("item %d: name is required", idx+1)
		}
		if item.Qty <= 0 {
			return validationErr("item %d: qty must be positive", idx+1)
		}
		if item.Price < 0 {
			return validationErr("item %d: price must not be negative", idx+1)
		}
	}
	return nil
}
