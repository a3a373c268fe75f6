// Package templates registers the handlebars helpers available to suite files
// and renders message payloads through them.
package templates

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aymerick/raymond"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/mykhaliev/agent-sim/model"
)

const (
	alphanumericChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alphabeticChars   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numericChars      = "0123456789"
	hexChars          = "0123456789abcdef"
)

type TemplateEngine struct{}

var (
	templateEngineInstance *TemplateEngine
	templateEngineOnce     sync.Once
)

// NewTemplateEngine registers the helpers on first use and returns the singleton.
func NewTemplateEngine() *TemplateEngine {
	templateEngineOnce.Do(func() {
		RegisterHelpers()
		templateEngineInstance = &TemplateEngine{}
	})
	return templateEngineInstance
}

// RenderPayload returns a copy of payload with every string leaf rendered
// against ctx. Nested maps and slices are walked; other values are kept.
func (e *TemplateEngine) RenderPayload(payload map[string]any, ctx map[string]string) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = e.renderValue(v, ctx)
	}
	return out
}

func (e *TemplateEngine) renderValue(v any, ctx map[string]string) any {
	switch val := v.(type) {
	case string:
		return model.RenderTemplate(val, ctx)
	case map[string]any:
		return e.RenderPayload(val, ctx)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = e.renderValue(item, ctx)
		}
		return items
	default:
		return v
	}
}

// RegisterHelpers registers the custom handlebars helpers. Call it once.
func RegisterHelpers() {
	raymond.RegisterHelper("randomValue", func(options *raymond.Options) raymond.SafeString {
		kind := strings.ToUpper(options.HashStr("type"))
		if kind == "UUID" {
			return raymond.SafeString(uuid.New().String())
		}

		length := 10
		if v := options.HashProp("length"); v != nil {
			length = toInt(v)
		}

		charset := alphanumericChars
		switch kind {
		case "ALPHABETIC":
			charset = alphabeticChars
		case "NUMERIC":
			charset = numericChars
		case "HEXADECIMAL":
			charset = hexChars
		}
		return raymond.SafeString(generateRandomString(charset, length))
	})

	raymond.RegisterHelper("randomInt", func(options *raymond.Options) raymond.SafeString {
		lower, upper := 0, 100
		if v := options.HashProp("lower"); v != nil {
			lower = toInt(v)
		}
		if v := options.HashProp("upper"); v != nil {
			upper = toInt(v)
		}
		if lower > upper {
			lower, upper = upper, lower
		}

		n, err := rand.Int(rand.Reader, big.NewInt(int64(upper-lower+1)))
		if err != nil {
			return raymond.SafeString("0")
		}
		return raymond.SafeString(strconv.Itoa(int(n.Int64()) + lower))
	})

	raymond.RegisterHelper("randomDecimal", func(options *raymond.Options) raymond.SafeString {
		lower, upper := 0.0, 100.0
		if v := options.HashProp("lower"); v != nil {
			lower = toFloat(v)
		}
		if v := options.HashProp("upper"); v != nil {
			upper = toFloat(v)
		}
		if lower > upper {
			lower, upper = upper, lower
		}
		return raymond.SafeString(fmt.Sprintf("%.2f", gofakeit.Float64Range(lower, upper)))
	})

	raymond.RegisterHelper("now", func(options *raymond.Options) raymond.SafeString {
		now := time.Now().UTC()
		if offset := options.HashStr("offset"); offset != "" {
			if d, err := ParseOffset(offset); err == nil {
				now = now.Add(d)
			}
		}

		switch format := options.HashStr("format"); format {
		case "":
			return raymond.SafeString(now.Format(time.RFC3339))
		case "date":
			return raymond.SafeString(now.Format(time.DateOnly))
		case "epoch":
			return raymond.SafeString(strconv.FormatInt(now.UnixMilli(), 10))
		case "unix":
			return raymond.SafeString(strconv.FormatInt(now.Unix(), 10))
		default:
			return raymond.SafeString(now.Format(format))
		}
	})

	raymond.RegisterHelper("shortId", func(value interface{}) raymond.SafeString {
		return raymond.SafeString(model.ShortID(raymond.Str(value)))
	})

	raymond.RegisterHelper("upper", func(value interface{}) raymond.SafeString {
		return raymond.SafeString(strings.ToUpper(raymond.Str(value)))
	})

	raymond.RegisterHelper("faker", func(key string) raymond.SafeString {
		return raymond.SafeString(fake(key))
	})
}

// fake resolves "Category.field" keys against gofakeit. Unknown keys render empty.
func fake(key string) string {
	f := gofakeit.New(0)

	category, field, _ := strings.Cut(key, ".")
	switch category {
	case "Name":
		switch field {
		case "first_name":
			return f.FirstName()
		case "last_name":
			return f.LastName()
		case "full_name":
			return f.Name()
		}
	case "Company":
		switch field {
		case "name":
			return f.Company()
		case "suffix":
			return f.CompanySuffix()
		case "profession":
			return f.JobTitle()
		case "buzzword":
			return f.BuzzWord()
		}
	case "Internet":
		switch field {
		case "email":
			return f.Email()
		case "username":
			return f.Username()
		case "url":
			return f.URL()
		}
	case "Address":
		switch field {
		case "city":
			return f.City()
		case "country":
			return f.Country()
		}
	case "Finance":
		switch field {
		case "amount":
			return fmt.Sprintf("$%.2f", f.Price(10, 100000))
		case "currency":
			return f.CurrencyShort()
		}
	case "Lorem":
		switch field {
		case "word":
			return f.Word()
		case "sentence":
			return f.Sentence(6)
		case "paragraph":
			return f.Paragraph(1, 3, 8, " ")
		}
	case "Misc":
		switch field {
		case "uuid":
			return f.UUID()
		case "date":
			return f.Date().Format(time.DateOnly)
		case "boolean":
			return strconv.FormatBool(f.Bool())
		}
	}
	return ""
}

func generateRandomString(charset string, length int) string {
	if length <= 0 {
		return ""
	}
	result := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return ""
		}
		result[i] = charset[n.Int64()]
	}
	return string(result)
}

func toInt(val interface{}) int {
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func toFloat(val interface{}) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// ParseOffset parses offsets such as "3 days", "-2 hours" or "1 week".
func ParseOffset(offset string) (time.Duration, error) {
	parts := strings.Fields(strings.TrimSpace(offset))
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid offset format")
	}

	value, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, err
	}

	var unit time.Duration
	switch strings.TrimSuffix(strings.ToLower(parts[1]), "s") {
	case "second":
		unit = time.Second
	case "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown time unit: %s", parts[1])
	}
	return time.Duration(value) * unit, nil
}
