package ingest

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ErrArrayParse is returned when stored array text cannot be converted to the requested element type
var ErrArrayParse = errors.New("failed to parse array text")

// ErrArrayEncode is returned for string elements the bracketed text form cannot carry
var ErrArrayEncode = errors.New("string element cannot be stored in array text")

// DType names the element type of an array column
type DType string

const (
	DTypeFloat64 DType = "float64"
	DTypeFloat32 DType = "float32"
	DTypeInt64   DType = "int64"
	DTypeInt32   DType = "int32"
	DTypeInt     DType = "int"
	DTypeBool    DType = "bool"
	DTypeString  DType = "str"
)

// DTypeSuffix is appended to an array column's name to form its element-type sibling column
const DTypeSuffix = "_dtype"

// ParseDType resolves a dtype name, accepting the common aliases
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float64", "float", "f8", "double":
		return DTypeFloat64, nil
	case "float32", "f4":
		return DTypeFloat32, nil
	case "int64", "i8", "long":
		return DTypeInt64, nil
	case "int32", "i4":
		return DTypeInt32, nil
	case "int":
		return DTypeInt, nil
	case "bool", "boolean":
		return DTypeBool, nil
	case "str", "string", "text", "object":
		return DTypeString, nil
	}
	return "", fmt.Errorf("unknown dtype %q", s)
}

// IsArray reports whether v is array-like. Strings are not.
func IsArray(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(string); ok {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return true
	}
	return false
}

// EncodeArray renders an array-like value as bracketed text: "[7, 8, 9]".
// Strings are single-quoted and floats use their shortest representation.
// The text form has no escaping, so string elements must be non-empty, free
// of commas, quotes, brackets and surrounding whitespace, and a lone element
// must not contain whitespace at all. Other strings fail with ErrArrayEncode.
func EncodeArray(v interface{}) (string, error) {
	rv := reflect.ValueOf(v)
	if !IsArray(v) {
		return "", fmt.Errorf("value of type %T is not array-like", v)
	}

	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		if err := writeElement(&sb, rv.Index(i), rv.Len() == 1); err != nil {
			return "", fmt.Errorf("element %d: %w", i, err)
		}
	}
	sb.WriteByte(']')
	return sb.String(), nil
}

func writeElement(sb *strings.Builder, ev reflect.Value, lone bool) error {
	for ev.Kind() == reflect.Interface || ev.Kind() == reflect.Pointer {
		if ev.IsNil() {
			sb.WriteString("nan")
			return nil
		}
		ev = ev.Elem()
	}

	switch ev.Kind() {
	case reflect.String:
		if err := checkStringElement(ev.String(), lone); err != nil {
			return err
		}
		sb.WriteByte('\'')
		sb.WriteString(ev.String())
		sb.WriteByte('\'')
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sb.WriteString(strconv.FormatInt(ev.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		sb.WriteString(strconv.FormatUint(ev.Uint(), 10))
	case reflect.Float32:
		sb.WriteString(strconv.FormatFloat(ev.Float(), 'g', -1, 32))
	case reflect.Float64:
		sb.WriteString(strconv.FormatFloat(ev.Float(), 'g', -1, 64))
	case reflect.Bool:
		sb.WriteString(strconv.FormatBool(ev.Bool()))
	default:
		return fmt.Errorf("unsupported element type %s", ev.Type())
	}
	return nil
}

// InferDType returns the element type recorded alongside an encoded array.
// Empty or all-nil arrays default to float64.
func InferDType(v interface{}) DType {
	if !IsArray(v) {
		return DTypeFloat64
	}

	rv := reflect.ValueOf(v)
	kind := rv.Type().Elem().Kind()
	if kind == reflect.Interface {
		kind = reflect.Invalid
		for i := 0; i < rv.Len(); i++ {
			ev := rv.Index(i).Elem()
			if ev.IsValid() {
				kind = ev.Kind()
				break
			}
		}
	}

	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return DTypeInt64
	case reflect.Bool:
		return DTypeBool
	case reflect.String:
		return DTypeString
	}
	return DTypeFloat64
}

// checkStringElement rejects strings that would not split back into one element
func checkStringElement(s string, lone bool) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty string", ErrArrayEncode)
	case strings.ContainsAny(s, ",'[]"):
		return fmt.Errorf("%w: %q contains a comma, quote or bracket", ErrArrayEncode, s)
	case strings.TrimSpace(s) != s:
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrArrayEncode, s)
	case lone && strings.ContainsAny(s, " \t\n\r"):
		return fmt.Errorf("%w: single element %q contains whitespace", ErrArrayEncode, s)
	}
	return nil
}

// ParseArray converts bracketed array text back into a typed slice.
//
// Brackets and single quotes are stripped, then the body is split on commas
// when it contains any, otherwise on whitespace. The result is one of
// []float64, []float32, []int64, []int32, []int, []bool or []string.
func ParseArray(text string, dtype DType) (interface{}, error) {
	parts := splitArray(text)

	switch dtype {
	case DTypeFloat64, "":
		out := make([]float64, len(parts))
		for i, p := range parts {
			f, err := parseFloat(p, 64)
			if err != nil {
				return nil, parseError(p, dtype, err)
			}
			out[i] = f
		}
		return out, nil
	case DTypeFloat32:
		out := make([]float32, len(parts))
		for i, p := range parts {
			f, err := parseFloat(p, 32)
			if err != nil {
				return nil, parseError(p, dtype, err)
			}
			out[i] = float32(f)
		}
		return out, nil
	case DTypeInt64:
		out := make([]int64, len(parts))
		for i, p := range parts {
			n, err := parseInt(p, 64)
			if err != nil {
				return nil, parseError(p, dtype, err)
			}
			out[i] = n
		}
		return out, nil
	case DTypeInt32:
		out := make([]int32, len(parts))
		for i, p := range parts {
			n, err := parseInt(p, 32)
			if err != nil {
				return nil, parseError(p, dtype, err)
			}
			out[i] = int32(n)
		}
		return out, nil
	case DTypeInt:
		out := make([]int, len(parts))
		for i, p := range parts {
			n, err := parseInt(p, strconv.IntSize)
			if err != nil {
				return nil, parseError(p, dtype, err)
			}
			out[i] = int(n)
		}
		return out, nil
	case DTypeBool:
		out := make([]bool, len(parts))
		for i, p := range parts {
			b, err := strconv.ParseBool(p)
			if err != nil {
				return nil, parseError(p, dtype, err)
			}
			out[i] = b
		}
		return out, nil
	case DTypeString:
		return parts, nil
	}
	return nil, fmt.Errorf("%w: unknown dtype %q", ErrArrayParse, dtype)
}

func splitArray(text string) []string {
	body := strings.TrimSpace(text)
	body = strings.TrimPrefix(body, "[")
	body = strings.TrimSuffix(body, "]")
	body = strings.ReplaceAll(body, "'", "")

	var raw []string
	if strings.Contains(body, ",") {
		raw = strings.Split(body, ",")
	} else {
		raw = strings.Fields(body)
	}

	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

func parseFloat(s string, bitSize int) (float64, error) {
	switch strings.ToLower(s) {
	case "nan", "none", "null":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, bitSize)
}

// parseInt accepts integral float text such as "7.0"
func parseInt(s string, bitSize int) (int64, error) {
	n, err := strconv.ParseInt(s, 10, bitSize)
	if err == nil {
		return n, nil
	}
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, err
	}
	return int64(f), nil
}

func parseError(element string, dtype DType, err error) error {
	return fmt.Errorf("%w: element %q as %s: %v", ErrArrayParse, element, dtype, err)
}
