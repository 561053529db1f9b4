package flv

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/yutopp/go-amf0"
)

// ScriptData is a decoded script tag such as onMetaData.
type ScriptData struct {
	Name   string
	Values map[string]any
}

// ParseScriptData decodes an AMF0 script tag body: a name string followed by
// an object or ECMA array. Nested values are returned as decoded by amf0.
func ParseScriptData(b []byte) (*ScriptData, error) {
	dec := amf0.NewDecoder(bytes.NewReader(b))

	var name string
	if err := dec.Decode(&name); err != nil {
		return nil, fmt.Errorf("flv: script name: %w", err)
	}

	sd := &ScriptData{Name: name, Values: map[string]any{}}
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return sd, nil
		}
		return nil, fmt.Errorf("flv: script %s: %w", name, err)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		iter := rv.MapRange()
		for iter.Next() {
			sd.Values[iter.Key().String()] = iter.Value().Interface()
		}
	}
	return sd, nil
}

// Number returns a numeric value by key.
func (s *ScriptData) Number(key string) (float64, bool) {
	v, ok := s.Values[key].(float64)
	return v, ok
}

// String returns a string value by key.
func (s *ScriptData) String(key string) (string, bool) {
	v, ok := s.Values[key].(string)
	return v, ok
}
