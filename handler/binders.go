package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
)

// MaxJSONBodySize caps request bodies read by BindJSON.
const MaxJSONBodySize = 1 << 20

// BindJSON decodes an application/json body. Requests without a body are
// left untouched so handlers can report the missing fields themselves.
func BindJSON() Bind {
	return func(r *http.Request, v any) error {
		if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
			return ErrBinderNotApplicable
		}

		if ct := r.Header.Get("Content-Type"); ct != "" {
			mediaType, _, err := mime.ParseMediaType(ct)
			if err != nil || mediaType != "application/json" {
				return ErrUnsupportedMediaType
			}
		}

		dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBodySize))
		if err := dec.Decode(v); err != nil {
			if errors.Is(err, io.EOF) {
				return ErrBinderNotApplicable
			}
			return errors.Join(ErrInvalidJSON, err)
		}
		return nil
	}
}

// BindPath fills fields tagged `path:"name"` using extractor, typically
// chi.URLParam. Only string and integer fields are supported.
func BindPath(extractor func(r *http.Request, name string) string) Bind {
	return func(r *http.Request, v any) error {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
			return fmt.Errorf("%w: target must be a pointer to struct", ErrBadRequest)
		}
		rv = rv.Elem()
		rt := rv.Type()

		for i := range rt.NumField() {
			name := rt.Field(i).Tag.Get("path")
			if name == "" || name == "-" {
				continue
			}
			raw := extractor(r, name)
			if raw == "" {
				continue
			}

			field := rv.Field(i)
			switch field.Kind() {
			case reflect.String:
				field.SetString(raw)
			case reflect.Int, reflect.Int32, reflect.Int64:
				n, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return NewValidationError().Add(name, "must be a number")
				}
				field.SetInt(n)
			default:
				return fmt.Errorf("%w: unsupported path field %s", ErrBadRequest, rt.Field(i).Name)
			}
		}
		return nil
	}
}
