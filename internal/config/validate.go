package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		// Use yaml key names in messages, fall back to the Go name.
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks struct tags of Config or Credentials.
func Validate(value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		// Drop the root type name, e.g. "Config.retry.attempts" -> "retry.attempts".
		path := e.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		msgs = append(msgs, fmt.Sprintf("key=%q, value=%q, failed %q validation", path, fmt.Sprint(e.Value()), e.ActualTag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
