package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// Secret is a string that is never printed.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

const (
	tagName     = "env"
	requiredTag = "required"
	optPrefix   = "opt["
)

// ErrNotStructPtr is returned when the parsed value is not a pointer to a
// struct.
var ErrNotStructPtr = errors.New("must be a pointer to a struct")

// parse fills the `env` tagged fields of the struct conf points to from
// envRepo. Supported field kinds are string, bool and int64.
func parse(conf interface{}, envRepo env.Repository) error {
	c := reflect.ValueOf(conf)
	if c.Kind() != reflect.Ptr || c.Elem().Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	c = c.Elem()

	var errs []error
	for i := 0; i < c.NumField(); i++ {
		field := c.Type().Field(i)
		tag, ok := field.Tag.Lookup(tagName)
		if !ok {
			continue
		}
		key, constraint := parseTag(tag)
		value := envRepo.Get(key)

		if err := validateConstraint(value, constraint); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if value == "" {
			continue
		}
		if err := setField(c.Field(i), value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func parseTag(tag string) (string, string) {
	key, constraint, _ := strings.Cut(tag, ",")
	return key, constraint
}

func validateConstraint(value, constraint string) error {
	switch {
	case constraint == "":
		return nil
	case constraint == requiredTag:
		if value == "" {
			return errors.New("required variable is not present")
		}
		return nil
	case strings.HasPrefix(constraint, optPrefix) && strings.HasSuffix(constraint, "]"):
		if value == "" {
			return nil
		}
		options := strings.Split(strings.TrimSuffix(strings.TrimPrefix(constraint, optPrefix), "]"), ",")
		for _, option := range options {
			if option == value {
				return nil
			}
		}
		return fmt.Errorf("value %q is not in the available options %v", value, options)
	default:
		return fmt.Errorf("invalid constraint: %s", constraint)
	}
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int64, reflect.Int:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("can't convert to int: %w", err)
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind: %s", field.Kind())
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("can't convert to bool: %w", err)
	}
	return b, nil
}

// Print logs the `env` tagged fields of conf. Secrets are masked and empty
// values are shown as <unset>.
func Print(conf interface{}, logger log.Logger) {
	v := reflect.ValueOf(conf)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return
	}

	logger.Infof("Configuration:")
	for i := 0; i < v.NumField(); i++ {
		field := v.Type().Field(i)
		tag, ok := field.Tag.Lookup(tagName)
		if !ok {
			continue
		}
		key, _ := parseTag(tag)
		logger.Printf("- %s: %s", key, valueString(v.Field(i)))
	}
}

func valueString(v reflect.Value) string {
	if v.IsZero() {
		return "<unset>"
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", v.Interface())
}
