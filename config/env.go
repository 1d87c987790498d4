package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the default prefix of environment overrides.
const EnvPrefix = "MQCORE"

var (
	durationType = reflect.TypeFor[time.Duration]()
	byteSizeType = reflect.TypeFor[ByteSize]()
	ratesType    = reflect.TypeFor[Rates]()
)

// EnvLoader overlays environment variables onto a Config. Variable names
// are {Prefix}_{SECTION}_{FIELD}, using the upper cased yaml names, e.g.
// MQCORE_REACTOR_POLL_TIMEOUT=250ms or MQCORE_POOL_MAX_BUFFER_SIZE=1MiB.
type EnvLoader struct {
	// Prefix defaults to EnvPrefix.
	Prefix string

	// lookup overrides os.LookupEnv for testing.
	lookup func(string) (string, bool)
}

func (l EnvLoader) prefix() string {
	if l.Prefix == "" {
		return EnvPrefix
	}
	return l.Prefix
}

func (l EnvLoader) lookupEnv(key string) (string, bool) {
	if l.lookup != nil {
		return l.lookup(key)
	}
	return os.LookupEnv(key)
}

// Load applies every set variable to cfg. Unset variables leave the
// existing values untouched.
func (l EnvLoader) Load(cfg *Config) error {
	return l.loadStruct(l.prefix(), reflect.ValueOf(cfg).Elem())
}

// Keys returns every variable name Load checks.
func (l EnvLoader) Keys() []string {
	return collectKeys(l.prefix(), reflect.TypeFor[Config]())
}

func (l EnvLoader) loadStruct(prefix string, v reflect.Value) error {
	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		name, ok := envName(field)
		if !ok {
			continue
		}
		key := prefix + "_" + name
		fv := v.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if err := l.loadStruct(key, fv); err != nil {
				return err
			}
			continue
		}

		raw, ok := l.lookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(fv, raw); err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	switch fv.Type() {
	case durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(d))
		return nil
	case byteSizeType:
		n, err := ParseByteSize(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(n))
		return nil
	case ratesType:
		rates, err := ParseRates(raw)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(rates))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetInt(n)
	default:
		return fmt.Errorf("unsupported type %s", fv.Type())
	}
	return nil
}

func collectKeys(prefix string, t reflect.Type) []string {
	var keys []string
	for i := range t.NumField() {
		field := t.Field(i)
		name, ok := envName(field)
		if !ok {
			continue
		}
		key := prefix + "_" + name
		if field.Type.Kind() == reflect.Struct {
			keys = append(keys, collectKeys(key, field.Type)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// envName derives the variable segment from the yaml tag.
func envName(field reflect.StructField) (string, bool) {
	if !field.IsExported() {
		return "", false
	}
	name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
	if name == "-" {
		return "", false
	}
	if name == "" {
		name = field.Name
	}
	return strings.ToUpper(name), true
}
