package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Validator is implemented by config structs that check cross-field rules
// after parsing (for example "provider X needs key Y").
type Validator interface {
	Validate() error
}

type entry struct {
	once  sync.Once
	value any
	err   error
}

var (
	mu    sync.Mutex
	cache = map[reflect.Type]*entry{}

	defaultEnvLoaded sync.Once
)

// Load parses environment variables into v. Each config type is parsed once
// per process; later calls copy the cached value. The default .env file is
// read on first use when present.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	defaultEnvLoaded.Do(func() {
		_ = godotenv.Load()
	})

	e := lookup[T]()
	e.once.Do(func() {
		var fresh T
		e.value, e.err = parse(&fresh)
	})
	if e.err != nil {
		return e.err
	}
	*v = e.value.(T)
	return nil
}

// MustLoad works like Load but panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: failed to load required configuration: %v", err))
	}
}

// ForceReload drops the cached value for T and parses the environment again.
func ForceReload[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	mu.Lock()
	delete(cache, typeOf[T]())
	mu.Unlock()
	return Load(v)
}

// LoadEnv reads the given .env files (".env" when none are passed) into the
// process environment. Later files override earlier ones.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for i := len(paths) - 1; i >= 0; i-- {
		// godotenv.Load never overrides, so loading in reverse gives later files priority.
		if err := godotenv.Load(paths[i]); err != nil {
			return errors.Join(ErrLoadingEnvFile, err)
		}
	}
	return nil
}

// MustLoadEnv works like LoadEnv but panics on failure.
func MustLoadEnv(paths ...string) {
	if err := LoadEnv(paths...); err != nil {
		panic(err)
	}
}

// ResetCache forgets every parsed configuration.
func ResetCache() {
	mu.Lock()
	cache = map[reflect.Type]*entry{}
	mu.Unlock()
}

func parse[T any](v *T) (T, error) {
	if err := env.Parse(v); err != nil {
		return *v, errors.Join(ErrParsingConfig, err)
	}
	if val, ok := any(v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return *v, errors.Join(ErrInvalidConfig, err)
		}
	}
	return *v, nil
}

func lookup[T any]() *entry {
	t := typeOf[T]()
	mu.Lock()
	defer mu.Unlock()
	e, ok := cache[t]
	if !ok {
		e = &entry{}
		cache[t] = e
	}
	return e
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
