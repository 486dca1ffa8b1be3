// Package schema - реестр типов событий: куда доставлять, сколько ретраить
// и какую форму payload принимать на входе.
package schema

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"integrations/internal/application/common"
	"integrations/internal/application/entity"
	"integrations/pkg/validator"

	"github.com/spf13/viper"
)

const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 10 * time.Second
	DefaultSource     = "app"

	defaultBackoffInitial    = 5 * time.Second
	defaultBackoffMax        = 10 * time.Minute
	defaultBackoffMultiplier = 2.0
)

type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
)

// Field - правило для одного ключа payload; Rules это теги go-playground/validator
type Field struct {
	Name  string    `mapstructure:"name"`
	Type  FieldType `mapstructure:"type"`
	Rules string    `mapstructure:"rules"`
}

type Backoff struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// DefaultBackoff - для событий, чей тип пропал из реестра после записи
var DefaultBackoff = Backoff{Initial: defaultBackoffInitial, Max: defaultBackoffMax, Multiplier: defaultBackoffMultiplier}

// Next - задержка перед следующей попыткой после retryCount неудач
func (b Backoff) Next(retryCount int) time.Duration {
	return common.BackoffWithJitter(retryCount, b.Initial, b.Max, b.Multiplier)
}

type Definition struct {
	Type        string        `mapstructure:"type"`
	Destination string        `mapstructure:"destination"`
	Source      string        `mapstructure:"source"`
	MaxRetries  int           `mapstructure:"maxRetries"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Secret      string        `mapstructure:"secret"` // HMAC-SHA256 подпись тела, пусто - без подписи
	Strict      bool          `mapstructure:"strict"` // запрещать ключи, не описанные в Fields
	Backoff     Backoff       `mapstructure:"backoff"`
	Fields      []Field       `mapstructure:"fields"`
}

// Describe - публичное описание без секрета
func (d Definition) Describe() entity.EventTypeResponse {
	fields := make([]entity.Field, 0, len(d.Fields))
	for _, f := range d.Fields {
		fields = append(fields, entity.Field{Name: f.Name, Type: string(f.Type), Rules: f.Rules})
	}
	return entity.EventTypeResponse{
		Type:        d.Type,
		Destination: d.Destination,
		Source:      d.Source,
		MaxRetries:  d.MaxRetries,
		Timeout:     d.Timeout.String(),
		Signed:      d.Secret != "",
		Strict:      d.Strict,
		Fields:      fields,
	}
}

type Registry struct {
	defs map[string]Definition
}

type file struct {
	EventTypes []Definition `mapstructure:"eventTypes"`
}

// Load читает реестр из yaml/json файла
func Load(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read event types %s: %w", path, err)
	}

	var f file
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode event types %s: %w", path, err)
	}

	return New(f.EventTypes)
}

func New(defs []Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}

	var errs []error
	for i, d := range defs {
		d, err := normalize(d)
		if err != nil {
			errs = append(errs, fmt.Errorf("event type #%d (%s): %w", i, d.Type, err))
			continue
		}
		if _, dup := r.defs[d.Type]; dup {
			errs = append(errs, fmt.Errorf("event type %s declared twice", d.Type))
			continue
		}
		r.defs[d.Type] = d
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(r.defs) == 0 {
		return nil, errors.New("no event types configured")
	}

	return r, nil
}

func (r *Registry) Lookup(eventType string) (Definition, bool) {
	d, ok := r.defs[eventType]
	return d, ok
}

// Definitions - все типы, отсортированные по имени
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// CheckLease - lease релея должен переживать самую долгую попытку доставки
func (r *Registry) CheckLease(lease time.Duration) error {
	for _, d := range r.Definitions() {
		if lease <= d.Timeout {
			return fmt.Errorf("relay lease %s must be greater than timeout %s of event type %s", lease, d.Timeout, d.Type)
		}
	}
	return nil
}

func normalize(d Definition) (Definition, error) {
	if err := validator.Validate.Var(d.Type, "required,event_type"); err != nil {
		return d, fmt.Errorf("invalid type tag %q", d.Type)
	}

	u, err := url.Parse(d.Destination)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return d, fmt.Errorf("destination must be an absolute http(s) URL, got %q", d.Destination)
	}

	switch {
	case d.MaxRetries == 0:
		d.MaxRetries = DefaultMaxRetries
	case d.MaxRetries < 0:
		return d, fmt.Errorf("maxRetries must be >= 1, got %d", d.MaxRetries)
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.Source == "" {
		d.Source = DefaultSource
	}

	if d.Backoff.Initial <= 0 {
		d.Backoff.Initial = defaultBackoffInitial
	}
	if d.Backoff.Max <= 0 {
		d.Backoff.Max = defaultBackoffMax
	}
	if d.Backoff.Max < d.Backoff.Initial {
		return d, fmt.Errorf("backoff.max %s is lower than backoff.initial %s", d.Backoff.Max, d.Backoff.Initial)
	}
	if d.Backoff.Multiplier == 0 {
		d.Backoff.Multiplier = defaultBackoffMultiplier
	}
	if d.Backoff.Multiplier < 1 {
		return d, fmt.Errorf("backoff.multiplier must be >= 1, got %v", d.Backoff.Multiplier)
	}

	seen := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			return d, errors.New("field without name")
		}
		if _, dup := seen[f.Name]; dup {
			return d, fmt.Errorf("field %s declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}

		switch f.Type {
		case FieldString, FieldNumber, FieldBoolean, FieldObject, FieldArray:
		default:
			return d, fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
		}
		if err := checkRules(f); err != nil {
			return d, err
		}
	}

	return d, nil
}

// checkRules прогоняет теги на нулевом значении: validator паникует на неизвестном теге,
// лучше упасть на старте, чем на первом событии
func checkRules(f Field) (err error) {
	if f.Rules == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("field %s: invalid rules %q: %v", f.Name, f.Rules, r)
		}
	}()
	_ = validator.Validate.Var(zeroOf(f.Type), f.Rules)
	return nil
}

func zeroOf(t FieldType) any {
	switch t {
	case FieldNumber:
		return float64(0)
	case FieldBoolean:
		return false
	case FieldObject:
		return map[string]any{}
	case FieldArray:
		return []any{}
	default:
		return ""
	}
}
