package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"

	"github.com/syssam/strata"
)

// Target names a remote service function.
type Target struct {
	Service  string
	Function string
}

// String returns "service.function".
func (t Target) String() string {
	return t.Service + "." + t.Function
}

// Reason describes why an argument failed validation.
type Reason struct {
	// Path is the dotted path of the offending value, empty for the
	// argument as a whole.
	Path    string
	Message string
}

// String returns the reason prefixed by its path.
func (r Reason) String() string {
	if r.Path == "" {
		return r.Message
	}
	return r.Path + ": " + r.Message
}

// Validator validates the argument of a call to target. It returns nil
// when the argument passes.
type Validator interface {
	ValidateArgument(ctx context.Context, target Target, argument any) []Reason
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(context.Context, Target, any) []Reason

// ValidateArgument calls f(ctx, target, argument).
func (f ValidatorFunc) ValidateArgument(ctx context.Context, target Target, argument any) []Reason {
	return f(ctx, target, argument)
}

// Error converts failed reasons to an INVALID_ARGUMENT error, or returns
// nil when there are none.
func Error(prefix string, reasons []Reason) error {
	if len(reasons) == 0 {
		return nil
	}
	msgs := make([]string, len(reasons))
	for i, r := range reasons {
		msgs[i] = r.String()
	}
	return strata.InvalidArgument("%s: invalid argument: %s", prefix, strings.Join(msgs, "; "))
}

// Kind is the JSON kind of a parameter.
type Kind string

// Parameter kinds.
const (
	KindAny     Kind = ""
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Param declares one parameter of a function argument object.
type Param struct {
	Name     string
	Kind     Kind
	Required bool
	// Format is a strfmt format name checked on string values, such as
	// "email", "uuid", "date-time" or "uri".
	Format    string
	MinLength int
	MaxLength int
	Pattern   string
	// Fields declares the parameters of object values.
	Fields []Param
}

type param struct {
	Param
	tag    string
	tags   map[string]string
	fields []*param
}

// ErrUnknownFormat is returned when registering a parameter with a format
// strfmt does not know.
var ErrUnknownFormat = errors.New("validate: unknown format")

// crudVerbs are the verbs the functions of CRUD services start with.
var crudVerbs = []string{"create", "get", "update", "delete", "add", "remove"}

// Registry holds the declared parameters of remote functions. Arguments of
// unregistered functions fail validation. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	formats  strfmt.Registry
	validate *validator.Validate
	// tags holds the custom validations registered on validate.
	tags     map[string]bool
	patterns map[string]string
	funcs    map[Target][]*param
}

// Option configures a Registry.
type Option func(*Registry)

// WithFormats sets the format registry. It defaults to strfmt.Default.
func WithFormats(f strfmt.Registry) Option {
	return func(r *Registry) { r.formats = f }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		formats:  strfmt.Default,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tags:     make(map[string]bool),
		patterns: make(map[string]string),
		funcs:    make(map[Target][]*param),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register declares the parameters of service.function, replacing any
// previous declaration.
func (r *Registry) Register(service, function string, params ...Param) error {
	if service == "" || function == "" {
		return fmt.Errorf("validate: service and function names are required")
	}
	// Validations are only registered while no argument is validated.
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, err := r.compile(params)
	if err != nil {
		return fmt.Errorf("validate: %s.%s: %w", service, function, err)
	}
	r.funcs[Target{service, function}] = ps
	return nil
}

// RegisterService declares every function of svc. When svc carries the
// strata.CrudService capability, every function name must start with a
// CRUD verb.
func (r *Registry) RegisterService(svc any, service string, functions map[string][]Param) error {
	if strata.IsCrudService(svc) {
		for name := range functions {
			if !hasCrudVerb(name) {
				return fmt.Errorf("validate: %s.%s: CRUD service function names must start with one of %s",
					service, name, strings.Join(crudVerbs, ", "))
			}
		}
	}
	names := make([]string, 0, len(functions))
	for name := range functions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.Register(service, name, functions[name]...); err != nil {
			return err
		}
	}
	return nil
}

func hasCrudVerb(name string) bool {
	for _, v := range crudVerbs {
		if strings.HasPrefix(name, v) {
			return true
		}
	}
	return false
}

// kindTags are the validations checking the JSON kind of a value. They come
// first in a parameter's tag so that length checks only see the right kind.
var kindTags = map[Kind]string{
	KindString:  "strata_string",
	KindInteger: "strata_integer",
	KindNumber:  "strata_number",
	KindBoolean: "strata_boolean",
	KindObject:  "strata_object",
	KindArray:   "strata_array",
}

var kindChecks = map[Kind]validator.Func{
	KindString: func(fl validator.FieldLevel) bool {
		_, ok := fl.Field().Interface().(string)
		return ok
	},
	KindInteger: func(fl validator.FieldLevel) bool {
		f, ok := number(fl.Field())
		return ok && f == math.Trunc(f)
	},
	KindNumber: func(fl validator.FieldLevel) bool {
		_, ok := number(fl.Field())
		return ok
	},
	KindBoolean: func(fl validator.FieldLevel) bool {
		_, ok := fl.Field().Interface().(bool)
		return ok
	},
	KindObject: func(fl validator.FieldLevel) bool {
		_, ok := fl.Field().Interface().(map[string]any)
		return ok
	},
	KindArray: func(fl validator.FieldLevel) bool {
		_, ok := fl.Field().Interface().([]any)
		return ok
	},
}

// register adds a custom validation once. Callers hold r.mu.
func (r *Registry) register(tag string, fn validator.Func) error {
	if r.tags[tag] {
		return nil
	}
	if err := r.validate.RegisterValidation(tag, fn); err != nil {
		return fmt.Errorf("register validation %q: %w", tag, err)
	}
	r.tags[tag] = true
	return nil
}

// formatTag returns the validation checking a strfmt format.
func (r *Registry) formatTag(format string) (string, error) {
	tag := "strfmt_" + strings.Map(func(c rune) rune {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			return c
		}
		return '_'
	}, format)
	err := r.register(tag, func(fl validator.FieldLevel) bool {
		return r.formats.Validates(format, fl.Field().String())
	})
	return tag, err
}

// patternTag returns the validation matching a regular expression. Tag
// parameters cannot carry commas or pipes, so every pattern gets its own tag.
func (r *Registry) patternTag(pattern string) (string, error) {
	if tag, ok := r.patterns[pattern]; ok {
		return tag, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", err
	}
	tag := "pattern_" + strconv.Itoa(len(r.patterns))
	if err := r.register(tag, func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}); err != nil {
		return "", err
	}
	r.patterns[pattern] = tag
	return tag, nil
}

// compile turns params into validator tags such as
// "strata_string,min=3,max=64,strfmt_email". Callers hold r.mu.
func (r *Registry) compile(params []Param) ([]*param, error) {
	ps := make([]*param, 0, len(params))
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter without a name")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		c, err := r.compileParam(p)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		ps = append(ps, c)
	}
	return ps, nil
}

func (r *Registry) compileParam(p Param) (*param, error) {
	c := &param{Param: p, tags: make(map[string]string)}
	if p.Format != "" && !r.formats.ContainsName(p.Format) {
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, p.Format)
	}
	var tags []string
	if p.Kind != KindAny {
		tag, ok := kindTags[p.Kind]
		if !ok {
			return nil, fmt.Errorf("unknown kind %q", p.Kind)
		}
		if err := r.register(tag, kindChecks[p.Kind]); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	if p.Kind == KindString || p.Kind == KindArray {
		if p.MinLength > 0 {
			tags = append(tags, "min="+strconv.Itoa(p.MinLength))
		}
		if p.MaxLength > 0 {
			tags = append(tags, "max="+strconv.Itoa(p.MaxLength))
		}
	}
	if p.Pattern != "" {
		tag, err := r.patternTag(p.Pattern)
		if err != nil {
			return nil, err
		}
		if p.Kind == KindString {
			tags = append(tags, tag)
			c.tags[tag] = "must match " + p.Pattern
		}
	}
	if p.Format != "" && p.Kind == KindString {
		tag, err := r.formatTag(p.Format)
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
		c.tags[tag] = "must be a valid " + p.Format
	}
	c.tag = strings.Join(tags, ",")
	if len(p.Fields) > 0 {
		fs, err := r.compile(p.Fields)
		if err != nil {
			return nil, err
		}
		c.fields = fs
	}
	return c, nil
}

// ValidateArgument implements Validator. The argument must be an object:
// a map with string keys, or a value encoding to a JSON object.
func (r *Registry) ValidateArgument(_ context.Context, target Target, argument any) []Reason {
	r.mu.RLock()
	defer r.mu.RUnlock()
	params, ok := r.funcs[target]
	if !ok {
		return []Reason{{Message: fmt.Sprintf("unknown remote function %s", target)}}
	}
	obj, err := object(argument)
	if err != nil {
		return []Reason{{Message: err.Error()}}
	}
	return r.check(nil, "", params, obj)
}

func object(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("argument cannot be encoded: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return nil, fmt.Errorf("argument must be an object")
	}
	return m, nil
}

func (r *Registry) check(reasons []Reason, prefix string, params []*param, obj map[string]any) []Reason {
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.Name] = true
		path := join(prefix, p.Name)
		v, ok := obj[p.Name]
		if !ok || v == nil {
			if p.Required {
				reasons = r.value(reasons, path, p, nil, "required")
			}
			continue
		}
		if p.tag != "" {
			reasons = r.value(reasons, path, p, v, p.tag)
		}
		if m, ok := v.(map[string]any); ok && p.Kind == KindObject && p.fields != nil {
			reasons = r.check(reasons, path, p.fields, m)
		}
	}
	var extra []string
	for k := range obj {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		reasons = append(reasons, Reason{Path: join(prefix, k), Message: "is not a declared parameter"})
	}
	return reasons
}

// value validates v against tag and appends the first failed validation.
func (r *Registry) value(reasons []Reason, path string, p *param, v any, tag string) []Reason {
	err := r.validate.Var(v, tag)
	if err == nil {
		return reasons
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return append(reasons, Reason{Path: path, Message: err.Error()})
	}
	return append(reasons, Reason{Path: path, Message: p.message(errs[0])})
}

// messages maps built-in and kind validations to reason messages.
var messages = map[string]func(p *param, arg string) string{
	"required":       func(*param, string) string { return "is required" },
	"strata_string":  func(*param, string) string { return "must be a string" },
	"strata_integer": func(*param, string) string { return "must be an integer" },
	"strata_number":  func(*param, string) string { return "must be a number" },
	"strata_boolean": func(*param, string) string { return "must be a boolean" },
	"strata_object":  func(*param, string) string { return "must be an object" },
	"strata_array":   func(*param, string) string { return "must be an array" },
	"min": func(p *param, arg string) string {
		if p.Kind == KindArray {
			return "must have at least " + arg + " items"
		}
		return "must be at least " + arg + " characters"
	},
	"max": func(p *param, arg string) string {
		if p.Kind == KindArray {
			return "must have at most " + arg + " items"
		}
		return "must be at most " + arg + " characters"
	},
}

func (p *param) message(fe validator.FieldError) string {
	if msg, ok := p.tags[fe.Tag()]; ok {
		return msg
	}
	if fn, ok := messages[fe.Tag()]; ok {
		return fn(p, fe.Param())
	}
	return "failed the " + fe.Tag() + " validation"
}

func number(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	}
	if !v.IsValid() || !v.CanInterface() {
		return 0, false
	}
	if n, ok := v.Interface().(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
