// Package validator checks provider configuration and message documents
// against their shape rules before anything is sent.
package validator

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"

	"github.com/shineum/maildispatch/internal/config"
	"github.com/shineum/maildispatch/internal/email"
)

// Schema names a document shape.
type Schema string

const (
	SchemaProviderConfig Schema = "provider_config"
	SchemaMail           Schema = "mail"
)

// ErrTranslatorNotFound indicates the requested translator is unavailable.
var ErrTranslatorNotFound = errors.New("translator not found")

// FieldError is one readable validation failure.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// FieldErrors is returned when a document fails its schema. Entries are
// sorted by path.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "validation error"
	}
	parts := make([]string, 0, len(fe))
	for _, e := range fe {
		parts = append(parts, e.Path+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// V10Validator validates documents using go-playground/validator v10.
type V10Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New constructs a V10Validator with English translations and the
// document-level rules of both schemas registered.
func New() (*V10Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonName)

	enLang := en.New()
	uni := ut.New(enLang, enLang)
	enTrans, ok := uni.GetTranslator("en")
	if !ok {
		return nil, ErrTranslatorNotFound
	}

	if err := enTranslations.RegisterDefaultTranslations(validate, enTrans); err != nil {
		return nil, fmt.Errorf("failed to register translations: %w", err)
	}

	validate.RegisterStructValidation(providerRules, config.Provider{})
	validate.RegisterStructValidation(mailRules, email.Document{})
	validate.RegisterStructValidation(attachmentRules, email.AttachmentDocument{})

	if err := registerTranslations(validate, enTrans); err != nil {
		return nil, err
	}

	return &V10Validator{
		validate:   validate,
		translator: enTrans,
	}, nil
}

// Validate checks doc against schema. It returns FieldErrors when the
// document has the wrong shape and a plain error when doc is not a document
// of that schema.
func (v *V10Validator) Validate(schema Schema, doc any) error {
	switch schema {
	case SchemaProviderConfig:
		switch doc.(type) {
		case config.Provider, *config.Provider:
		default:
			return fmt.Errorf("schema %s: unexpected document type %T", schema, doc)
		}
	case SchemaMail:
		switch doc.(type) {
		case email.Document, *email.Document:
		default:
			return fmt.Errorf("schema %s: unexpected document type %T", schema, doc)
		}
	default:
		return fmt.Errorf("unknown schema %q", schema)
	}

	if err := v.validate.Struct(doc); err != nil {
		var validateErrs validator.ValidationErrors
		if !errors.As(err, &validateErrs) {
			return err
		}

		out := make(FieldErrors, 0, len(validateErrs))
		for _, fe := range validateErrs {
			out = append(out, FieldError{
				Path:    fieldPath(fe.Namespace()),
				Message: fe.Translate(v.translator),
			})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
		return out
	}

	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, path, ok := strings.Cut(namespace, "."); ok {
		return path
	}
	return namespace
}

func jsonName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}
	return name
}

func providerRules(sl validator.StructLevel) {
	p := sl.Current().Interface().(config.Provider)
	for _, name := range p.MissingCredentials() {
		sl.ReportError("", name, name, "required", "")
	}
}

func mailRules(sl validator.StructLevel) {
	d := sl.Current().Interface().(email.Document)
	if len(d.To)+len(d.Cc)+len(d.Bcc) == 0 {
		sl.ReportError(d.To, "to", "To", "recipients", "")
	}
}

func attachmentRules(sl validator.StructLevel) {
	a := sl.Current().Interface().(email.AttachmentDocument)

	sources := 0
	for _, s := range []string{a.Body, a.Path, a.URL} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		sl.ReportError(a, "source", "Source", "one_source", "")
		return
	}

	if a.Body != "" {
		if a.Name == "" {
			sl.ReportError(a.Name, "name", "Name", "required", "")
		}
		if a.ContentType == "" {
			sl.ReportError(a.ContentType, "content_type", "ContentType", "required", "")
		}
	}
}

func registerTranslations(validate *validator.Validate, enTrans ut.Translator) error {
	messages := map[string]string{
		"recipients": "at least one recipient is required in to, cc or bcc",
		"one_source": "attachment must set exactly one of body, path or url",
	}
	for tag, text := range messages {
		err := validate.RegisterTranslation(tag, enTrans,
			func(ut ut.Translator) error {
				return ut.Add(tag, text, false)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				t, err := ut.T(fe.Tag(), fe.Field())
				if err != nil {
					slog.Warn("warning: error translating", "tag", fe.Tag(), "error", err)
					return fe.Error()
				}
				return t
			},
		)
		if err != nil {
			return fmt.Errorf("failed to register %s translation: %w", tag, err)
		}
	}
	return nil
}
