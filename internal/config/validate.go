package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/distribution/reference"
	"github.com/go-playground/validator/v10"

	"github.com/vidtreonou/panamax/internal/model"
)

// Validate checks struct constraints and that the image and repository
// are valid image references without a tag.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report mapstructure key names ("ssh.max_concurrent") instead of Go
	// field names so errors point at the YAML the user wrote.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	if err := v.RegisterValidation("servicename", func(fl validator.FieldLevel) bool {
		return model.ValidateServiceName(fl.Field().String()) == nil
	}); err != nil {
		return err
	}

	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	return validateImage(cfg)
}

func validateImage(cfg *Config) error {
	named, err := reference.ParseNormalizedNamed(cfg.Repository())
	if err != nil {
		return fmt.Errorf("image: invalid reference %q: %w", cfg.Repository(), err)
	}
	if _, tagged := named.(reference.Tagged); tagged {
		return fmt.Errorf("image: %q must not include a tag; the deploy version is used as the tag", cfg.Image)
	}
	if _, digested := named.(reference.Digested); digested {
		return fmt.Errorf("image: %q must not include a digest", cfg.Image)
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Config.ssh.port"; drop the root type name.
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}

		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "servicename":
			msgs = append(msgs, fmt.Sprintf("%s: %v", field, model.ValidateServiceName(fmt.Sprint(fe.Value()))))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
