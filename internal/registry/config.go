package registry

import (
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ServiceConfig is a registration request.
type ServiceConfig struct {
	Name           string      `json:"name"`
	Type           ServiceType `json:"type"`
	Version        string      `json:"version"`
	URL            string      `json:"url"`
	HealthEndpoint string      `json:"healthEndpoint,omitempty"`
	Capabilities   []string    `json:"capabilities,omitempty"`
	ComplianceFlag bool        `json:"complianceFlag,omitempty"`
}

func (c ServiceConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required, validation.Length(1, 128)),
		validation.Field(&c.Type,
			validation.Required,
			validation.In(TypeCore, TypeAPI, TypeMiddleware, TypeAssistant),
		),
		validation.Field(&c.Version, validation.Required),
		validation.Field(&c.URL, validation.Required, validation.By(validateServiceURL)),
		validation.Field(&c.HealthEndpoint, validation.By(validatePath)),
		validation.Field(&c.Capabilities, validation.Each(validation.Required)),
	)
}

func validateServiceURL(value interface{}) error {
	serviceURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validatePath(value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if path != "" && !strings.HasPrefix(path, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}

	return nil
}
