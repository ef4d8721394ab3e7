package config

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/indieinfra/mediavault/media"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CronParser accepts an optional seconds field and descriptors such as @daily.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func ValidateAbsPath(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s != "" && path.IsAbs(s)
}

func ValidateLocalpath(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s != "" && filepath.IsLocal(s)
}

func ValidateIdentifier(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}

	return identifierPattern.MatchString(s)
}

// ValidatePathPattern rejects key templates that are absolute, escape the
// storage root or lack a {filename} or {slug} placeholder.
func ValidatePathPattern(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}

	if path.IsAbs(s) || strings.Contains(s, "..") {
		return false
	}

	return strings.Contains(s, "{filename}") || strings.Contains(s, "{slug}")
}

func ValidateContentType(fl validator.FieldLevel) bool {
	_, err := media.ParseContentType(fl.Field().String())
	return err == nil
}

func ValidateCronSpec(fl validator.FieldLevel) bool {
	_, err := CronParser.Parse(fl.Field().String())
	return err == nil
}
