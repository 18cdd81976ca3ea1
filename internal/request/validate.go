package request

import (
	"image"
	_ "image/jpeg" // register decoder for icon validation
	_ "image/png"  // register decoder for icon validation
	"os"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/webapk/internal/errors"
)

var (
	appIDPattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	variablePattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
)

// javaKeywords cannot be used as package segments.
var javaKeywords = map[string]struct{}{
	"abstract": {}, "assert": {}, "boolean": {}, "break": {}, "byte": {}, "case": {},
	"catch": {}, "char": {}, "class": {}, "const": {}, "continue": {}, "default": {},
	"do": {}, "double": {}, "else": {}, "enum": {}, "extends": {}, "false": {},
	"final": {}, "finally": {}, "float": {}, "for": {}, "goto": {}, "if": {},
	"implements": {}, "import": {}, "instanceof": {}, "int": {}, "interface": {},
	"long": {}, "native": {}, "new": {}, "null": {}, "package": {}, "private": {},
	"protected": {}, "public": {}, "return": {}, "short": {}, "static": {},
	"strictfp": {}, "super": {}, "switch": {}, "synchronized": {}, "this": {},
	"throw": {}, "throws": {}, "transient": {}, "true": {}, "try": {}, "void": {},
	"volatile": {}, "while": {},
}

// IsValidAppID reports whether id can be used as an app id package segment.
func IsValidAppID(id string) bool {
	if !appIDPattern.MatchString(id) {
		return false
	}
	_, reserved := javaKeywords[id]
	return !reserved
}

// ValidateAppID returns a validation error for ids that would not form a
// legal package segment. Ids are never coerced.
func ValidateAppID(id string) error {
	if IsValidAppID(id) {
		return nil
	}
	msg := "app id must start with a letter and contain only letters, digits and underscores"
	if appIDPattern.MatchString(id) {
		msg = "app id must not be a Java reserved word"
	}
	return errors.ValidationError(msg).
		WithContext("field", "app_id").
		WithContext("value", id).
		Build()
}

// Validate checks everything that can be checked without touching the project tree.
func (r *BuildRequest) Validate() error {
	if err := ValidateAppID(r.AppID); err != nil {
		return err
	}
	if err := validateIcon(r.IconPath); err != nil {
		return err
	}
	for _, name := range r.SourceVariables.Names() {
		if !variablePattern.MatchString(name) {
			return errors.ValidationError("variable name is not a valid identifier").
				WithContext("field", "variables").
				WithContext("value", name).
				Build()
		}
	}
	return r.Content.Validate()
}

func validateIcon(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.ValidationError("icon is required").WithContext("field", "icon").Build()
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "icon file is not readable").
			WithStage(errors.StageValidation).
			WithContext("field", "icon").
			WithContext("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	if _, _, err := image.DecodeConfig(f); err != nil {
		return errors.WrapError(err, errors.CategoryValidation, "icon must be a PNG or JPEG image").
			WithStage(errors.StageValidation).
			WithContext("field", "icon").
			WithContext("path", path).
			Build()
	}
	return nil
}

// Validate checks that exactly the fields of the selected kind are usable.
func (c ContentSource) Validate() error {
	invalid := func(msg, field, value string) error {
		return errors.ValidationError(msg).WithContext("field", field).WithContext("value", value).Build()
	}
	switch c.Kind {
	case ContentArchive:
		info, err := os.Stat(c.ArchivePath)
		if err != nil || info.IsDir() {
			return invalid("archive is not a readable file", "zip_file", c.ArchivePath)
		}
	case ContentGit:
		if !isGitURL(c.GitURL) {
			return invalid("git url must be an http(s), ssh or git remote", "git_url", c.GitURL)
		}
		if strings.Contains(c.GitEntry, "..") {
			return invalid("git entry must stay inside the repository", "git_entry", c.GitEntry)
		}
	case ContentURL:
		if !isHTTPURL(c.URL) {
			return invalid("main url must be an absolute http(s) URL", "main_url", c.URL)
		}
	default:
		return invalid("one of zip_file, git_url or main_url is required", "content", string(c.Kind))
	}
	return nil
}

var scpLike = regexp.MustCompile(`^[\w.-]+@[\w.-]+:[\w./~-]+$`)

func isGitURL(raw string) bool {
	if raw == "" {
		return false
	}
	if isHTTPURL(raw) || scpLike.MatchString(raw) {
		return true
	}
	return strings.HasPrefix(raw, "ssh://") || strings.HasPrefix(raw, "git://") || strings.HasPrefix(raw, "file://")
}
