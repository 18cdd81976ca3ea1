package handlers

import (
	"encoding/json"
	stdErrors "errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/webapk/internal/errors"
	"git.home.luguber.info/inful/webapk/internal/request"
)

// Multipart form field names.
const (
	FieldAppID     = "app_id"
	FieldName      = "name"
	FieldIcon      = "icon"
	FieldZip       = "zip_file"
	FieldGitURL    = "git_url"
	FieldGitBranch = "git_branch"
	FieldGitEntry  = "git_entry"
	FieldGitLive   = "git_live"
	FieldMainURL   = "main_url"
	FieldVariables = "variables"
)

const multipartMemory = 8 << 20

// parseBuildForm reads a multipart build request. Uploaded files are saved
// into dir, which the caller owns.
func parseBuildForm(r *http.Request, dir string) (*request.BuildRequest, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stdErrors.As(err, &tooLarge) {
			return nil, errors.ValidationError("request body too large").
				WithContext("limit_bytes", tooLarge.Limit).
				Build()
		}
		return nil, errors.WrapError(err, errors.CategoryValidation, "invalid multipart form").
			WithStage(errors.StageValidation).
			Build()
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := &request.BuildRequest{
		AppID:       strings.TrimSpace(r.FormValue(FieldAppID)),
		DisplayName: strings.TrimSpace(r.FormValue(FieldName)),
	}

	icon, err := saveUpload(r, FieldIcon, dir)
	if err != nil {
		return nil, err
	}
	if icon == "" {
		return nil, errors.ValidationError("icon is required").WithContext("field", FieldIcon).Build()
	}
	req.IconPath = icon

	archive, err := saveUpload(r, FieldZip, dir)
	if err != nil {
		return nil, err
	}
	switch {
	case archive != "":
		req.Content = request.ContentSource{Kind: request.ContentArchive, ArchivePath: archive}
	case strings.TrimSpace(r.FormValue(FieldGitURL)) != "":
		live, _ := strconv.ParseBool(r.FormValue(FieldGitLive))
		req.Content = request.ContentSource{
			Kind:      request.ContentGit,
			GitURL:    strings.TrimSpace(r.FormValue(FieldGitURL)),
			GitBranch: strings.TrimSpace(r.FormValue(FieldGitBranch)),
			GitEntry:  strings.TrimSpace(r.FormValue(FieldGitEntry)),
			GitLive:   live,
		}
	case strings.TrimSpace(r.FormValue(FieldMainURL)) != "":
		req.Content = request.ContentSource{Kind: request.ContentURL, URL: strings.TrimSpace(r.FormValue(FieldMainURL))}
	default:
		return nil, errors.ValidationError("one of zip_file, git_url or main_url is required").
			WithContext("field", "content").
			Build()
	}

	if raw := strings.TrimSpace(r.FormValue(FieldVariables)); raw != "" {
		var vars request.Variables
		if err := json.Unmarshal([]byte(raw), &vars); err != nil {
			return nil, errors.WrapError(err, errors.CategoryValidation, "variables must be a JSON object of booleans or strings").
				WithStage(errors.StageValidation).
				WithContext("field", FieldVariables).
				Build()
		}
		req.SourceVariables = vars
	}
	return req, nil
}

// saveUpload copies the uploaded file of field into dir and returns its
// path, or "" when the field carries no file.
func saveUpload(r *http.Request, field, dir string) (string, error) {
	file, header, err := r.FormFile(field)
	if stdErrors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryValidation, "unreadable upload").
			WithStage(errors.StageValidation).
			WithContext("field", field).
			Build()
	}
	defer func() { _ = file.Close() }()

	dst := filepath.Join(dir, field+uploadExt(header))
	if err := writeUpload(file, dst); err != nil {
		return "", errors.WrapError(err, errors.CategoryFileSystem, "failed to store upload").
			WithContext("field", field).
			Build()
	}
	return dst, nil
}

func uploadExt(h *multipart.FileHeader) string {
	ext := strings.ToLower(filepath.Ext(h.Filename))
	for _, r := range ext[min(1, len(ext)):] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func writeUpload(src io.Reader, dst string) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
