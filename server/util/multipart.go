package util

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/indieinfra/mediavault/media/validate"
)

type MultipartValues map[string][]string

// First returns the first value for key, or an empty string.
func (v MultipartValues) First(key string) string {
	if vals := v[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

type ParsedMultipart struct {
	Values MultipartValues
	Files  []validate.File
}

// ParseMultipart reads the whole multipart body, bounded by maxBody, and
// loads every part named field (or field[]) into memory. Declared size and
// type come from the part headers so the validator can compare them with
// the actual bytes.
func ParseMultipart(w http.ResponseWriter, r *http.Request, maxMemory, maxBody int64, field string) (*ParsedMultipart, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	values := MultipartValues{}
	for key, arr := range r.MultipartForm.Value {
		values[strings.TrimSuffix(key, "[]")] = append(values[strings.TrimSuffix(key, "[]")], arr...)
	}

	var files []validate.File
	for key, fhs := range r.MultipartForm.File {
		if strings.TrimSuffix(key, "[]") != field {
			continue
		}

		for _, fh := range fhs {
			file, err := readFile(fh)
			if err != nil {
				return nil, err
			}
			files = append(files, file)
		}
	}

	return &ParsedMultipart{Values: values, Files: files}, nil
}

func readFile(fh *multipart.FileHeader) (validate.File, error) {
	f, err := fh.Open()
	if err != nil {
		return validate.File{}, fmt.Errorf("open %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return validate.File{}, fmt.Errorf("read %q: %w", fh.Filename, err)
	}

	return validate.File{
		Filename:     fh.Filename,
		DeclaredMIME: fh.Header.Get("Content-Type"),
		Size:         fh.Size,
		Data:         data,
	}, nil
}
