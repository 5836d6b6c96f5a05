package assets

import (
	"fmt"
	"slices"
	"strings"

	"github.com/code19m/errx"
	"github.com/dustin/go-humanize"
)

// DefaultMaxFileSize is 1.5 MiB.
const DefaultMaxFileSize int64 = 3 * 1024 * 1024 / 2

// DefaultFormats are the accepted extensions, matched case-sensitively.
var DefaultFormats = []string{"jpg", "jpeg", "png"}

const (
	CodeNoFilesProvided = "NO_FILES_PROVIDED"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeInvalidFormat   = "INVALID_FORMAT"
)

// File describes an uploaded image waiting in a local temp file.
type File struct {
	Name string // name as sent by the client
	Size int64
	Path string // local temp path handed to the store
}

// Validator enforces size and format limits on uploads.
type Validator struct {
	MaxBytes int64
	Formats  []string
}

// NewValidator returns a validator with the catalog defaults where maxBytes or formats are unset.
func NewValidator(maxBytes int64, formats ...string) Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileSize
	}
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	return Validator{MaxBytes: maxBytes, Formats: formats}
}

// Validate fails on the first offending file.
func (v Validator) Validate(files []File) error {
	if len(files) == 0 {
		return invalid(CodeNoFilesProvided, "no images to upload", "")
	}
	for _, f := range files {
		if f.Size > v.MaxBytes {
			msg := fmt.Sprintf("%s should have size less than %s", f.Name, humanize.IBytes(uint64(v.MaxBytes)))
			return invalid(CodeFileTooLarge, msg, f.Name)
		}
		if !slices.Contains(v.Formats, extension(f.Name)) {
			msg := fmt.Sprintf("invalid format %s, only %s are allowed", f.Name, strings.Join(v.Formats, ", "))
			return invalid(CodeInvalidFormat, msg, f.Name)
		}
	}
	return nil
}

func invalid(code, msg, file string) error {
	if file == "" {
		return errx.New(msg, errx.WithType(errx.T_Validation), errx.WithCode(code))
	}
	return errx.New(msg,
		errx.WithType(errx.T_Validation),
		errx.WithCode(code),
		errx.WithDetails(errx.D{"file": file}),
	)
}

// extension is the text after the last dot, as received. Names without a dot have none.
func extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i+1:]
}
