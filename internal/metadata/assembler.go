package metadata

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/geoseq/internal/apperr"
)

// ProvenanceKey is the strings tag recording which tool version assembled a description.
const ProvenanceKey = "geoseq_version"

// ImportDateKey is the dates tag recording when an import run happened.
const ImportDateKey = "import_date"

// Options controls one assembly. Pointer fields override the base
// description only when set.
type Options struct {
	// Orientation is a rotation in degrees: 0, 90, 180 or 270.
	Orientation       *int     `validate:"omitempty,oneof=0 90 180 270"`
	DeviceMake        *string  `validate:"omitempty"`
	DeviceModel       *string  `validate:"omitempty"`
	GPSAccuracyMeters *float64 `validate:"omitempty,gte=0"`
	CameraUUID        *string  `validate:"omitempty"`

	AddFileName       bool
	ExcludeImportPath bool
	ExcludePath       string
	WindowsPath       bool

	AddImportDate bool
	// ImportTime is stamped as the import date. Zero means the assembler's clock.
	ImportTime time.Time

	// CustomMetaData is a "name,type,value;..." list of extra tags.
	CustomMetaData string
}

// Assembler builds descriptions from a base record and Options.
type Assembler struct {
	version  string
	now      func() time.Time
	validate *validator.Validate
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithAssemblerClock sets the clock used when Options.ImportTime is zero.
func WithAssemblerClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		a.now = now
	}
}

// NewAssembler creates an Assembler that stamps version as provenance.
func NewAssembler(version string, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		version:  version,
		now:      time.Now,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FormatOrientation maps a rotation in degrees to the EXIF orientation code.
func FormatOrientation(degrees int) (int, error) {
	switch degrees {
	case 0:
		return 1, nil
	case 90:
		return 8, nil
	case 180:
		return 3, nil
	case 270:
		return 6, nil
	default:
		return 0, fmt.Errorf("%w: orientation %d must be one of 0, 90, 180, 270", apperr.ErrValidation, degrees)
	}
}

// Assemble returns a new description derived from base. base is never modified.
// Tags are appended in a fixed order: import date, provenance, custom tags.
func (a *Assembler) Assemble(base *Description, imagePath, importRoot string, opts Options) (*Description, error) {
	if err := a.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	custom, err := ParseCustomTags(opts.CustomMetaData)
	if err != nil {
		return nil, err
	}

	desc := base.Clone()

	if opts.Orientation != nil {
		code, err := FormatOrientation(*opts.Orientation)
		if err != nil {
			return nil, err
		}
		desc.Orientation = &code
	}
	if opts.DeviceMake != nil {
		desc.DeviceMake = opts.DeviceMake
	}
	if opts.DeviceModel != nil {
		desc.DeviceModel = opts.DeviceModel
	}
	if opts.GPSAccuracyMeters != nil {
		desc.GPSAccuracyMeters = opts.GPSAccuracyMeters
	}
	if opts.CameraUUID != nil {
		desc.CameraUUID = opts.CameraUUID
	}

	if opts.AddFileName {
		name := RelativeFilename(imagePath, importRoot, opts)
		desc.Filename = &name
	}

	if opts.AddImportDate {
		at := opts.ImportTime
		if at.IsZero() {
			at = a.now()
		}
		desc.MetaTags.Dates = append(desc.MetaTags.Dates, Tag[int64]{Key: ImportDateKey, Value: at.UnixMilli()})
	}

	desc.MetaTags.Strings = append(desc.MetaTags.Strings, Tag[string]{Key: ProvenanceKey, Value: a.version})
	desc.MetaTags.Append(custom)

	return desc, nil
}

// RelativeFilename derives the MAPFilename value for imagePath.
func RelativeFilename(imagePath, importRoot string, opts Options) string {
	name := imagePath
	switch {
	case opts.ExcludeImportPath && importRoot != "":
		name = strings.TrimPrefix(name, importRoot)
	case opts.ExcludePath != "":
		name = strings.TrimPrefix(name, opts.ExcludePath)
	}
	name = strings.TrimLeft(name, `\/`)
	if opts.WindowsPath {
		name = strings.ReplaceAll(name, "/", `\`)
	}
	return name
}
