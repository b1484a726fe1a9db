package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/maauso/geoseq/internal/apperr"
	"github.com/maauso/geoseq/internal/config"
	"github.com/maauso/geoseq/internal/pipeline"
	"github.com/maauso/geoseq/internal/storage"
)

// command is one parsed subcommand.
type command struct {
	name string

	// root anchors a relative process log path. A missing root, or a missing
	// local source, aborts before the process log is created inside it.
	root          string
	rootMustExist bool
	sources       []string

	needsUpload bool
	configure   func(cfg *config.Config)
	exec        func(ctx context.Context, o *pipeline.Orchestrator) (any, error)
}

func (c *command) applyConfig(cfg *config.Config) {
	if c.configure != nil {
		c.configure(cfg)
	}
}

func (c *command) checkPaths() error {
	for _, src := range c.sources {
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("%w: %s does not exist", apperr.ErrPath, src)
		}
	}
	if !c.rootMustExist {
		return nil
	}
	if info, err := os.Stat(c.root); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: directory %s does not exist", apperr.ErrPath, c.root)
	}
	return nil
}

func parseCommand(name string, args []string) (*command, error) {
	switch name {
	case "process":
		return parseProcess(args)
	case "sample_video":
		return parseSampleVideo(args)
	case "archive":
		return parseArchive(args)
	case "upload":
		return parseUpload(args)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// setFlags returns the names of the flags given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func parseProcess(args []string) (*command, error) {
	fs := newFlagSet("process")
	var (
		in          pipeline.ImportMetaInput
		root        string
		orientation int
		deviceMake  string
		deviceModel string
		gpsAccuracy float64
		cameraUUID  string
	)
	fs.StringVar(&in.ImportPath, "import-path", "", "directory of images to process")
	fs.StringVar(&in.VideoPath, "video-import-path", "", "process the frames sampled from this video file or directory")
	fs.BoolVar(&in.Rerun, "rerun", false, "process images that already succeeded")
	fs.BoolVar(&in.SkipSubfolders, "skip-subfolders", false, "only process images directly inside the import path")
	fs.IntVar(&orientation, "orientation", 0, "override orientation in degrees: 0, 90, 180 or 270")
	fs.StringVar(&deviceMake, "device-make", "", "override camera make")
	fs.StringVar(&deviceModel, "device-model", "", "override camera model")
	fs.Float64Var(&gpsAccuracy, "gps-accuracy", 0, "GPS accuracy in meters")
	fs.StringVar(&cameraUUID, "camera-uuid", "", "camera identifier")
	fs.BoolVar(&in.Options.AddFileName, "add-file-name", false, "record the image file name")
	fs.BoolVar(&in.Options.AddImportDate, "add-import-date", false, "record the import date")
	fs.BoolVar(&in.Options.ExcludeImportPath, "exclude-import-path", false, "strip the import path from recorded file names")
	fs.StringVar(&in.Options.ExcludePath, "exclude-path", "", "prefix to strip from recorded file names")
	fs.BoolVar(&in.Options.WindowsPath, "windows-path", false, "record file names with backslash separators")
	fs.StringVar(&in.Options.CustomMetaData, "custom-meta-data", "", `custom tags as "name,type,value;..."`)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	switch {
	case in.ImportPath == "" && in.VideoPath == "":
		return nil, fmt.Errorf("%w: process requires --import-path or --video-import-path", errUsage)
	case in.VideoPath != "":
		root = pipeline.SampledFramesDir(in.ImportPath, in.VideoPath)
	default:
		root = in.ImportPath
	}

	set := setFlags(fs)
	if set["orientation"] {
		in.Options.Orientation = &orientation
	}
	if set["device-make"] {
		in.Options.DeviceMake = &deviceMake
	}
	if set["device-model"] {
		in.Options.DeviceModel = &deviceModel
	}
	if set["gps-accuracy"] {
		in.Options.GPSAccuracyMeters = &gpsAccuracy
	}
	if set["camera-uuid"] {
		in.Options.CameraUUID = &cameraUUID
	}

	return &command{
		name:          "process",
		root:          root,
		rootMustExist: true,
		sources:       localSources(in.VideoPath),
		exec: func(ctx context.Context, o *pipeline.Orchestrator) (any, error) {
			return result(o.ProcessImportMeta(ctx, in))
		},
	}, nil
}

func parseSampleVideo(args []string) (*command, error) {
	fs := newFlagSet("sample_video")
	var (
		in        pipeline.SampleInput
		startTime int64
	)
	fs.StringVar(&in.VideoPath, "video-import-path", "", "video file, directory of videos, or s3:// reference")
	fs.StringVar(&in.ImportPath, "import-path", "", "directory that receives the sampled frames")
	fs.Float64Var(&in.Options.Interval, "interval", 2.0, "sampling interval in seconds")
	fs.Int64Var(&startTime, "start-time", 0, "video start time in epoch milliseconds")
	fs.Float64Var(&in.Options.DurationRatio, "duration-ratio", 1.0, "ratio of real to nominal video duration")
	fs.DurationVar(&in.Options.Timeout, "timeout", 0, "limit for sampling one video, 0 for none")
	fs.BoolVar(&in.Rerun, "rerun", false, "sample videos that already succeeded")
	fs.BoolVar(&in.SkipSubfolders, "skip-subfolders", false, "only sample videos directly inside the video path")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if in.VideoPath == "" {
		return nil, fmt.Errorf("%w: sample_video requires --video-import-path", errUsage)
	}
	if setFlags(fs)["start-time"] {
		t := time.UnixMilli(startTime).UTC()
		in.Options.StartTime = &t
	}

	return &command{
		name:          "sample_video",
		root:          sampleLogRoot(in),
		rootMustExist: true,
		sources:       localSources(in.VideoPath),
		exec: func(ctx context.Context, o *pipeline.Orchestrator) (any, error) {
			return result(o.SampleVideos(ctx, in))
		},
	}, nil
}

// sampleLogRoot keeps the process log next to the frames it describes.
func sampleLogRoot(in pipeline.SampleInput) string {
	if in.ImportPath == "" && storage.IsRemote(in.VideoPath) {
		return "."
	}
	return pipeline.SamplingAnchor(in.ImportPath, in.VideoPath)
}

// localSources returns the given paths that are on the local filesystem.
func localSources(paths ...string) []string {
	var local []string
	for _, p := range paths {
		if p != "" && !storage.IsRemote(p) {
			local = append(local, p)
		}
	}
	return local
}

func parseArchive(args []string) (*command, error) {
	fs := newFlagSet("archive")
	var in pipeline.ArchiveInput
	fs.StringVar(&in.ImportPath, "import-path", "", "directory of processed images")
	fs.StringVar(&in.Output, "output", "", "archive path, default <import-path>/"+pipeline.DefaultArchiveName)
	fs.BoolVar(&in.SkipSubfolders, "skip-subfolders", false, "only archive images directly inside the import path")
	fs.StringVar(&in.PublishKey, "publish-key", "", "also store the archive in S3 under this key")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if in.ImportPath == "" {
		return nil, fmt.Errorf("%w: archive requires --import-path", errUsage)
	}

	return &command{
		name:          "archive",
		root:          in.ImportPath,
		rootMustExist: true,
		exec: func(ctx context.Context, o *pipeline.Orchestrator) (any, error) {
			return result(o.BuildArchive(ctx, in))
		},
	}, nil
}

func parseUpload(args []string) (*command, error) {
	fs := newFlagSet("upload")
	var (
		in   pipeline.UploadInput
		root string
	)
	fs.StringVar(&in.Archive, "archive", "", "archive path or s3:// reference")
	fs.StringVar(&in.OrganizationID, "organization-id", "", "organization that owns the upload")
	fs.Int64Var(&in.ChunkSize, "chunk-size", 0, "bytes per append request")
	fs.BoolVar(&in.Rerun, "rerun", false, "upload even if this archive was already uploaded")
	fs.StringVar(&root, "import-path", ".", "directory holding the process log")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if in.Archive == "" {
		return nil, fmt.Errorf("%w: upload requires --archive", errUsage)
	}
	set := setFlags(fs)

	return &command{
		name:          "upload",
		root:          root,
		rootMustExist: true,
		sources:       localSources(in.Archive),
		needsUpload:   true,
		configure: func(cfg *config.Config) {
			in.AccessToken = cfg.UserAccessToken
			if !set["organization-id"] {
				in.OrganizationID = cfg.OrganizationID
			}
			if set["chunk-size"] {
				cfg.UploadChunkSize = in.ChunkSize
			} else {
				in.ChunkSize = cfg.UploadChunkSize
			}
		},
		exec: func(ctx context.Context, o *pipeline.Orchestrator) (any, error) {
			return result(o.Upload(ctx, in))
		},
	}, nil
}

// result drops typed nil pointers so a failed stage prints nothing.
func result[T any](v *T, err error) (any, error) {
	if v == nil {
		return nil, err
	}
	return v, err
}
