package buildconf

// Config is the root object holding the build-container configuration for one
// working tree. It is populated by parsing the tree's buildcell.yaml file.
type Config struct {
	// Image is the base root-filesystem URL template. The literal token
	// "{arch}" is replaced with the package architecture name (amd64/i386)
	// before downloading.
	Image string `mapstructure:"image" validate:"omitempty,url"`

	// Deps is the list of OS packages installed into the container on top of
	// the base toolchain. The parser accepts either a YAML list or a single
	// space-separated string and always normalizes to a slice here.
	Deps []string `mapstructure:"deps"`

	// BaseDir overrides the directory that holds images, mount points and
	// caches. Relative paths are resolved against the working tree.
	BaseDir string `mapstructure:"baseDir"`
}
