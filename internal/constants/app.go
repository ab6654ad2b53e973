// Package constants defines application-wide constants for gridlink.
package constants

const (
	// AppName is the binary name.
	AppName = "gridlink"

	// ConfigDirName is the dot-directory under the user home that holds
	// config.json and the local job cache.
	ConfigDirName = ".gridlink"

	// EventBusDefaultBuffer is the default per-subscriber channel buffer.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer caps per-subscriber channel buffers.
	EventBusMaxBuffer = 10000

	// MetadataFileName is the canonical per-job descriptor file in the
	// remote project directory.
	MetadataFileName = "job_info"

	// ScriptFileName is the rendered submission script in the remote
	// project directory.
	ScriptFileName = "config"

	// InputFilesDirName holds uploaded input files under the job directory.
	InputFilesDirName = "input_files"

	// OutputsDirName holds preserved results under the project directory.
	OutputsDirName = "outputs"
)
