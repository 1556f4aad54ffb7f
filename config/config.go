// Package config declares the shape of a run's configuration. Parsing the
// configuration document (JSON/YAML on disk, flags, environment) is an
// external concern; this package only defines the struct the pipeline
// consumes, keyed the same as the source configuration's field names.
package config

// Config is the fully-resolved configuration for one pipeline run.
type Config struct {
	Forcing struct {
		WeightFile []string `mapstructure:"weight_file"`
		NWMFile    string   `mapstructure:"nwm_file"`
	} `mapstructure:"forcing"`

	Storage struct {
		OutputPath     string   `mapstructure:"output_path"`
		OutputFileType []string `mapstructure:"output_file_type"`
	} `mapstructure:"storage"`

	Run struct {
		Verbose      bool `mapstructure:"verbose"`
		CollectStats bool `mapstructure:"collect_stats"`
		NProcs       int  `mapstructure:"nprocs"`
		NFileChunk   int  `mapstructure:"nfile_chunk"`
	} `mapstructure:"run"`
}
