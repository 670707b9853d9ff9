// Package config loads the engine's parameters from a YAML file and lets
// CLI flags override a handful of operational knobs.
package config

import (
	"flag"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// outer is the top-level config wrapper: viper reads the file into an
// untyped Def, which is re-marshaled and decoded into the concrete Params
// struct. This sidesteps viper's own (weaker) struct-tag conventions in
// favor of yaml.v3's.
type outer struct {
	Def interface{} `mapstructure:"def"`
}

// Params is the full set of recognized engine parameters.
type Params struct {
	N        int `yaml:"n"`
	L        int `yaml:"l"`
	K        int `yaml:"k"`
	T        int `yaml:"t"`
	NThreads int `yaml:"nthreads"`

	Alpha float64 `yaml:"alpha"`
	Eta0  float64 `yaml:"eta0"`
	Eta1  float64 `yaml:"eta1"`

	Tau0      float64 `yaml:"tau0"`
	Kappa     float64 `yaml:"kappa"`
	NodeTau0  float64 `yaml:"nodetau0"`
	NodeKappa float64 `yaml:"nodekappa"`

	ValidationRatio   float64 `yaml:"validation_ratio"`
	TestRatio         float64 `yaml:"test_ratio"`
	HeldoutIndivRatio float64 `yaml:"heldout_indiv_ratio"`
	Simulation        bool    `yaml:"simulation"`

	IndivSampleSize   int     `yaml:"indiv_sample_size"`
	OnlineIterations  int     `yaml:"online_iterations"`
	MeanChangeThresh  float64 `yaml:"meanchangethresh"`

	ReportFreq        int    `yaml:"reportfreq"`
	UseTestSet        bool   `yaml:"use_test_set"`
	UseValidationStop bool   `yaml:"use_validation_stop"`
	SaveBeta          bool   `yaml:"save_beta"`
	// FileSuffix toggles whether report filenames carry an "_<iter>"
	// suffix or keep a bare name the next save overwrites.
	FileSuffix  bool   `yaml:"file_suffix"`
	Seed        uint64 `yaml:"seed"`
	ComputeLogl bool   `yaml:"compute_logl"`

	// InitPhase turns on the optional static-partition warm-up pass.
	// Disabled by default.
	InitPhase bool `yaml:"init_phase"`

	// GenotypeFile, OutDir and the Load*File paths are boundary paths for
	// the CLI; they are set only from flags, never from YAML.
	GenotypeFile  string `yaml:"-"`
	OutDir        string `yaml:"-"`
	LoadBetaFile  string `yaml:"-"`
	LoadThetaFile string `yaml:"-"`
}

// Default returns a Params populated with the engine's built-in defaults,
// before any YAML file or flag override is applied.
func Default() *Params {
	return &Params{
		T:                 2,
		NThreads:          4,
		Alpha:             1.0,
		Eta0:              1.0,
		Eta1:              1.0,
		Tau0:              1024,
		Kappa:             0.7,
		NodeTau0:          1,
		NodeKappa:         0.9,
		ValidationRatio:   0.01,
		TestRatio:         0.01,
		HeldoutIndivRatio: 0.1,
		IndivSampleSize:   20,
		OnlineIterations:  10,
		MeanChangeThresh:  0.00001,
		ReportFreq:        1000,
		UseValidationStop: true,
		Seed:              42,
	}
}

// FromYaml loads and decodes a Params file. The on-disk format wraps the
// params under a `def:` key so the same file can carry other config kinds
// later without a format break.
func FromYaml(path string) (*Params, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	if err := vp.ReadInConfig(); err != nil {
		return nil, err
	}

	var o outer
	if err := vp.Unmarshal(&o); err != nil {
		return nil, err
	}

	spec, err := yaml.Marshal(o.Def)
	if err != nil {
		return nil, err
	}

	p := Default()
	if err := yaml.Unmarshal(spec, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Flags describes the stdlib-flag CLI surface that can override a loaded
// Params.
type Flags struct {
	ConfigPath    *string
	GenotypeFile  *string
	OutDir        *string
	LoadBetaFile  *string
	LoadThetaFile *string
	Terminate     *bool
	NThreads      *int
	Seed          *uint64
}

// RegisterFlags wires the CLI surface onto fs (typically flag.CommandLine).
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		ConfigPath:    fs.String("config", "", "path to the YAML parameter file"),
		GenotypeFile:  fs.String("genotype", "", "path to the genotype TSV file"),
		OutDir:        fs.String("outdir", ".", "directory to write report files into"),
		LoadBetaFile:  fs.String("load-beta", "", "optional beta checkpoint to resume from"),
		LoadThetaFile: fs.String("load-theta", "", "optional theta checkpoint to resume from"),
		Terminate:     fs.Bool("terminate", false, "request a clean stop at the next checkpoint poll"),
		NThreads:      fs.Int("nthreads", 0, "override nthreads from the config file (0 = use config value)"),
		Seed:          fs.Uint64("seed", 0, "override seed from the config file (0 = use config value)"),
	}
}

// Apply overrides p's fields with every flag holding a non-zero value. The
// -outdir flag defaults to ".", so Apply always sets OutDir.
func (f *Flags) Apply(p *Params) {
	if *f.NThreads > 0 {
		p.NThreads = *f.NThreads
	}
	if *f.Seed > 0 {
		p.Seed = *f.Seed
	}
	if *f.GenotypeFile != "" {
		p.GenotypeFile = *f.GenotypeFile
	}
	if *f.OutDir != "" {
		p.OutDir = *f.OutDir
	}
	if *f.LoadBetaFile != "" {
		p.LoadBetaFile = *f.LoadBetaFile
	}
	if *f.LoadThetaFile != "" {
		p.LoadThetaFile = *f.LoadThetaFile
	}
}
