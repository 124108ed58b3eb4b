// Package config holds the immutable runtime configuration snapshot
// consumed by every stage of the ingest pipeline. Loading the
// underlying file is a thin concern handled here; the file is not
// reloaded while the process runs, and binding it to an HTTP admin
// surface is out of scope for this module.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Storage holds the filesystem layout (spec.md §6 External interfaces).
type Storage struct {
	InputPath            string `yaml:"input_path" json:"input_path"`
	TempPath             string `yaml:"temp_path" json:"temp_path"`
	LibraryPath          string `yaml:"library_path" json:"library_path"`
	ProcessedArchivesDir string `yaml:"processed_archives_path" json:"processed_archives_path"`
	ExistingFoldersPath  string `yaml:"existing_folders_path" json:"existing_folders_path"`
	DBPath               string `yaml:"db_path" json:"db_path"`
}

// Processing controls engine-wide worker and retry behavior.
type Processing struct {
	MaxWorkers         int `yaml:"max_workers" json:"max_workers"`
	RetryCount         int `yaml:"retry_count" json:"retry_count"`
	FileStableChecks   int `yaml:"file_stable_checks" json:"file_stable_checks"`
	FileStableInterval int `yaml:"file_stable_interval" json:"file_stable_interval"` // seconds
	MaxWaitTimeSeconds int `yaml:"max_wait_time" json:"max_wait_time"`
}

// Watcher controls C12.
type Watcher struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	ScanInterval  int  `yaml:"scan_interval" json:"scan_interval"` // seconds
	AutoStart     bool `yaml:"auto_start" json:"auto_start"`
	AutoClassify  bool `yaml:"auto_classify" json:"auto_classify"`
	DeleteAfter   bool `yaml:"delete_after_process" json:"delete_after_process"`
}

// Extract controls C5/C6.
type Extract struct {
	SevenZipPath          string   `yaml:"seven_zip_path" json:"seven_zip_path"`
	AutoRepairExtension   bool     `yaml:"auto_repair_extension" json:"auto_repair_extension"`
	VerifyAfterExtract    bool     `yaml:"verify_after_extract" json:"verify_after_extract"`
	PasswordList          []string `yaml:"password_list" json:"password_list"`
	ExtractNestedArchives bool     `yaml:"extract_nested_archives" json:"extract_nested_archives"`
	MaxNestedDepth        int      `yaml:"max_nested_depth" json:"max_nested_depth"`
}

// FilterRule is one basename-match/delete rule (C7).
type FilterRule struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Target  string `yaml:"target" json:"target"` // file, folder, all
	Action  string `yaml:"action" json:"action"` // exclude, include
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// Filter controls the C7 filter stage.
type Filter struct {
	Enabled   bool         `yaml:"enabled" json:"enabled"`
	FilterDir bool         `yaml:"filter_dir" json:"filter_dir"`
	Rules     []FilterRule `yaml:"rules" json:"rules"`
}

// Metadata controls C3/C8.
type Metadata struct {
	Locale         string `yaml:"locale" json:"locale"`
	ConnectTimeout int    `yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout    int    `yaml:"read_timeout" json:"read_timeout"`
	SleepInterval  int    `yaml:"sleep_interval" json:"sleep_interval"`
	HTTPProxy      string `yaml:"http_proxy" json:"http_proxy"`
	CacheEnabled   bool   `yaml:"cache_enabled" json:"cache_enabled"`
}

// Rename controls the C7 rename/flatten/prune stage.
type Rename struct {
	Template               string   `yaml:"template" json:"template"`
	DateFormat             string   `yaml:"date_format" json:"date_format"`
	Delimiter              string   `yaml:"delimiter" json:"delimiter"`
	CVListLeft             string   `yaml:"cv_list_left" json:"cv_list_left"`
	CVListRight            string   `yaml:"cv_list_right" json:"cv_list_right"`
	ExcludeSquareBrackets  bool     `yaml:"exclude_square_brackets" json:"exclude_square_brackets"`
	IllegalCharToFullWidth bool     `yaml:"illegal_char_to_full_width" json:"illegal_char_to_full_width"`
	TagsMaxNumber          int      `yaml:"tags_max_number" json:"tags_max_number"`
	TagsOrderedList        []string `yaml:"tags_ordered_list" json:"tags_ordered_list"`
	FlattenSingleSubfolder bool     `yaml:"flatten_single_subfolder" json:"flatten_single_subfolder"`
	FlattenDepth           int      `yaml:"flatten_depth" json:"flatten_depth"`
	RemoveEmptyFolders     bool     `yaml:"remove_empty_folders" json:"remove_empty_folders"`
}

// ClassificationRule is one rule in the C10 classifier's ordered list.
type ClassificationRule struct {
	Type         string `yaml:"type" json:"type"` // none, maker, series, rjcode, date
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	PathTemplate string `yaml:"path_template" json:"path_template"`
	CustomName   string `yaml:"custom_name" json:"custom_name"`
	Fallback     string `yaml:"fallback" json:"fallback"`
	MaxTags      int    `yaml:"max_tags" json:"max_tags"`
	RJCodeRange  string `yaml:"rjcode_range" json:"rjcode_range"`
}

// PasswordCleanup controls the C13 password vault sweeper.
type PasswordCleanup struct {
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	MaxUseCount     int      `yaml:"max_use_count" json:"max_use_count"`
	CronExpression  string   `yaml:"cron_expression" json:"cron_expression"`
	PreserveDays    int      `yaml:"preserve_days" json:"preserve_days"`
	ExcludeSources  []string `yaml:"exclude_sources" json:"exclude_sources"`
}

// ArchiveCleanup controls the C13 archived-source sweeper.
type ArchiveCleanup struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	CronExpression      string  `yaml:"cron_expression" json:"cron_expression"`
	Strategy            string  `yaml:"strategy" json:"strategy"` // age, count, size
	PreserveDays        int     `yaml:"preserve_days" json:"preserve_days"`
	MaxCount            int     `yaml:"max_count" json:"max_count"`
	MaxSizeGB           float64 `yaml:"max_size_gb" json:"max_size_gb"`
	ExcludeReprocessing bool    `yaml:"exclude_reprocessing" json:"exclude_reprocessing"`
}

// CompanionServer controls the C4 companion-server client.
type CompanionServer struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	ServerURL string `yaml:"server_url" json:"server_url"`
	APIToken  string `yaml:"api_token" json:"api_token"`
	TimeoutS  int    `yaml:"timeout" json:"timeout"`
	CacheTTLS int    `yaml:"cache_ttl" json:"cache_ttl"`
}

// Catalog controls the C3 catalog client base URL.
type Catalog struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// Config is the immutable snapshot handed to each task at dispatch
// time (spec.md §9 "Dynamic config reload"). Per-task config never
// changes mid-task; the engine keeps the reference it was built with,
// and nothing swaps it.
type Config struct {
	Storage                 Storage                `yaml:"storage" json:"storage"`
	Processing              Processing             `yaml:"processing" json:"processing"`
	Watcher                 Watcher                `yaml:"watcher" json:"watcher"`
	Extract                 Extract                `yaml:"extract" json:"extract"`
	Filter                  Filter                  `yaml:"filter" json:"filter"`
	Metadata                Metadata                `yaml:"metadata" json:"metadata"`
	Catalog                 Catalog                 `yaml:"catalog" json:"catalog"`
	Rename                  Rename                  `yaml:"rename" json:"rename"`
	Classification          []ClassificationRule    `yaml:"classification" json:"classification"`
	PasswordCleanup         PasswordCleanup         `yaml:"password_cleanup" json:"password_cleanup"`
	ProcessedArchiveCleanup ArchiveCleanup          `yaml:"processed_archive_cleanup" json:"processed_archive_cleanup"`
	CompanionServer         CompanionServer         `yaml:"kikoeru_server" json:"kikoeru_server"`
}

// Default returns the built-in defaults, matching the original
// settings module's AppConfig field defaults.
func Default() *Config {
	return &Config{
		Storage: Storage{
			InputPath:            "/input",
			TempPath:             "/temp",
			LibraryPath:          "/library",
			ProcessedArchivesDir: "/processed",
			ExistingFoldersPath:  "/existing",
			DBPath:               "/library/.kohai/kohai.db",
		},
		Processing: Processing{
			MaxWorkers:         2,
			RetryCount:         3,
			FileStableChecks:   3,
			FileStableInterval: 2,
			MaxWaitTimeSeconds: 3600,
		},
		Watcher: Watcher{
			Enabled:      true,
			ScanInterval: 30,
			AutoStart:    true,
			AutoClassify: true,
		},
		Extract: Extract{
			SevenZipPath:          "7z",
			AutoRepairExtension:   true,
			VerifyAfterExtract:    true,
			ExtractNestedArchives: true,
			MaxNestedDepth:        5,
		},
		Filter: Filter{Enabled: true, FilterDir: true},
		Metadata: Metadata{
			Locale:         "zh_cn",
			ConnectTimeout: 10,
			ReadTimeout:    10,
			SleepInterval:  3,
			CacheEnabled:   true,
		},
		Rename: Rename{
			Template:        "{rjcode} {work_name}",
			DateFormat:      "060102",
			Delimiter:       " ",
			CVListLeft:      "(CV ",
			CVListRight:     ")",
			TagsMaxNumber:   5,
			FlattenSingleSubfolder: true,
			FlattenDepth:           3,
			RemoveEmptyFolders:     true,
		},
		Classification: []ClassificationRule{
			{Type: "none", Enabled: true},
		},
		PasswordCleanup: PasswordCleanup{
			MaxUseCount:    1,
			CronExpression: "0 0 * * 0",
			PreserveDays:   30,
		},
		ProcessedArchiveCleanup: ArchiveCleanup{
			CronExpression:      "0 1 * * 0",
			Strategy:            "age",
			PreserveDays:        30,
			MaxCount:            1000,
			MaxSizeGB:           50.0,
			ExcludeReprocessing: true,
		},
	}
}

// Load reads a YAML config file, overlaying it onto Default(). A
// missing file is not an error — the defaults are returned as-is,
// matching the teacher's tolerant-read style in internal/integrity.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
