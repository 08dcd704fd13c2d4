package config

import (
	"fmt"
	"os"
	"time"

	"github.com/afdcore/afd/internal/burst"
	"github.com/afdcore/afd/internal/config/obscure"
	yaml "gopkg.in/yaml.v2"
)

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }

// JobDescriptor is the Go realization of the Job Descriptor (DB): per
// worker process job parameters, replacing the original binary message
// file with a per-job YAML document.
type JobDescriptor struct {
	Protocol        string        `yaml:"protocol"`
	HostToggle      int           `yaml:"host_toggle"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"` // obscured on disk
	Path            string        `yaml:"path"`
	TransferMode    byte          `yaml:"transfer_mode"` // 'I', 'A', or 'N'
	ModeFlag        string        `yaml:"mode_flag"`     // active/passive/extended
	BlockSize       int           `yaml:"block_size"`
	RateLimit       int64         `yaml:"rate_limit"`
	ArchiveSeconds  int           `yaml:"archive_seconds"`
	ArchiveDir      string        `yaml:"archive_dir"`
	RenameRules     []string      `yaml:"rename_rules"`
	AgeLimitSeconds int           `yaml:"age_limit_seconds"`
	DupCheck        bool          `yaml:"dup_check"`
	DupCheckTTL     time.Duration `yaml:"-"`
	DupCheckTTLSecs int           `yaml:"dup_check_ttl_seconds"`
	TLSAuth         string        `yaml:"tls_auth"`
	RetryCount      int           `yaml:"retry_count"`
	JobID           int64         `yaml:"job_id"`      // set for send jobs
	DirID           int64         `yaml:"dir_id"`      // set for fetch jobs
	WMO             bool          `yaml:"wmo"`         // use file-name-is-header framing
	WMOUseSeq       bool          `yaml:"wmo_use_seq"` // interleave a running sequence counter

	// Derived active fields, copied from the loaded values when the job
	// file is read. JobRef and ConnectionParams read the base fields, not
	// these.
	ActiveTargetDir    string `yaml:"-"`
	ActiveUser         string `yaml:"-"`
	ActiveTransferMode byte   `yaml:"-"`
	ActiveAuth         string `yaml:"-"`
}

// JobRef returns the burst.JobRef identity this job carries, tagged with
// dir so the coordinator can detect a hand-off shaped for the wrong
// worker kind.
func (d *JobDescriptor) JobRef(dir burst.Direction) burst.JobRef {
	return burst.JobRef{JobID: d.JobID, DirID: d.DirID, Path: d.Path, Direction: dir}
}

// ConnectionParams returns the burst.ConnectionParams this job carries.
func (d *JobDescriptor) ConnectionParams() burst.ConnectionParams {
	return burst.ConnectionParams{Port: d.Port, TLSAuth: d.TLSAuth, User: d.User}
}

func loadJobFile(path string) (*JobDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading job file %s: %w", path, err)
	}
	var d JobDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("config: parsing job file %s: %w", path, err)
	}
	d.DupCheckTTL = secondsToDuration(d.DupCheckTTLSecs)
	d.ActiveTargetDir = d.Path
	d.ActiveUser = d.User
	d.ActiveTransferMode = d.TransferMode
	d.ActiveAuth = d.TLSAuth
	if d.Password != "" {
		revealed, err := obscure.Reveal(d.Password)
		if err != nil {
			return nil, fmt.Errorf("config: job file %s: revealing password: %w", path, err)
		}
		d.Password = revealed
	}
	return &d, nil
}

// LoadSendJob reads a per-job YAML message file for a send worker. The
// message must carry a job id (id.job).
func LoadSendJob(path string) (*JobDescriptor, error) {
	d, err := loadJobFile(path)
	if err != nil {
		return nil, err
	}
	if d.JobID == 0 {
		return nil, fmt.Errorf("config: send job file %s missing job_id", path)
	}
	return d, nil
}

// LoadFetchJob reads a per-job YAML message file for a fetch worker. The
// message must carry a directory id (id.dir).
func LoadFetchJob(path string) (*JobDescriptor, error) {
	d, err := loadJobFile(path)
	if err != nil {
		return nil, err
	}
	if d.DirID == 0 {
		return nil, fmt.Errorf("config: fetch job file %s missing dir_id", path)
	}
	return d, nil
}
