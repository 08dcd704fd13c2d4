// Package config parses host/directory/job YAML definitions into the
// FSA/FRA data model, the way an option-struct idiom (configstruct) turns a
// map of string options into a typed backend config.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/afdcore/afd/internal/burst"
	"github.com/afdcore/afd/internal/config/obscure"
	"github.com/afdcore/afd/internal/fra"
	"github.com/afdcore/afd/internal/ssa"
	yaml "gopkg.in/yaml.v2"
)

// HostConfig is the on-disk, human-edited form of one FSA host entry.
type HostConfig struct {
	Alias             string   `yaml:"alias"`
	RealHostnames     []string `yaml:"real_hostnames"`
	Protocols         []string `yaml:"protocols"`
	Options           []string `yaml:"options"`
	User              string   `yaml:"user"`
	Password          string   `yaml:"password"` // obscured, see internal/config/obscure
	Port              int      `yaml:"port"`
	SocketSendBuffer  int      `yaml:"socket_send_buffer"`
	SocketRecvBuffer  int      `yaml:"socket_recv_buffer"`
	TransferRateLimit int64    `yaml:"transfer_rate_limit"`
	BlockSize         int      `yaml:"block_size"`
	KeepConnected     int      `yaml:"keep_connected_seconds"`
	DisconnectSec     int      `yaml:"disconnect_seconds"`
	TransferTimeout   int      `yaml:"transfer_timeout_seconds"`
	AllowedTransfers  int      `yaml:"allowed_transfers"`
	TLSAuth           string   `yaml:"tls_auth"`
}

var protocolNames = map[string]ssa.Protocol{
	"ftp":   ssa.ProtoFTP,
	"sftp":  ssa.ProtoSFTP,
	"http":  ssa.ProtoHTTP,
	"https": ssa.ProtoHTTPS,
	"smtp":  ssa.ProtoSMTP,
	"loc":   ssa.ProtoLOC,
	"exec":  ssa.ProtoEXEC,
}

var hostOptionNames = map[string]ssa.HostOption{
	"passive_ftp":          ssa.OptPassiveFTP,
	"extended_mode":        ssa.OptExtendedMode,
	"keep_alive":           ssa.OptKeepAlive,
	"tls_strict":           ssa.OptTLSStrict,
	"legacy_renegotiation": ssa.OptLegacyRenegotiation,
	"no_expect":            ssa.OptNoExpect,
	"bucket_in_path":       ssa.OptBucketInPath,
}

// ToHostStatus builds the runtime ssa.HostStatus this config describes,
// revealing the obscured password.
func (c HostConfig) ToHostStatus() (*ssa.HostStatus, error) {
	if c.Alias == "" {
		return nil, fmt.Errorf("config: host entry missing alias")
	}
	var protos ssa.Protocol
	for _, name := range c.Protocols {
		bit, ok := protocolNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("config: host %q: unknown protocol %q", c.Alias, name)
		}
		protos |= bit
	}
	var opts ssa.HostOption
	for _, name := range c.Options {
		bit, ok := hostOptionNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("config: host %q: unknown option %q", c.Alias, name)
		}
		opts |= bit
	}

	password := ""
	if c.Password != "" {
		revealed, err := obscure.Reveal(c.Password)
		if err != nil {
			return nil, fmt.Errorf("config: host %q: revealing password: %w", c.Alias, err)
		}
		password = revealed
	}

	var realHostnames [2]string
	copy(realHostnames[:], c.RealHostnames)

	return &ssa.HostStatus{
		Alias:             c.Alias,
		RealHostname:      realHostnames,
		Protocols:         protos,
		Options:           opts,
		User:              c.User,
		Password:          password,
		SocketSendBuffer:  c.SocketSendBuffer,
		SocketRecvBuffer:  c.SocketRecvBuffer,
		TransferRateLimit: c.TransferRateLimit,
		BlockSize:         c.BlockSize,
		KeepConnected:     c.KeepConnected,
		DisconnectSec:     c.DisconnectSec,
		TransferTimeout:   c.TransferTimeout,
		AllowedTransfers:  c.AllowedTransfers,
	}, nil
}

// ConnectionParams extracts the burst-reuse-relevant fields.
func (c HostConfig) ConnectionParams() burst.ConnectionParams {
	return burst.ConnectionParams{Port: c.Port, TLSAuth: c.TLSAuth, User: c.User}
}

// DirConfig is the on-disk form of one FRA directory entry.
type DirConfig struct {
	Alias             string      `yaml:"alias"`
	URL               string      `yaml:"url"`
	CheckIntervalSecs int         `yaml:"check_interval_seconds"`
	Schedule          []CronEntry `yaml:"schedule"`
	Options           []string    `yaml:"options"`
}

// CronEntry is one row of a directory's check schedule; -1 means "any"
// (matching fra.TimeEntry).
type CronEntry struct {
	Minute     int `yaml:"minute"`
	Hour       int `yaml:"hour"`
	DayOfMonth int `yaml:"day_of_month"`
	Month      int `yaml:"month"`
	DayOfWeek  int `yaml:"day_of_week"`
}

var dirOptionNames = map[string]fra.DirOption{
	"one_process_just_scanning": fra.OptOneProcessJustScanning,
	"do_not_parallelize":        fra.OptDoNotParallelize,
	"keep_path":                 fra.OptKeepPath,
	"no_delimiter":              fra.OptNoDelimiter,
	"stupid_mode":               fra.OptStupidMode,
	"remove":                    fra.OptRemove,
	"url_with_index_file_name":  fra.OptURLWithIndexFileName,
	"url_creates_file_name":     fra.OptURLCreatesFileName,
	"dont_get_dir_list":         fra.OptDontGetDirList,
	"dupcheck":                  fra.OptDupCheck,
}

// ToDirStatus builds the runtime fra.DirStatus this config describes.
func (c DirConfig) ToDirStatus() (*fra.DirStatus, error) {
	if c.Alias == "" {
		return nil, fmt.Errorf("config: directory entry missing alias")
	}
	var opts fra.DirOption
	for _, name := range c.Options {
		bit, ok := dirOptionNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("config: directory %q: unknown option %q", c.Alias, name)
		}
		opts |= bit
	}
	schedule := make(fra.CronTable, 0, len(c.Schedule))
	for _, e := range c.Schedule {
		schedule = append(schedule, fra.TimeEntry{
			Minute: e.Minute, Hour: e.Hour, DayOfMonth: e.DayOfMonth, Month: e.Month, DayOfWeek: e.DayOfWeek,
		})
	}
	return &fra.DirStatus{
		Alias:         c.Alias,
		URL:           c.URL,
		CheckInterval: secondsToDuration(c.CheckIntervalSecs),
		Schedule:      schedule,
		Options:       opts,
	}, nil
}

// HostsFile is the top-level shape of a host definitions YAML file.
type HostsFile struct {
	Hosts []HostConfig `yaml:"hosts"`
}

// DirsFile is the top-level shape of a directory definitions YAML file.
type DirsFile struct {
	Directories []DirConfig `yaml:"directories"`
}

// LoadHosts reads and parses a host definitions file.
func LoadHosts(path string) ([]HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading hosts file %s: %w", path, err)
	}
	var f HostsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing hosts file %s: %w", path, err)
	}
	return f.Hosts, nil
}

// LoadDirs reads and parses a directory definitions file.
func LoadDirs(path string) ([]DirConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading directories file %s: %w", path, err)
	}
	var f DirsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parsing directories file %s: %w", path, err)
	}
	return f.Directories, nil
}
