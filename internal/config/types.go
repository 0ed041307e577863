// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Recording drive selectors.
const (
	DriveLocal = "local"
	DriveNAS1  = "nas1"
	DriveNAS2  = "nas2"
)

// Full-disk actions.
const (
	FullDiskAlertAndStop = "alert_and_stop"
	FullDiskOverwrite    = "overwrite"
	FullDiskCleanup      = "cleanup"
)

// Retention policies.
const (
	RetentionDriveWide = "drive"
	RetentionPerCamera = "camera"
)

// Backup targets.
const (
	BackupUSB = "usb"
	BackupNAS = "nas"
	BackupFTP = "ftp"
)

// Stream selectors.
const (
	StreamMain = "main"
	StreamSub  = "sub"
)

// Snapshot is a read-only view of the merged configuration.
// Callers obtain copies through Holder.Get and must not share mutations.
type Snapshot struct {
	ConfigVersion string          `yaml:"configVersion,omitempty"`
	DataDir       string          `yaml:"dataDir"`
	Cameras       int             `yaml:"cameras"`
	Storage       StorageConfig   `yaml:"storage"`
	Backup        BackupConfig    `yaml:"backup"`
	Recording     RecordingConfig `yaml:"recording"`
	Index         IndexConfig     `yaml:"index"`
	Events        EventsConfig    `yaml:"events"`
	API           APIConfig       `yaml:"api"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Log           LogConfig       `yaml:"log"`
}

// StorageConfig describes the recording volumes and storage policy.
type StorageConfig struct {
	RecordDrive      string          `yaml:"recordDrive"`
	Volumes          []VolumeConfig  `yaml:"volumes"`
	Groups           []GroupConfig   `yaml:"groups,omitempty"`
	NAS              []NASConfig     `yaml:"nas,omitempty"`
	FullDiskAction   string          `yaml:"fullDiskAction"`
	PercentCleanup   int             `yaml:"percentCleanup"`
	LowSpaceAlertGiB int             `yaml:"lowSpaceAlertGiB"`
	NASQueryTimeout  time.Duration   `yaml:"nasQueryTimeout"`
	CheckInterval    time.Duration   `yaml:"checkInterval"`
	Retention        RetentionConfig `yaml:"retention"`
	FormatCommand    []string        `yaml:"formatCommand,omitempty"`
}

// VolumeConfig is one local disk slot.
type VolumeConfig struct {
	Name       string `yaml:"name"`
	MountPoint string `yaml:"mountPoint"`
	Device     string `yaml:"device,omitempty"`
}

// GroupConfig assigns cameras to a set of local volumes.
// Volumes are zero-based indexes into StorageConfig.Volumes and cameras
// are one-based camera numbers.
type GroupConfig struct {
	Name    string `yaml:"name"`
	Volumes []int  `yaml:"volumes"`
	Cameras []int  `yaml:"cameras"`
}

// NASConfig is one network drive slot.
type NASConfig struct {
	MountPoint string `yaml:"mountPoint"`
}

// RetentionConfig controls retention-by-day cleanup.
type RetentionConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Policy     string        `yaml:"policy"`
	DriveDays  int           `yaml:"driveDays"`
	CameraDays map[int]int   `yaml:"cameraDays,omitempty"`
	Interval   time.Duration `yaml:"interval"`
}

// BackupConfig controls backup retention cleanup.
type BackupConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Target     string        `yaml:"target"`
	USBRoot    string        `yaml:"usbRoot,omitempty"`
	NASRoot    string        `yaml:"nasRoot,omitempty"`
	FTP        FTPConfig     `yaml:"ftp"`
	Days       int           `yaml:"days"`
	CameraDays map[int]int   `yaml:"cameraDays,omitempty"`
	Interval   time.Duration `yaml:"interval"`
}

// FTPConfig is the FTP backup target.
type FTPConfig struct {
	Addr     string        `yaml:"addr,omitempty"`
	User     string        `yaml:"user,omitempty"`
	Password string        `yaml:"password,omitempty"`
	Root     string        `yaml:"root,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RecordingConfig holds recording timings and per-camera options.
type RecordingConfig struct {
	PostAlarmStop     time.Duration  `yaml:"postAlarmStop"`
	PostCosecStop     time.Duration  `yaml:"postCosecStop"`
	ConfigChangeDelay time.Duration  `yaml:"configChangeDelay"`
	AVIReencode       bool           `yaml:"aviReencode"`
	CameraConfigs     []CameraRecord `yaml:"cameraConfigs,omitempty"`
}

// CameraRecord is the per-camera record configuration.
type CameraRecord struct {
	Camera    int    `yaml:"camera"`
	Stream    string `yaml:"stream"`
	PreRecord bool   `yaml:"preRecord"`
	Adaptive  bool   `yaml:"adaptive"`
}

// IndexConfig configures the recording index database.
type IndexConfig struct {
	Path string `yaml:"path,omitempty"`
}

// EventsConfig configures the event sinks.
type EventsConfig struct {
	JournalDir   string `yaml:"journalDir,omitempty"`
	RedisAddr    string `yaml:"redisAddr,omitempty"`
	RedisChannel string `yaml:"redisChannel,omitempty"`
}

// APIConfig configures the control surface.
type APIConfig struct {
	Listen          string        `yaml:"listen"`
	RateLimit       int           `yaml:"rateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty"`
	ExporterType string  `yaml:"exporterType,omitempty"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// CameraRecordFor returns the record config of a camera, or the default.
func (s Snapshot) CameraRecordFor(camera int) CameraRecord {
	for _, c := range s.Recording.CameraConfigs {
		if c.Camera == camera {
			return c
		}
	}
	return CameraRecord{Camera: camera, Stream: StreamMain}
}

// RetentionDays returns the retention cutoff in days for a camera.
// Zero means no retention limit.
func (r RetentionConfig) RetentionDays(camera int) int {
	if r.Policy == RetentionPerCamera {
		return r.CameraDays[camera]
	}
	return r.DriveDays
}

// BackupDays returns the backup retention cutoff in days for a camera.
func (b BackupConfig) BackupDays(camera int) int {
	if d, ok := b.CameraDays[camera]; ok {
		return d
	}
	return b.Days
}
