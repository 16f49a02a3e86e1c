package config

// ChangeSet describes what changed between two configs, split into changes
// that can be applied to a live session and changes that need a capture
// restart.
type ChangeSet struct {
	// LogLevelChanged is true when server.log_level differs.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// DetectorChanged is true when any hot-reloadable detector tuning
	// (sensitivity, silence threshold) differs.
	DetectorChanged bool
	NewDetector     DetectorConfig

	// VolumeChanged is true when playback.volume differs.
	VolumeChanged bool
	NewVolume     float64

	// RestartRequired is true when a field that cannot be applied live
	// (capture format, sample rate, FFT size, smoothing weights, listen
	// address) differs.
	RestartRequired bool
}

// Empty reports whether the change set carries no changes at all.
func (c ChangeSet) Empty() bool {
	return !c.LogLevelChanged && !c.DetectorChanged && !c.VolumeChanged && !c.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ChangeSet {
	d := ChangeSet{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Detector != new.Detector {
		d.DetectorChanged = true
		d.NewDetector = new.Detector
		// Min speech duration and flush grace are wired at capture start.
		if old.Detector.MinSpeechDurationMs != new.Detector.MinSpeechDurationMs ||
			old.Detector.FlushGraceMs != new.Detector.FlushGraceMs {
			d.RestartRequired = true
		}
	}

	if old.Playback.Volume != new.Playback.Volume {
		d.VolumeChanged = true
		d.NewVolume = new.Playback.Volume
	}

	if old.Capture != new.Capture || old.Level != new.Level ||
		old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = true
	}

	return d
}
